// Package config assembles runtime configuration from defaults, an optional
// .env file, environment variables, and Secret Manager references.
package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultWebhookTolerance = 5 * time.Minute
	defaultSessionTypeKey   = "briq-session"
	defaultOIDCJWKSURL      = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer   = "https://accounts.google.com"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Commerce      CommerceConfig
	Briq          BriqConfig
	Webhook       WebhookConfig
	Security      SecurityConfig
	Notifications NotificationConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CommerceConfig stores commerce platform API credentials and locations.
type CommerceConfig struct {
	ProjectKey   string
	APIBaseURL   string
	AuthURL      string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// BriqConfig collects payment provider endpoints and credentials.
type BriqConfig struct {
	APIBaseURL      string
	APIKey          string
	TermsURL        string
	ConfirmationURL string
	SessionTypeKey  string
}

// WebhookConfig contains webhook verification parameters. An empty signing
// secret disables signature verification (local development only).
type WebhookConfig struct {
	SigningSecret string
	Tolerance     time.Duration
}

// SecurityConfig groups the operator-route authentication settings and the
// origins allowed to call the checkout endpoints.
type SecurityConfig struct {
	AllowedOrigins []string
	OIDC           OIDCConfig
}

// OIDCConfig controls operator token verification.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// NotificationConfig controls the processed-notification event stream.
type NotificationConfig struct {
	ProjectID string
	TopicID   string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "CONNECTOR_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "CONNECTOR_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "CONNECTOR_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "CONNECTOR_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Commerce: CommerceConfig{
			ProjectKey:   stringWithDefault(lookup, "CONNECTOR_COMMERCE_PROJECT_KEY", ""),
			APIBaseURL:   stringWithDefault(lookup, "CONNECTOR_COMMERCE_API_URL", ""),
			AuthURL:      stringWithDefault(lookup, "CONNECTOR_COMMERCE_AUTH_URL", ""),
			ClientID:     stringWithDefault(lookup, "CONNECTOR_COMMERCE_CLIENT_ID", ""),
			ClientSecret: stringWithDefault(lookup, "CONNECTOR_COMMERCE_CLIENT_SECRET", ""),
			Scopes:       csvWithDefault(lookup, "CONNECTOR_COMMERCE_SCOPES"),
		},
		Briq: BriqConfig{
			APIBaseURL:      stringWithDefault(lookup, "CONNECTOR_BRIQ_API_URL", ""),
			APIKey:          stringWithDefault(lookup, "CONNECTOR_BRIQ_API_KEY", ""),
			TermsURL:        stringWithDefault(lookup, "CONNECTOR_BRIQ_TERMS_URL", ""),
			ConfirmationURL: stringWithDefault(lookup, "CONNECTOR_BRIQ_CONFIRMATION_URL", ""),
			SessionTypeKey:  stringWithDefault(lookup, "CONNECTOR_BRIQ_SESSION_TYPE_KEY", defaultSessionTypeKey),
		},
		Webhook: WebhookConfig{
			SigningSecret: stringWithDefault(lookup, "CONNECTOR_WEBHOOK_SIGNING_SECRET", ""),
			Tolerance:     durationWithDefault(lookup, "CONNECTOR_WEBHOOK_TOLERANCE", defaultWebhookTolerance),
		},
		Security: SecurityConfig{
			AllowedOrigins: csvWithDefault(lookup, "CONNECTOR_ALLOWED_ORIGINS"),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "CONNECTOR_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "CONNECTOR_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "CONNECTOR_OIDC_ISSUERS"),
			},
		},
		Notifications: NotificationConfig{
			ProjectID: stringWithDefault(lookup, "CONNECTOR_PUBSUB_PROJECT_ID", ""),
			TopicID:   stringWithDefault(lookup, "CONNECTOR_PUBSUB_TOPIC_ID", ""),
		},
	}

	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}

	// Resolve secrets when values reference Secret Manager.
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Commerce.ClientSecret", &cfg.Commerce.ClientSecret},
		{"Briq.APIKey", &cfg.Briq.APIKey},
		{"Webhook.SigningSecret", &cfg.Webhook.SigningSecret},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Commerce.ProjectKey == "" {
		missing = append(missing, "Commerce.ProjectKey")
	}
	if !isHTTPSURL(cfg.Commerce.APIBaseURL) {
		missing = append(missing, "Commerce.APIBaseURL")
	}
	if !isHTTPSURL(cfg.Commerce.AuthURL) {
		missing = append(missing, "Commerce.AuthURL")
	}
	if cfg.Commerce.ClientID == "" {
		missing = append(missing, "Commerce.ClientID")
	}
	if cfg.Commerce.ClientSecret == "" {
		missing = append(missing, "Commerce.ClientSecret")
	}
	if !isHTTPSURL(cfg.Briq.APIBaseURL) {
		missing = append(missing, "Briq.APIBaseURL")
	}
	if cfg.Briq.APIKey == "" {
		missing = append(missing, "Briq.APIKey")
	}
	if !isHTTPSURL(cfg.Briq.TermsURL) {
		missing = append(missing, "Briq.TermsURL")
	}
	// The confirmation URL may point at localhost or a private-network host
	// during development.
	if !isHTTPSURL(cfg.Briq.ConfirmationURL) && !isPrivateHostURL(cfg.Briq.ConfirmationURL) {
		missing = append(missing, "Briq.ConfirmationURL")
	}
	if cfg.Briq.SessionTypeKey == "" {
		missing = append(missing, "Briq.SessionTypeKey")
	}
	if cfg.Webhook.Tolerance <= 0 {
		missing = append(missing, "Webhook.Tolerance")
	}
	if cfg.Notifications.TopicID != "" && cfg.Notifications.ProjectID == "" {
		missing = append(missing, "Notifications.ProjectID")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isHTTPSURL(value string) bool {
	parsed, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	return parsed.Scheme == "https" && parsed.Host != ""
}

// isPrivateHostURL accepts plain-http URLs for localhost, loopback, and
// RFC 1918 / unique-local hosts.
func isPrivateHostURL(value string) bool {
	parsed, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
