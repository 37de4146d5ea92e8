package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validEnv() map[string]string {
	return map[string]string{
		"CONNECTOR_COMMERCE_PROJECT_KEY":   "demo-shop",
		"CONNECTOR_COMMERCE_API_URL":       "https://api.commerce.example.com",
		"CONNECTOR_COMMERCE_AUTH_URL":      "https://auth.commerce.example.com",
		"CONNECTOR_COMMERCE_CLIENT_ID":     "client-1",
		"CONNECTOR_COMMERCE_CLIENT_SECRET": "shhh",
		"CONNECTOR_BRIQ_API_URL":           "https://api.briq.example.com",
		"CONNECTOR_BRIQ_API_KEY":           "briq-key",
		"CONNECTOR_BRIQ_TERMS_URL":         "https://shop.example.com/terms",
		"CONNECTOR_BRIQ_CONFIRMATION_URL":  "https://shop.example.com/confirmation",
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithEnvMap(validEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v", cfg.Server.ReadTimeout)
	}
	if cfg.Webhook.Tolerance != 5*time.Minute {
		t.Errorf("Webhook.Tolerance = %v", cfg.Webhook.Tolerance)
	}
	if cfg.Briq.SessionTypeKey != "briq-session" {
		t.Errorf("Briq.SessionTypeKey = %q", cfg.Briq.SessionTypeKey)
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		t.Error("expected default OIDC issuer")
	}
}

func TestLoadOverrides(t *testing.T) {
	env := validEnv()
	env["CONNECTOR_SERVER_PORT"] = "9090"
	env["CONNECTOR_WEBHOOK_TOLERANCE"] = "2m"
	env["CONNECTOR_ALLOWED_ORIGINS"] = "https://b.example.com, https://a.example.com,https://a.example.com"
	env["CONNECTOR_OIDC_ISSUERS"] = "https://issuer.example.com"

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q", cfg.Server.Port)
	}
	if cfg.Webhook.Tolerance != 2*time.Minute {
		t.Errorf("Webhook.Tolerance = %v", cfg.Webhook.Tolerance)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.Security.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v", cfg.Security.AllowedOrigins)
	}
	for i, origin := range want {
		if cfg.Security.AllowedOrigins[i] != origin {
			t.Errorf("AllowedOrigins[%d] = %q, want %q", i, cfg.Security.AllowedOrigins[i], origin)
		}
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != "https://issuer.example.com" {
		t.Errorf("OIDC.Issuers = %v", cfg.Security.OIDC.Issuers)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]string)
		field  string
	}{
		{"missing project key", func(env map[string]string) { delete(env, "CONNECTOR_COMMERCE_PROJECT_KEY") }, "Commerce.ProjectKey"},
		{"plain http commerce url", func(env map[string]string) { env["CONNECTOR_COMMERCE_API_URL"] = "http://api.commerce.example.com" }, "Commerce.APIBaseURL"},
		{"missing briq key", func(env map[string]string) { delete(env, "CONNECTOR_BRIQ_API_KEY") }, "Briq.APIKey"},
		{"plain http terms url", func(env map[string]string) { env["CONNECTOR_BRIQ_TERMS_URL"] = "http://shop.example.com/terms" }, "Briq.TermsURL"},
		{"remote http confirmation url", func(env map[string]string) { env["CONNECTOR_BRIQ_CONFIRMATION_URL"] = "http://shop.example.com/done" }, "Briq.ConfirmationURL"},
		{"topic without project", func(env map[string]string) { env["CONNECTOR_PUBSUB_TOPIC_ID"] = "events" }, "Notifications.ProjectID"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := validEnv()
			tc.mutate(env)

			_, err := Load(context.Background(),
				WithEnvMap(env),
				WithoutSystemEnv(),
				WithEnvFile(""),
			)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, field := range validation.Fields() {
				if field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("fields = %v, want %s", validation.Fields(), tc.field)
			}
		})
	}
}

func TestLoadAllowsPrivateConfirmationURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"localhost", "http://localhost:3000/confirmation"},
		{"loopback", "http://127.0.0.1:3000/confirmation"},
		{"rfc1918 ten block", "http://10.0.0.5:3000/confirmation"},
		{"rfc1918 192 block", "http://192.168.1.20/confirmation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := validEnv()
			env["CONNECTOR_BRIQ_CONFIRMATION_URL"] = tc.url

			if _, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")); err != nil {
				t.Fatalf("Load: %v", err)
			}
		})
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	env := validEnv()
	env["CONNECTOR_BRIQ_API_KEY"] = "sm://projects/demo/secrets/briq-key/versions/latest"
	env["CONNECTOR_WEBHOOK_SIGNING_SECRET"] = "secret://projects/demo/secrets/webhook/versions/latest"

	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved-" + ref[strings.LastIndex(ref, "/")+1:], nil
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Briq.APIKey != "resolved-latest" {
		t.Errorf("Briq.APIKey = %q", cfg.Briq.APIKey)
	}
	if cfg.Webhook.SigningSecret != "resolved-latest" {
		t.Errorf("Webhook.SigningSecret = %q", cfg.Webhook.SigningSecret)
	}
	for _, ref := range refs {
		if !strings.HasPrefix(ref, "secret://") {
			t.Errorf("unnormalised secret ref %q", ref)
		}
	}
}

func TestLoadSecretResolverFailure(t *testing.T) {
	env := validEnv()
	env["CONNECTOR_BRIQ_API_KEY"] = "sm://projects/demo/secrets/briq-key/versions/latest"

	boom := errors.New("boom")
	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(SecretResolverFunc(func(context.Context, string) (string, error) {
			return "", boom
		})),
	)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatal("SecretError should wrap the resolver error")
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := strings.Join([]string{
		"# local overrides",
		"export CONNECTOR_SERVER_PORT=7070",
		`CONNECTOR_BRIQ_SESSION_TYPE_KEY="custom-session"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvMap(validEnv()),
		WithoutSystemEnv(),
		WithEnvFile(path),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("Server.Port = %q, want 7070", cfg.Server.Port)
	}
	if cfg.Briq.SessionTypeKey != "custom-session" {
		t.Errorf("Briq.SessionTypeKey = %q", cfg.Briq.SessionTypeKey)
	}
}

func TestEnvMapTakesPrecedenceOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CONNECTOR_SERVER_PORT=7070\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	env := validEnv()
	env["CONNECTOR_SERVER_PORT"] = "6000"

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(path),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "6000" {
		t.Errorf("Server.Port = %q, want 6000", cfg.Server.Port)
	}
}
