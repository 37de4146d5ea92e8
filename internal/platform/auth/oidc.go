package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/briq-connect/api/internal/platform/httpx"
)

var (
	// ErrTokenMissing is returned when no bearer token accompanies the request.
	ErrTokenMissing = errors.New("auth: token missing")
	// ErrTokenInvalid is returned when the token fails signature or claim validation.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// OperatorIdentity describes the authenticated caller of an operation route.
type OperatorIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
	Expiry   time.Time
}

type operatorContextKey struct{}

// WithOperatorIdentity stores the operator identity on the context.
func WithOperatorIdentity(ctx context.Context, identity OperatorIdentity) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, identity)
}

// OperatorIdentityFromContext retrieves the operator identity, if any.
func OperatorIdentityFromContext(ctx context.Context) (OperatorIdentity, bool) {
	identity, ok := ctx.Value(operatorContextKey{}).(OperatorIdentity)
	return identity, ok
}

// OIDCValidator verifies RS256-signed OIDC tokens against a JWKS cache and a
// fixed audience / issuer allow-list.
type OIDCValidator struct {
	jwks     *JWKSCache
	audience string
	issuers  map[string]struct{}
	now      func() time.Time
	leeway   time.Duration
}

// ValidatorOption customises OIDCValidator behaviour.
type ValidatorOption func(*OIDCValidator)

// WithValidatorClock injects a custom time source.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithValidatorLeeway sets the clock skew tolerance for exp/iat checks.
func WithValidatorLeeway(leeway time.Duration) ValidatorOption {
	return func(v *OIDCValidator) {
		if leeway >= 0 {
			v.leeway = leeway
		}
	}
}

// NewOIDCValidator constructs a validator. At least one issuer is required.
func NewOIDCValidator(jwks *JWKSCache, audience string, issuers []string, opts ...ValidatorOption) (*OIDCValidator, error) {
	if jwks == nil {
		return nil, errors.New("auth: jwks cache is required")
	}
	if audience == "" {
		return nil, errors.New("auth: audience is required")
	}
	allowed := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			allowed[issuer] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil, errors.New("auth: at least one issuer is required")
	}
	validator := &OIDCValidator{
		jwks:     jwks,
		audience: audience,
		issuers:  allowed,
		now:      time.Now,
		leeway:   30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator, nil
}

// Validate parses and verifies the raw token, returning the operator identity.
func (v *OIDCValidator) Validate(ctx context.Context, raw string) (OperatorIdentity, error) {
	if raw == "" {
		return OperatorIdentity{}, ErrTokenMissing
	}

	// Time claims are validated below against the injected clock, so the
	// parser only checks the signature.
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(raw, claims, v.jwks.Keyfunc(ctx))
	if err != nil {
		return OperatorIdentity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return OperatorIdentity{}, ErrTokenInvalid
	}

	now := v.now()
	expiry, ok := claimTime(claims, "exp")
	if !ok {
		return OperatorIdentity{}, fmt.Errorf("%w: missing expiry", ErrTokenInvalid)
	}
	if now.After(expiry.Add(v.leeway)) {
		return OperatorIdentity{}, fmt.Errorf("%w: token expired", ErrTokenInvalid)
	}
	if notBefore, ok := claimTime(claims, "nbf"); ok && now.Add(v.leeway).Before(notBefore) {
		return OperatorIdentity{}, fmt.Errorf("%w: token not yet valid", ErrTokenInvalid)
	}

	issuer, _ := claims["iss"].(string)
	if _, ok := v.issuers[issuer]; !ok {
		return OperatorIdentity{}, fmt.Errorf("%w: issuer %q not allowed", ErrTokenInvalid, issuer)
	}
	if !verifyAudience(claims, v.audience) {
		return OperatorIdentity{}, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	identity := OperatorIdentity{
		Issuer:   issuer,
		Audience: v.audience,
		Expiry:   expiry,
	}
	identity.Subject, _ = claims["sub"].(string)
	identity.Email, _ = claims["email"].(string)
	if identity.Subject == "" {
		return OperatorIdentity{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return identity, nil
}

// RequireOperator wraps a handler, rejecting requests without a valid
// operator token and attaching the identity to the request context.
func (v *OIDCValidator) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := extractBearerToken(r)
		if err != nil {
			respondAuthError(r.Context(), w, "Missing bearer token")
			return
		}
		identity, err := v.Validate(r.Context(), raw)
		if err != nil {
			respondAuthError(r.Context(), w, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOperatorIdentity(r.Context(), identity)))
	})
}

// claimTime reads a NumericDate claim. Without WithJSONNumber the decoder
// produces float64, but json.Number is handled for completeness.
func claimTime(claims jwt.MapClaims, name string) (time.Time, bool) {
	switch value := claims[name].(type) {
	case float64:
		return time.Unix(int64(value), 0), true
	case json.Number:
		if secs, err := value.Int64(); err == nil {
			return time.Unix(secs, 0), true
		}
	}
	return time.Time{}, false
}

func verifyAudience(claims jwt.MapClaims, expected string) bool {
	switch aud := claims["aud"].(type) {
	case string:
		return aud == expected
	case []any:
		for _, entry := range aud {
			if value, ok := entry.(string); ok && value == expected {
				return true
			}
		}
	}
	return false
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrTokenMissing
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrTokenMissing
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrTokenMissing
	}
	return token, nil
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthorized", message, http.StatusUnauthorized))
}
