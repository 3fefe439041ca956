package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/veltoai/founder-launch/internal/config"
	"github.com/veltoai/founder-launch/internal/credits"
)

// ErrInvalidToken is returned for bearer tokens that fail verification.
var ErrInvalidToken = errors.New("invalid bearer token")

// TokenVerifier turns a raw bearer token into the identity it was issued to.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (string, error)
}

// oidcVerifier verifies ID tokens against an OIDC issuer and uses the
// subject claim as the identity.
type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and returns a verifier for tokens
// issued to clientID.
func NewOIDCVerifier(ctx context.Context, cfg config.AuthConfig) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, strings.TrimSpace(cfg.OIDCIssuer))
	if err != nil {
		return nil, fmt.Errorf("discover oidc issuer: %w", err)
	}
	return &oidcVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: strings.TrimSpace(cfg.OIDCClientID)}),
	}, nil
}

func (v *oidcVerifier) Verify(ctx context.Context, rawToken string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(idToken.Subject) == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	return idToken.Subject, nil
}

// IdentityResolver decides which identity a request acts for. With a
// verifier configured, a bearer token is required and the X-User-ID header
// is ignored. Without one, the header is trusted and requests without it
// use the anonymous identity.
type IdentityResolver struct {
	verifier   TokenVerifier
	adminToken string
}

// NewIdentityResolver returns a resolver. verifier may be nil.
func NewIdentityResolver(verifier TokenVerifier, adminToken string) *IdentityResolver {
	return &IdentityResolver{verifier: verifier, adminToken: strings.TrimSpace(adminToken)}
}

// Resolve returns the identity for r.
func (ir *IdentityResolver) Resolve(r *http.Request) (string, error) {
	if ir == nil || ir.verifier == nil {
		return credits.ResolveIdentity(r.Header.Get("X-User-ID")), nil
	}
	raw, ok := bearerToken(r)
	if !ok {
		return "", ErrInvalidToken
	}
	return ir.verifier.Verify(r.Context(), raw)
}

// IsAdmin reports whether r carries the configured admin token.
func (ir *IdentityResolver) IsAdmin(r *http.Request) bool {
	if ir == nil || ir.adminToken == "" {
		return false
	}
	got := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	return subtle.ConstantTimeCompare([]byte(got), []byte(ir.adminToken)) == 1
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
