// Package jwt authenticates bearer tokens signed with RSA keys published at
// a JWKS endpoint.
//
// Issuer and audience are checked when configured. Subject, tenant and
// scopes are read from configurable claims.
package jwt

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/crane/pkg/auth"
	"github.com/rhuss/crane/pkg/transport"
)

// Config configures the authenticator.
type Config struct {
	// Issuer is the expected iss claim. Empty disables the check.
	Issuer string

	// Audience is the expected aud claim. Empty disables the check.
	Audience string

	// JWKSURL is where signing keys are fetched from. Required.
	JWKSURL string

	// SubjectClaim names the claim used as Identity.Subject. Default "sub".
	SubjectClaim string

	// TenantClaim names the claim used as Identity.TenantID. Default "tenant_id".
	TenantClaim string

	// TierClaim names the claim used as Identity.ServiceTier. Default "tier".
	TierClaim string

	// ScopesClaim names the scope claim, either a space separated string or
	// an array. Default "scope".
	ScopesClaim string

	// CacheTTL is how long fetched keys are trusted. Default 1h.
	CacheTTL time.Duration

	// MinRefreshInterval limits refetches triggered by unknown key IDs.
	// Default 30s.
	MinRefreshInterval time.Duration

	// HTTPClient fetches the key set. Default has a 10s timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.SubjectClaim == "" {
		c.SubjectClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.MinRefreshInterval <= 0 {
		c.MinRefreshInterval = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	cfg    Config
	keys   *keySet
	parser *jwtlib.Parser
}

// New returns an Authenticator for cfg.
func New(cfg Config) *Authenticator {
	cfg.setDefaults()

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwtlib.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}

	return &Authenticator{
		cfg:    cfg,
		keys:   newKeySet(cfg.JWKSURL, cfg.HTTPClient, cfg.CacheTTL, cfg.MinRefreshInterval, cfg.Logger),
		parser: jwtlib.NewParser(opts...),
	}
}

// Authenticate abstains without a bearer token, votes No for a token that
// fails validation and Yes with the identity read from its claims.
func (a *Authenticator) Authenticate(c *transport.Context) auth.Result {
	raw, ok := auth.BearerToken(c)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if raw == "" {
		return auth.Result{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	ctx := c.Context()
	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return a.keys.key(ctx, kid)
	})
	if err != nil {
		a.cfg.Logger.Debug("jwt rejected", slog.String("error", err.Error()))
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid token: %w", err)}
	}

	id, err := a.identity(claims)
	if err != nil {
		return auth.Result{Decision: auth.No, Err: err}
	}
	return auth.Result{Decision: auth.Yes, Identity: id}
}

func (a *Authenticator) identity(claims jwtlib.MapClaims) (*auth.Identity, error) {
	subject := stringClaim(claims, a.cfg.SubjectClaim)
	if subject == "" {
		return nil, fmt.Errorf("token missing %q claim", a.cfg.SubjectClaim)
	}
	return &auth.Identity{
		Subject:     subject,
		TenantID:    stringClaim(claims, a.cfg.TenantClaim),
		ServiceTier: stringClaim(claims, a.cfg.TierClaim),
		Scopes:      scopesClaim(claims, a.cfg.ScopesClaim),
	}, nil
}

func stringClaim(claims jwtlib.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

func scopesClaim(claims jwtlib.MapClaims, name string) []string {
	var scopes []string
	switch v := claims[name].(type) {
	case string:
		scopes = strings.Fields(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				scopes = append(scopes, s)
			}
		}
	}
	if len(scopes) == 0 {
		return nil
	}
	return scopes
}
