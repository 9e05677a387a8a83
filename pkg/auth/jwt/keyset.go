package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// keySet caches the RSA signing keys of a JWKS endpoint.
type keySet struct {
	url        string
	client     *http.Client
	ttl        time.Duration
	minRefresh time.Duration
	logger     *slog.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newKeySet(url string, client *http.Client, ttl, minRefresh time.Duration, logger *slog.Logger) *keySet {
	return &keySet{
		url:        url,
		client:     client,
		ttl:        ttl,
		minRefresh: minRefresh,
		logger:     logger,
		keys:       map[string]*rsa.PublicKey{},
	}
}

// key returns the public key for kid. The set is refetched when it has
// expired, or when kid is unknown and the last fetch is older than
// minRefresh.
func (s *keySet) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	k, ok := s.keys[kid]
	fresh := time.Since(s.fetchedAt) < s.ttl
	s.mu.RUnlock()
	if ok && fresh {
		return k, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	age := time.Since(s.fetchedAt)
	k, ok = s.keys[kid]
	switch {
	case ok && age < s.ttl:
		return k, nil
	case !ok && !s.fetchedAt.IsZero() && age < s.minRefresh:
		return nil, fmt.Errorf("unknown key id %q", kid)
	}

	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	if k, ok = s.keys[kid]; !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return k, nil
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// refresh replaces the cached keys. Callers hold s.mu.
func (s *keySet) refresh(ctx context.Context) error {
	if s.url == "" {
		return errors.New("no JWKS URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("building JWKS request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching JWKS: unexpected status %d", resp.StatusCode)
	}

	var doc jwks
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return fmt.Errorf("decoding JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.rsaKey()
		if err != nil {
			s.logger.Warn("skipping JWKS key", slog.String("kid", k.Kid), slog.String("error", err.Error()))
			continue
		}
		keys[k.Kid] = pub
	}

	s.keys = keys
	s.fetchedAt = time.Now()
	s.logger.Debug("JWKS refreshed", slog.Int("keys", len(keys)), slog.String("url", s.url))
	return nil
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
