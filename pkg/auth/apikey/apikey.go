// Package apikey authenticates requests carrying a static API key, either as
// a bearer token or in the X-API-Key header.
//
// Keys are stored as SHA-256 digests and compared in constant time.
package apikey

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/rhuss/crane/pkg/auth"
	"github.com/rhuss/crane/pkg/transport"
)

// HeaderName is the alternative header checked when no bearer token is sent.
const HeaderName = "X-API-Key"

// Entry pairs a plaintext key with the identity it grants.
type Entry struct {
	Key      string
	Identity auth.Identity
}

type storedKey struct {
	digest   [sha256.Size]byte
	identity auth.Identity
}

// Authenticator validates API keys against a fixed key set.
type Authenticator struct {
	keys []storedKey
}

// New hashes the keys of entries and returns an Authenticator. Entries with
// an empty key are skipped. Plaintext keys are not retained.
func New(entries []Entry) *Authenticator {
	a := &Authenticator{keys: make([]storedKey, 0, len(entries))}
	for _, e := range entries {
		if e.Key == "" {
			continue
		}
		a.keys = append(a.keys, storedKey{
			digest:   sha256.Sum256([]byte(e.Key)),
			identity: e.Identity,
		})
	}
	return a
}

// Len returns the number of configured keys.
func (a *Authenticator) Len() int { return len(a.keys) }

// Authenticate abstains when the request carries no key, votes No for an
// unknown key and Yes with a copy of the matching identity otherwise.
func (a *Authenticator) Authenticate(c *transport.Context) auth.Result {
	key, ok := auth.BearerToken(c)
	if !ok {
		key = strings.TrimSpace(c.Header(HeaderName))
		if key == "" {
			return auth.Result{Decision: auth.Abstain}
		}
	}
	if key == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	digest := sha256.Sum256([]byte(key))
	match := -1
	// Every key is compared so timing does not reveal the matching index.
	for i := range a.keys {
		if subtle.ConstantTimeCompare(digest[:], a.keys[i].digest[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	id := a.keys[match].identity
	id.Scopes = append([]string(nil), id.Scopes...)
	return auth.Result{Decision: auth.Yes, Identity: &id}
}
