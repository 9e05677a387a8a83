package auth

import (
	"errors"

	"github.com/rhuss/crane/pkg/transport"
)

// Decision is an authenticator's vote on a request.
type Decision int

const (
	// Yes means the credentials are valid. The chain stops and the identity
	// is used.
	Yes Decision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means the authenticator does not handle this kind of
	// credential. The chain moves on to the next authenticator.
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// Result carries the outcome of an authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set when Decision == Yes
	Err      error     // set when Decision == No
}

// Identity describes an authenticated caller.
type Identity struct {
	// Subject uniquely identifies the caller and is never empty.
	Subject string

	// TenantID scopes data access in multi-tenant deployments.
	TenantID string

	// ServiceTier selects the caller's rate limit.
	ServiceTier string

	// Scopes lists the authorization scopes granted to the caller.
	Scopes []string
}

// HasScope reports whether the identity was granted scope.
func (id *Identity) HasScope(scope string) bool {
	if id == nil {
		return false
	}
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Authenticator examines the credentials of a request.
type Authenticator interface {
	Authenticate(c *transport.Context) Result
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(c *transport.Context) Result

// Authenticate calls f(c).
func (f AuthenticatorFunc) Authenticate(c *transport.Context) Result {
	return f(c)
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// anonymous is the identity granted when every authenticator abstains and
// the chain defaults to Yes.
var anonymous = Identity{Subject: "anonymous", ServiceTier: "default"}

// Chain evaluates authenticators in order.
type Chain struct {
	// Authenticators are asked left to right.
	Authenticators []Authenticator

	// DefaultDecision applies when all authenticators abstain. Yes admits
	// the request as the anonymous identity.
	DefaultDecision Decision
}

// Authenticate runs the chain and stops on the first Yes or No.
func (ch *Chain) Authenticate(c *transport.Context) Result {
	for _, a := range ch.Authenticators {
		if res := a.Authenticate(c); res.Decision != Abstain {
			return res
		}
	}

	if ch.DefaultDecision == Yes {
		id := anonymous
		return Result{Decision: Yes, Identity: &id}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}
