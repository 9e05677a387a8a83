// Package noop provides an authenticator that admits every request as the
// anonymous identity. It gives rate limiting a subject when authentication
// itself is disabled.
package noop

import (
	"github.com/rhuss/crane/pkg/auth"
	"github.com/rhuss/crane/pkg/transport"
)

// Authenticator always votes Yes.
type Authenticator struct{}

func (Authenticator) Authenticate(_ *transport.Context) auth.Result {
	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{Subject: "anonymous", ServiceTier: "default"},
	}
}
