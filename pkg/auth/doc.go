// Package auth provides optional authentication and rate limiting for crane
// handlers.
//
// Authenticators vote on each request: Yes (identity established), No
// (credentials present but invalid), or Abstain (credentials not theirs to
// judge). A Chain asks them in order and falls back to a default decision
// when every authenticator abstains.
//
// The package plugs into the pipeline as a transport.Middleware. A rejected
// request ends with an *api.APIError, which the error-handling middleware
// turns into a 401 or 429 response. Accepted requests carry their Identity
// in the request context.
package auth
