package auth

import (
	"strings"

	"github.com/rhuss/crane/pkg/transport"
)

const bearerPrefix = "Bearer "

// BearerToken extracts the token from an "Authorization: Bearer" header.
// ok is false when the header is missing or uses another scheme, in which
// case an authenticator should abstain. An empty token with ok set means
// the bearer scheme was used without credentials.
func BearerToken(c *transport.Context) (token string, ok bool) {
	header := c.Header("Authorization")
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(bearerPrefix):]), true
}
