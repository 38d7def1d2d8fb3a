package idp

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// usernameFallback is returned when a token carries no identifying claims.
const usernameFallback = "user"

type roleList struct {
	Roles []string `json:"roles"`
}

// Claims is the decoded claim set of an access token. Providers encode
// authorization facts in several shapes (realm roles, groups, per-client
// roles) depending on deployment configuration, so all three are retained.
type Claims struct {
	PreferredUsername string              `json:"preferred_username,omitempty"`
	Name              string              `json:"name,omitempty"`
	GivenName         string              `json:"given_name,omitempty"`
	Email             string              `json:"email,omitempty"`
	RealmAccess       roleList            `json:"realm_access,omitempty"`
	Groups            []string            `json:"groups,omitempty"`
	ResourceAccess    map[string]roleList `json:"resource_access,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the claim set of a token without verifying its
// signature. The token was obtained directly from the provider's token
// endpoint over TLS; signature verification is the engine's concern when the
// token is presented as a bearer credential.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token claims: %w", err)
	}
	return claims, nil
}

// Username returns a human-readable name for the identity, preferring the
// provider's preferred-username claim, then display name, then given name.
func (c *Claims) Username() string {
	if c == nil {
		return usernameFallback
	}
	for _, candidate := range []string{c.PreferredUsername, c.Name, c.GivenName} {
		if candidate != "" {
			return candidate
		}
	}
	return usernameFallback
}

// HasRole reports whether the token grants the named role. The role is
// recognized in realm roles, group memberships (leading path separator
// stripped), the client's own client-role list, or the role list of any
// other client present in the token.
func (c *Claims) HasRole(role, clientID string) bool {
	if c == nil {
		return false
	}

	for _, r := range c.RealmAccess.Roles {
		if normalizeRole(r) == role {
			return true
		}
	}
	for _, g := range c.Groups {
		if normalizeRole(g) == role {
			return true
		}
	}
	if clientID != "" {
		for _, r := range c.ResourceAccess[clientID].Roles {
			if normalizeRole(r) == role {
				return true
			}
		}
	}
	for _, resource := range c.ResourceAccess {
		for _, r := range resource.Roles {
			if normalizeRole(r) == role {
				return true
			}
		}
	}

	return false
}

func normalizeRole(value string) string {
	return strings.TrimPrefix(value, "/")
}
