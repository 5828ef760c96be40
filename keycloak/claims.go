// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package keycloak

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gridwatch-io/client-go/session"
)

// accessClaims is the subset of Keycloak access-token claims the client
// consumes.
type accessClaims struct {
	jwt.RegisteredClaims
	Name              string      `json:"name"`
	PreferredUsername string      `json:"preferred_username"`
	Locale            string      `json:"locale"`
	RealmAccess       realmAccess `json:"realm_access"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// defaultRolePrefixes match the roles Keycloak grants every realm user.
// They carry no authorization meaning for the console and are dropped.
var defaultRolePrefixes = []string{"default-roles-"}

var defaultRoles = map[string]struct{}{
	"offline_access":    {},
	"uma_authorization": {},
}

// decodeClaims parses the access token without signature verification and
// maps it to the session claim shape.
func decodeClaims(accessToken string) (*session.Claims, error) {
	if accessToken == "" {
		return nil, errors.New("empty access token")
	}

	var claims accessClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, &claims); err != nil {
		return nil, err
	}

	out := &session.Claims{
		Subject:     claims.Subject,
		DisplayName: displayName(&claims),
		Locale:      claims.Locale,
		Roles:       filterRoles(claims.RealmAccess.Roles),
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// displayName prefers the full name claim, then the preferred username,
// then the subject.
func displayName(c *accessClaims) string {
	if c.Name != "" {
		return c.Name
	}
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return c.Subject
}

// filterRoles drops Keycloak's automatic realm roles and returns the rest
// in their original order.
func filterRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		if _, auto := defaultRoles[role]; auto {
			continue
		}
		if hasDefaultPrefix(role) {
			continue
		}
		out = append(out, role)
	}
	return out
}

func hasDefaultPrefix(role string) bool {
	for _, prefix := range defaultRolePrefixes {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}
