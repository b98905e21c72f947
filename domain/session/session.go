// Package session provides session value types and token construction.
// This package has NO dependencies on I/O; entropy is injected.
package session

import (
	"time"

	"github.com/mobibase/mobibase/domain/object"
)

// TokenPrefix marks every session token issued by this service.
const TokenPrefix = "r:"

// Token builds a session token from injected entropy.
func Token(entropy string) string {
	return TokenPrefix + entropy
}

// IsToken reports whether s looks like a session token.
func IsToken(s string) bool {
	return len(s) > len(TokenPrefix) && s[:len(TokenPrefix)] == TokenPrefix
}

// CreatedWith records how a session came to exist.
type CreatedWith struct {
	Action       string // "login" or "signup"
	AuthProvider string // provider name, or "password"
}

// New assembles the raw _Session object to persist.
type New struct {
	UserID         string
	Token          string
	CreatedWith    CreatedWith
	InstallationID string
	ExpiresAt      time.Time
	AdditionalData object.Map
}

// Object renders the session as a storable object map.
func (n New) Object() object.Map {
	m := object.Map{
		"sessionToken": n.Token,
		"user": map[string]any{
			"__type":    "Pointer",
			"className": "_User",
			"objectId":  n.UserID,
		},
		"createdWith": map[string]any{
			"action":       n.CreatedWith.Action,
			"authProvider": n.CreatedWith.AuthProvider,
		},
		"expiresAt": object.FormatDate(n.ExpiresAt),
	}
	if n.InstallationID != "" {
		m["installationId"] = n.InstallationID
	}
	for k, v := range n.AdditionalData {
		m[k] = v
	}
	return m
}
