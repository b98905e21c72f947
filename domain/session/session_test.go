package session_test

import (
	"testing"
	"time"

	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/domain/session"
)

func TestToken(t *testing.T) {
	tok := session.Token("abcdef0123456789abcdef0123456789")
	if tok != "r:abcdef0123456789abcdef0123456789" {
		t.Errorf("Token = %q", tok)
	}
	if !session.IsToken(tok) {
		t.Error("issued token should be recognized")
	}
}

func TestIsToken(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"r:abc", true},
		{"r:", false},
		{"", false},
		{"abc", false},
		{"R:abc", false},
	}
	for _, tt := range tests {
		if got := session.IsToken(tt.token); got != tt.want {
			t.Errorf("IsToken(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestNew_Object(t *testing.T) {
	expires := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	obj := session.New{
		UserID:         "u1",
		Token:          "r:deadbeef",
		CreatedWith:    session.CreatedWith{Action: "signup", AuthProvider: "password"},
		InstallationID: "install-1",
		ExpiresAt:      expires,
		AdditionalData: object.Map{"note": "extra"},
	}.Object()

	if obj["sessionToken"] != "r:deadbeef" {
		t.Errorf("sessionToken = %v", obj["sessionToken"])
	}
	user := obj["user"].(map[string]any)
	if user["__type"] != "Pointer" || user["className"] != "_User" || user["objectId"] != "u1" {
		t.Errorf("user pointer = %v", user)
	}
	cw := obj["createdWith"].(map[string]any)
	if cw["action"] != "signup" || cw["authProvider"] != "password" {
		t.Errorf("createdWith = %v", cw)
	}
	if obj["expiresAt"] != "2025-06-01T00:00:00.000Z" {
		t.Errorf("expiresAt = %v", obj["expiresAt"])
	}
	if obj["installationId"] != "install-1" {
		t.Errorf("installationId = %v", obj["installationId"])
	}
	if obj["note"] != "extra" {
		t.Errorf("additional data not merged: %v", obj)
	}
}

func TestNew_Object_NoInstallation(t *testing.T) {
	obj := session.New{UserID: "u1", Token: "r:x", ExpiresAt: time.Now()}.Object()
	if _, present := obj["installationId"]; present {
		t.Error("empty installation id must be omitted")
	}
}
