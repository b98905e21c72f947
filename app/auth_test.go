package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mobibase/mobibase/adapters/cache"
	"github.com/mobibase/mobibase/adapters/clock"
	"github.com/mobibase/mobibase/adapters/memory"
	"github.com/mobibase/mobibase/app"
	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

func seedSession(t *testing.T, storage ports.Storage, token, userID, expiresAt string) {
	t.Helper()
	data := object.Map{
		"objectId":       "sess-" + userID,
		"sessionToken":   token,
		"user":           map[string]any{"__type": "Pointer", "className": "_User", "objectId": userID},
		"installationId": "device-1",
	}
	if expiresAt != "" {
		data["expiresAt"] = expiresAt
	}
	if _, err := storage.Create(context.Background(), "_Session", data, ports.WriteOptions{}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestResolveSessionToken(t *testing.T) {
	storage := memory.NewStorage()
	cacheStore := cache.New(time.Minute)
	clk := clock.NewFake(fixedTime())
	svc := app.NewAuthService(storage, cacheStore, clk, zerolog.Nop())
	ctx := context.Background()

	storage.Create(ctx, "_User", object.Map{
		"objectId": "u1", "username": "alice", "_hashed_password": "hashed:x",
	}, ports.WriteOptions{})
	seedSession(t, storage, "r:tok1", "u1", object.FormatDate(fixedTime().Add(time.Hour)))

	auth, err := svc.ResolveSessionToken(ctx, "r:tok1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if auth.UserID() != "u1" {
		t.Errorf("UserID = %q", auth.UserID())
	}
	if auth.InstallationID != "device-1" {
		t.Errorf("InstallationID = %q", auth.InstallationID)
	}
	if _, present := auth.User["_hashed_password"]; present {
		t.Error("resolved user must not carry the password hash")
	}
}

func TestResolveSessionToken_Invalid(t *testing.T) {
	storage := memory.NewStorage()
	svc := app.NewAuthService(storage, cache.New(time.Minute), clock.NewFake(fixedTime()), zerolog.Nop())
	ctx := context.Background()

	for _, token := range []string{"", "tok", "r:", "r:unknown"} {
		_, err := svc.ResolveSessionToken(ctx, token)
		if !apierr.Is(err, apierr.CodeInvalidSessionToken) {
			t.Errorf("token %q: err = %v", token, err)
		}
	}
}

func TestResolveSessionToken_Expired(t *testing.T) {
	storage := memory.NewStorage()
	clk := clock.NewFake(fixedTime())
	svc := app.NewAuthService(storage, cache.New(time.Minute), clk, zerolog.Nop())
	ctx := context.Background()

	storage.Create(ctx, "_User", object.Map{"objectId": "u1", "username": "alice"}, ports.WriteOptions{})
	seedSession(t, storage, "r:tok1", "u1", object.FormatDate(fixedTime().Add(time.Hour)))

	clk.Advance(2 * time.Hour)
	_, err := svc.ResolveSessionToken(ctx, "r:tok1")
	if !apierr.Is(err, apierr.CodeInvalidSessionToken) {
		t.Errorf("err = %v", err)
	}
}

func TestResolveSessionToken_CacheHit(t *testing.T) {
	storage := memory.NewStorage()
	cacheStore := cache.New(time.Minute)
	svc := app.NewAuthService(storage, cacheStore, clock.NewFake(fixedTime()), zerolog.Nop())
	ctx := context.Background()

	storage.Create(ctx, "_User", object.Map{"objectId": "u1", "username": "alice"}, ports.WriteOptions{})
	seedSession(t, storage, "r:tok1", "u1", object.FormatDate(fixedTime().Add(time.Hour)))

	if _, err := svc.ResolveSessionToken(ctx, "r:tok1"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// The record is gone but the token stays resolvable until evicted.
	if err := storage.Destroy(ctx, "_Session", object.Filter{}.Eq("sessionToken", "r:tok1"), ports.WriteOptions{}); err != nil {
		t.Fatalf("destroy session: %v", err)
	}
	auth, err := svc.ResolveSessionToken(ctx, "r:tok1")
	if err != nil || auth.UserID() != "u1" {
		t.Errorf("cached resolve = %v, %v", auth, err)
	}

	cacheStore.DropUserToken("r:tok1")
	if _, err := svc.ResolveSessionToken(ctx, "r:tok1"); !apierr.Is(err, apierr.CodeInvalidSessionToken) {
		t.Errorf("post-eviction resolve: err = %v", err)
	}
}
