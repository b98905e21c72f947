package app_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mobibase/mobibase/adapters/cache"
	"github.com/mobibase/mobibase/adapters/memory"
	"github.com/mobibase/mobibase/app"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

func seedRole(t *testing.T, storage ports.Storage, name string, users, roles []any) {
	t.Helper()
	_, err := storage.Create(context.Background(), "_Role", object.Map{
		"objectId": "role-" + name,
		"name":     name,
		"users":    users,
		"roles":    roles,
	}, ports.WriteOptions{})
	if err != nil {
		t.Fatalf("seed role %s: %v", name, err)
	}
}

func TestRolesFor(t *testing.T) {
	storage := memory.NewStorage()
	svc := app.NewRoleService(storage, cache.New(time.Minute), zerolog.Nop())
	ctx := context.Background()

	seedRole(t, storage, "mods", []any{"u1", "u3"}, nil)
	seedRole(t, storage, "admins", nil, []any{"mods"})
	seedRole(t, storage, "root", nil, []any{"admins"})
	seedRole(t, storage, "other", []any{"u2"}, nil)

	got, err := svc.RolesFor(ctx, "u1")
	if err != nil {
		t.Fatalf("RolesFor: %v", err)
	}
	want := []string{"admins", "mods", "root"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RolesFor = %v, want %v", got, want)
	}

	got, err = svc.RolesFor(ctx, "u2")
	if err != nil {
		t.Fatalf("RolesFor: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"other"}) {
		t.Errorf("RolesFor = %v", got)
	}

	got, err = svc.RolesFor(ctx, "nobody")
	if err != nil || len(got) != 0 {
		t.Errorf("RolesFor = %v, %v", got, err)
	}
}

func TestRolesFor_Cached(t *testing.T) {
	storage := memory.NewStorage()
	cacheStore := cache.New(time.Minute)
	svc := app.NewRoleService(storage, cacheStore, zerolog.Nop())
	ctx := context.Background()

	seedRole(t, storage, "mods", []any{"u1"}, nil)

	first, err := svc.RolesFor(ctx, "u1")
	if err != nil {
		t.Fatalf("RolesFor: %v", err)
	}

	// New grants are invisible until a _Role write clears the cache.
	seedRole(t, storage, "admins", []any{"u1"}, nil)
	cached, _ := svc.RolesFor(ctx, "u1")
	if !reflect.DeepEqual(cached, first) {
		t.Errorf("cached = %v, want %v", cached, first)
	}

	cacheStore.ClearRoles()
	fresh, _ := svc.RolesFor(ctx, "u1")
	if !reflect.DeepEqual(fresh, []string{"admins", "mods"}) {
		t.Errorf("fresh = %v", fresh)
	}
}
