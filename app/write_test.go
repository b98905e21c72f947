package app_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mobibase/mobibase/adapters/cache"
	"github.com/mobibase/mobibase/adapters/clock"
	"github.com/mobibase/mobibase/adapters/files"
	"github.com/mobibase/mobibase/adapters/hasher"
	"github.com/mobibase/mobibase/adapters/hooks"
	"github.com/mobibase/mobibase/adapters/idgen"
	"github.com/mobibase/mobibase/adapters/mailer"
	"github.com/mobibase/mobibase/adapters/memory"
	"github.com/mobibase/mobibase/adapters/random"
	"github.com/mobibase/mobibase/app"
	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/domain/password"
	"github.com/mobibase/mobibase/domain/schema"
	"github.com/mobibase/mobibase/domain/session"
	"github.com/mobibase/mobibase/ports"
)

func fixedTime() time.Time {
	return time.Date(2024, 3, 15, 10, 30, 45, 123000000, time.UTC)
}

type env struct {
	writes  *app.WriteService
	storage ports.Storage
	hooks   *hooks.Registry
	mail    *mailer.Recorder
	cache   *cache.Store
	clock   *clock.Fake
	schemas *memory.SchemaController
}

func newEnv(t *testing.T, mutate func(*app.WriteConfig)) *env {
	t.Helper()
	logger := zerolog.Nop()
	e := &env{
		storage: memory.NewStorage(),
		hooks:   hooks.NewRegistry(),
		mail:    &mailer.Recorder{},
		cache:   cache.New(time.Minute),
		clock:   clock.NewFake(fixedTime()),
		schemas: memory.NewSchemaController(),
	}

	cfg := app.WriteConfig{
		ServerURL:                    "https://api.example.com",
		AllowClientClassCreation:     true,
		RevokeSessionOnPasswordReset: true,
		SessionTTL:                   24 * time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	e.writes = app.NewWriteService(app.WriteDeps{
		Storage:  e.storage,
		Schema:   e.schemas,
		Roles:    app.NewRoleService(e.storage, e.cache, logger),
		Cache:    e.cache,
		Triggers: e.hooks,
		Live:     e.hooks,
		Files:    files.NewURLExpander("https://files.example.com"),
		Mailer:   e.mail,
		Auth:     e.hooks,
		Hasher:   hasher.Fake{},
		Clock:    e.clock,
		IDGen:    idgen.ObjectID{},
		Random:   random.Real{},
		Logger:   logger,
	}, cfg)
	return e
}

func (e *env) create(t *testing.T, className string, data object.Map, auth app.Auth) (app.Result, error) {
	t.Helper()
	return e.writes.Write(context.Background(), app.WriteRequest{
		ClassName:            className,
		Data:                 data,
		Auth:                 auth,
		ClientSupportsDelete: true,
	})
}

func (e *env) update(t *testing.T, className, objectID string, data object.Map, auth app.Auth) (app.Result, error) {
	t.Helper()
	query := object.ByID(objectID)
	original, err := e.storage.Find(context.Background(), className, query, ports.ReadOptions{Limit: 1})
	if err != nil {
		t.Fatalf("load original: %v", err)
	}
	req := app.WriteRequest{
		ClassName:            className,
		Query:                &query,
		Data:                 data,
		Auth:                 auth,
		ClientSupportsDelete: true,
	}
	if len(original) > 0 {
		req.OriginalData = original[0]
	}
	return e.writes.Write(context.Background(), req)
}

func (e *env) mustFindOne(t *testing.T, className string, filter object.Filter) object.Map {
	t.Helper()
	matches, err := e.storage.Find(context.Background(), className, filter, ports.ReadOptions{})
	if err != nil {
		t.Fatalf("find %s: %v", className, err)
	}
	if len(matches) != 1 {
		t.Fatalf("find %s: %d matches, want 1", className, len(matches))
	}
	return matches[0]
}

func (e *env) userAuth(t *testing.T, userID string) app.Auth {
	t.Helper()
	return app.Auth{User: e.mustFindOne(t, "_User", object.ByID(userID))}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWrite_Signup(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.create(t, "_User", object.Map{"username": "alice", "password": "hunter2"}, app.Auth{})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if res.Status != 201 {
		t.Errorf("status = %d, want 201", res.Status)
	}

	userID := object.String(res.Body, "objectId")
	if len(userID) != 10 {
		t.Errorf("objectId = %q, want 10 chars", userID)
	}
	if got := object.String(res.Body, "createdAt"); got != "2024-03-15T10:30:45.123Z" {
		t.Errorf("createdAt = %q", got)
	}
	if res.Location != "https://api.example.com/users/"+userID {
		t.Errorf("location = %q", res.Location)
	}
	if !session.IsToken(object.String(res.Body, "sessionToken")) {
		t.Errorf("sessionToken = %v", res.Body["sessionToken"])
	}

	acl, ok := object.ACLFrom(res.Body["ACL"])
	if !ok || acl == nil {
		t.Fatalf("ACL = %v", res.Body["ACL"])
	}
	if !acl[userID].Write || !acl[userID].Read || !acl[object.PublicSubject].Read {
		t.Errorf("default ACL = %v", acl)
	}

	stored := e.mustFindOne(t, "_User", object.ByID(userID))
	if stored["_hashed_password"] != "hashed:hunter2" {
		t.Errorf("_hashed_password = %v", stored["_hashed_password"])
	}
	if _, present := stored["password"]; present {
		t.Error("plaintext password must not be stored")
	}

	sess := e.mustFindOne(t, "_Session", object.Filter{}.Eq("user.objectId", userID))
	createdWith, _ := sess["createdWith"].(map[string]any)
	if createdWith["action"] != "signup" || createdWith["authProvider"] != "password" {
		t.Errorf("createdWith = %v", createdWith)
	}
	if got := object.String(sess, "expiresAt"); got != object.FormatDate(fixedTime().Add(24*time.Hour)) {
		t.Errorf("expiresAt = %q", got)
	}
}

func TestWrite_SignupRequiresCredentials(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.create(t, "_User", object.Map{"password": "hunter2"}, app.Auth{})
	if !apierr.Is(err, apierr.CodeUsernameMissing) {
		t.Errorf("missing username: err = %v", err)
	}

	_, err = e.create(t, "_User", object.Map{"username": "alice"}, app.Auth{})
	if !apierr.Is(err, apierr.CodePasswordMissing) {
		t.Errorf("missing password: err = %v", err)
	}
}

func TestWrite_CaseInsensitiveUniqueness(t *testing.T) {
	e := newEnv(t, nil)

	if _, err := e.create(t, "_User", object.Map{"username": "alice", "password": "x", "email": "a@example.com"}, app.Auth{}); err != nil {
		t.Fatalf("first signup: %v", err)
	}

	_, err := e.create(t, "_User", object.Map{"username": "ALICE", "password": "x"}, app.Auth{})
	if !apierr.Is(err, apierr.CodeUsernameTaken) {
		t.Errorf("username collision: err = %v", err)
	}

	_, err = e.create(t, "_User", object.Map{"username": "bob", "password": "x", "email": "A@Example.Com"}, app.Auth{})
	if !apierr.Is(err, apierr.CodeEmailTaken) {
		t.Errorf("email collision: err = %v", err)
	}
}

func TestWrite_AnonymousSignup(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.create(t, "_User", object.Map{
		"authData": map[string]any{"anonymous": map[string]any{"id": "device-uuid-1"}},
	}, app.Auth{})
	if err != nil {
		t.Fatalf("anonymous signup: %v", err)
	}
	if res.Status != 201 {
		t.Errorf("status = %d, want 201", res.Status)
	}
	if username := object.String(res.Body, "username"); len(username) != 25 {
		t.Errorf("generated username = %q, want 25 chars", username)
	}
	if !session.IsToken(object.String(res.Body, "sessionToken")) {
		t.Errorf("sessionToken = %v", res.Body["sessionToken"])
	}
}

func TestWrite_GeneratedUsernameFromEntropySource(t *testing.T) {
	logger := zerolog.Nop()
	entropy := random.NewFake()
	storage := memory.NewStorage()
	cacheStore := cache.New(time.Minute)
	registry := hooks.NewRegistry()
	writes := app.NewWriteService(app.WriteDeps{
		Storage:  storage,
		Schema:   memory.NewSchemaController(),
		Roles:    app.NewRoleService(storage, cacheStore, logger),
		Cache:    cacheStore,
		Triggers: registry,
		Live:     registry,
		Files:    files.NewURLExpander("https://files.example.com"),
		Mailer:   &mailer.Recorder{},
		Auth:     registry,
		Hasher:   hasher.Fake{},
		Clock:    clock.NewFake(fixedTime()),
		IDGen:    idgen.ObjectID{},
		Random:   entropy,
		Logger:   logger,
	}, app.WriteConfig{
		ServerURL:                "https://api.example.com",
		AllowClientClassCreation: true,
		SessionTTL:               24 * time.Hour,
	})

	res, err := writes.Write(context.Background(), app.WriteRequest{
		ClassName: "_User",
		Data: object.Map{
			"authData": map[string]any{"anonymous": map[string]any{"id": "device-uuid-9"}},
		},
	})
	if err != nil {
		t.Fatalf("anonymous signup: %v", err)
	}

	// The minted username is the first draw from the injected source.
	want, err := random.NewFake().String(25)
	if err != nil {
		t.Fatalf("expected username: %v", err)
	}
	if got := object.String(res.Body, "username"); got != want {
		t.Errorf("username = %q, want %q", got, want)
	}
}

func TestWrite_FederatedLogin(t *testing.T) {
	e := newEnv(t, func(cfg *app.WriteConfig) {
		cfg.VerifyUserEmails = true
	})
	e.hooks.RegisterValidator("google", ports.AuthValidatorFunc(func(context.Context, map[string]any) error {
		return nil
	}))
	authData := object.Map{
		"authData": map[string]any{"google": map[string]any{"id": "g-1", "access_token": "tok"}},
		"email":    "fed@example.com",
	}

	first, err := e.create(t, "_User", object.Clone(authData), app.Auth{})
	if err != nil {
		t.Fatalf("federated signup: %v", err)
	}
	if first.Status != 201 {
		t.Errorf("signup status = %d, want 201", first.Status)
	}
	userID := object.String(first.Body, "objectId")

	second, err := e.create(t, "_User", object.Clone(authData), app.Auth{})
	if err != nil {
		t.Fatalf("federated login: %v", err)
	}
	if second.Status != 200 {
		t.Errorf("login status = %d, want 200", second.Status)
	}
	if got := object.String(second.Body, "objectId"); got != userID {
		t.Errorf("login resolved to %q, want %q", got, userID)
	}
	if !session.IsToken(object.String(second.Body, "sessionToken")) {
		t.Errorf("sessionToken = %v", second.Body["sessionToken"])
	}

	sessions, _ := e.storage.Find(context.Background(), "_Session",
		object.Filter{}.Eq("sessionToken", object.String(second.Body, "sessionToken")), ports.ReadOptions{})
	if len(sessions) != 1 {
		t.Fatalf("login sessions = %d, want 1", len(sessions))
	}
	createdWith, _ := sessions[0]["createdWith"].(map[string]any)
	if createdWith["action"] != "login" || createdWith["authProvider"] != "google" {
		t.Errorf("createdWith = %v", createdWith)
	}

	// Server-side bookkeeping stays out of the login response.
	for _, field := range []string{"_hashed_password", "_email_verify_token", "_password_history", "_password_changed_at"} {
		if _, present := second.Body[field]; present {
			t.Errorf("login body leaks %s", field)
		}
	}
}

func TestWrite_LinkSecondProvider(t *testing.T) {
	e := newEnv(t, nil)
	e.hooks.RegisterValidator("google", ports.AuthValidatorFunc(func(context.Context, map[string]any) error {
		return nil
	}))
	e.hooks.RegisterValidator("github", ports.AuthValidatorFunc(func(context.Context, map[string]any) error {
		return nil
	}))

	first, err := e.create(t, "_User", object.Map{
		"authData": map[string]any{"google": map[string]any{"id": "g-1"}},
	}, app.Auth{})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	userID := object.String(first.Body, "objectId")

	_, err = e.update(t, "_User", userID, object.Map{
		"authData": map[string]any{"github": map[string]any{"id": "h-1"}},
	}, e.userAuth(t, userID))
	if err != nil {
		t.Fatalf("link github: %v", err)
	}

	stored := e.mustFindOne(t, "_User", object.ByID(userID))
	ad, _ := stored["authData"].(map[string]any)
	google, _ := ad["google"].(map[string]any)
	if object.String(google, "id") != "g-1" {
		t.Errorf("google link lost: authData = %v", ad)
	}
	github, _ := ad["github"].(map[string]any)
	if object.String(github, "id") != "h-1" {
		t.Errorf("github link missing: authData = %v", ad)
	}
}

func TestWrite_UnlinkProvider(t *testing.T) {
	e := newEnv(t, nil)
	e.hooks.RegisterValidator("google", ports.AuthValidatorFunc(func(context.Context, map[string]any) error {
		return nil
	}))
	e.hooks.RegisterValidator("github", ports.AuthValidatorFunc(func(context.Context, map[string]any) error {
		return nil
	}))

	first, err := e.create(t, "_User", object.Map{
		"authData": map[string]any{
			"google": map[string]any{"id": "g-1"},
			"github": map[string]any{"id": "h-1"},
		},
	}, app.Auth{})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	userID := object.String(first.Body, "objectId")

	_, err = e.update(t, "_User", userID, object.Map{
		"authData": map[string]any{"github": nil},
	}, e.userAuth(t, userID))
	if err != nil {
		t.Fatalf("unlink github: %v", err)
	}

	stored := e.mustFindOne(t, "_User", object.ByID(userID))
	ad, _ := stored["authData"].(map[string]any)
	if _, present := ad["github"]; present {
		t.Errorf("github entry still stored: authData = %v", ad)
	}
	google, _ := ad["google"].(map[string]any)
	if object.String(google, "id") != "g-1" {
		t.Errorf("google link lost: authData = %v", ad)
	}
}

func TestWrite_BeforeLoginVeto(t *testing.T) {
	e := newEnv(t, nil)
	e.hooks.RegisterValidator("google", ports.AuthValidatorFunc(func(context.Context, map[string]any) error {
		return nil
	}))
	authData := object.Map{
		"authData": map[string]any{"google": map[string]any{"id": "g-1", "access_token": "tok"}},
	}
	if _, err := e.create(t, "_User", object.Clone(authData), app.Auth{}); err != nil {
		t.Fatalf("signup: %v", err)
	}

	e.hooks.Register("_User", ports.TriggerBeforeLogin, func(context.Context, ports.TriggerInput) (object.Map, error) {
		return nil, apierr.New(apierr.CodeOperationForbidden, "banned")
	})

	_, err := e.create(t, "_User", object.Clone(authData), app.Auth{})
	if !apierr.Is(err, apierr.CodeOperationForbidden) {
		t.Errorf("vetoed login: err = %v", err)
	}
}

func TestWrite_UnsupportedProvider(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.create(t, "_User", object.Map{
		"authData": map[string]any{"facebook": map[string]any{"id": "f-1"}},
	}, app.Auth{})
	if !apierr.Is(err, apierr.CodeUnsupportedService) {
		t.Errorf("err = %v", err)
	}
}

func TestWrite_AmbiguousAuthData(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	creds := map[string]any{"google": map[string]any{"id": "g-1", "access_token": "tok"}}
	e.storage.Create(ctx, "_User", object.Map{"objectId": "u1", "username": "a", "authData": creds}, ports.WriteOptions{})
	e.storage.Create(ctx, "_User", object.Map{"objectId": "u2", "username": "b", "authData": creds}, ports.WriteOptions{})

	_, err := e.create(t, "_User", object.Map{"authData": creds}, app.Auth{})
	if !apierr.Is(err, apierr.CodeAccountAlreadyLinked) {
		t.Errorf("err = %v", err)
	}
}

func TestWrite_EmailVerification(t *testing.T) {
	e := newEnv(t, func(cfg *app.WriteConfig) {
		cfg.VerifyUserEmails = true
	})

	res, err := e.create(t, "_User", object.Map{
		"username": "alice", "password": "x", "email": "alice@example.com",
	}, app.Auth{})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	stored := e.mustFindOne(t, "_User", object.ByID(object.String(res.Body, "objectId")))
	if stored["_email_verify_token"] != "verify-token" {
		t.Errorf("_email_verify_token = %v", stored["_email_verify_token"])
	}
	if stored["emailVerified"] != false {
		t.Errorf("emailVerified = %v", stored["emailVerified"])
	}

	waitFor(t, "verification email", func() bool { return e.mail.SentCount() == 1 })
}

func TestWrite_InvalidEmail(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.create(t, "_User", object.Map{
		"username": "alice", "password": "x", "email": "not-an-address",
	}, app.Auth{})
	if !apierr.Is(err, apierr.CodeInvalidEmailAddress) {
		t.Errorf("err = %v", err)
	}
}

func TestWrite_EmailVerifiedGuard(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.create(t, "_User", object.Map{
		"username": "alice", "password": "x", "emailVerified": true,
	}, app.Auth{})
	if !apierr.Is(err, apierr.CodeOperationForbidden) {
		t.Errorf("client write: err = %v", err)
	}

	if _, err := e.create(t, "_User", object.Map{
		"username": "alice", "password": "x", "emailVerified": true,
	}, app.Auth{Master: true}); err != nil {
		t.Errorf("master write: %v", err)
	}
}

func TestWrite_PasswordPolicy(t *testing.T) {
	e := newEnv(t, func(cfg *app.WriteConfig) {
		cfg.PasswordPolicy = password.Policy{
			Pattern:           regexp.MustCompile(`[0-9]`),
			ValidationMessage: "password must contain a digit",
			ForbidUsername:    true,
			MaxHistory:        3,
		}
	})

	_, err := e.create(t, "_User", object.Map{"username": "alice", "password": "nodigits"}, app.Auth{})
	if !apierr.Is(err, apierr.CodeValidationError) {
		t.Errorf("weak password: err = %v", err)
	}

	_, err = e.create(t, "_User", object.Map{"username": "alice", "password": "alice123"}, app.Auth{})
	if !apierr.Is(err, apierr.CodeValidationError) {
		t.Errorf("password contains username: err = %v", err)
	}

	res, err := e.create(t, "_User", object.Map{"username": "alice", "password": "pass1"}, app.Auth{})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	userID := object.String(res.Body, "objectId")

	_, err = e.update(t, "_User", userID, object.Map{"password": "pass1"}, app.Auth{Master: true})
	if !apierr.Is(err, apierr.CodeValidationError) {
		t.Errorf("reused password: err = %v", err)
	}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && !strings.Contains(apiErr.Message, "last 3 passwords") {
		t.Errorf("history message = %q", apiErr.Message)
	}

	if _, err := e.update(t, "_User", userID, object.Map{"password": "pass2"}, app.Auth{Master: true}); err != nil {
		t.Fatalf("rotate password: %v", err)
	}

	stored := e.mustFindOne(t, "_User", object.ByID(userID))
	if stored["_hashed_password"] != "hashed:pass2" {
		t.Errorf("_hashed_password = %v", stored["_hashed_password"])
	}
	if stored["_password_changed_at"] == nil {
		t.Error("_password_changed_at must be stamped")
	}
	history, _ := stored["_password_history"].([]any)
	if len(history) != 1 || history[0] != "hashed:pass1" {
		t.Errorf("_password_history = %v", history)
	}

	_, err = e.update(t, "_User", userID, object.Map{"password": "pass1"}, app.Auth{Master: true})
	if !apierr.Is(err, apierr.CodeValidationError) {
		t.Errorf("archived password reuse: err = %v", err)
	}
}

func TestWrite_PasswordChangeRotatesSessions(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.create(t, "_User", object.Map{"username": "alice", "password": "old"}, app.Auth{})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	userID := object.String(res.Body, "objectId")
	oldToken := object.String(res.Body, "sessionToken")

	updated, err := e.update(t, "_User", userID, object.Map{"password": "new"}, e.userAuth(t, userID))
	if err != nil {
		t.Fatalf("password change: %v", err)
	}
	newToken := object.String(updated.Body, "sessionToken")
	if !session.IsToken(newToken) || newToken == oldToken {
		t.Errorf("rotated token = %q (old %q)", newToken, oldToken)
	}

	sessions, _ := e.storage.Find(context.Background(), "_Session",
		object.Filter{}.Eq("user.objectId", userID), ports.ReadOptions{})
	if len(sessions) != 1 || object.String(sessions[0], "sessionToken") != newToken {
		t.Errorf("sessions after rotation = %v", sessions)
	}
}

func TestWrite_SchemaDefaultsAndRequired(t *testing.T) {
	e := newEnv(t, nil)
	e.schemas.AddClass(schema.Class{
		Name: "Game",
		Fields: map[string]schema.Field{
			"title": {Type: schema.TypeString, Required: true},
			"genre": {Type: schema.TypeString, DefaultValue: "arcade"},
		},
	})

	_, err := e.create(t, "Game", object.Map{"genre": "puzzle"}, app.Auth{})
	if !apierr.Is(err, apierr.CodeValidationError) {
		t.Errorf("missing required field: err = %v", err)
	}

	_, err = e.create(t, "Game", object.Map{"title": 42}, app.Auth{})
	if !apierr.Is(err, apierr.CodeValidationError) {
		t.Errorf("type mismatch: err = %v", err)
	}

	res, err := e.create(t, "Game", object.Map{"title": "chess"}, app.Auth{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Body["genre"] != "arcade" {
		t.Errorf("default not echoed: %v", res.Body)
	}
	stored := e.mustFindOne(t, "Game", object.ByID(object.String(res.Body, "objectId")))
	if stored["genre"] != "arcade" {
		t.Errorf("default not stored: %v", stored)
	}
}

func TestWrite_ClientClassCreationPolicy(t *testing.T) {
	e := newEnv(t, func(cfg *app.WriteConfig) {
		cfg.AllowClientClassCreation = false
	})

	_, err := e.create(t, "Brand", object.Map{"name": "acme"}, app.Auth{})
	if !apierr.Is(err, apierr.CodeOperationForbidden) {
		t.Errorf("client create: err = %v", err)
	}

	if _, err := e.create(t, "Brand", object.Map{"name": "acme"}, app.Auth{Master: true}); err != nil {
		t.Errorf("master create: %v", err)
	}

	if _, err := e.create(t, "_User", object.Map{"username": "alice", "password": "x"}, app.Auth{}); err != nil {
		t.Errorf("built-in class signup: %v", err)
	}
}

func TestWrite_InstallationDeduplication(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.create(t, "_Installation", object.Map{
		"installationId": "INSTALL-1",
		"deviceType":     "ios",
	}, app.Auth{})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	firstID := object.String(res.Body, "objectId")

	stored := e.mustFindOne(t, "_Installation", object.ByID(firstID))
	if stored["installationId"] != "install-1" {
		t.Errorf("installationId = %v, want lowercased", stored["installationId"])
	}

	second, err := e.create(t, "_Installation", object.Map{
		"installationId": "install-1",
		"deviceType":     "ios",
		"appVersion":     "2.0",
	}, app.Auth{})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.Status == 201 {
		t.Error("duplicate create must redirect to an update")
	}

	all, _ := e.storage.Find(context.Background(), "_Installation", object.Filter{}, ports.ReadOptions{})
	if len(all) != 1 {
		t.Fatalf("installations = %d, want 1", len(all))
	}
	if all[0]["appVersion"] != "2.0" {
		t.Errorf("redirected update not applied: %v", all[0])
	}
}

func TestWrite_InstallationRequiresIDField(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.create(t, "_Installation", object.Map{"deviceType": "ios"}, app.Auth{})
	if !apierr.Is(err, apierr.CodeValidationError) {
		t.Errorf("err = %v", err)
	}
}

func TestWrite_SessionDirectCreate(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.create(t, "_User", object.Map{"username": "alice", "password": "x"}, app.Auth{})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	auth := e.userAuth(t, object.String(res.Body, "objectId"))

	created, err := e.create(t, "_Session", object.Map{"note": "second device"}, auth)
	if err != nil {
		t.Fatalf("session create: %v", err)
	}
	if created.Status != 201 {
		t.Errorf("status = %d, want 201", created.Status)
	}
	if !session.IsToken(object.String(created.Body, "sessionToken")) {
		t.Errorf("sessionToken = %v", created.Body["sessionToken"])
	}
	createdWith, _ := created.Body["createdWith"].(map[string]any)
	if createdWith["action"] != "create" {
		t.Errorf("createdWith = %v", createdWith)
	}
	if created.Body["note"] != "second device" {
		t.Errorf("extra fields dropped: %v", created.Body)
	}

	_, err = e.create(t, "_Session", object.Map{}, app.Auth{})
	if !apierr.Is(err, apierr.CodeInvalidSessionToken) {
		t.Errorf("anonymous session create: err = %v", err)
	}

	_, err = e.create(t, "_Session", object.Map{"ACL": map[string]any{}}, auth)
	if !apierr.Is(err, apierr.CodeInvalidACL) {
		t.Errorf("session with ACL: err = %v", err)
	}
}

func TestWrite_BeforeSaveMutation(t *testing.T) {
	e := newEnv(t, nil)
	e.hooks.Register("Game", ports.TriggerBeforeSave, func(_ context.Context, in ports.TriggerInput) (object.Map, error) {
		out := object.Clone(in.Object)
		out["level"] = float64(1)
		return out, nil
	})

	res, err := e.create(t, "Game", object.Map{"title": "chess"}, app.Auth{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Body["level"] != float64(1) {
		t.Errorf("mutation not echoed: %v", res.Body)
	}
	stored := e.mustFindOne(t, "Game", object.ByID(object.String(res.Body, "objectId")))
	if stored["level"] != float64(1) {
		t.Errorf("mutation not stored: %v", stored)
	}
}

func TestWrite_BeforeSaveVeto(t *testing.T) {
	e := newEnv(t, nil)
	e.hooks.Register("Game", ports.TriggerBeforeSave, func(context.Context, ports.TriggerInput) (object.Map, error) {
		return nil, apierr.New(apierr.CodeValidationError, "rejected")
	})

	_, err := e.create(t, "Game", object.Map{"title": "chess"}, app.Auth{})
	if !apierr.Is(err, apierr.CodeValidationError) {
		t.Errorf("err = %v", err)
	}

	all, _ := e.storage.Find(context.Background(), "Game", object.Filter{}, ports.ReadOptions{})
	if len(all) != 0 {
		t.Errorf("vetoed write persisted: %v", all)
	}
}

func TestWrite_AfterSaveNotifiesSubscribers(t *testing.T) {
	e := newEnv(t, nil)
	notified := make(chan string, 1)
	e.hooks.Subscribe("Game", func(className string, newObject, original object.Map) {
		notified <- object.String(newObject, "objectId")
	})

	res, err := e.create(t, "Game", object.Map{"title": "chess"}, app.Auth{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	select {
	case got := <-notified:
		if got != object.String(res.Body, "objectId") {
			t.Errorf("notified id = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no live-query notification")
	}
}

func TestWrite_RoleWriteClearsRoleCache(t *testing.T) {
	e := newEnv(t, nil)
	e.cache.PutRoles("u1", []string{"stale"})

	_, err := e.create(t, "_Role", object.Map{
		"name": "admins", "users": []any{"u1"},
	}, app.Auth{Master: true})
	if err != nil {
		t.Fatalf("role create: %v", err)
	}

	if _, ok := e.cache.GetRoles("u1"); ok {
		t.Error("role cache must be cleared on _Role writes")
	}
}

func TestWrite_ProductDownloadMirror(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.create(t, "_Product", object.Map{
		"productIdentifier": "com.example.sword",
		"download":          map[string]any{"__type": "File", "name": "sword.zip"},
	}, app.Auth{Master: true})
	if err != nil {
		t.Fatalf("product create: %v", err)
	}
	stored := e.mustFindOne(t, "_Product", object.ByID(object.String(res.Body, "objectId")))
	if stored["downloadName"] != "sword.zip" {
		t.Errorf("downloadName = %v", stored["downloadName"])
	}
}

func TestWrite_UpdateNotFound(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.update(t, "Game", "missing1234", object.Map{"title": "x"}, app.Auth{})
	if !apierr.Is(err, apierr.CodeObjectNotFound) {
		t.Errorf("err = %v", err)
	}
}
