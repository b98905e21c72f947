package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/domain/session"
	"github.com/mobibase/mobibase/ports"
)

// AuthService resolves caller identity from session tokens. Resolved
// users are cached by token; the pipeline evicts entries when sessions
// are invalidated.
type AuthService struct {
	storage ports.Storage
	cache   ports.CacheController
	clock   ports.Clock
	logger  zerolog.Logger
}

// NewAuthService creates a session-token resolver.
func NewAuthService(storage ports.Storage, cacheStore ports.CacheController, clock ports.Clock, logger zerolog.Logger) *AuthService {
	return &AuthService{storage: storage, cache: cacheStore, clock: clock, logger: logger}
}

// ResolveSessionToken returns the authenticated caller for a token.
func (s *AuthService) ResolveSessionToken(ctx context.Context, token string) (Auth, error) {
	if !session.IsToken(token) {
		return Auth{}, apierr.New(apierr.CodeInvalidSessionToken, "Invalid session token")
	}

	if s.cache != nil {
		if user, ok := s.cache.GetUser(token); ok {
			return Auth{User: user}, nil
		}
	}

	sessions, err := s.storage.Find(ctx, ClassSession,
		object.Filter{}.Eq("sessionToken", token), ports.ReadOptions{Limit: 1})
	if err != nil {
		return Auth{}, err
	}
	if len(sessions) == 0 {
		return Auth{}, apierr.New(apierr.CodeInvalidSessionToken, "Invalid session token")
	}
	record := sessions[0]

	if expires := object.ParseDate(object.String(record, "expiresAt")); !expires.IsZero() {
		if s.clock.Now().After(expires) {
			return Auth{}, apierr.New(apierr.CodeInvalidSessionToken, "Session token is expired.")
		}
	}

	pointer, _ := record["user"].(map[string]any)
	userID := object.String(pointer, "objectId")
	if userID == "" {
		return Auth{}, apierr.New(apierr.CodeInvalidSessionToken, "Invalid session token")
	}
	users, err := s.storage.Find(ctx, ClassUser, object.ByID(userID), ports.ReadOptions{Limit: 1})
	if err != nil {
		return Auth{}, err
	}
	if len(users) == 0 {
		return Auth{}, apierr.New(apierr.CodeInvalidSessionToken, "Invalid session token")
	}

	user := users[0]
	delete(user, "_hashed_password")
	if s.cache != nil {
		s.cache.PutUser(token, user)
	}
	return Auth{
		User:           user,
		InstallationID: object.String(record, "installationId"),
	}, nil
}
