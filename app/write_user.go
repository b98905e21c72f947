package app

import (
	"context"
	"strings"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/authdata"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// generatedUsernameLength is the size of usernames minted for signups
// that omit one.
const generatedUsernameLength = 25

// transformUser applies the _User-specific payload rules: the
// emailVerified guard, session-cache eviction, password hashing and
// policy, username resolution, and email resolution. Each step
// short-circuits the rest on error.
func (s *WriteService) transformUser(ctx context.Context, c *writeContext) error {
	if c.className != ClassUser {
		return nil
	}

	if _, present := c.data["emailVerified"]; present && !c.auth.Master {
		return apierr.New(apierr.CodeOperationForbidden,
			"Clients aren't allowed to manually update email verification.")
	}

	if c.isUpdate() {
		s.evictUserSessions(ctx, c.objectID())
	}

	if err := s.transformPassword(ctx, c); err != nil {
		return err
	}
	if err := s.resolveUsername(ctx, c); err != nil {
		return err
	}
	return s.resolveEmail(ctx, c)
}

// evictUserSessions drops every cached session token belonging to the
// user. Cache eviction only; the session records stay.
func (s *WriteService) evictUserSessions(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	sessions, err := s.storage.Find(ctx, ClassSession,
		object.Filter{}.Eq("user.objectId", userID), masterRead())
	if err != nil {
		s.logger.Warn().Err(err).Str("user", userID).Msg("session cache eviction lookup failed")
		return
	}
	for _, session := range sessions {
		if token := object.String(session, "sessionToken"); token != "" {
			s.cache.DropUserToken(token)
		}
	}
}

// transformPassword hashes an incoming password after running the
// password policy. An explicitly empty password is still processed; only
// an absent field is skipped.
func (s *WriteService) transformPassword(ctx context.Context, c *writeContext) error {
	raw, present := c.data["password"]
	if !present {
		return nil
	}
	plaintext, _ := raw.(string)

	if c.isUpdate() {
		c.enqueue(followupClearSessions)
		if !c.auth.Master {
			c.enqueue(followupNewSession)
		}
	}

	if err := s.checkPasswordPolicy(ctx, c, plaintext); err != nil {
		return err
	}

	hashed, err := s.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	c.data["_hashed_password"] = string(hashed)
	delete(c.data, "password")
	return nil
}

// checkPasswordPolicy runs the configured policy: strength, username
// exclusion, and reuse history.
func (s *WriteService) checkPasswordPolicy(ctx context.Context, c *writeContext, plaintext string) error {
	policy := s.cfg.PasswordPolicy
	if !policy.Enabled() {
		return nil
	}

	if err := policy.CheckStrength(plaintext); err != nil {
		return err
	}

	if policy.ForbidUsername {
		username := object.String(c.data, "username")
		if username == "" {
			// Reset flows carry no username; fetch it.
			user, err := s.fetchUser(ctx, c.objectID())
			if err != nil {
				return err
			}
			username = object.String(user, "username")
		}
		if err := policy.CheckUsername(plaintext, username); err != nil {
			return err
		}
	}

	if policy.MaxHistory > 0 && c.isUpdate() {
		user, err := s.fetchUser(ctx, c.objectID())
		if err != nil {
			return err
		}
		var hashes [][]byte
		if current := object.String(user, "_hashed_password"); current != "" {
			hashes = append(hashes, []byte(current))
		}
		if history, ok := user["_password_history"].([]any); ok {
			for _, h := range history {
				if hs, ok := h.(string); ok {
					hashes = append(hashes, []byte(hs))
				}
			}
		}
		if err := policy.CheckHistory(plaintext, hashes, s.hasher.Compare); err != nil {
			return err
		}
	}
	return nil
}

// resolveUsername generates a username on create when absent, otherwise
// enforces case-insensitive uniqueness excluding the current object.
func (s *WriteService) resolveUsername(ctx context.Context, c *writeContext) error {
	raw, present := c.data["username"]
	if !present || object.IsDelete(raw) {
		if !c.isUpdate() {
			username, err := s.random.String(generatedUsernameLength)
			if err != nil {
				return err
			}
			c.data["username"] = username
			c.markChanged("username")
		}
		return nil
	}
	username, _ := raw.(string)
	if username == "" {
		return apierr.New(apierr.CodeUsernameMissing, "bad or missing username")
	}

	filter := object.Filter{}.EqFold("username", username)
	if id := c.objectID(); id != "" {
		filter = filter.Ne("objectId", id)
	}
	matches, err := s.storage.Find(ctx, ClassUser, filter, masterReadLimit(1))
	if err != nil {
		return err
	}
	if len(matches) > 0 {
		return apierr.ErrUsernameTaken
	}
	return nil
}

// resolveEmail validates the address shape, enforces case-insensitive
// uniqueness, and flags verification for non-anonymous accounts.
func (s *WriteService) resolveEmail(ctx context.Context, c *writeContext) error {
	raw, present := c.data["email"]
	if !present || object.IsDelete(raw) {
		return nil
	}
	email, _ := raw.(string)
	if !validEmail(email) {
		return apierr.New(apierr.CodeInvalidEmailAddress, "Email address format is invalid.")
	}

	filter := object.Filter{}.EqFold("email", email)
	if id := c.objectID(); id != "" {
		filter = filter.Ne("objectId", id)
	}
	matches, err := s.storage.Find(ctx, ClassUser, filter, masterReadLimit(1))
	if err != nil {
		return err
	}
	if len(matches) > 0 {
		return apierr.ErrEmailTaken
	}

	if !s.cfg.VerifyUserEmails {
		return nil
	}
	if ad, ok := authdata.From(c.data); ok && authdata.OnlyAnonymous(ad) {
		return nil
	}
	if err := s.mailer.SetEmailVerifyToken(c.data); err != nil {
		return err
	}
	c.enqueue(followupVerificationEmail)
	return nil
}

// fetchUser loads a user by id with master privileges.
func (s *WriteService) fetchUser(ctx context.Context, userID string) (object.Map, error) {
	if userID == "" {
		return nil, apierr.ErrObjectNotFound
	}
	users, err := s.storage.Find(ctx, ClassUser, object.ByID(userID), masterReadLimit(1))
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, apierr.ErrObjectNotFound
	}
	return users[0], nil
}

// validEmail checks the basic local@domain shape.
func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.Contains(email[at+1:], "@")
}

func masterRead() ports.ReadOptions { return ports.ReadOptions{} }

func masterReadLimit(n int) ports.ReadOptions {
	return ports.ReadOptions{Limit: n}
}
