package app

import (
	"context"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/domain/session"
	"github.com/mobibase/mobibase/ports"
)

// sessionReadOnlyFields may not change once a session exists.
var sessionReadOnlyFields = []string{"user", "installationId", "sessionToken"}

// handleSessionClass applies the _Session rules: no client ACLs, frozen
// identity fields on update, and the derived-session create path that
// overrides the default executor entirely.
func (s *WriteService) handleSessionClass(ctx context.Context, c *writeContext) error {
	if c.className != ClassSession {
		return nil
	}

	if c.auth.User == nil && !c.auth.Master {
		return apierr.New(apierr.CodeInvalidSessionToken, "Session token required.")
	}
	if _, present := c.data["ACL"]; present {
		return apierr.New(apierr.CodeInvalidACL, "Cannot set ACL on a Session.")
	}

	if c.isUpdate() {
		if !c.auth.Master {
			for _, field := range sessionReadOnlyFields {
				if _, present := c.data[field]; present {
					return apierr.Newf(apierr.CodeInvalidKeyName, "%s cannot be modified", field)
				}
			}
		}
		return nil
	}

	if c.auth.Master {
		return nil
	}

	// Create without master key: derive the session from the caller.
	extra := object.Map{}
	for k, v := range c.data {
		switch k {
		case "objectId", "user", "session", "sessionToken", "expiresAt", "createdWith":
		default:
			extra[k] = v
		}
	}
	stored, err := s.persistSession(ctx, c, session.CreatedWith{Action: "create"}, extra)
	if err != nil {
		return err
	}
	c.response = &Result{
		Status:   201,
		Location: s.location(ClassSession, object.String(stored, "objectId")),
		Body:     stored,
	}
	return nil
}

// destroyDuplicateSessions removes other sessions tied to the same user
// and installation before a new _Session record is created.
func (s *WriteService) destroyDuplicateSessions(ctx context.Context, c *writeContext) error {
	if c.className != ClassSession || c.isUpdate() {
		return nil
	}
	user, _ := c.data["user"].(map[string]any)
	installationID := object.String(c.data, "installationId")
	if user == nil || installationID == "" {
		return nil
	}
	filter := object.Filter{}.
		Eq("user.objectId", object.String(user, "objectId")).
		Eq("installationId", installationID)
	err := s.storage.Destroy(ctx, ClassSession, filter, ports.WriteOptions{Many: true})
	if err != nil && !apierr.Is(err, apierr.CodeObjectNotFound) {
		return err
	}
	return nil
}

// createSessionTokenIfNeeded issues a session token after a user write.
// Runs after the response is final and attaches the token to it.
func (s *WriteService) createSessionTokenIfNeeded(ctx context.Context, c *writeContext) error {
	if c.className != ClassUser || c.response == nil {
		return nil
	}
	// Updates only rotate tokens through the follow-up queue, unless the
	// write changed auth data.
	if c.isUpdate() && c.data["authData"] == nil {
		return nil
	}
	// A caller already linked via session token keeps their session.
	if c.auth.User != nil && c.data["authData"] != nil {
		return nil
	}
	if s.cfg.PreventLoginWithUnverifiedEmail && c.authProvider == "" {
		if verified, present := c.data["emailVerified"].(bool); present && !verified {
			return nil
		}
	}
	return s.createSessionToken(ctx, c)
}

// createSessionToken persists a new session for the written user and
// attaches its token to the response body.
func (s *WriteService) createSessionToken(ctx context.Context, c *writeContext) error {
	if c.auth.InstallationID == jobRunnerInstallationID {
		return nil
	}
	action := "signup"
	provider := "password"
	if c.authProvider != "" {
		action = "login"
		provider = c.authProvider
	}
	stored, err := s.persistSession(ctx, c, session.CreatedWith{Action: action, AuthProvider: provider}, nil)
	if err != nil {
		return err
	}
	if c.response.Body == nil {
		c.response.Body = object.Map{}
	}
	c.response.Body["sessionToken"] = object.String(stored, "sessionToken")
	if s.metrics != nil {
		s.metrics.ObserveSessionCreated(action)
	}
	return nil
}

// persistSession builds and stores a _Session object for the user being
// written (or the caller, for direct _Session creates).
func (s *WriteService) persistSession(ctx context.Context, c *writeContext, createdWith session.CreatedWith, extra object.Map) (object.Map, error) {
	userID := c.objectID()
	if c.className == ClassSession {
		userID = c.auth.UserID()
	}
	if userID == "" {
		return nil, apierr.New(apierr.CodeSessionMissing, "cannot create a session for an unknown user")
	}

	entropy, err := s.random.String(32)
	if err != nil {
		return nil, err
	}
	data := session.New{
		UserID:         userID,
		Token:          session.Token(entropy),
		CreatedWith:    createdWith,
		InstallationID: c.auth.InstallationID,
		ExpiresAt:      c.updatedAt.Add(s.cfg.SessionTTL),
		AdditionalData: extra,
	}.Object()

	now := object.FormatDate(c.updatedAt)
	data["objectId"] = s.idGen.New()
	data["createdAt"] = now
	data["updatedAt"] = now
	data["ACL"] = object.ACL{userID: object.Access{Read: true, Write: true}}.Raw()

	return s.storage.Create(ctx, ClassSession, data, ports.WriteOptions{})
}

// drainFollowups empties the post-write action queue in fixed order:
// clear sessions, rotate a new session token, send the verification
// email. Each handled flag is removed before the next runs.
func (s *WriteService) drainFollowups(ctx context.Context, c *writeContext) error {
	for len(c.pending) > 0 {
		progressed := false
		for _, action := range followupOrder {
			if !c.pending[action] {
				continue
			}
			delete(c.pending, action)
			progressed = true
			if err := s.runFollowup(ctx, c, action); err != nil {
				return err
			}
			break
		}
		if !progressed {
			break
		}
	}
	return nil
}

func (s *WriteService) runFollowup(ctx context.Context, c *writeContext, action followupAction) error {
	if s.metrics != nil {
		s.metrics.ObserveFollowup(string(action))
	}
	switch action {
	case followupClearSessions:
		if !s.cfg.RevokeSessionOnPasswordReset {
			return nil
		}
		filter := object.Filter{}.Eq("user.objectId", c.objectID())
		err := s.storage.Destroy(ctx, ClassSession, filter, ports.WriteOptions{Many: true})
		if err != nil && !apierr.Is(err, apierr.CodeObjectNotFound) {
			return err
		}
		if s.metrics != nil {
			s.metrics.ObserveSessionRevoked()
		}
		return nil

	case followupNewSession:
		if !s.cfg.RevokeSessionOnPasswordReset || c.response == nil {
			return nil
		}
		return s.createSessionToken(ctx, c)

	case followupVerificationEmail:
		// Fire and forget: delivery never delays or fails the write.
		user := object.Clone(c.data)
		go func() {
			if err := s.mailer.SendVerificationEmail(context.WithoutCancel(ctx), user); err != nil {
				s.logger.Error().Err(err).Msg("verification email failed")
			}
		}()
		return nil
	}
	return nil
}
