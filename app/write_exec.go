package app

import (
	"context"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// runDatabaseOperation issues the final create or update and builds the
// HTTP-shaped response.
func (s *WriteService) runDatabaseOperation(ctx context.Context, c *writeContext) error {
	s.mirrorProductDownload(c)

	if c.className == ClassRole {
		s.cache.ClearRoles()
	}

	if c.isUpdate() {
		return s.executeUpdate(ctx, c)
	}
	return s.executeCreate(ctx, c)
}

func (s *WriteService) executeUpdate(ctx context.Context, c *writeContext) error {
	delete(c.data, "createdAt")

	if c.className == ClassUser && !c.auth.Master {
		if raw, present := c.data["ACL"]; present {
			acl, ok := object.ACLFrom(raw)
			if !ok {
				return apierr.New(apierr.CodeInvalidACL, "Invalid ACL.")
			}
			c.data["ACL"] = acl.WithOwner(c.objectID()).Raw()
		}
	}

	if c.className == ClassUser {
		mergeAuthData(c)
	}

	s.stampPasswordBookkeeping(ctx, c)

	_, err := s.storage.Update(ctx, c.className, *c.query, c.data,
		ports.WriteOptions{ACL: c.runACL})
	if err != nil {
		return err
	}

	body := object.Map{"updatedAt": object.FormatDate(c.updatedAt)}
	s.echoChangedFields(c, body)
	c.response = &Result{Body: body}
	return nil
}

func (s *WriteService) executeCreate(ctx context.Context, c *writeContext) error {
	objectID := object.String(c.data, "objectId")

	if c.className == ClassUser {
		acl, ok := object.ACLFrom(c.data["ACL"])
		if !ok {
			return apierr.New(apierr.CodeInvalidACL, "Invalid ACL.")
		}
		if acl == nil {
			acl = object.DefaultUserACL(objectID, s.cfg.PrivateUsers)
		} else {
			acl = acl.WithOwner(objectID)
		}
		c.data["ACL"] = acl.Raw()
	}

	s.stampPasswordBookkeeping(ctx, c)

	created, err := s.storage.Create(ctx, c.className, c.data,
		ports.WriteOptions{ACL: c.runACL})
	if err != nil {
		if c.className == ClassUser && apierr.Is(err, apierr.CodeDuplicateValue) {
			return s.classifyDuplicate(ctx, c, err)
		}
		return err
	}

	body := object.Map{
		"objectId":  object.String(created, "objectId"),
		"createdAt": object.String(created, "createdAt"),
	}
	if c.className == ClassUser {
		body["ACL"] = created["ACL"]
	}
	s.echoChangedFields(c, body)
	c.response = &Result{
		Status:   201,
		Location: s.location(c.className, object.String(created, "objectId")),
		Body:     body,
	}
	return nil
}

// stampPasswordBookkeeping records the password change timestamp and
// rotates the stored password history when a hashed password is being
// written.
func (s *WriteService) stampPasswordBookkeeping(ctx context.Context, c *writeContext) {
	if c.className != ClassUser || c.data["_hashed_password"] == nil {
		return
	}
	policy := s.cfg.PasswordPolicy
	if !policy.Enabled() {
		return
	}
	c.data["_password_changed_at"] = object.FormatDate(c.updatedAt)

	if policy.MaxHistory <= 0 || !c.isUpdate() {
		return
	}
	user, err := s.fetchUser(ctx, c.objectID())
	if err != nil {
		s.logger.Warn().Err(err).Msg("password history rotation lookup failed")
		return
	}
	var history []string
	if stored, ok := user["_password_history"].([]any); ok {
		for _, h := range stored {
			if hs, ok := h.(string); ok {
				history = append(history, hs)
			}
		}
	}
	if current := object.String(user, "_hashed_password"); current != "" {
		history = policy.TrimHistory(history, current)
	}
	out := make([]any, len(history))
	for i, h := range history {
		out[i] = h
	}
	c.data["_password_history"] = out
}

// classifyDuplicate re-resolves which unique field collided after a
// failed _User create. The re-query can race with concurrent writes; a
// zero-match result falls back to the generic duplicate error.
func (s *WriteService) classifyDuplicate(ctx context.Context, c *writeContext, original error) error {
	if username := object.String(c.data, "username"); username != "" {
		matches, err := s.storage.Find(ctx, ClassUser,
			object.Filter{}.EqFold("username", username), masterReadLimit(1))
		if err == nil && len(matches) > 0 {
			return apierr.ErrUsernameTaken
		}
	}
	if email := object.String(c.data, "email"); email != "" {
		matches, err := s.storage.Find(ctx, ClassUser,
			object.Filter{}.EqFold("email", email), masterReadLimit(1))
		if err == nil && len(matches) > 0 {
			return apierr.ErrEmailTaken
		}
	}
	return original
}

// echoChangedFields copies trigger- and default-substituted fields into
// the response body. Deletion markers are echoed verbatim only when the
// client negotiated support for them.
func (s *WriteService) echoChangedFields(c *writeContext, body object.Map) {
	for _, field := range c.changedFields {
		value, present := c.data[field]
		if !present {
			continue
		}
		if object.IsDelete(value) {
			if c.clientSupportsDelete {
				body[field] = map[string]any{"__op": "Delete"}
			} else {
				body[field] = nil
			}
			continue
		}
		body[field] = value
	}
	delete(body, "_hashed_password")
	delete(body, "password")
}
