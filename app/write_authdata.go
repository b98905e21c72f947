package app

import (
	"context"
	"strings"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/authdata"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// validateAuthData is the federated auth-data linker. It enforces the
// signup credential requirements, resolves incoming (provider, id) pairs
// to at most one existing user, short-circuits bare logins, and validates
// credentials through the registered provider validators.
func (s *WriteService) validateAuthData(ctx context.Context, c *writeContext) error {
	if c.className != ClassUser {
		return nil
	}

	ad, hasAuthData := authdata.From(c.data)
	if !hasAuthData {
		if !c.isUpdate() {
			if object.String(c.data, "username") == "" {
				return apierr.New(apierr.CodeUsernameMissing, "bad or missing username")
			}
			if _, ok := c.data["password"].(string); !ok {
				return apierr.New(apierr.CodePasswordMissing, "password is required")
			}
		}
		return nil
	}

	if err := authdata.Validate(ad); err != nil {
		return err
	}
	return s.handleAuthData(ctx, c, ad)
}

func (s *WriteService) handleAuthData(ctx context.Context, c *writeContext, ad map[string]any) error {
	matches, err := s.findUsersWithAuthData(ctx, c, ad)
	if err != nil {
		return err
	}
	if len(matches) > 1 {
		return apierr.ErrAccountLinked
	}
	if len(matches) == 0 {
		// Fresh link or signup: every provider must pass its validator.
		return s.runAuthValidators(ctx, ad)
	}

	matched := matches[0]
	matchedID := object.String(matched, "objectId")
	callerID := c.auth.UserID()
	if callerID == "" {
		callerID = c.objectID()
	}

	mutated := authdata.Mutated(ad, matched)

	if callerID != "" && callerID != matchedID {
		// A different, already-identified user holds these credentials.
		if len(mutated) > 0 {
			return apierr.ErrAccountLinked
		}
		return nil
	}

	// Login: the caller is (or becomes) the matched user.
	c.authProvider = strings.Join(authdata.Providers(ad), ",")

	if !c.isUpdate() {
		// Bare login: build the terminal response now. Underscore fields
		// are server-side bookkeeping and never leave the store.
		body := object.Clone(matched)
		delete(body, "password")
		for field := range body {
			if strings.HasPrefix(field, "_") {
				delete(body, field)
			}
		}
		c.data["objectId"] = matchedID
		c.response = &Result{
			Status:   200,
			Location: s.location(ClassUser, matchedID),
			Body:     body,
		}
		if err := s.runBeforeLogin(ctx, c, matched); err != nil {
			return err
		}
	}

	if len(mutated) == 0 {
		return nil
	}

	// Credentials refreshed on login: re-validate the mutated subset and
	// persist it directly, bypassing the rest of the pipeline.
	if err := s.runAuthValidators(ctx, mutated); err != nil {
		return err
	}
	if c.response != nil {
		stored, _ := matched["authData"].(map[string]any)
		merged := make(map[string]any, len(stored)+len(mutated))
		for k, v := range stored {
			merged[k] = v
		}
		for k, v := range mutated {
			merged[k] = v
		}
		_, err := s.storage.Update(ctx, ClassUser, object.ByID(matchedID),
			object.Map{"authData": merged, "updatedAt": object.FormatDate(c.updatedAt)},
			ports.WriteOptions{})
		if err != nil {
			return err
		}
		c.response.Body["authData"] = merged
	}
	return nil
}

// mergeAuthData folds an incoming authData patch into the stored map so
// the whole-value write never drops untouched providers. A null entry
// unlinks its provider; everything else overwrites or inserts.
func mergeAuthData(c *writeContext) {
	incoming, ok := c.data["authData"].(map[string]any)
	if !ok {
		return
	}
	stored, _ := c.originalData["authData"].(map[string]any)
	merged := make(map[string]any, len(stored)+len(incoming))
	for provider, payload := range stored {
		merged[provider] = payload
	}
	for provider, payload := range incoming {
		if payload == nil {
			delete(merged, provider)
			continue
		}
		merged[provider] = payload
	}
	c.data["authData"] = merged
}

// findUsersWithAuthData runs the disjunctive credential lookup and drops
// ACL-locked-out legacy accounts for non-master callers.
func (s *WriteService) findUsersWithAuthData(ctx context.Context, c *writeContext, ad map[string]any) ([]object.Map, error) {
	filter := authdata.LookupFilter(ad)
	if filter.IsEmpty() {
		return nil, nil
	}
	users, err := s.storage.Find(ctx, ClassUser, filter, masterRead())
	if err != nil {
		return nil, err
	}
	if c.auth.Master {
		return users, nil
	}
	visible := users[:0]
	for _, user := range users {
		if acl, ok := object.ACLFrom(user["ACL"]); ok && acl != nil && len(acl) == 0 {
			continue
		}
		visible = append(visible, user)
	}
	return visible, nil
}

// runAuthValidators validates each provider payload through its
// registered validator. The anonymous provider needs no validator; the
// shape check already guarantees an id.
func (s *WriteService) runAuthValidators(ctx context.Context, ad map[string]any) error {
	for _, provider := range authdata.Providers(ad) {
		validator, ok := s.auth.Validator(provider)
		if !ok {
			if provider == authdata.AnonymousProvider {
				continue
			}
			return apierr.Newf(apierr.CodeUnsupportedService,
				"This authentication method is unsupported: %s", provider)
		}
		payload := ad[provider].(map[string]any)
		if err := validator.Validate(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

// runBeforeLogin invokes the beforeLogin hook for a bare login. The hook
// cannot mutate the stored user; it only vetoes the login by erroring.
func (s *WriteService) runBeforeLogin(ctx context.Context, c *writeContext, user object.Map) error {
	if !s.triggers.Has(ClassUser, ports.TriggerBeforeLogin) {
		return nil
	}
	if s.metrics != nil {
		s.metrics.ObserveTriggerRun(ClassUser, string(ports.TriggerBeforeLogin))
	}
	_, err := s.triggers.Run(ctx, ports.TriggerBeforeLogin, ports.TriggerInput{
		ClassName: ClassUser,
		Master:    c.auth.Master,
		UserID:    c.auth.UserID(),
		Object:    object.Clone(user),
	})
	if err != nil && s.metrics != nil {
		s.metrics.ObserveTriggerFailure(ClassUser, string(ports.TriggerBeforeLogin))
	}
	return err
}
