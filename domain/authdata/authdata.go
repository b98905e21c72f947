// Package authdata provides pure helpers over the per-user map of
// federated identity credentials: shape validation, change detection, and
// lookup filter construction. Provider-specific validation happens behind
// the auth registry port.
package authdata

import (
	"sort"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
)

// AnonymousProvider is the built-in provider for anonymous users.
const AnonymousProvider = "anonymous"

// From extracts the authData map from a payload. The second return is
// false when the field is absent or empty.
func From(data object.Map) (map[string]any, bool) {
	raw, ok := data["authData"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil, false
	}
	return raw, true
}

// Validate checks that every provider entry is either null (an unlink) or
// an object carrying an id.
func Validate(authData map[string]any) error {
	for provider, payload := range authData {
		if payload == nil {
			continue
		}
		entry, ok := payload.(map[string]any)
		if !ok || object.String(entry, "id") == "" {
			return apierr.Newf(apierr.CodeUnsupportedService,
				"This authentication method is unsupported: %s", provider)
		}
	}
	return nil
}

// Providers returns the provider names with non-null payloads, sorted for
// deterministic iteration.
func Providers(authData map[string]any) []string {
	names := make([]string, 0, len(authData))
	for provider, payload := range authData {
		if payload != nil {
			names = append(names, provider)
		}
	}
	sort.Strings(names)
	return names
}

// OnlyAnonymous reports whether the map links exactly the anonymous
// provider and nothing else.
func OnlyAnonymous(authData map[string]any) bool {
	if len(authData) != 1 {
		return false
	}
	payload, ok := authData[AnonymousProvider]
	return ok && payload != nil
}

// LookupFilter builds the disjunctive query matching any user holding one
// of the given (provider, id) credentials.
func LookupFilter(authData map[string]any) object.Filter {
	var branches []object.Filter
	for _, provider := range Providers(authData) {
		entry := authData[provider].(map[string]any)
		branches = append(branches,
			object.Filter{}.Eq("authData."+provider+".id", object.String(entry, "id")))
	}
	return object.AnyOf(branches...)
}

// Mutated returns the subset of providers whose incoming payload differs
// from what the user already stores.
func Mutated(incoming map[string]any, user object.Map) map[string]any {
	stored, _ := user["authData"].(map[string]any)
	out := make(map[string]any)
	for provider, payload := range incoming {
		if payload == nil {
			continue
		}
		if !object.Equal(stored[provider], payload) {
			out[provider] = payload
		}
	}
	return out
}
