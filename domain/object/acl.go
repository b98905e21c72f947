package object

// Access is one ACL entry: what a single subject may do.
type Access struct {
	Read  bool `json:"read,omitempty"`
	Write bool `json:"write,omitempty"`
}

// ACL maps a subject ("*", a user id, or "role:<name>") to its access.
type ACL map[string]Access

// PublicSubject grants to every caller, authenticated or not.
const PublicSubject = "*"

// ACLFrom decodes an ACL from a raw payload value. The second return is
// false when v is present but not ACL-shaped.
func ACLFrom(v any) (ACL, bool) {
	switch acl := v.(type) {
	case nil:
		return nil, true
	case ACL:
		return acl.Clone(), true
	case map[string]any:
		out := make(ACL, len(acl))
		for subject, raw := range acl {
			entry, ok := raw.(map[string]any)
			if !ok {
				return nil, false
			}
			read, _ := entry["read"].(bool)
			write, _ := entry["write"].(bool)
			out[subject] = Access{Read: read, Write: write}
		}
		return out, true
	}
	return nil, false
}

// Clone returns an independent copy of the ACL.
func (a ACL) Clone() ACL {
	out := make(ACL, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Grant sets the access for a subject, creating the map if needed.
func (a ACL) Grant(subject string, read, write bool) ACL {
	if a == nil {
		a = make(ACL, 1)
	}
	a[subject] = Access{Read: read, Write: write}
	return a
}

// DefaultUserACL builds the ACL assigned to a freshly created user:
// owner read+write, and public read unless privateUsers is set.
func DefaultUserACL(userID string, privateUsers bool) ACL {
	acl := ACL{userID: Access{Read: true, Write: true}}
	if !privateUsers {
		acl[PublicSubject] = Access{Read: true}
	}
	return acl
}

// WithOwner returns the ACL with the owning user re-granted read+write.
// Payload-supplied ACLs may not lock a user out of their own record.
func (a ACL) WithOwner(userID string) ACL {
	out := a.Clone()
	if out == nil {
		out = make(ACL, 1)
	}
	out[userID] = Access{Read: true, Write: true}
	return out
}

// Raw converts the ACL back to its JSON map shape for persistence.
func (a ACL) Raw() map[string]any {
	out := make(map[string]any, len(a))
	for subject, access := range a {
		entry := map[string]any{}
		if access.Read {
			entry["read"] = true
		}
		if access.Write {
			entry["write"] = true
		}
		out[subject] = entry
	}
	return out
}

// LockedOut reports whether the ACL denies the given subjects any write
// access at all. A nil ACL denies nothing.
func (a ACL) LockedOut(subjects []string) bool {
	if a == nil {
		return false
	}
	for _, s := range subjects {
		if a[s].Write {
			return false
		}
	}
	return true
}
