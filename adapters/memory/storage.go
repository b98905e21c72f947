// Package memory provides an in-memory Storage implementation with the
// same contract as the sqlite adapter. It backs pipeline tests and
// embedded deployments.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// Storage keeps objects per class, guarded by one lock. Filter semantics
// are object.Filter.Matches; permission semantics match adapters/sqlite.
type Storage struct {
	mu      sync.Mutex
	classes map[string][]object.Map
}

// NewStorage creates an empty in-memory store.
func NewStorage() *Storage {
	return &Storage{classes: make(map[string][]object.Map)}
}

// Find returns objects matching the filter that the caller may read.
func (s *Storage) Find(_ context.Context, className string, filter object.Filter, opts ports.ReadOptions) ([]object.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []object.Map
	for _, obj := range s.classes[className] {
		if !filter.Matches(obj) || !readable(obj, opts.ACL) {
			continue
		}
		out = append(out, object.Clone(obj))
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Create stores a new object, enforcing _User uniqueness.
func (s *Storage) Create(_ context.Context, className string, data object.Map, opts ports.WriteOptions) (object.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if className == "_User" {
		if err := s.checkUserUnique(data, ""); err != nil {
			return nil, err
		}
	}
	if opts.ValidateOnly {
		return nil, nil
	}
	stored := object.Clone(data)
	s.classes[className] = append(s.classes[className], stored)
	return object.Clone(stored), nil
}

// Update applies field updates to matching objects the caller may write.
func (s *Storage) Update(_ context.Context, className string, filter object.Filter, update object.Map, opts ports.WriteOptions) (object.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last object.Map
	matched := 0
	for i, obj := range s.classes[className] {
		if !filter.Matches(obj) || !writable(obj, opts.ACL) {
			continue
		}
		matched++
		if opts.ValidateOnly {
			if !opts.Many {
				break
			}
			continue
		}
		if className == "_User" {
			if err := s.checkUserUnique(update, object.String(obj, "objectId")); err != nil {
				return nil, err
			}
		}
		merged := object.Clone(obj)
		for k, v := range update {
			if object.IsDelete(v) {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		s.classes[className][i] = merged
		last = object.Clone(merged)
		if !opts.Many {
			break
		}
	}
	if matched == 0 {
		return nil, apierr.ErrObjectNotFound
	}
	return last, nil
}

// Destroy removes matching objects the caller may write.
func (s *Storage) Destroy(_ context.Context, className string, filter object.Filter, opts ports.WriteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.classes[className][:0]
	removed := 0
	for _, obj := range s.classes[className] {
		if filter.Matches(obj) && writable(obj, opts.ACL) && (opts.Many || removed == 0) {
			removed++
			continue
		}
		kept = append(kept, obj)
	}
	s.classes[className] = kept
	if removed == 0 {
		return apierr.ErrObjectNotFound
	}
	return nil
}

// Count reports how many objects a class holds (for tests).
func (s *Storage) Count(className string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.classes[className])
}

// checkUserUnique enforces the case-insensitive unique indexes on
// username and email, excluding the object identified by selfID.
func (s *Storage) checkUserUnique(data object.Map, selfID string) error {
	for _, field := range []string{"username", "email"} {
		v := object.String(data, field)
		if v == "" {
			continue
		}
		for _, existing := range s.classes["_User"] {
			if object.String(existing, "objectId") == selfID {
				continue
			}
			if strings.EqualFold(object.String(existing, field), v) {
				return apierr.Newf(apierr.CodeDuplicateValue,
					"A duplicate value for a field with unique values was provided")
			}
		}
	}
	return nil
}

func readable(obj object.Map, subjects []string) bool {
	return permitted(obj, subjects, false)
}

func writable(obj object.Map, subjects []string) bool {
	return permitted(obj, subjects, true)
}

// permitted evaluates the object ACL. Nil subjects means master; an
// object without an ACL is open.
func permitted(obj object.Map, subjects []string, write bool) bool {
	if subjects == nil {
		return true
	}
	acl, ok := object.ACLFrom(obj["ACL"])
	if !ok || acl == nil {
		return true
	}
	for _, subject := range subjects {
		access := acl[subject]
		if write && access.Write {
			return true
		}
		if !write && access.Read {
			return true
		}
	}
	return false
}

// Ensure interface compliance.
var _ ports.Storage = (*Storage)(nil)
