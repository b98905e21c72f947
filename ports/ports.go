// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/domain/schema"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Random abstracts randomness for testability.
type Random interface {
	// Bytes generates n random bytes.
	Bytes(n int) ([]byte, error)
	// String generates a random string of n characters.
	String(n int) (string, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides password hashing.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Storage Port
// -----------------------------------------------------------------------------

// ReadOptions scopes a read to what the caller may see.
type ReadOptions struct {
	// ACL lists the subjects the caller may act as ("*", user id,
	// "role:<name>"). Nil means a master-key caller with no restriction.
	ACL []string

	// Limit caps the number of returned objects. Zero means no cap.
	Limit int
}

// WriteOptions scopes a write.
type WriteOptions struct {
	// ACL as in ReadOptions. Nil means master.
	ACL []string

	// ValidateOnly performs the permission evaluation of the write without
	// persisting anything. Used by the trigger pre-check.
	ValidateOnly bool

	// Many applies an update/destroy to every matching object instead of
	// exactly one.
	Many bool
}

// Storage executes object operations against the concrete store. The
// physical engine is out of scope here; adapters/sqlite and
// adapters/memory implement this contract.
//
// Create and Update return the object as persisted. Update and Destroy
// return an apierr object-not-found error when nothing matched the filter
// (or, with ValidateOnly, when the write would affect zero objects).
// Create returns an apierr duplicate-value error on a unique index
// violation.
type Storage interface {
	Find(ctx context.Context, className string, filter object.Filter, opts ReadOptions) ([]object.Map, error)

	Create(ctx context.Context, className string, data object.Map, opts WriteOptions) (object.Map, error)

	Update(ctx context.Context, className string, filter object.Filter, update object.Map, opts WriteOptions) (object.Map, error)

	Destroy(ctx context.Context, className string, filter object.Filter, opts WriteOptions) error
}

// SchemaController owns class definitions. Load returns an immutable
// snapshot reused for the whole request.
type SchemaController interface {
	// Load returns the current schema snapshot.
	Load(ctx context.Context) (*schema.Snapshot, error)

	// ValidateObject validates a payload against the class schema,
	// returning an apierr validation error on mismatch.
	ValidateObject(ctx context.Context, className string, data object.Map) error
}

// -----------------------------------------------------------------------------
// Role & Cache Ports
// -----------------------------------------------------------------------------

// RoleResolver computes the role names held by a user, directly or through
// nested role membership.
type RoleResolver interface {
	RolesFor(ctx context.Context, userID string) ([]string, error)
}

// CacheController memoizes session-token and role lookups and evicts
// derived state. All operations are best-effort: a miss falls through to
// storage and eviction failures are not surfaced.
type CacheController interface {
	// GetUser returns the cached user for a session token.
	GetUser(token string) (object.Map, bool)

	// PutUser caches the user resolved from a session token.
	PutUser(token string, user object.Map)

	// DropUserToken evicts one cached session token.
	DropUserToken(token string)

	// GetRoles returns the cached role names for a user.
	GetRoles(userID string) ([]string, bool)

	// PutRoles caches the role names for a user.
	PutRoles(userID string, names []string)

	// ClearRoles invalidates the role cache after a _Role write.
	ClearRoles()
}

// WriteObserver records pipeline activity for monitoring. Implementations
// must be safe for concurrent use; callers treat a nil observer as
// recording disabled.
type WriteObserver interface {
	// ObserveWrite records the outcome and duration of one pipeline run.
	ObserveWrite(class, op, outcome string, seconds float64)

	// ObserveTriggerRun counts one hook invocation.
	ObserveTriggerRun(class, kind string)

	// ObserveTriggerFailure counts one failed hook invocation.
	ObserveTriggerFailure(class, kind string)

	// ObserveFollowup counts one drained post-write action.
	ObserveFollowup(action string)

	// ObserveSessionCreated counts one issued session token.
	ObserveSessionCreated(action string)

	// ObserveSessionRevoked counts one session sweep on credential change.
	ObserveSessionRevoked()
}

// -----------------------------------------------------------------------------
// Trigger Ports
// -----------------------------------------------------------------------------

// TriggerKind identifies a hook point in the pipeline.
type TriggerKind string

const (
	TriggerBeforeSave  TriggerKind = "beforeSave"
	TriggerAfterSave   TriggerKind = "afterSave"
	TriggerBeforeLogin TriggerKind = "beforeLogin"
)

// TriggerInput is the view handed to a hook.
type TriggerInput struct {
	ClassName string
	Master    bool
	UserID    string
	Object    object.Map // the object as it would be written
	Original  object.Map // pre-write object, updates only
}

// TriggerRunner invokes user-registered hooks. Run returns the
// replacement object when the hook mutated it, or nil.
type TriggerRunner interface {
	Has(className string, kind TriggerKind) bool
	Run(ctx context.Context, kind TriggerKind, in TriggerInput) (object.Map, error)
}

// LiveQuery notifies subscribers after a successful write.
type LiveQuery interface {
	HasSubscribers(className string) bool
	OnAfterSave(className string, newObject, original object.Map)
}

// -----------------------------------------------------------------------------
// Side-Effect Ports
// -----------------------------------------------------------------------------

// FilesController rewrites file-reference fields in place.
type FilesController interface {
	ExpandFiles(ctx context.Context, obj object.Map) error
}

// AccountMailer handles email verification. Delivery is fire-and-forget;
// errors are logged by the caller, never surfaced.
type AccountMailer interface {
	// SetEmailVerifyToken stamps verification bookkeeping fields onto the
	// user data before it is persisted.
	SetEmailVerifyToken(data object.Map) error

	// SendVerificationEmail delivers the verification email.
	SendVerificationEmail(ctx context.Context, user object.Map) error
}

// -----------------------------------------------------------------------------
// Federated Auth Ports
// -----------------------------------------------------------------------------

// AuthValidator validates one provider's credential payload.
type AuthValidator interface {
	Validate(ctx context.Context, payload map[string]any) error
}

// AuthValidatorFunc adapts a function to AuthValidator.
type AuthValidatorFunc func(ctx context.Context, payload map[string]any) error

// Validate implements AuthValidator.
func (f AuthValidatorFunc) Validate(ctx context.Context, payload map[string]any) error {
	return f(ctx, payload)
}

// AuthRegistry resolves the validator for a provider.
type AuthRegistry interface {
	Validator(provider string) (AuthValidator, bool)
}
