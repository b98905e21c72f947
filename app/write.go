// Package app provides application services that orchestrate domain logic.
// WriteService is the object-write pipeline: it turns one create-or-update
// request into the ordered sequence of permission checks, schema
// enforcement, special-class handling, trigger invocations, and the final
// storage operation.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/domain/password"
	"github.com/mobibase/mobibase/domain/schema"
	"github.com/mobibase/mobibase/ports"
)

// Built-in class names with special handling.
const (
	ClassUser         = "_User"
	ClassSession      = "_Session"
	ClassInstallation = "_Installation"
	ClassRole         = "_Role"
	ClassProduct      = "_Product"
)

// jobRunnerInstallationID marks internal job-runner callers that never
// receive session tokens.
const jobRunnerInstallationID = "cloud"

// Auth is the resolved caller identity.
type Auth struct {
	// Master bypasses ACLs and most special-class restrictions.
	Master bool

	// User is the authenticated user object, nil for anonymous callers.
	User object.Map

	// InstallationID ties the caller to a device installation.
	InstallationID string
}

// UserID returns the authenticated user's object id, or "".
func (a Auth) UserID() string {
	if a.User == nil {
		return ""
	}
	return object.String(a.User, "objectId")
}

// WriteRequest is one unit of work for the pipeline.
type WriteRequest struct {
	ClassName string

	// Query identifies the target object on update; nil means create.
	Query *object.Filter

	// Data is the mutable payload being written. Values may carry
	// field-operation markers (object.DeleteOp).
	Data object.Map

	// OriginalData is the immutable pre-write object, updates only.
	OriginalData object.Map

	Auth Auth

	// ClientSupportsDelete controls whether field-deletion markers are
	// echoed back verbatim or flattened to null.
	ClientSupportsDelete bool
}

// Result is the HTTP-shaped outcome. A zero Status means 200.
type Result struct {
	Status   int
	Location string
	Body     object.Map
}

// WriteConfig carries the account and schema policies the pipeline
// enforces.
type WriteConfig struct {
	// ServerURL prefixes Location headers.
	ServerURL string

	// AllowClientClassCreation permits non-master writes to classes that
	// do not exist yet.
	AllowClientClassCreation bool

	// PrivateUsers drops the public-read grant from default user ACLs.
	PrivateUsers bool

	// VerifyUserEmails stamps verification tokens and queues emails on
	// email changes.
	VerifyUserEmails bool

	// PreventLoginWithUnverifiedEmail withholds session tokens from
	// signups whose email is unverified.
	PreventLoginWithUnverifiedEmail bool

	// RevokeSessionOnPasswordReset destroys a user's sessions when their
	// password changes.
	RevokeSessionOnPasswordReset bool

	// SessionTTL is the lifetime of issued session tokens.
	SessionTTL time.Duration

	// PasswordPolicy configures password validation; the zero value
	// disables it.
	PasswordPolicy password.Policy
}

// WriteDeps contains dependencies for WriteService.
type WriteDeps struct {
	Storage  ports.Storage
	Schema   ports.SchemaController
	Roles    ports.RoleResolver
	Cache    ports.CacheController
	Triggers ports.TriggerRunner
	Live     ports.LiveQuery
	Files    ports.FilesController
	Mailer   ports.AccountMailer
	Auth     ports.AuthRegistry
	Hasher   ports.Hasher
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Random   ports.Random
	Metrics  ports.WriteObserver
	Logger   zerolog.Logger
}

// WriteService executes write requests.
type WriteService struct {
	storage  ports.Storage
	schema   ports.SchemaController
	roles    ports.RoleResolver
	cache    ports.CacheController
	triggers ports.TriggerRunner
	live     ports.LiveQuery
	files    ports.FilesController
	mailer   ports.AccountMailer
	auth     ports.AuthRegistry
	hasher   ports.Hasher
	clock    ports.Clock
	idGen    ports.IDGenerator
	random   ports.Random
	metrics  ports.WriteObserver
	logger   zerolog.Logger
	cfg      WriteConfig
}

// NewWriteService creates the pipeline service.
func NewWriteService(deps WriteDeps, cfg WriteConfig) *WriteService {
	return &WriteService{
		storage:  deps.Storage,
		schema:   deps.Schema,
		roles:    deps.Roles,
		cache:    deps.Cache,
		triggers: deps.Triggers,
		live:     deps.Live,
		files:    deps.Files,
		mailer:   deps.Mailer,
		auth:     deps.Auth,
		hasher:   deps.Hasher,
		clock:    deps.Clock,
		idGen:    deps.IDGen,
		random:   deps.Random,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		cfg:      cfg,
	}
}

// followupAction is one pending post-write side effect.
type followupAction string

const (
	followupClearSessions     followupAction = "clearSessions"
	followupNewSession        followupAction = "newSession"
	followupVerificationEmail followupAction = "verificationEmail"
)

// followupOrder is the fixed drain order of the post-write queue.
var followupOrder = []followupAction{
	followupClearSessions,
	followupNewSession,
	followupVerificationEmail,
}

// writeContext is the shared scratch state threaded through the stages.
// It lives for exactly one request.
type writeContext struct {
	className    string
	query        *object.Filter
	data         object.Map
	originalData object.Map
	auth         Auth

	clientSupportsDelete bool

	// runACL is the subject list the write may claim; nil means master.
	runACL []string

	// schema is loaded once and reused for the whole request.
	schema *schema.Snapshot

	// updatedAt is the single timestamp shared by every side effect.
	updatedAt time.Time

	// response, once set, short-circuits the remaining pre-write stages.
	response *Result

	// pending is the queue of post-write actions, drained in
	// followupOrder.
	pending map[followupAction]bool

	// authProvider names the federated providers used to log in, "" for
	// password flows.
	authProvider string

	// changedFields are trigger- or default-substituted fields echoed
	// back in the response.
	changedFields []string

	// preHookData snapshots the payload before beforeSave for diffing.
	preHookData object.Map
}

// objectID returns the id of the object being written, from the query
// (update) or the payload (create, once assigned).
func (c *writeContext) objectID() string {
	if c.query != nil {
		if id, ok := c.query.ID(); ok {
			return id
		}
	}
	return object.String(c.data, "objectId")
}

func (c *writeContext) isUpdate() bool {
	return c.query != nil
}

func (c *writeContext) enqueue(a followupAction) {
	c.pending[a] = true
}

func (c *writeContext) markChanged(field string) {
	for _, f := range c.changedFields {
		if f == field {
			return
		}
	}
	c.changedFields = append(c.changedFields, field)
}

// stage is one step of the pipeline. Stages with always=true still run
// after a terminal response is set; they carry their own guards.
type stage struct {
	name   string
	always bool
	fn     func(ctx context.Context, c *writeContext) error
}

func (s *WriteService) stages() []stage {
	return []stage{
		{"resolveAccess", false, s.resolveAccess},
		{"schemaGate", false, s.schemaGate},
		{"handleInstallation", false, s.handleInstallation},
		{"handleSessionClass", false, s.handleSessionClass},
		{"validateAuthData", false, s.validateAuthData},
		{"runBeforeSave", false, s.runBeforeSave},
		{"validateSchema", false, s.validateSchema},
		{"setRequiredFields", false, s.setRequiredFields},
		{"transformUser", false, s.transformUser},
		{"expandFiles", true, s.expandFiles},
		{"destroyDuplicateSessions", false, s.destroyDuplicateSessions},
		{"runDatabaseOperation", false, s.runDatabaseOperation},
		{"createSessionToken", true, s.createSessionTokenIfNeeded},
		{"drainFollowups", true, s.drainFollowups},
		{"runAfterSave", true, s.runAfterSave},
	}
}

// Write executes the pipeline for one request.
func (s *WriteService) Write(ctx context.Context, req WriteRequest) (Result, error) {
	start := s.clock.Now()
	c := &writeContext{
		className:            req.ClassName,
		query:                req.Query,
		data:                 object.Clone(req.Data),
		originalData:         req.OriginalData,
		auth:                 req.Auth,
		clientSupportsDelete: req.ClientSupportsDelete,
		updatedAt:            start.UTC(),
		pending:              make(map[followupAction]bool),
	}

	op := "create"
	if c.isUpdate() {
		op = "update"
	}

	for _, st := range s.stages() {
		if c.response != nil && !st.always {
			continue
		}
		if err := st.fn(ctx, c); err != nil {
			s.logger.Debug().
				Str("class", c.className).
				Str("stage", st.name).
				Err(err).
				Msg("write aborted")
			s.observe(c.className, op, "error", start)
			return Result{}, err
		}
	}

	if c.response == nil {
		s.observe(c.className, op, "error", start)
		return Result{}, apierr.New(apierr.CodeInternalServerError, "write produced no response")
	}
	s.observe(c.className, op, "ok", start)
	return *c.response, nil
}

func (s *WriteService) observe(class, op, outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveWrite(class, op, outcome, s.clock.Now().Sub(start).Seconds())
}

// location builds the Location header value for an object.
func (s *WriteService) location(className, objectID string) string {
	base := s.cfg.ServerURL
	if className == ClassUser {
		return base + "/users/" + objectID
	}
	return base + "/classes/" + className + "/" + objectID
}

// resolveAccess computes the ACL subjects the write may claim. Master-key
// callers bypass this entirely.
func (s *WriteService) resolveAccess(ctx context.Context, c *writeContext) error {
	if c.auth.Master {
		c.runACL = nil
		return nil
	}
	acl := []string{object.PublicSubject}
	if userID := c.auth.UserID(); userID != "" {
		acl = append(acl, userID)
		roles, err := s.roles.RolesFor(ctx, userID)
		if err != nil {
			return err
		}
		for _, role := range roles {
			acl = append(acl, "role:"+role)
		}
	}
	c.runACL = acl
	return nil
}

// schemaGate loads the schema snapshot and enforces the client class
// creation policy.
func (s *WriteService) schemaGate(ctx context.Context, c *writeContext) error {
	snapshot, err := s.schema.Load(ctx)
	if err != nil {
		return err
	}
	c.schema = snapshot

	if s.cfg.AllowClientClassCreation || c.auth.Master || snapshot.HasClass(c.className) {
		return nil
	}
	return apierr.Newf(apierr.CodeOperationForbidden,
		"This user is not allowed to access non-existent class: %s", c.className)
}

// validateSchema delegates payload validation to the schema controller.
func (s *WriteService) validateSchema(ctx context.Context, c *writeContext) error {
	return s.schema.ValidateObject(ctx, c.className, c.data)
}

// setRequiredFields assigns createdAt/updatedAt/objectId on create,
// substitutes schema defaults, and enforces required fields. Substitution
// is idempotent: a second run on complete data changes nothing.
func (s *WriteService) setRequiredFields(_ context.Context, c *writeContext) error {
	now := object.FormatDate(c.updatedAt)
	c.data["updatedAt"] = now

	cl, hasClass := c.schema.Class(c.className)

	if !c.isUpdate() {
		c.data["createdAt"] = now
		if object.String(c.data, "objectId") == "" {
			c.data["objectId"] = s.idGen.New()
		}
		if hasClass {
			for _, field := range schema.ApplyDefaults(cl, c.data) {
				c.markChanged(field)
			}
		}
	}
	if hasClass {
		return schema.CheckRequired(cl, c.data, c.isUpdate())
	}
	return nil
}

// expandFiles rewrites file references in place. Runs even when a
// terminal response is already set.
func (s *WriteService) expandFiles(ctx context.Context, c *writeContext) error {
	if c.response != nil && c.response.Body != nil {
		return s.files.ExpandFiles(ctx, c.response.Body)
	}
	return s.files.ExpandFiles(ctx, c.data)
}
