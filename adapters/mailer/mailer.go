// Package mailer provides AccountMailer implementations. Actual delivery
// transports live outside this service; the Log implementation records
// what would be sent, and Recorder captures calls for tests.
package mailer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// Log writes verification traffic to the log instead of sending it.
type Log struct {
	logger zerolog.Logger
	random ports.Random
}

// NewLog creates a log-only mailer.
func NewLog(logger zerolog.Logger, random ports.Random) *Log {
	return &Log{logger: logger, random: random}
}

// SetEmailVerifyToken stamps verification bookkeeping onto the user data.
func (m *Log) SetEmailVerifyToken(data object.Map) error {
	token, err := m.random.String(32)
	if err != nil {
		return err
	}
	data["_email_verify_token"] = token
	data["emailVerified"] = false
	return nil
}

// SendVerificationEmail logs the verification email instead of sending.
func (m *Log) SendVerificationEmail(_ context.Context, user object.Map) error {
	m.logger.Info().
		Str("email", object.String(user, "email")).
		Str("username", object.String(user, "username")).
		Msg("verification email queued")
	return nil
}

// Ensure interface compliance.
var _ ports.AccountMailer = (*Log)(nil)

// Recorder captures mailer calls for tests.
type Recorder struct {
	mu   sync.Mutex
	Sent []object.Map
}

// SetEmailVerifyToken stamps a fixed token for deterministic assertions.
func (r *Recorder) SetEmailVerifyToken(data object.Map) error {
	data["_email_verify_token"] = "verify-token"
	data["emailVerified"] = false
	return nil
}

// SendVerificationEmail records the user the email was addressed to.
func (r *Recorder) SendVerificationEmail(_ context.Context, user object.Map) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, object.Clone(user))
	return nil
}

// SentCount returns how many emails were recorded.
func (r *Recorder) SentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Sent)
}

// Ensure interface compliance.
var _ ports.AccountMailer = (*Recorder)(nil)
