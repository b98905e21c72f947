// Package password implements the account password policy: pattern and
// callback validators, username exclusion, and reuse-history enforcement.
// Hashing itself lives behind the Hasher port; this package only decides.
package password

import (
	"regexp"
	"strings"

	"github.com/mobibase/mobibase/domain/apierr"
)

// DefaultValidationMessage is used when a policy has no custom message.
const DefaultValidationMessage = "Password does not meet the Password Policy requirements."

// Policy configures password validation. The zero value disables every
// check.
type Policy struct {
	// Pattern must match the password when non-nil.
	Pattern *regexp.Regexp
	// Validator, when non-nil, must return true to accept the password.
	Validator func(password string) bool
	// ValidationMessage overrides the error message for pattern/validator
	// rejections.
	ValidationMessage string
	// ForbidUsername rejects passwords containing the account username.
	ForbidUsername bool
	// MaxHistory is the number of most recent passwords (including the
	// current one) that may not be reused. Zero disables history.
	MaxHistory int
}

// Enabled reports whether any check is configured.
func (p Policy) Enabled() bool {
	return p.Pattern != nil || p.Validator != nil || p.ForbidUsername || p.MaxHistory > 0
}

// message returns the configured rejection message.
func (p Policy) message() string {
	if p.ValidationMessage != "" {
		return p.ValidationMessage
	}
	return DefaultValidationMessage
}

// CheckStrength runs the pattern and callback validators.
func (p Policy) CheckStrength(password string) error {
	if p.Pattern != nil && !p.Pattern.MatchString(password) {
		return apierr.New(apierr.CodeValidationError, p.message())
	}
	if p.Validator != nil && !p.Validator(password) {
		return apierr.New(apierr.CodeValidationError, p.message())
	}
	return nil
}

// CheckUsername rejects passwords containing the username. An empty
// username never rejects.
func (p Policy) CheckUsername(password, username string) error {
	if !p.ForbidUsername || username == "" {
		return nil
	}
	if strings.Contains(password, username) {
		return apierr.New(apierr.CodeValidationError, p.message())
	}
	return nil
}

// CheckHistory rejects a password matching any of the given hashes. The
// caller supplies the current hash plus up to MaxHistory-1 archived ones;
// compare is the hash comparison from the Hasher port.
func (p Policy) CheckHistory(password string, hashes [][]byte, compare func(hash []byte, plaintext string) bool) error {
	if p.MaxHistory <= 0 {
		return nil
	}
	for _, h := range hashes {
		if compare(h, password) {
			return apierr.Newf(apierr.CodeValidationError,
				"New password should not be the same as last %d passwords.", p.MaxHistory)
		}
	}
	return nil
}

// TrimHistory keeps the most recent MaxHistory-1 archived hashes, oldest
// first, after hash has been appended. The current password hash is stored
// on the account itself and does not count against the archive.
func (p Policy) TrimHistory(history []string, hash string) []string {
	if p.MaxHistory <= 0 {
		return history
	}
	history = append(history, hash)
	if keep := p.MaxHistory - 1; len(history) > keep {
		history = history[len(history)-keep:]
	}
	return history
}
