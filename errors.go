package passwordless

import (
	stderrors "errors"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeUsernameRequired   = "passwordless_username_required"
	TextCodeAlreadyRegistered  = "passwordless_already_registered"
	TextCodeChallengeNotFound  = "passwordless_challenge_not_found"
	TextCodeCredentialNotFound = "passwordless_credential_not_found"
	TextCodeInvalidSession     = "passwordless_invalid_session"
	TextCodeVerificationFailed = "passwordless_verification_failed"
	TextCodeSigningFailed      = "passwordless_signing_failed"
)

// ErrKeyNotFound is returned by KeyValueStore implementations for a missing
// or expired key.
var ErrKeyNotFound = stderrors.New("key value store: key not found")

// ErrUsernameRequired is returned when a flow is started without a username.
var ErrUsernameRequired = errors.New("username is required", errors.CategoryBadInput).
	WithTextCode(TextCodeUsernameRequired).
	WithCode(errors.CodeBadRequest)

// ErrAlreadyRegistered is returned when a registration challenge is requested
// for a username that already owns a credential record.
var ErrAlreadyRegistered = errors.New("username already exists, use authentication", errors.CategoryValidation).
	WithTextCode(TextCodeAlreadyRegistered).
	WithCode(errors.CodeBadRequest)

// ErrChallengeNotFound is returned when no unexpired challenge exists for the
// username a ceremony claims.
var ErrChallengeNotFound = errors.New("challenge not found", errors.CategoryNotFound).
	WithTextCode(TextCodeChallengeNotFound).
	WithCode(errors.CodeNotFound)

// ErrCredentialNotFound is returned when a flow needs a stored credential
// record and none exists. Login fails closed on it.
var ErrCredentialNotFound = errors.New("credential record not found", errors.CategoryNotFound).
	WithTextCode(TextCodeCredentialNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidSession covers every way a session token fails validation:
// missing, tampered, wrong key, malformed, or expired.
var ErrInvalidSession = errors.New("invalid session token", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidSession).
	WithCode(errors.CodeUnauthorized)

// ErrVerificationFailed is returned when the ceremony verifier rejects a
// registration or authentication response.
var ErrVerificationFailed = errors.New("ceremony verification failed", errors.CategoryAuth).
	WithTextCode(TextCodeVerificationFailed).
	WithCode(errors.CodeForbidden)

// ErrSigningFailed is returned when session token issuance fails after an
// otherwise successful ceremony.
var ErrSigningFailed = errors.New("session token signing failed", errors.CategoryInternal).
	WithTextCode(TextCodeSigningFailed).
	WithCode(errors.CodeInternal)

// IsNotFound reports whether err is one of the not-found conditions
// (challenge, credential record, or raw store key).
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrChallengeNotFound) ||
		stderrors.Is(err, ErrCredentialNotFound) ||
		stderrors.Is(err, ErrKeyNotFound)
}
