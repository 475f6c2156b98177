package auth

import (
	"errors"
	"fmt"
)

// Human-readable rejection reasons returned to clients.
const (
	ReasonKeyFetch      = "Failed to fetch JWKS"
	ReasonExpired       = "Token has expired"
	ReasonDecode        = "Token decode error"
	ReasonInvalid       = "Invalid token"
	ReasonBearerMissing = "Bearer token not provided"
)

// AuthError is an authentication rejection. Callers map it to a 401 and show Reason.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches any AuthError carrying the same reason.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

var (
	// ErrKeyFetch marks failures to obtain the signing key set.
	ErrKeyFetch = errors.New("signing keys unavailable")

	ErrTokenExpired  = &AuthError{Reason: ReasonExpired}
	ErrTokenDecode   = &AuthError{Reason: ReasonDecode}
	ErrTokenInvalid  = &AuthError{Reason: ReasonInvalid}
	ErrBearerMissing = &AuthError{Reason: ReasonBearerMissing}
)

func rejected(reason string, err error) error {
	return &AuthError{Reason: reason, Err: err}
}

func keyFetchFailed(err error) error {
	return &AuthError{Reason: ReasonKeyFetch, Err: fmt.Errorf("%w: %v", ErrKeyFetch, err)}
}

// IsAuthFailure reports whether err should be surfaced as an authentication
// failure rather than a server error.
func IsAuthFailure(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// Reason extracts the client-facing reason, or "" when err is not an AuthError.
func Reason(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}
