package realm

import (
	"errors"
	"fmt"
)

// Failure kinds. They are matched with errors.Is against an
// *AuthenticationError and are never part of its message.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrIncorrectCredentials = errors.New("incorrect credentials")
	ErrRoleResolution       = errors.New("unable to retrieve roles from LDAP realm")
)

// ErrUnsupportedToken is returned for any token other than a
// *UsernamePasswordToken.
var ErrUnsupportedToken = errors.New("ldap realm only supports UsernamePasswordToken")

// AuthenticationError is the single error type the realm returns once the
// directory has been consulted. Its message is generic so callers cannot
// tell an unknown user from a wrong password; Detail and the wrapped errors
// carry the specifics for logs.
type AuthenticationError struct {
	Kind  error
	Cause error
}

func (e *AuthenticationError) Error() string {
	if errors.Is(e.Kind, ErrRoleResolution) {
		return ErrRoleResolution.Error()
	}
	return ErrAuthenticationFailed.Error()
}

func (e *AuthenticationError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Detail returns the kind and cause for diagnostics.
func (e *AuthenticationError) Detail() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func newAuthenticationError(kind, cause error) *AuthenticationError {
	return &AuthenticationError{Kind: kind, Cause: cause}
}
