package ldap

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCode classifies directory failures for callers. Codes are usable as
// errors.Is targets against any *LDAPError.
type ErrorCode string

const (
	ErrConnect            ErrorCode = "CONNECT_ERROR"
	ErrInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrDirectory          ErrorCode = "LDAP_ERROR"
	ErrUnknownBindDN      ErrorCode = "UNKNOWN_BIND_DN"
	ErrUnknownUser        ErrorCode = "UNKNOWN_USER"
)

func (c ErrorCode) Error() string {
	return strings.ToLower(strings.ReplaceAll(string(c), "_", " "))
}

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// errPoolClosed is returned when an operation is attempted on a closed pool.
var errPoolClosed = errors.New("connection pool is closed")

// LDAPError provides error information for directory operations.
type LDAPError struct {
	Code      ErrorCode      // Domain classification
	Operation string         // The operation that failed
	Category  ErrorCategory  // Error category
	LDAPCode  uint16         // LDAP result code
	Message   string         // Human-readable message
	ServerMsg string         // Server-provided message
	DN        string         // DN involved in the operation (if applicable)
	Fields    map[string]any // Diagnostic context
	Cause     error          // Underlying error
}

func (e *LDAPError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Code != "" {
		parts = append(parts, e.Code.Error())
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Fields[k]))
	}

	return strings.Join(parts, " - ")
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// Is matches an ErrorCode target against the error's code.
func (e *LDAPError) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.Code
}

// With attaches a diagnostic field and returns e.
func (e *LDAPError) With(key string, value any) *LDAPError {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// NewLDAPError wraps err as an LDAPError with the given code. A nil err
// produces an error carrying only the code.
func NewLDAPError(code ErrorCode, operation string, err error) *LDAPError {
	ldapErr := &LDAPError{
		Code:      code,
		Operation: operation,
		Category:  ErrorCategoryUnknown,
		Cause:     err,
	}

	var resultErr *ldap.Error
	switch {
	case errors.As(err, &resultErr):
		ldapErr.LDAPCode = resultErr.ResultCode
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
		ldapErr.DN = resultErr.MatchedDN
		ldapErr.Category = categorizeError(resultErr.ResultCode)
		ldapErr.Message = getLDAPCodeMessage(resultErr.ResultCode)
	case err != nil:
		ldapErr.Message = err.Error()
	}

	return ldapErr
}

// ResultCode extracts the LDAP result code from err, or 0.
func ResultCode(err error) uint16 {
	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) && ldapErr.LDAPCode != 0 {
		return ldapErr.LDAPCode
	}
	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return resultErr.ResultCode
	}
	return 0
}

// errorCodeForConnect maps a pool construction failure to its code.
func errorCodeForConnect(err error) ErrorCode {
	switch ResultCode(err) {
	case ldap.LDAPResultNoSuchObject:
		return ErrUnknownBindDN
	case ldap.LDAPResultInvalidCredentials:
		return ErrInvalidCredentials
	case ldap.LDAPResultConnectError, ldap.ErrorNetwork:
		return ErrConnect
	default:
		return ErrDirectory
	}
}

// errorCodeForBind maps an end-user bind failure to its code.
func errorCodeForBind(err error) ErrorCode {
	switch ResultCode(err) {
	case ldap.LDAPResultInvalidCredentials, ldap.ErrorEmptyPassword:
		return ErrInvalidCredentials
	default:
		return ErrDirectory
	}
}

// isNetworkError reports whether err means the connection itself is unusable.
func isNetworkError(err error) bool {
	switch ResultCode(err) {
	case ldap.ErrorNetwork, ldap.LDAPResultServerDown, ldap.LDAPResultConnectError:
		return true
	default:
		return false
	}
}

// categorizeError categorizes an error based on LDAP result code.
func categorizeError(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired,
		ldap.ErrorEmptyPassword:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute:
		return ErrorCategoryNotFound

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryServer

	case ldap.LDAPResultConnectError,
		ldap.ErrorNetwork:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

// getLDAPCodeMessage returns a human-readable message for the result codes
// this package sees in practice.
func getLDAPCodeMessage(code uint16) string {
	switch code {
	case ldap.LDAPResultInvalidCredentials:
		return "Invalid credentials"
	case ldap.LDAPResultNoSuchObject:
		return "Requested object does not exist"
	case ldap.LDAPResultInsufficientAccessRights:
		return "Insufficient access rights"
	case ldap.LDAPResultInappropriateAuthentication:
		return "Inappropriate authentication method"
	case ldap.LDAPResultUnwillingToPerform:
		return "Server is unwilling to perform the operation"
	case ldap.LDAPResultBusy:
		return "Server is busy"
	case ldap.LDAPResultUnavailable:
		return "Server is unavailable"
	case ldap.LDAPResultServerDown:
		return "Server is down"
	case ldap.LDAPResultTimeLimitExceeded:
		return "LDAP time limit exceeded"
	case ldap.LDAPResultSizeLimitExceeded:
		return "LDAP size limit exceeded"
	case ldap.LDAPResultFilterError:
		return "Invalid search filter"
	case ldap.LDAPResultConnectError, ldap.ErrorNetwork:
		return "Connection error"
	case ldap.ErrorEmptyPassword:
		return "Empty password not allowed"
	default:
		return fmt.Sprintf("LDAP error (code %d)", code)
	}
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}
	if code := ResultCode(err); code != 0 {
		return categorizeError(code)
	}
	return ErrorCategoryUnknown
}
