package ldap

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Environment variables controlling subsystem log levels.
const (
	LogLevelEnvLDAP = "LDAPREALM_LOG_LDAP"
	LogLevelEnvPool = "LDAPREALM_LOG_POOL"
)

// sensitiveFieldKeys are masked in every log line of the ldap and pool subsystems.
var sensitiveFieldKeys = []string{"password", "bind_password", "credentials"}

// NewLoggingContext initializes the ldap and pool subsystems on ctx.
func NewLoggingContext(ctx context.Context) context.Context {
	ctx = tflog.NewSubsystem(ctx, "ldap", tflog.WithLevelFromEnv(LogLevelEnvLDAP))
	ctx = tflog.NewSubsystem(ctx, "pool", tflog.WithLevelFromEnv(LogLevelEnvPool))
	ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, "ldap", sensitiveFieldKeys...)
	ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, "pool", sensitiveFieldKeys...)
	return ctx
}

// LogOperation runs fn and logs its duration and outcome. Failures that are
// ordinary authentication outcomes (unknown user, rejected credentials) are
// logged at debug; anything else at warn. fn may add to fields.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation
	tflog.SubsystemTrace(ctx, subsystem, "Operation started", fields)

	start := time.Now()
	err := fn()
	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err == nil {
		tflog.SubsystemDebug(ctx, subsystem, "Operation completed", fields)
		return nil
	}

	fields["error"] = err.Error()
	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		fields["error_code"] = string(ldapErr.Code)
	}

	if errors.Is(err, ErrUnknownUser) || errors.Is(err, ErrInvalidCredentials) {
		tflog.SubsystemDebug(ctx, subsystem, "Operation failed", fields)
	} else {
		tflog.SubsystemWarn(ctx, subsystem, "Operation failed", fields)
	}
	return err
}

// LogLDAPError logs the result code and diagnostics of a directory failure.
func LogLDAPError(ctx context.Context, subsystem string, operation string, err error, fields map[string]any) {
	logFields := maps.Clone(fields)
	if logFields == nil {
		logFields = make(map[string]any)
	}
	logFields["operation"] = operation
	logFields["error"] = err.Error()

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		logFields["ldap_result_code"] = resultErr.ResultCode
		logFields["ldap_result"] = ldap.LDAPResultCodeMap[resultErr.ResultCode]
		if resultErr.MatchedDN != "" {
			logFields["ldap_matched_dn"] = resultErr.MatchedDN
		}
	}

	tflog.SubsystemError(ctx, subsystem, "Directory request failed", logFields)
}

// PoolEvent names a connection pool lifecycle event.
type PoolEvent string

const (
	PoolInitialized       PoolEvent = "pool_initialized"
	PoolCreationFailed    PoolEvent = "pool_creation_failed"
	PoolClosed            PoolEvent = "pool_closed"
	PoolWaitCancelled     PoolEvent = "pool_wait_cancelled"
	ConnectionRedialed    PoolEvent = "connection_redialed"
	ConnectionFailed      PoolEvent = "connection_failed"
	ConnectionLost        PoolEvent = "connection_lost"
	IdentityRestoreFailed PoolEvent = "identity_restore_failed"
)

// LogPoolEvent logs a pool event at a level matching its severity.
func LogPoolEvent(ctx context.Context, event PoolEvent, fields map[string]any) {
	logFields := maps.Clone(fields)
	if logFields == nil {
		logFields = make(map[string]any)
	}
	logFields["event"] = string(event)

	switch event {
	case PoolInitialized, PoolClosed:
		tflog.SubsystemInfo(ctx, "pool", "Pool event", logFields)
	case PoolWaitCancelled, ConnectionFailed, ConnectionLost, IdentityRestoreFailed:
		tflog.SubsystemWarn(ctx, "pool", "Pool event", logFields)
	case PoolCreationFailed:
		tflog.SubsystemError(ctx, "pool", "Pool event", logFields)
	default:
		tflog.SubsystemDebug(ctx, "pool", "Pool event", logFields)
	}
}
