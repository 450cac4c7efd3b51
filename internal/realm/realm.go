// Package realm exposes the LDAP identity service as an authentication and
// authorization realm: username/password login and group based roles.
package realm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ldaprealm/internal/ldap"
)

// DefaultName is the realm name used when none is configured.
const DefaultName = "LdapRealm"

// LogLevelEnvRealm controls the log level of the realm subsystem.
const LogLevelEnvRealm = "LDAPREALM_LOG_REALM"

// displayNameAttribute is exposed as the fullName principal.
const displayNameAttribute = "cn"

// IdentityService is the directory side of the realm. *ldap.Service
// implements it.
type IdentityService interface {
	CreateUserContext(dn string) *ldap.UserContext
	FindUser(ctx context.Context, identity string) (*ldap.UserContext, error)
	Authenticate(ctx context.Context, uc *ldap.UserContext, password string) error
	GetAttributeValue(ctx context.Context, uc *ldap.UserContext, attribute string) (string, error)
	RetrieveUserGroups(ctx context.Context, uc *ldap.UserContext) ([]string, error)
}

var _ IdentityService = (*ldap.Service)(nil)

// Realm authenticates username/password tokens against the directory and
// resolves group memberships as roles.
type Realm struct {
	ctx     context.Context // Logging context with realm subsystem
	name    string
	service IdentityService
	metrics *Metrics

	roleMapping            RoleMapping
	rolePermissionResolver RolePermissionResolver
}

// Option customizes a Realm.
type Option func(*Realm)

// WithName sets the realm name.
func WithName(name string) Option {
	return func(r *Realm) {
		r.name = name
	}
}

// WithMetrics records realm operations in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Realm) {
		r.metrics = m
	}
}

// WithRoleMapping attaches the role mapping strategy exposed by RoleMapping.
func WithRoleMapping(mapping RoleMapping) Option {
	return func(r *Realm) {
		r.roleMapping = mapping
	}
}

// WithRolePermissionResolver attaches the permission resolver exposed by
// RolePermissionResolver.
func WithRolePermissionResolver(resolver RolePermissionResolver) Option {
	return func(r *Realm) {
		r.rolePermissionResolver = resolver
	}
}

// New returns a realm backed by service.
func New(ctx context.Context, service IdentityService, opts ...Option) *Realm {
	ctx = tflog.NewSubsystem(ctx, "realm", tflog.WithLevelFromEnv(LogLevelEnvRealm))
	ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, "realm", "password")

	r := &Realm{
		ctx:     ctx,
		name:    DefaultName,
		service: service,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Realm) Name() string { return r.name }

// SupportedToken returns the only token type the realm accepts.
func (r *Realm) SupportedToken() reflect.Type {
	return reflect.TypeFor[*UsernamePasswordToken]()
}

func (r *Realm) RoleMapping() RoleMapping { return r.roleMapping }

func (r *Realm) RolePermissionResolver() RolePermissionResolver { return r.rolePermissionResolver }

// GetAuthenticationInfo verifies token against the directory. Every
// failure after the token type check is an *AuthenticationError whose
// message does not reveal whether the user exists.
func (r *Realm) GetAuthenticationInfo(ctx context.Context, token AuthenticationToken) (*AuthenticationInfo, error) {
	start := time.Now()

	upt, ok := token.(*UsernamePasswordToken)
	if !ok || upt == nil {
		tflog.SubsystemWarn(r.ctx, "realm", "Unsupported authentication token", map[string]any{
			"token_type": fmt.Sprintf("%T", token),
		})
		r.metrics.ObserveAuthentication(OutcomeUnsupportedToken, time.Since(start))
		return nil, ErrUnsupportedToken
	}

	fields := map[string]any{"user": upt.Username}
	tflog.SubsystemDebug(r.ctx, "realm", "Authenticating user", fields)

	uc, err := r.service.FindUser(ctx, upt.Username)
	if err != nil {
		outcome := OutcomeDirectoryError
		if errors.Is(err, ldap.ErrUnknownUser) {
			outcome = OutcomeUnknownUser
		}
		return nil, r.rejectAuthentication(start, outcome, newAuthenticationError(ErrAuthenticationFailed, err), fields)
	}
	fields["dn"] = uc.DN()

	if err := r.service.Authenticate(ctx, uc, upt.Password); err != nil {
		if errors.Is(err, ldap.ErrInvalidCredentials) {
			return nil, r.rejectAuthentication(start, OutcomeInvalidCredentials, newAuthenticationError(ErrIncorrectCredentials, err), fields)
		}
		return nil, r.rejectAuthentication(start, OutcomeDirectoryError, newAuthenticationError(ErrAuthenticationFailed, err), fields)
	}

	fullName, err := r.service.GetAttributeValue(ctx, uc, displayNameAttribute)
	if err != nil {
		return nil, r.rejectAuthentication(start, OutcomeDirectoryError, newAuthenticationError(ErrAuthenticationFailed, err), fields)
	}

	info := &AuthenticationInfo{
		Identity:    NewSimplePrincipal(PrincipalIdentity, upt.Username),
		Credentials: upt.Password,
		OtherPrincipals: []PrincipalProvider{
			NewSimplePrincipal(PrincipalDN, uc.DN()),
			FullNamePrincipal(fullName),
			NewUserContextPrincipal(uc),
		},
	}

	fields["duration_ms"] = time.Since(start).Milliseconds()
	tflog.SubsystemInfo(r.ctx, "realm", "User authenticated", fields)
	r.metrics.ObserveAuthentication(OutcomeSuccess, time.Since(start))
	return info, nil
}

func (r *Realm) rejectAuthentication(start time.Time, outcome string, err *AuthenticationError, fields map[string]any) error {
	logFields := maps.Clone(fields)
	logFields["outcome"] = outcome
	logFields["reason"] = err.Detail()
	logFields["duration_ms"] = time.Since(start).Milliseconds()

	tflog.SubsystemInfo(r.ctx, "realm", "Authentication rejected", logFields)
	r.metrics.ObserveAuthentication(outcome, time.Since(start))
	return err
}

// GetRealmRoles returns the names of the groups the user belongs to. The
// user is taken from an attached user context principal, then from a dn
// principal, and only then looked up by identity. Any failure is an
// *AuthenticationError; it is never reported as an empty role set.
func (r *Realm) GetRealmRoles(ctx context.Context, identity PrincipalProvider, others []PrincipalProvider) ([]string, error) {
	start := time.Now()
	fields := map[string]any{}

	var roles []string
	err := ldap.LogOperation(r.ctx, "realm", "get_realm_roles", fields, func() error {
		uc, err := r.resolveUserContext(ctx, identity, others, fields)
		if err != nil {
			return err
		}

		roles, err = r.service.RetrieveUserGroups(ctx, uc)
		return err
	})
	if err != nil {
		outcome := OutcomeDirectoryError
		if errors.Is(err, ldap.ErrUnknownUser) {
			outcome = OutcomeUnknownUser
		}
		r.metrics.ObserveRoleResolution(outcome, time.Since(start))
		return nil, newAuthenticationError(ErrRoleResolution, err)
	}

	r.metrics.ObserveRoleResolution(OutcomeSuccess, time.Since(start))
	return roles, nil
}

func (r *Realm) resolveUserContext(ctx context.Context, identity PrincipalProvider, others []PrincipalProvider, fields map[string]any) (*ldap.UserContext, error) {
	if uc := UserContextFrom(others); uc != nil {
		fields["source"] = PrincipalUserContext
		fields["dn"] = uc.DN()
		return uc, nil
	}

	if dn := SimplePrincipalByName(others, PrincipalDN); dn != nil {
		fields["source"] = PrincipalDN
		fields["dn"] = dn.Value()
		return r.service.CreateUserContext(dn.Value()), nil
	}

	if identity == nil || identity.Principal() == nil {
		return nil, errors.New("no identity principal to resolve")
	}

	user := fmt.Sprint(identity.Principal())
	fields["source"] = "search"
	fields["user"] = user
	return r.service.FindUser(ctx, user)
}
