package realm

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldaprealm/internal/ldap"
)

// MockIdentityService implements IdentityService for testing Realm.
type MockIdentityService struct {
	mock.Mock
	svc *ldap.Service // builds real user contexts
}

func newMockIdentityService() *MockIdentityService {
	return &MockIdentityService{svc: ldap.NewService(context.Background(), nil, ldap.UserSearchConfig{}, ldap.GroupSearchConfig{})}
}

func (m *MockIdentityService) CreateUserContext(dn string) *ldap.UserContext {
	m.Called(dn)
	return m.svc.CreateUserContext(dn)
}

func (m *MockIdentityService) FindUser(ctx context.Context, identity string) (*ldap.UserContext, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ldap.UserContext), args.Error(1)
}

func (m *MockIdentityService) Authenticate(ctx context.Context, uc *ldap.UserContext, password string) error {
	args := m.Called(ctx, uc, password)
	return args.Error(0)
}

func (m *MockIdentityService) GetAttributeValue(ctx context.Context, uc *ldap.UserContext, attribute string) (string, error) {
	args := m.Called(ctx, uc, attribute)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityService) RetrieveUserGroups(ctx context.Context, uc *ldap.UserContext) ([]string, error) {
	args := m.Called(ctx, uc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

const jdoeDN = "uid=jdoe,ou=people,dc=example,dc=com"

type otherToken struct{}

func (otherToken) Principal() any   { return "jdoe" }
func (otherToken) Credentials() any { return nil }

func counterValue(t *testing.T, reg *prometheus.Registry, name, outcome string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == LabelOutcome && label.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRealm_Contract(t *testing.T) {
	mapping := struct{ RoleMapping }{}
	resolver := struct{ RolePermissionResolver }{}
	r := New(context.Background(), newMockIdentityService(),
		WithRoleMapping(mapping),
		WithRolePermissionResolver(resolver),
	)

	assert.Equal(t, DefaultName, r.Name())
	assert.Equal(t, reflect.TypeOf(&UsernamePasswordToken{}), r.SupportedToken())
	assert.Equal(t, mapping, r.RoleMapping())
	assert.Equal(t, resolver, r.RolePermissionResolver())

	assert.Equal(t, "corp", New(context.Background(), nil, WithName("corp")).Name())
}

func TestRealm_UnsupportedToken(t *testing.T) {
	svc := newMockIdentityService()
	reg := prometheus.NewRegistry()
	r := New(context.Background(), svc, WithMetrics(NewMetrics(reg)))

	for _, token := range []AuthenticationToken{otherToken{}, nil, (*UsernamePasswordToken)(nil)} {
		info, err := r.GetAuthenticationInfo(context.Background(), token)
		assert.Nil(t, info)
		assert.ErrorIs(t, err, ErrUnsupportedToken)
	}

	svc.AssertNotCalled(t, "FindUser", mock.Anything, mock.Anything)
	assert.Equal(t, 3.0, counterValue(t, reg, "ldaprealm_realm_authentications_total", OutcomeUnsupportedToken))
}

func TestRealm_GetAuthenticationInfo(t *testing.T) {
	svc := newMockIdentityService()
	reg := prometheus.NewRegistry()
	r := New(context.Background(), svc, WithMetrics(NewMetrics(reg)))

	uc := svc.svc.CreateUserContext(jdoeDN)
	svc.On("FindUser", mock.Anything, "jdoe").Return(uc, nil).Once()
	svc.On("Authenticate", mock.Anything, uc, "secret").Return(nil).Once()
	svc.On("GetAttributeValue", mock.Anything, uc, "cn").Return("John Doe", nil).Once()

	info, err := r.GetAuthenticationInfo(context.Background(), NewUsernamePasswordToken("jdoe", "secret"))
	require.NoError(t, err)

	assert.Equal(t, PrincipalIdentity, info.Identity.Name())
	assert.Equal(t, "jdoe", info.Identity.Principal())
	assert.Equal(t, jdoeDN, info.Principal(PrincipalDN).Principal())
	assert.Equal(t, "John Doe", info.Principal(PrincipalFullName).Principal())
	assert.Same(t, uc, UserContextFrom(info.OtherPrincipals))
	assert.Nil(t, info.Principal("missing"))

	svc.AssertExpectations(t)
	assert.Equal(t, 1.0, counterValue(t, reg, "ldaprealm_realm_authentications_total", OutcomeSuccess))
}

func TestRealm_GetAuthenticationInfoFailures(t *testing.T) {
	directoryFault := ldap.NewLDAPError(ldap.ErrDirectory, "search", errors.New("busy"))

	tests := []struct {
		name        string
		setup       func(svc *MockIdentityService, uc *ldap.UserContext)
		wantKind    error
		wantCause   error
		wantOutcome string
	}{
		{
			name: "unknown user",
			setup: func(svc *MockIdentityService, _ *ldap.UserContext) {
				svc.On("FindUser", mock.Anything, "jdoe").Return(nil, ldap.NewLDAPError(ldap.ErrUnknownUser, "search", nil)).Once()
			},
			wantKind:    ErrAuthenticationFailed,
			wantCause:   ldap.ErrUnknownUser,
			wantOutcome: OutcomeUnknownUser,
		},
		{
			name: "search fault",
			setup: func(svc *MockIdentityService, _ *ldap.UserContext) {
				svc.On("FindUser", mock.Anything, "jdoe").Return(nil, directoryFault).Once()
			},
			wantKind:    ErrAuthenticationFailed,
			wantCause:   ldap.ErrDirectory,
			wantOutcome: OutcomeDirectoryError,
		},
		{
			name: "wrong password",
			setup: func(svc *MockIdentityService, uc *ldap.UserContext) {
				svc.On("FindUser", mock.Anything, "jdoe").Return(uc, nil).Once()
				svc.On("Authenticate", mock.Anything, uc, "secret").Return(ldap.NewLDAPError(ldap.ErrInvalidCredentials, "bind", nil)).Once()
			},
			wantKind:    ErrIncorrectCredentials,
			wantCause:   ldap.ErrInvalidCredentials,
			wantOutcome: OutcomeInvalidCredentials,
		},
		{
			name: "bind fault",
			setup: func(svc *MockIdentityService, uc *ldap.UserContext) {
				svc.On("FindUser", mock.Anything, "jdoe").Return(uc, nil).Once()
				svc.On("Authenticate", mock.Anything, uc, "secret").Return(directoryFault).Once()
			},
			wantKind:    ErrAuthenticationFailed,
			wantCause:   ldap.ErrDirectory,
			wantOutcome: OutcomeDirectoryError,
		},
		{
			name: "display name fault",
			setup: func(svc *MockIdentityService, uc *ldap.UserContext) {
				svc.On("FindUser", mock.Anything, "jdoe").Return(uc, nil).Once()
				svc.On("Authenticate", mock.Anything, uc, "secret").Return(nil).Once()
				svc.On("GetAttributeValue", mock.Anything, uc, "cn").Return("", directoryFault).Once()
			},
			wantKind:    ErrAuthenticationFailed,
			wantCause:   ldap.ErrDirectory,
			wantOutcome: OutcomeDirectoryError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockIdentityService()
			reg := prometheus.NewRegistry()
			r := New(context.Background(), svc, WithMetrics(NewMetrics(reg)))
			tt.setup(svc, svc.svc.CreateUserContext(jdoeDN))

			info, err := r.GetAuthenticationInfo(context.Background(), NewUsernamePasswordToken("jdoe", "secret"))
			assert.Nil(t, info)
			require.Error(t, err)

			assert.Equal(t, "authentication failed", err.Error(), "message must not reveal the reason")
			assert.ErrorIs(t, err, tt.wantKind)
			assert.ErrorIs(t, err, tt.wantCause)

			var authErr *AuthenticationError
			require.ErrorAs(t, err, &authErr)
			assert.Contains(t, authErr.Detail(), tt.wantKind.Error())

			assert.Equal(t, 1.0, counterValue(t, reg, "ldaprealm_realm_authentications_total", tt.wantOutcome))
			svc.AssertExpectations(t)
		})
	}
}

func TestRealm_GetRealmRolesPrefersUserContext(t *testing.T) {
	svc := newMockIdentityService()
	r := New(context.Background(), svc)

	uc := svc.svc.CreateUserContext(jdoeDN)
	svc.On("RetrieveUserGroups", mock.Anything, uc).Return([]string{"admins"}, nil).Once()

	roles, err := r.GetRealmRoles(context.Background(), NewSimplePrincipal(PrincipalIdentity, "jdoe"), []PrincipalProvider{
		NewSimplePrincipal(PrincipalDN, "uid=other,dc=example,dc=com"),
		NewUserContextPrincipal(uc),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"admins"}, roles)

	svc.AssertExpectations(t)
	svc.AssertNotCalled(t, "CreateUserContext", mock.Anything)
	svc.AssertNotCalled(t, "FindUser", mock.Anything, mock.Anything)
}

func TestRealm_GetRealmRolesFromDN(t *testing.T) {
	svc := newMockIdentityService()
	r := New(context.Background(), svc)

	svc.On("CreateUserContext", jdoeDN).Once()
	svc.On("RetrieveUserGroups", mock.Anything, mock.MatchedBy(func(uc *ldap.UserContext) bool {
		return uc.DN() == jdoeDN
	})).Return([]string{"admins", "users"}, nil).Once()

	roles, err := r.GetRealmRoles(context.Background(), NewSimplePrincipal(PrincipalIdentity, "jdoe"), []PrincipalProvider{
		NewSimplePrincipal(PrincipalDN, jdoeDN),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"admins", "users"}, roles)

	svc.AssertExpectations(t)
	svc.AssertNotCalled(t, "FindUser", mock.Anything, mock.Anything)
}

func TestRealm_GetRealmRolesFromIdentity(t *testing.T) {
	svc := newMockIdentityService()
	reg := prometheus.NewRegistry()
	r := New(context.Background(), svc, WithMetrics(NewMetrics(reg)))

	uc := svc.svc.CreateUserContext(jdoeDN)
	svc.On("FindUser", mock.Anything, "jdoe").Return(uc, nil).Once()
	svc.On("RetrieveUserGroups", mock.Anything, uc).Return([]string{}, nil).Once()

	roles, err := r.GetRealmRoles(context.Background(), NewSimplePrincipal(PrincipalIdentity, "jdoe"), nil)
	require.NoError(t, err)
	assert.Empty(t, roles)

	svc.AssertExpectations(t)
	assert.Equal(t, 1.0, counterValue(t, reg, "ldaprealm_realm_role_resolutions_total", OutcomeSuccess))
}

func TestRealm_GetRealmRolesFailure(t *testing.T) {
	tests := []struct {
		name        string
		identity    PrincipalProvider
		setup       func(svc *MockIdentityService)
		wantCause   error
		wantOutcome string
	}{
		{
			name:     "unknown user",
			identity: NewSimplePrincipal(PrincipalIdentity, "ghost"),
			setup: func(svc *MockIdentityService) {
				svc.On("FindUser", mock.Anything, "ghost").Return(nil, ldap.NewLDAPError(ldap.ErrUnknownUser, "search", nil)).Once()
			},
			wantCause:   ldap.ErrUnknownUser,
			wantOutcome: OutcomeUnknownUser,
		},
		{
			name:     "group search fault",
			identity: NewSimplePrincipal(PrincipalIdentity, "jdoe"),
			setup: func(svc *MockIdentityService) {
				uc := svc.svc.CreateUserContext(jdoeDN)
				svc.On("FindUser", mock.Anything, "jdoe").Return(uc, nil).Once()
				svc.On("RetrieveUserGroups", mock.Anything, uc).Return(nil, ldap.NewLDAPError(ldap.ErrDirectory, "search", nil)).Once()
			},
			wantCause:   ldap.ErrDirectory,
			wantOutcome: OutcomeDirectoryError,
		},
		{
			name:        "no identity",
			setup:       func(*MockIdentityService) {},
			wantOutcome: OutcomeDirectoryError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockIdentityService()
			reg := prometheus.NewRegistry()
			r := New(context.Background(), svc, WithMetrics(NewMetrics(reg)))
			tt.setup(svc)

			roles, err := r.GetRealmRoles(context.Background(), tt.identity, nil)
			assert.Nil(t, roles, "failure is never reported as an empty role set")
			require.ErrorIs(t, err, ErrRoleResolution)
			assert.Equal(t, "unable to retrieve roles from LDAP realm", err.Error())
			if tt.wantCause != nil {
				assert.ErrorIs(t, err, tt.wantCause)
			}

			assert.Equal(t, 1.0, counterValue(t, reg, "ldaprealm_realm_role_resolutions_total", tt.wantOutcome))
			assert.Equal(t, 0.0, counterValue(t, reg, "ldaprealm_realm_role_resolutions_total", OutcomeSuccess))
			svc.AssertExpectations(t)
		})
	}
}

func TestUsernamePasswordToken(t *testing.T) {
	token := NewUsernamePasswordToken("jdoe", "secret")
	assert.Equal(t, "jdoe", token.Principal())
	assert.Equal(t, "secret", token.Credentials())
	assert.NotContains(t, token.String(), "secret")
}

func TestAuthenticationError(t *testing.T) {
	cause := errors.New("directory unavailable")
	err := newAuthenticationError(ErrAuthenticationFailed, cause)

	assert.Equal(t, "authentication failed", err.Error())
	assert.Equal(t, "authentication failed: directory unavailable", err.Detail())
	assert.ErrorIs(t, err, cause)

	bare := newAuthenticationError(ErrIncorrectCredentials, nil)
	assert.Equal(t, "incorrect credentials", bare.Detail())
	assert.ErrorIs(t, bare, ErrIncorrectCredentials)
	assert.NotErrorIs(t, bare, ErrAuthenticationFailed)
}
