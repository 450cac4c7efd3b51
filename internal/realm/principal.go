package realm

import (
	"github.com/isometry/ldaprealm/internal/ldap"
)

// Principal names attached by the realm on successful authentication.
const (
	PrincipalIdentity    = "username"
	PrincipalDN          = "dn"
	PrincipalFullName    = "fullName"
	PrincipalUserContext = "ldapUserContext"
)

// PrincipalProvider is one named piece of identity information.
type PrincipalProvider interface {
	Name() string
	Principal() any
}

// SimplePrincipal is a named string principal.
type SimplePrincipal struct {
	name  string
	value string
}

// NewSimplePrincipal returns a principal called name holding value.
func NewSimplePrincipal(name, value string) *SimplePrincipal {
	return &SimplePrincipal{name: name, value: value}
}

// FullNamePrincipal returns the display name principal.
func FullNamePrincipal(fullName string) *SimplePrincipal {
	return NewSimplePrincipal(PrincipalFullName, fullName)
}

func (p *SimplePrincipal) Name() string   { return p.name }
func (p *SimplePrincipal) Principal() any { return p.value }
func (p *SimplePrincipal) Value() string  { return p.value }
func (p *SimplePrincipal) String() string { return p.value }

// UserContextPrincipal carries the resolved directory user so later role
// resolution can reuse it and its attribute cache.
type UserContextPrincipal struct {
	uc *ldap.UserContext
}

// NewUserContextPrincipal wraps uc.
func NewUserContextPrincipal(uc *ldap.UserContext) *UserContextPrincipal {
	return &UserContextPrincipal{uc: uc}
}

func (p *UserContextPrincipal) Name() string   { return PrincipalUserContext }
func (p *UserContextPrincipal) Principal() any { return p.uc }

// UserContext returns the wrapped user context.
func (p *UserContextPrincipal) UserContext() *ldap.UserContext { return p.uc }

// SimplePrincipalByName returns the first SimplePrincipal called name, or nil.
func SimplePrincipalByName(principals []PrincipalProvider, name string) *SimplePrincipal {
	for _, p := range principals {
		if sp, ok := p.(*SimplePrincipal); ok && sp.Name() == name {
			return sp
		}
	}
	return nil
}

// UserContextFrom returns the user context attached to principals, or nil.
func UserContextFrom(principals []PrincipalProvider) *ldap.UserContext {
	for _, p := range principals {
		if ucp, ok := p.(*UserContextPrincipal); ok && ucp.uc != nil {
			return ucp.uc
		}
	}
	return nil
}

// AuthenticationInfo is the outcome of a successful authentication.
type AuthenticationInfo struct {
	Identity        PrincipalProvider
	Credentials     any
	OtherPrincipals []PrincipalProvider
}

// Principal returns the principal called name among the identity and the
// other principals, or nil.
func (a *AuthenticationInfo) Principal(name string) PrincipalProvider {
	if a.Identity != nil && a.Identity.Name() == name {
		return a.Identity
	}
	for _, p := range a.OtherPrincipals {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// RoleMapping maps realm roles to application roles. The realm only holds
// it for the surrounding security framework.
type RoleMapping interface {
	ResolveRoles(realmRoles []string, realmName string) []string
}

// RolePermissionResolver maps a role to its permissions. The realm only
// holds it for the surrounding security framework.
type RolePermissionResolver interface {
	ResolvePermissions(role string) []string
}
