package ldap

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// displayNameAttribute is fetched with every user search.
const displayNameAttribute = "cn"

// Service resolves users and groups against a Directory and verifies
// credentials.
type Service struct {
	ctx       context.Context // Logging context with LDAP subsystem
	directory Directory
	user      UserSearchConfig
	group     GroupSearchConfig
}

// NewService creates a Service over directory.
func NewService(ctx context.Context, directory Directory, user UserSearchConfig, group GroupSearchConfig) *Service {
	if user.IDAttribute == "" {
		user.IDAttribute = DefaultIDAttribute
	}
	if group.MemberAttribute == "" {
		group.MemberAttribute = DefaultMemberAttribute
	}

	return &Service{
		ctx:       NewLoggingContext(ctx),
		directory: directory,
		user:      user,
		group:     group,
	}
}

// CreateUserContext returns a context for an already known DN without
// contacting the directory.
func (s *Service) CreateUserContext(dn string) *UserContext {
	return newUserContext(dn)
}

// UserFilter returns the search filter used to locate identity.
func (s *Service) UserFilter(identity string) Filter {
	return And(ObjectClassFilter(s.user.ObjectClass), Equality(s.user.IDAttribute, identity))
}

// GroupFilter returns the search filter used to find groups containing dn.
func (s *Service) GroupFilter(dn string) Filter {
	return And(ObjectClassFilter(s.group.ObjectClass), Equality(s.group.MemberAttribute, dn))
}

// userAttributes returns the configured additional attributes plus cn.
func (s *Service) userAttributes() []string {
	attrs := slices.Clone(s.user.AdditionalAttributes)
	if !slices.ContainsFunc(attrs, func(a string) bool { return strings.EqualFold(a, displayNameAttribute) }) {
		attrs = append(attrs, displayNameAttribute)
	}
	return attrs
}

// FindUser locates the single entry whose identity attribute equals identity.
// Zero or several matches both fail with ErrUnknownUser.
func (s *Service) FindUser(ctx context.Context, identity string) (*UserContext, error) {
	filter := s.UserFilter(identity)
	fields := map[string]any{
		"user":    identity,
		"base_dn": s.user.BaseDN,
		"filter":  filter.String(),
	}

	var uc *UserContext
	err := LogOperation(s.ctx, "ldap", "find_user", fields, func() error {
		result, err := s.directory.Search(ctx, &SearchRequest{
			BaseDN:     s.user.BaseDN,
			Scope:      ScopeWholeSubtree,
			Filter:     filter,
			Attributes: s.userAttributes(),
		})
		if err != nil {
			LogLDAPError(s.ctx, "ldap", "find_user", err, nil)
			return NewLDAPError(ErrDirectory, "search", err).With("user", identity)
		}

		if len(result.Entries) != 1 {
			tflog.SubsystemDebug(s.ctx, "ldap", "User search did not match exactly one entry", map[string]any{
				"user":          identity,
				"entries_found": len(result.Entries),
			})
			return NewLDAPError(ErrUnknownUser, "search", nil).With("user", identity)
		}

		entry := result.Entries[0]
		uc = newUserContext(entry.DN)
		uc.remember(map[string]string{
			displayNameAttribute: entry.GetEqualFoldAttributeValue(displayNameAttribute),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return uc, nil
}

// Authenticate verifies password for the user with a bind. The pooled
// connection is returned to its original identity afterwards.
func (s *Service) Authenticate(ctx context.Context, uc *UserContext, password string) error {
	return LogOperation(s.ctx, "ldap", "authenticate", map[string]any{
		"dn": uc.DN(),
	}, func() error {
		if err := s.directory.BindAndRevert(ctx, uc.DN(), password); err != nil {
			return NewLDAPError(errorCodeForBind(err), "bind", err).With("dn", uc.DN())
		}
		return nil
	})
}

// GetAttributeValue returns one attribute, from cache when possible. An
// attribute the entry does not have yields "".
func (s *Service) GetAttributeValue(ctx context.Context, uc *UserContext, attribute string) (string, error) {
	if value, ok := uc.CachedAttribute(attribute); ok {
		return value, nil
	}

	values, err := s.GetAttributeValues(ctx, uc, attribute)
	if err != nil {
		return "", err
	}
	return values[strings.ToLower(attribute)], nil
}

// GetAttributeValues returns the requested attributes keyed by lowercase name.
// Attributes not yet cached are read from the directory in a single request
// and merged into uc. The cache is left untouched on failure.
func (s *Service) GetAttributeValues(ctx context.Context, uc *UserContext, attributes ...string) (map[string]string, error) {
	if missing := uc.missing(attributes); len(missing) > 0 {
		start := time.Now()
		tflog.SubsystemDebug(s.ctx, "ldap", "Retrieving attributes from directory", map[string]any{
			"dn":         uc.DN(),
			"attributes": missing,
		})

		entry, err := s.directory.GetEntry(ctx, uc.DN(), missing)
		if err != nil {
			LogLDAPError(s.ctx, "ldap", "get_attributes", err, map[string]any{"dn": uc.DN()})
			return nil, NewLDAPError(ErrDirectory, "read", err).With("dn", uc.DN())
		}

		read := make(map[string]string, len(missing))
		for _, attr := range missing {
			read[attr] = entry.GetEqualFoldAttributeValue(attr)
		}
		uc.remember(read)

		tflog.SubsystemTrace(s.ctx, "ldap", "Attributes cached", map[string]any{
			"dn":          uc.DN(),
			"count":       len(read),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}

	out := make(map[string]string, len(attributes))
	for _, attr := range attributes {
		value, _ := uc.CachedAttribute(attr)
		out[strings.ToLower(attr)] = value
	}
	return out, nil
}

// RetrieveUserGroups returns the cn of every group listing the user as a
// member, sorted. No match yields an empty slice.
func (s *Service) RetrieveUserGroups(ctx context.Context, uc *UserContext) ([]string, error) {
	filter := s.GroupFilter(uc.DN())

	groups := []string{}
	err := LogOperation(s.ctx, "ldap", "retrieve_groups", map[string]any{
		"dn":      uc.DN(),
		"base_dn": s.group.BaseDN,
		"filter":  filter.String(),
	}, func() error {
		result, err := s.directory.Search(ctx, &SearchRequest{
			BaseDN:     s.group.BaseDN,
			Scope:      ScopeWholeSubtree,
			Filter:     filter,
			Attributes: []string{displayNameAttribute},
		})
		if err != nil {
			LogLDAPError(s.ctx, "ldap", "retrieve_groups", err, nil)
			return NewLDAPError(ErrDirectory, "search", err).With("dn", uc.DN())
		}

		for _, entry := range result.Entries {
			if name := entry.GetEqualFoldAttributeValue(displayNameAttribute); name != "" {
				groups = append(groups, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(groups)
	return slices.Compact(groups), nil
}
