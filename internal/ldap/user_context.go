package ldap

import (
	"maps"
	"strings"
	"sync"
)

// UserContext identifies one directory user for the duration of an
// authentication/authorization cycle and memoizes attributes read for it.
type UserContext struct {
	dn string

	mu    sync.RWMutex
	known map[string]string // lowercase attribute name -> value
}

func newUserContext(dn string) *UserContext {
	return &UserContext{
		dn:    dn,
		known: make(map[string]string),
	}
}

// DN returns the distinguished name of the user entry.
func (u *UserContext) DN() string {
	return u.dn
}

// CachedAttribute returns the cached value of name. The second result is
// false when the attribute has not been read yet.
func (u *UserContext) CachedAttribute(name string) (string, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	value, ok := u.known[strings.ToLower(name)]
	return value, ok
}

// CachedAttributes returns a copy of every cached attribute.
func (u *UserContext) CachedAttributes() map[string]string {
	u.mu.RLock()
	defer u.mu.RUnlock()

	return maps.Clone(u.known)
}

// remember merges values into the cache. Existing entries are overwritten,
// never removed.
func (u *UserContext) remember(values map[string]string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for k, v := range values {
		u.known[strings.ToLower(k)] = v
	}
}

// missing returns the lowercased, deduplicated names that are not cached.
func (u *UserContext) missing(names []string) []string {
	u.mu.RLock()
	defer u.mu.RUnlock()

	var out []string
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		lower := strings.ToLower(name)
		if _, ok := u.known[lower]; ok || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	return out
}

func (u *UserContext) String() string {
	return u.dn
}
