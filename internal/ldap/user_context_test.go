package ldap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserContext_Cache(t *testing.T) {
	uc := newUserContext("uid=jdoe,ou=people,dc=example,dc=com")
	assert.Equal(t, "uid=jdoe,ou=people,dc=example,dc=com", uc.DN())
	assert.Equal(t, uc.DN(), uc.String())

	_, ok := uc.CachedAttribute("cn")
	assert.False(t, ok)

	uc.remember(map[string]string{"CN": "John Doe", "telephoneNumber": ""})

	value, ok := uc.CachedAttribute("cn")
	assert.True(t, ok)
	assert.Equal(t, "John Doe", value)

	value, ok = uc.CachedAttribute("TELEPHONENUMBER")
	assert.True(t, ok, "a cached absence is still a hit")
	assert.Empty(t, value)

	assert.Equal(t, map[string]string{"cn": "John Doe", "telephonenumber": ""}, uc.CachedAttributes())
}

func TestUserContext_CachedAttributesIsCopy(t *testing.T) {
	uc := newUserContext("uid=jdoe,dc=example,dc=com")
	uc.remember(map[string]string{"cn": "John Doe"})

	snapshot := uc.CachedAttributes()
	snapshot["cn"] = "changed"

	value, _ := uc.CachedAttribute("cn")
	assert.Equal(t, "John Doe", value)
}

func TestUserContext_Missing(t *testing.T) {
	uc := newUserContext("uid=jdoe,dc=example,dc=com")
	uc.remember(map[string]string{"cn": "John Doe"})

	assert.Equal(t, []string{"mail", "sn"}, uc.missing([]string{"CN", "Mail", "mail", "sn"}))
	assert.Empty(t, uc.missing([]string{"cn"}))
	assert.Empty(t, uc.missing(nil))
}

func TestUserContext_ConcurrentAccess(t *testing.T) {
	uc := newUserContext("uid=jdoe,dc=example,dc=com")

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				uc.remember(map[string]string{"cn": "John Doe"})
			} else {
				uc.CachedAttribute("cn")
				uc.missing([]string{"cn", "mail"})
			}
		}()
	}
	wg.Wait()

	value, ok := uc.CachedAttribute("cn")
	assert.True(t, ok)
	assert.Equal(t, "John Doe", value)
}
