package ldap

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// FilterKind identifies the node type of a Filter.
type FilterKind int

const (
	FilterPresence FilterKind = iota
	FilterEquality
	FilterAnd
)

func (k FilterKind) String() string {
	switch k {
	case FilterPresence:
		return "presence"
	case FilterEquality:
		return "equality"
	case FilterAnd:
		return "and"
	default:
		return "unknown"
	}
}

// Filter is a search filter tree. Only the node types needed for user and
// group resolution are supported.
type Filter struct {
	Kind      FilterKind
	Attribute string   // presence, equality
	Value     string   // equality, unescaped
	Children  []Filter // and
}

// Presence matches entries that have attr.
func Presence(attr string) Filter {
	return Filter{Kind: FilterPresence, Attribute: attr}
}

// Equality matches entries where attr equals value.
func Equality(attr, value string) Filter {
	return Filter{Kind: FilterEquality, Attribute: attr, Value: value}
}

// And matches entries that satisfy every child filter.
func And(filters ...Filter) Filter {
	return Filter{Kind: FilterAnd, Children: filters}
}

// ObjectClassFilter restricts a search to objectClass, or to any entry when
// objectClass is blank.
func ObjectClassFilter(objectClass string) Filter {
	if strings.TrimSpace(objectClass) == "" {
		return Presence("objectclass")
	}
	return Equality("objectclass", objectClass)
}

// String renders the filter in RFC 4515 string form with values escaped.
func (f Filter) String() string {
	var b strings.Builder
	f.write(&b)
	return b.String()
}

func (f Filter) write(b *strings.Builder) {
	b.WriteByte('(')
	switch f.Kind {
	case FilterPresence:
		b.WriteString(f.Attribute)
		b.WriteString("=*")
	case FilterEquality:
		b.WriteString(f.Attribute)
		b.WriteByte('=')
		b.WriteString(ldap.EscapeFilter(f.Value))
	case FilterAnd:
		b.WriteByte('&')
		for _, child := range f.Children {
			child.write(b)
		}
	}
	b.WriteByte(')')
}
