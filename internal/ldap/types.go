package ldap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Default connection settings.
const (
	DefaultPort     = 389
	DefaultPoolSize = 8
	DefaultTimeout  = 30 * time.Second

	DefaultIDAttribute     = "uid"
	DefaultMemberAttribute = "member"
)

// ConnectionConfig holds configuration for the directory endpoint and its pool.
type ConnectionConfig struct {
	Host string `mapstructure:"host" yaml:"host" validate:"required"`
	Port int    `mapstructure:"port" yaml:"port" default:"389" validate:"gte=0,lte=65535"`

	// PoolSize is the fixed number of connections kept open.
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size" default:"8" validate:"gte=1,lte=100"`

	// Service account. Connections stay anonymous when BindDN is empty.
	BindDN       string `mapstructure:"bind_dn" yaml:"bind_dn" validate:"omitempty,dn"`
	BindPassword string `mapstructure:"bind_password" yaml:"bind_password"`

	// Timeout applies to dialing and to every request. Zero selects DefaultTimeout.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" default:"30s" validate:"gte=0"`

	// TLS settings
	UseTLS             bool        `mapstructure:"use_tls" yaml:"use_tls"`                                     // ldaps://
	StartTLS           bool        `mapstructure:"start_tls" yaml:"start_tls"`                                 // upgrade ldap:// with StartTLS
	InsecureSkipVerify bool        `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	CACertFile         string      `mapstructure:"ca_cert_file" yaml:"ca_cert_file" validate:"omitempty,file"` // PEM file added to the system roots
	CACert             string      `mapstructure:"ca_cert" yaml:"ca_cert"`                                     // inline PEM added to the system roots
	TLSConfig          *tls.Config `mapstructure:"-" yaml:"-" validate:"-"`                                    // overrides every other TLS setting
}

// UserSearchConfig controls how users are located in the directory.
type UserSearchConfig struct {
	BaseDN      string `mapstructure:"base_dn" yaml:"base_dn" validate:"required,dn"`
	IDAttribute string `mapstructure:"id_attribute" yaml:"id_attribute" default:"uid" validate:"required"`

	// ObjectClass restricts matches to entries of this class. Empty matches any entry.
	ObjectClass string `mapstructure:"object_class" yaml:"object_class"`

	// AdditionalAttributes are fetched eagerly alongside the user search.
	AdditionalAttributes []string `mapstructure:"additional_attributes" yaml:"additional_attributes"`
}

// GroupSearchConfig controls how group memberships are resolved.
type GroupSearchConfig struct {
	BaseDN          string `mapstructure:"base_dn" yaml:"base_dn" validate:"required,dn"`
	MemberAttribute string `mapstructure:"member_attribute" yaml:"member_attribute" default:"member" validate:"required"`
	ObjectClass     string `mapstructure:"object_class" yaml:"object_class"`
}

// DefaultConfig returns a connection configuration with default pool settings.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Port:     DefaultPort,
		PoolSize: DefaultPoolSize,
		Timeout:  DefaultTimeout,
	}
}

// HasAuthentication reports whether pooled connections bind as a service account.
func (c *ConnectionConfig) HasAuthentication() bool {
	return c.BindDN != ""
}

// Conn is the subset of *ldap.Conn used by the pool.
type Conn interface {
	Bind(username, password string) error
	UnauthenticatedBind(username string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SetTimeout(timeout time.Duration)
	IsClosing() bool
	Close() error
}

// Dialer opens a new connection to addr ("host:port").
type Dialer func(ctx context.Context, addr string) (Conn, error)

// Directory is the protocol client consumed by Service.
type Directory interface {
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	GetEntry(ctx context.Context, dn string, attributes []string) (*ldap.Entry, error)
	BindAndRevert(ctx context.Context, dn, password string) error
	Stats() PoolStats
	Close() error
}

// PoolStats provides statistics about the connection pool.
type PoolStats struct {
	Size    int           // Configured pool size
	Active  int64         // Connections checked out
	Idle    int           // Slots waiting in the pool
	Created int64         // Total connections dialed
	Errors  int64         // Total dial or bind errors
	Uptime  time.Duration // Pool uptime
}

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN     string
	Scope      SearchScope
	Filter     Filter
	Attributes []string
	SizeLimit  int
	TimeLimit  time.Duration
}

// SearchResult contains search results.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}
