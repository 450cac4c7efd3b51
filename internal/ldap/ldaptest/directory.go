// Package ldaptest provides an in-process directory that speaks the subset of
// the go-ldap connection API used by the ldap package, for tests.
package ldaptest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// Entry is one directory entry.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// Server is an in-memory directory. It is safe for concurrent use.
type Server struct {
	mu        sync.RWMutex
	entries   []*Entry
	passwords map[string]string // lowercase DN -> password
	conns     []*Conn
	dialErr   error

	dials    atomic.Int64
	binds    atomic.Int64
	searches atomic.Int64
}

// NewServer returns an empty directory.
func NewServer() *Server {
	return &Server{passwords: make(map[string]string)}
}

// AddEntry adds an entry to the directory.
func (s *Server) AddEntry(dn string, attributes map[string][]string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, &Entry{DN: dn, Attributes: attributes})
	return s
}

// SetPassword registers a bind password for dn.
func (s *Server) SetPassword(dn, password string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.passwords[strings.ToLower(dn)] = password
	return s
}

// FailDials makes every subsequent Dial fail with err. A nil err restores
// normal dialing.
func (s *Server) FailDials(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dialErr = err
}

// Dial opens a new connection. Its signature matches ldap.Dialer once the
// result is returned as an ldap.Conn.
func (s *Server) Dial(ctx context.Context, addr string) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dialErr != nil {
		return nil, s.dialErr
	}

	s.dials.Add(1)
	c := &Conn{server: s, addr: addr}
	s.conns = append(s.conns, c)
	return c, nil
}

// Conns returns every connection dialed so far.
func (s *Server) Conns() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.conns)
}

// Dials returns the number of successful dials.
func (s *Server) Dials() int64 { return s.dials.Load() }

// Binds returns the number of bind requests, including unauthenticated ones.
func (s *Server) Binds() int64 { return s.binds.Load() }

// Searches returns the number of search requests.
func (s *Server) Searches() int64 { return s.searches.Load() }

func (s *Server) lookup(dn string) *Entry {
	for _, e := range s.entries {
		if strings.EqualFold(e.DN, dn) {
			return e
		}
	}
	return nil
}

// Conn is one connection to a Server.
type Conn struct {
	server *Server
	addr   string

	mu      sync.Mutex
	boundDN string
	closed  bool
	timeout time.Duration
}

// BoundDN returns the identity the connection is currently bound as; "" is
// anonymous.
func (c *Conn) BoundDN() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.boundDN
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// Drop simulates the server closing the connection.
func (c *Conn) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
}

func (c *Conn) Bind(username, password string) error {
	c.server.binds.Add(1)
	if password == "" {
		return ldap.NewError(ldap.ErrorEmptyPassword, errors.New("ldap: empty password not allowed by the client"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}

	c.server.mu.RLock()
	want, hasPassword := c.server.passwords[strings.ToLower(username)]
	exists := c.server.lookup(username) != nil
	c.server.mu.RUnlock()

	// A failed bind leaves the connection anonymous.
	c.boundDN = ""
	switch {
	case !hasPassword && !exists:
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object: %s", username))
	case !hasPassword || want != password:
		return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	}

	c.boundDN = username
	return nil
}

func (c *Conn) UnauthenticatedBind(username string) error {
	c.server.binds.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}

	c.boundDN = ""
	return nil
}

func (c *Conn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	c.server.searches.Add(1)
	if c.IsClosing() {
		return nil, ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}

	filter, err := ldap.CompileFilter(req.Filter)
	if err != nil {
		return nil, err
	}

	c.server.mu.RLock()
	defer c.server.mu.RUnlock()

	if req.Scope == ldap.ScopeBaseObject && c.server.lookup(req.BaseDN) == nil {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object: %s", req.BaseDN))
	}

	result := &ldap.SearchResult{}
	for _, e := range c.server.entries {
		if !inScope(e.DN, req.BaseDN, req.Scope) || !matches(filter, e) {
			continue
		}
		result.Entries = append(result.Entries, project(e, req.Attributes))
	}
	return result, nil
}

func (c *Conn) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timeout = timeout
}

// Timeout returns the request timeout last set on the connection.
func (c *Conn) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.timeout
}

func (c *Conn) IsClosing() bool {
	return c.Closed()
}

func (c *Conn) Close() error {
	c.Drop()
	return nil
}

func inScope(dn, base string, scope int) bool {
	dn, base = strings.ToLower(dn), strings.ToLower(base)
	switch scope {
	case ldap.ScopeBaseObject:
		return dn == base
	case ldap.ScopeSingleLevel:
		_, parent, ok := strings.Cut(dn, ",")
		return ok && parent == base
	default:
		return dn == base || strings.HasSuffix(dn, ","+base)
	}
}

func matches(p *ber.Packet, e *Entry) bool {
	switch p.Tag {
	case ldap.FilterAnd:
		for _, child := range p.Children {
			if !matches(child, e) {
				return false
			}
		}
		return true
	case ldap.FilterOr:
		for _, child := range p.Children {
			if matches(child, e) {
				return true
			}
		}
		return false
	case ldap.FilterNot:
		return len(p.Children) == 1 && !matches(p.Children[0], e)
	case ldap.FilterPresent:
		name, _ := p.Value.(string)
		return len(values(e, name)) > 0
	case ldap.FilterEqualityMatch:
		if len(p.Children) != 2 {
			return false
		}
		name, _ := p.Children[0].Value.(string)
		want, _ := p.Children[1].Value.(string)
		return slices.ContainsFunc(values(e, name), func(v string) bool {
			return strings.EqualFold(v, want)
		})
	default:
		return false
	}
}

func values(e *Entry, name string) []string {
	for attr, vals := range e.Attributes {
		if strings.EqualFold(attr, name) {
			return vals
		}
	}
	return nil
}

func project(e *Entry, attributes []string) *ldap.Entry {
	if len(attributes) == 0 {
		return ldap.NewEntry(e.DN, e.Attributes)
	}

	selected := make(map[string][]string)
	for attr, vals := range e.Attributes {
		if slices.ContainsFunc(attributes, func(a string) bool { return strings.EqualFold(a, attr) }) {
			selected[attr] = vals
		}
	}
	return ldap.NewEntry(e.DN, selected)
}
