package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// MaxConnectionPoolLimit is the maximum allowed connections in a pool.
const MaxConnectionPoolLimit = 100

// ConnectionPool keeps a fixed number of connections to one directory
// endpoint, each bound as the configured service account.
type ConnectionPool struct {
	ctx       context.Context // Logging context with LDAP subsystem
	config    *ConnectionConfig
	dial      Dialer
	tlsConfig *tls.Config

	slots  chan *pooledConn
	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	// Statistics
	activeConns  int64
	totalCreated int64
	totalErrors  int64
	startTime    time.Time
}

// pooledConn is one pool slot. A nil conn means the slot must be re-dialed
// before use.
type pooledConn struct {
	conn     Conn
	lastUsed time.Time
	broken   bool
}

// PoolOption customizes a ConnectionPool.
type PoolOption func(*ConnectionPool)

// WithDialer replaces the network dialer.
func WithDialer(dialer Dialer) PoolOption {
	return func(p *ConnectionPool) {
		p.dial = dialer
	}
}

// NewConnectionPool validates config and establishes every pooled connection.
// Construction is all-or-nothing: on any failure the connections opened so far
// are closed and the mapped error is returned.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig, opts ...PoolOption) (*ConnectionPool, error) {
	start := time.Now()
	ctx = NewLoggingContext(ctx)

	if config == nil {
		return nil, errors.New("connection configuration is required")
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tlsConfig, err := buildTLSConfig(config)
	if err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	p := &ConnectionPool{
		ctx:       ctx,
		config:    config,
		tlsConfig: tlsConfig,
		slots:     make(chan *pooledConn, config.PoolSize),
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	p.dial = p.dialURL
	for _, opt := range opts {
		opt(p)
	}

	tflog.SubsystemDebug(ctx, "ldap", "Creating connection pool", map[string]any{
		"host":      config.Host,
		"port":      config.Port,
		"pool_size": config.PoolSize,
		"bind_dn":   config.BindDN,
	})

	established := make([]*pooledConn, 0, config.PoolSize)
	for range config.PoolSize {
		pc, err := p.connect(ctx)
		if err != nil {
			for _, open := range established {
				open.conn.Close()
			}
			LogPoolEvent(ctx, PoolCreationFailed, map[string]any{
				"error":       err.Error(),
				"established": len(established),
			})
			return nil, err
		}
		established = append(established, pc)
	}
	for _, pc := range established {
		p.slots <- pc
	}

	LogPoolEvent(ctx, PoolInitialized, map[string]any{
		"pool_size": config.PoolSize,
		"duration":  time.Since(start).String(),
	})
	return p, nil
}

func (p *ConnectionPool) address() string {
	port := p.config.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(p.config.Host, strconv.Itoa(port))
}

func (p *ConnectionPool) timeout() time.Duration {
	if p.config.Timeout == 0 {
		return DefaultTimeout
	}
	return p.config.Timeout
}

// connect dials and authenticates one connection.
func (p *ConnectionPool) connect(ctx context.Context) (*pooledConn, error) {
	conn, err := p.dial(ctx, p.address())
	if err != nil {
		atomic.AddInt64(&p.totalErrors, 1)
		return nil, p.connectError("connect", err)
	}
	conn.SetTimeout(p.timeout())

	if p.config.HasAuthentication() {
		if err := conn.Bind(p.config.BindDN, p.config.BindPassword); err != nil {
			atomic.AddInt64(&p.totalErrors, 1)
			conn.Close()
			return nil, p.connectError("bind", err)
		}
	}

	atomic.AddInt64(&p.totalCreated, 1)
	return &pooledConn{conn: conn, lastUsed: time.Now()}, nil
}

func (p *ConnectionPool) connectError(operation string, err error) error {
	return NewLDAPError(errorCodeForConnect(err), operation, err).
		With("host", p.config.Host).
		With("port", p.config.Port).
		With("dn", p.config.BindDN)
}

// dialURL is the default Dialer.
func (p *ConnectionPool) dialURL(ctx context.Context, addr string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, err)
	}

	scheme := "ldap"
	if p.config.UseTLS {
		scheme = "ldaps"
	}
	url := scheme + "://" + addr

	conn, err := ldap.DialURL(url,
		ldap.DialWithDialer(&net.Dialer{Timeout: p.timeout()}),
		ldap.DialWithTLSConfig(p.tlsConfig),
	)
	if err != nil {
		return nil, err
	}

	if p.config.StartTLS && !p.config.UseTLS {
		if err := conn.StartTLS(p.tlsConfig); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return ldapConn{conn}, nil
}

// restoreIdentity re-binds conn as the service account, or anonymously when
// none is configured.
func (p *ConnectionPool) restoreIdentity(conn Conn) error {
	if p.config.HasAuthentication() {
		return conn.Bind(p.config.BindDN, p.config.BindPassword)
	}
	return conn.UnauthenticatedBind("")
}

// get checks a slot out of the pool, blocking until one is free.
func (p *ConnectionPool) get(ctx context.Context) (*pooledConn, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, errPoolClosed
	}

	var pc *pooledConn
	select {
	case pc = <-p.slots:
	case <-p.done:
		return nil, errPoolClosed
	case <-ctx.Done():
		LogPoolEvent(p.ctx, PoolWaitCancelled, map[string]any{
			"error": ctx.Err().Error(),
		})
		return nil, ctx.Err()
	}

	if pc.conn == nil || pc.conn.IsClosing() {
		if pc.conn != nil {
			pc.conn.Close()
		}
		fresh, err := p.connect(ctx)
		if err != nil {
			p.release(&pooledConn{})
			LogPoolEvent(p.ctx, ConnectionFailed, map[string]any{
				"error": err.Error(),
			})
			return nil, err
		}
		LogPoolEvent(p.ctx, ConnectionRedialed, nil)
		pc = fresh
	}

	atomic.AddInt64(&p.activeConns, 1)
	return pc, nil
}

// release returns a slot to the pool. Broken connections are closed and
// their slot is re-dialed on the next checkout.
func (p *ConnectionPool) release(pc *pooledConn) {
	if pc.conn != nil {
		atomic.AddInt64(&p.activeConns, -1)
	}
	if pc.broken && pc.conn != nil {
		pc.conn.Close()
		pc = &pooledConn{}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		if pc.conn != nil {
			pc.conn.Close()
		}
		return
	}

	pc.lastUsed = time.Now()
	select {
	case p.slots <- pc:
	default:
		// Cannot happen while every slot is checked out at most once.
		if pc.conn != nil {
			pc.conn.Close()
		}
	}
}

// withConn runs fn on a checked-out connection and always releases it.
func (p *ConnectionPool) withConn(ctx context.Context, fn func(pc *pooledConn) error) error {
	pc, err := p.get(ctx)
	if err != nil {
		return err
	}
	defer p.release(pc)

	err = fn(pc)
	if err != nil && isNetworkError(err) {
		pc.broken = true
		LogPoolEvent(p.ctx, ConnectionLost, map[string]any{
			"error": err.Error(),
		})
	}
	return err
}

// Search performs an LDAP search on a pooled connection.
func (p *ConnectionPool) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, errors.New("search request cannot be nil")
	}

	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		ldap.NeverDerefAliases,
		req.SizeLimit,
		int(req.TimeLimit.Seconds()),
		false, // TypesOnly
		req.Filter.String(),
		req.Attributes,
		nil, // Controls
	)

	var result *ldap.SearchResult
	err := p.withConn(ctx, func(pc *pooledConn) error {
		var searchErr error
		result, searchErr = pc.conn.Search(ldapReq)
		return searchErr
	})
	if err != nil {
		return nil, err
	}

	return &SearchResult{
		Entries: result.Entries,
		Total:   len(result.Entries),
	}, nil
}

// GetEntry reads the entry at dn, returning only the requested attributes.
func (p *ConnectionPool) GetEntry(ctx context.Context, dn string, attributes []string) (*ldap.Entry, error) {
	result, err := p.Search(ctx, &SearchRequest{
		BaseDN:     dn,
		Scope:      ScopeBaseObject,
		Filter:     Presence("objectClass"),
		Attributes: attributes,
		SizeLimit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("entry %q not found", dn))
	}
	return result.Entries[0], nil
}

// BindAndRevert verifies password for dn with a bind, then restores the
// connection's original identity before it goes back to the pool. A
// connection whose identity cannot be restored is discarded.
func (p *ConnectionPool) BindAndRevert(ctx context.Context, dn, password string) error {
	return p.withConn(ctx, func(pc *pooledConn) error {
		bindErr := pc.conn.Bind(dn, password)

		if err := p.restoreIdentity(pc.conn); err != nil {
			pc.broken = true
			LogPoolEvent(p.ctx, IdentityRestoreFailed, map[string]any{
				"dn":    p.config.BindDN,
				"error": err.Error(),
			})
		}

		return bindErr
	})
}

// Close closes all idle connections and shuts down the pool. Connections
// still checked out are closed when released. Close is idempotent and safe
// on a nil pool.
func (p *ConnectionPool) Close() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)

	for {
		select {
		case pc := <-p.slots:
			if pc.conn != nil {
				pc.conn.Close()
			}
		default:
			LogPoolEvent(p.ctx, PoolClosed, nil)
			return nil
		}
	}
}

// Stats returns pool statistics.
func (p *ConnectionPool) Stats() PoolStats {
	return PoolStats{
		Size:    p.config.PoolSize,
		Active:  atomic.LoadInt64(&p.activeConns),
		Idle:    len(p.slots),
		Created: atomic.LoadInt64(&p.totalCreated),
		Errors:  atomic.LoadInt64(&p.totalErrors),
		Uptime:  time.Since(p.startTime),
	}
}

// validateConfig validates the connection configuration.
func validateConfig(config *ConnectionConfig) error {
	if config.Host == "" {
		return errors.New("host is required")
	}

	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d out of range", config.Port)
	}

	if config.PoolSize <= 0 {
		return errors.New("PoolSize must be positive")
	}

	if config.PoolSize > MaxConnectionPoolLimit {
		return fmt.Errorf("PoolSize too high (max %d)", MaxConnectionPoolLimit)
	}

	if config.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}

	if config.BindDN == "" && config.BindPassword != "" {
		return errors.New("bind password set without bind DN")
	}

	return nil
}

// ldapConn adapts *ldap.Conn to Conn.
type ldapConn struct {
	*ldap.Conn
}

func (c ldapConn) Close() error {
	c.Conn.Close()
	return nil
}

var _ Directory = (*ConnectionPool)(nil)
