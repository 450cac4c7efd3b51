package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/isometry/ldaprealm/internal/config"
	"github.com/isometry/ldaprealm/internal/ldap"
	"github.com/isometry/ldaprealm/internal/realm"
)

// LogLevelEnv sets the root log level. Subsystems have their own variables.
const LogLevelEnv = "LDAPREALM_LOG"

// session is one configured realm with its connection pool.
type session struct {
	cfg      *config.Config
	pool     *ldap.ConnectionPool
	realm    *realm.Realm
	registry *prometheus.Registry
}

// newRootLogger writes to stderr. Without LDAPREALM_LOG only warnings and
// errors are shown.
func newRootLogger(ctx context.Context) context.Context {
	if os.Getenv(LogLevelEnv) == "" {
		return tfsdklog.NewRootProviderLogger(ctx,
			tfsdklog.WithLogName("ldaprealm"),
			tfsdklog.WithLevel(hclog.Warn),
			tfsdklog.WithoutLocation(),
		)
	}
	return tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName("ldaprealm"),
		tfsdklog.WithLevelFromEnv(LogLevelEnv),
		tfsdklog.WithoutLocation(),
	)
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	ctx = newRootLogger(ctx)

	var opts []ldap.PoolOption
	if dialer != nil {
		opts = append(opts, ldap.WithDialer(dialer))
	}

	pool, err := ldap.NewConnectionPool(ctx, &cfg.Connection, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Connection.Host, err)
	}

	registry := prometheus.NewRegistry()
	svc := ldap.NewService(ctx, pool, cfg.User, cfg.Group)
	r := realm.New(ctx, svc, append(cfg.RealmOptions(), realm.WithMetrics(realm.NewMetrics(registry)))...)

	return &session{
		cfg:      cfg,
		pool:     pool,
		realm:    r,
		registry: registry,
	}, nil
}

// close releases the pool, printing metrics first when requested.
func (s *session) close(w io.Writer) error {
	if showMetrics {
		if err := writeMetrics(w, s.registry); err != nil {
			_ = s.pool.Close()
			return err
		}
		stats := s.pool.Stats()
		fmt.Fprintf(w, "# pool size=%d active=%d idle=%d created=%d errors=%d\n",
			stats.Size, stats.Active, stats.Idle, stats.Created, stats.Errors)
	}
	return s.pool.Close()
}

func writeMetrics(w io.Writer, registry prometheus.Gatherer) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}
