// Package app builds the service graph from configuration. cmd/server and the
// end-to-end tests share it so both run exactly the same wiring.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"consentvault/internal/auth"
	consenthandler "consentvault/internal/consent/handler"
	consentservice "consentvault/internal/consent/service"
	consentstore "consentvault/internal/consent/store"
	forgethandler "consentvault/internal/forget/handler"
	forgetservice "consentvault/internal/forget/service"
	jwttoken "consentvault/internal/jwt_token"
	"consentvault/internal/keystore"
	"consentvault/internal/platform/config"
	"consentvault/internal/platform/kafka"
	"consentvault/internal/platform/metrics"
	"consentvault/internal/platform/postgres"
	"consentvault/internal/platform/redis"
	policyhandler "consentvault/internal/policy/handler"
	"consentvault/internal/policy/reference"
	policyservice "consentvault/internal/policy/service"
	policystore "consentvault/internal/policy/store"
	httptransport "consentvault/internal/transport/http"
	audit "consentvault/pkg/platform/audit"
	"consentvault/pkg/platform/audit/publishers/compliance"
	auditkafka "consentvault/pkg/platform/audit/store/kafka"
	auditmemory "consentvault/pkg/platform/audit/store/memory"
	auditpostgres "consentvault/pkg/platform/audit/store/postgres"
	"consentvault/pkg/platform/circuit"
	"consentvault/pkg/platform/tx"
)

// App is a fully wired service.
type App struct {
	Handler  http.Handler
	Policies *policyservice.Service

	closers []func() error
}

// backend groups the stores of one storage backend.
type backend struct {
	runner   tx.Runner
	keys     keystore.Store
	ledger   consentservice.Store
	policies interface {
		policyservice.Store
		reference.Reference
	}
	audit audit.Store
}

// New wires every component. Close releases the connections it opened, also
// when New fails halfway.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	m := metrics.New(reg)
	var readiness []httptransport.ReadinessCheck

	b, db, err := a.openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if db != nil {
		readiness = append(readiness, httptransport.ReadinessCheck{Name: "postgres", Check: db.PingContext})
	}

	if cfg.KafkaEnabled() {
		kc, err := kafka.New(ctx, cfg.Kafka)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { kc.Close(); return nil })
		if err := auditkafka.EnsureTopic(ctx, kc.Client, cfg.Kafka.AuditTopic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			return nil, err
		}
		b.audit = auditkafka.New(kc.Client, cfg.Kafka.AuditTopic)
		readiness = append(readiness, httptransport.ReadinessCheck{Name: "kafka", Check: kc.Health})
		logger.InfoContext(ctx, "audit events go to kafka", "topic", cfg.Kafka.AuditTopic)
	}

	var lookup reference.Reference = b.policies
	policyOpts := []policyservice.Option{policyservice.WithLogger(logger)}
	if cfg.RedisEnabled() {
		rc, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		cached := reference.NewCachedReference(b.policies, rc.Client, cfg.Redis.PolicyTTL, cfg.Redis.NegativeTTL,
			reference.WithBreaker(circuit.New("policy-cache",
				circuit.WithFailureThreshold(cfg.Redis.BreakerThreshold),
				circuit.WithCooldown(cfg.Redis.BreakerCooldown),
			)),
			reference.WithCacheLogger(logger),
			reference.WithFetchTimeout(cfg.Policy.LookupTimeout),
		)
		lookup = cached
		policyOpts = append(policyOpts, policyservice.WithCacheInvalidator(cached))
		readiness = append(readiness, httptransport.ReadinessCheck{Name: "redis", Check: rc.Health})
	}
	policyRef := reference.NewBoundedReference(lookup, cfg.Policy.LookupTimeout, m)

	master, err := cfg.Keys.MasterKeyBytes()
	if err != nil {
		return nil, err
	}
	wrapper, err := keystore.NewWrapper(master)
	if err != nil {
		return nil, err
	}

	publisher := compliance.New(b.audit,
		compliance.WithLogger(logger),
		compliance.WithMetrics(compliance.NewMetrics(reg)),
	)
	keys := keystore.NewService(b.keys, wrapper, b.runner,
		keystore.WithAuditPublisher(publisher),
		keystore.WithMetrics(m),
		keystore.WithLogger(logger),
	)
	consents := consentservice.New(b.ledger, keys, policyRef, b.runner,
		consentservice.WithAuditPublisher(publisher),
		consentservice.WithMetrics(m),
		consentservice.WithLogger(logger),
	)
	forget := forgetservice.New(keys,
		forgetservice.WithMetrics(m),
		forgetservice.WithLogger(logger),
	)
	a.Policies = policyservice.New(b.policies, policyOpts...)

	tokens := jwttoken.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.ClockSkew)

	a.Handler = httptransport.NewRouter(httptransport.Deps{
		Logger:         logger,
		Metrics:        m,
		Gatherer:       reg,
		Verifier:       auth.NewVerifier(tokens),
		RequestTimeout: cfg.Server.RequestTimeout,
		Authenticated: []httptransport.RouteRegistrar{
			consenthandler.New(consents, logger),
			forgethandler.New(forget, logger),
		},
		Public: []httptransport.RouteRegistrar{
			policyhandler.New(a.Policies, logger),
		},
		Readiness: readiness,
	})
	return a, nil
}

func (a *App) openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, *sql.DB, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		logger.WarnContext(ctx, "using in-memory storage; data is lost on restart")
		return &backend{
			runner:   tx.NewShardedRunner(cfg.Storage.TxTimeout),
			keys:     keystore.NewInMemoryStore(),
			ledger:   consentstore.NewInMemoryStore(),
			policies: policystore.NewInMemoryStore(),
			audit:    auditmemory.NewInMemoryStore(),
		}, nil, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		if cfg.Database.MigrateOnStart {
			if err := postgres.Migrate(ctx, db); err != nil {
				return nil, nil, err
			}
			logger.InfoContext(ctx, "database migrations applied")
		}
		return &backend{
			runner:   postgres.NewTxRunner(db, cfg.Storage.TxTimeout),
			keys:     keystore.NewPostgresStore(db),
			ledger:   consentstore.NewPostgresStore(db),
			policies: policystore.NewPostgresStore(db),
			audit:    auditpostgres.New(db),
		}, db, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
