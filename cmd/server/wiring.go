package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	audithandler "gatehouse/internal/audit/handler"
	authhandler "gatehouse/internal/auth/handler"
	"gatehouse/internal/auth/lockout"
	authservice "gatehouse/internal/auth/service"
	"gatehouse/internal/auth/store/revocation"
	identitystore "gatehouse/internal/identity/store"
	jwttoken "gatehouse/internal/jwt_token"
	opshandler "gatehouse/internal/operators/handler"
	opsservice "gatehouse/internal/operators/service"
	opsstore "gatehouse/internal/operators/store"
	"gatehouse/internal/photos"
	"gatehouse/internal/platform/config"
	"gatehouse/internal/platform/kafka"
	"gatehouse/internal/platform/metrics"
	"gatehouse/internal/platform/postgres"
	platformredis "gatehouse/internal/platform/redis"
	httptransport "gatehouse/internal/transport/http"
	visitshandler "gatehouse/internal/visits/handler"
	"gatehouse/internal/visits/index"
	visitsservice "gatehouse/internal/visits/service"
	visitstore "gatehouse/internal/visits/store"
	"gatehouse/pkg/facilitytime"
	audit "gatehouse/pkg/platform/audit"
	"gatehouse/pkg/platform/audit/publisher"
	"gatehouse/pkg/platform/audit/sink"
	auditmemory "gatehouse/pkg/platform/audit/store/memory"
	auditpostgres "gatehouse/pkg/platform/audit/store/postgres"
	"gatehouse/pkg/platform/audit/worker"
	"gatehouse/pkg/platform/circuit"
	"gatehouse/pkg/platform/clock"
	authmw "gatehouse/pkg/platform/middleware/auth"
)

// infra holds the optional external connections. Each is nil when its
// setting is empty.
type infra struct {
	db       *sql.DB
	redis    *platformredis.Client
	producer *kafka.Producer
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, postgres.Options{
			DSN:          cfg.Database.URL,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			return nil, err
		}
		in.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			in.Close()
			return nil, err
		}
	} else {
		log.Warn("DATABASE_URL not set; using in-memory stores")
	}

	client, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		in.Close()
		return nil, err
	}
	in.redis = client

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.producer = producer
		if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("could not ensure audit topic; relying on broker auto-create", "topic", producer.Topic(), "error", err)
		}
	}
	return in, nil
}

func (in *infra) storageKind() string {
	if in.db != nil {
		return "postgres"
	}
	return "memory"
}

func (in *infra) healthChecks() map[string]httptransport.HealthCheck {
	checks := map[string]httptransport.HealthCheck{}
	if in.db != nil {
		checks["postgres"] = in.db.PingContext
	}
	if in.redis != nil {
		checks["redis"] = in.redis.Health
	}
	if in.producer != nil {
		checks["kafka"] = in.producer.Ping
	}
	return checks
}

func (in *infra) Close() {
	if in.producer != nil {
		in.producer.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
}

type app struct {
	router    http.Handler
	publisher *publisher.Publisher
	purge     purger
}

// Close drains queued audit entries.
func (a *app) Close() {
	a.publisher.Close()
}

func buildApp(ctx context.Context, cfg config.Config, in *infra, log *slog.Logger) (*app, error) {
	m := metrics.New()
	clk := clock.System
	a := &app{}

	var (
		identities visitsservice.IdentityStore
		ledger     interface {
			visitsservice.VisitStore
			index.Ledger
		}
		operatorStore interface {
			opsservice.Store
			authservice.OperatorStore
			visitsservice.OperatorDirectory
		}
		auditStore  audit.Store
		revocations authservice.RevocationList
		visitOpts   []visitsservice.Option
	)
	if in.db != nil {
		identities = identitystore.NewPostgres(in.db)
		ledger = visitstore.NewPostgres(in.db)
		operatorStore = opsstore.NewPostgres(in.db)
		auditStore = auditpostgres.New(in.db)
		visitOpts = append(visitOpts, visitsservice.WithTx(visitstore.NewPostgresTx(in.db)))
	} else {
		identities = identitystore.NewInMemory()
		ledger = visitstore.NewInMemory()
		operatorStore = opsstore.NewInMemory()
		auditStore = auditmemory.NewInMemoryStore()
	}

	switch {
	case in.redis != nil:
		revocations = revocation.NewRedisTRL(in.redis.Client)
	case in.db != nil:
		trl := revocation.NewPostgresTRL(in.db, nil)
		revocations = trl
		a.purge = trl
	default:
		revocations = revocation.NewInMemoryTRL(nil)
	}

	var lockoutStore lockout.Store = lockout.NewInMemoryStore(clk.Now)
	if in.redis != nil {
		lockoutStore = lockout.NewRedisStore(in.redis.Client)
	}
	loginLockout, err := lockout.New(lockoutStore,
		lockout.WithLogger(log),
		lockout.WithConfig(lockout.Config{
			AttemptsPerWindow: cfg.Auth.LockoutAttempts,
			Window:            cfg.Auth.LockoutWindow,
			LockDuration:      cfg.Auth.LockoutDuration,
		}),
	)
	if err != nil {
		return nil, err
	}

	workerOpts := []worker.Option{worker.WithMetrics(m)}
	if in.producer != nil {
		workerOpts = append(workerOpts, worker.WithSink(sink.NewKafkaSink(in.producer), circuit.New("audit-kafka")))
	}
	a.publisher = publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(cfg.Audit.QueueSize),
		publisher.WithWorkerOptions(workerOpts...),
		publisher.WithLogger(log),
		publisher.WithDropCounter(m),
	)

	photoStorage, photoHandler, err := openPhotoStorage(ctx, cfg.Photos)
	if err != nil {
		a.Close()
		return nil, err
	}

	opsSvc, err := opsservice.New(operatorStore,
		opsservice.WithLogger(log),
		opsservice.WithAuditPublisher(a.publisher),
		opsservice.WithMetrics(m),
		opsservice.WithClock(clk),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	created, err := opsSvc.EnsureBootstrapAdmin(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPassword)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		log.Warn("created bootstrap admin; change its password", "email", cfg.Auth.BootstrapAdminEmail)
	}

	jwtSvc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.AccessTokenTTL,
		jwttoken.WithClock(clk))
	authSvc, err := authservice.New(operatorStore, jwtSvc, revocations,
		authservice.WithLogger(log),
		authservice.WithAuditPublisher(a.publisher),
		authservice.WithMetrics(m),
		authservice.WithClock(clk),
		authservice.WithLockout(loginLockout),
		authservice.WithRefreshTTL(cfg.Auth.RefreshTokenTTL),
		authservice.WithRevocationFailureMode(authservice.RevocationFailureMode(cfg.Auth.RevocationFailureMode)),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	visitOpts = append(visitOpts,
		visitsservice.WithLogger(log),
		visitsservice.WithAuditPublisher(a.publisher),
		visitsservice.WithMetrics(m),
		visitsservice.WithClock(clk),
		visitsservice.WithOperatorDirectory(operatorStore),
	)
	visitsSvc, err := visitsservice.New(identities, ledger, index.New(ledger), photoStorage, visitOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	zone := facilitytime.Load(cfg.Facility.Timezone)
	deps := httptransport.Deps{
		Logger:      log,
		Metrics:     m,
		Clock:       clk,
		CORSOrigins: cfg.Server.CORSOrigins,
		RequireAuth: authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtSvc), authSvc, log),
		Auth:        authhandler.New(authSvc, log),
		API: []httptransport.APIHandler{
			visitshandler.New(visitsSvc, zone, log),
			opshandler.New(opsSvc, log),
			audithandler.New(a.publisher, log),
		},
		HealthChecks: in.healthChecks(),
	}
	if photoHandler != nil {
		deps.Photos = photoHandler.Handler()
		deps.PhotoPrefix = photoHandler.PublicPrefix()
	}
	a.router = httptransport.NewRouter(deps)
	return a, nil
}

// openPhotoStorage returns the configured backend and, for the filesystem
// backend, the storage again so its files can be served.
func openPhotoStorage(ctx context.Context, cfg config.Photos) (visitsservice.PhotoStorage, *photos.FileStorage, error) {
	switch cfg.Backend {
	case "s3":
		client, err := photos.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		return photos.NewS3Storage(client, cfg.S3.Bucket, cfg.S3.PublicBaseURL), nil, nil
	default:
		fs, err := photos.NewFileStorage(cfg.Dir, cfg.PublicPrefix)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	}
}
