package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	blacklistrepo "budget-planner/backend/internal/blacklist/repository"
	"budget-planner/backend/internal/config"
	"budget-planner/backend/internal/db"
	healthhandler "budget-planner/backend/internal/health/handler"
	"budget-planner/backend/internal/identity/service"
	"budget-planner/backend/internal/logging"
	"budget-planner/backend/internal/metrics"
	"budget-planner/backend/internal/policy/engine"
	"budget-planner/backend/internal/realtime"
	"budget-planner/backend/internal/security"
	"budget-planner/backend/internal/server"
	sessionrepo "budget-planner/backend/internal/session/repository"
	"budget-planner/backend/internal/session/scanner"
	"budget-planner/backend/internal/telemetry"
	oteltelemetry "budget-planner/backend/internal/telemetry/otel"
	"budget-planner/backend/internal/telemetry/producer"
	"budget-planner/backend/internal/user/devseed"
	userrepo "budget-planner/backend/internal/user/repository"
)

const serviceName = "budget-planner-backend"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server_exit", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ring, err := loadKeys(ctx, cfg, logger)
	if err != nil {
		return err
	}
	issuer := security.NewTokenIssuer(ring, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	hasher := security.NewHasher(cfg.BcryptCost)

	st, err := openStores(ctx, cfg, hasher, logger)
	if err != nil {
		return err
	}
	defer st.close()

	policy, err := engine.NewOPAEvaluatorFromFile(ctx, cfg.AccessPolicyFile)
	if err != nil {
		return err
	}

	providers, err := oteltelemetry.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	kafka := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SessionEventsTopic)
	emitters := []telemetry.EventEmitter{oteltelemetry.NewEventEmitter(providers.LoggerProvider)}
	if kafka != nil {
		emitters = append(emitters, kafka)
		logger.Info("session_events_kafka", "topic", cfg.SessionEventsTopic)
	}
	emitter := telemetry.NewMultiEmitter(emitters...)

	m := metrics.New()
	registry := realtime.NewRegistry(realtime.Options{
		PongTimeout: cfg.PongTimeout(),
		Logger:      logger,
		Metrics:     m,
	})

	auth := service.NewAuthService(
		st.users, st.tokens, st.blacklist, issuer, hasher, st.uow, registry,
		cfg.RefreshSlidingTTL(), cfg.RefreshAbsoluteTTL(),
	).WithTelemetry(emitter, m).WithLogger(logger)

	sc := scanner.New(st.tokens, st.uow, registry, scanner.Options{
		Interval: cfg.ScannerEvery(),
		Emitter:  emitter,
		Logger:   logger,
		Metrics:  m,
	})
	janitor := scanner.NewJanitor(st.tokens, st.blacklist, cfg.RetentionKeep(), logger, m)

	bg, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()
	go sc.Run(bg)
	go janitor.Run(bg, cfg.RetentionEvery())
	go registry.RunHealthChecks(bg, cfg.HealthCheckEvery())

	var pinger healthhandler.Pinger
	if st.sqlDB != nil {
		pinger = st.sqlDB
	}
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.Deps{
			Logger:       logger,
			Auth:         auth,
			Registry:     registry,
			Policy:       policy,
			Health:       healthhandler.NewHandler(pinger, policy),
			Metrics:      m,
			CookieDomain: cfg.CookieDomain,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting_down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown", "error", err)
	}
	cancelBG()
	registry.Shutdown()

	// Let in-flight async emits finish before the exporters go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel_shutdown", "error", err)
	}
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			logger.Warn("kafka_close", "error", err)
		}
	}
	return nil
}

// loadKeys builds the signing key ring. Outside production an empty JWT_KEYS falls back to a
// random in-memory key so the server starts without setup.
func loadKeys(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*security.KeyRing, error) {
	specs := cfg.KeySpecs()
	if len(specs) == 0 && !cfg.IsProduction() {
		logger.Warn("jwt_ephemeral_key", "detail", "JWT_KEYS is empty; tokens will not survive a restart")
		return security.NewEphemeralKeyRing()
	}
	return security.LoadKeyRing(ctx, &security.KeySource{}, cfg.JWTActiveKID, specs)
}

type stores struct {
	sqlDB     *sql.DB
	uow       db.Factory
	users     userrepo.Repository
	tokens    sessionrepo.Repository
	blacklist blacklistrepo.Repository
	closers   []func() error
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// openStores selects Postgres when DATABASE_URL is set and in-memory stores otherwise.
// Memory mode seeds the development accounts so login works out of the box.
func openStores(ctx context.Context, cfg *config.Config, hasher *security.Hasher, logger *slog.Logger) (*stores, error) {
	st := &stores{}
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st.sqlDB = conn
		st.closers = append(st.closers, conn.Close)
		st.uow = db.SQLFactory{DB: conn}
		st.users = userrepo.NewPostgresRepository(conn)
		st.tokens = sessionrepo.NewPostgresRepository(conn)
	} else {
		logger.Warn("memory_stores", "detail", "DATABASE_URL is empty; state is lost on restart")
		users := userrepo.NewMemoryRepository()
		n, err := devseed.Apply(ctx, users, hasher, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		logger.Info("dev_accounts_seeded", "created", n, "email", devseed.DevUserEmail, "admin", devseed.AdminEmail)
		st.uow = db.NopFactory{}
		st.users = users
		st.tokens = sessionrepo.NewMemoryRepository()
	}

	switch cfg.BlacklistBackend {
	case config.BlacklistRedis:
		rdb, err := blacklistrepo.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, rdb.Close)
		st.blacklist = blacklistrepo.NewRedisRepository(rdb)
	case config.BlacklistPostgres:
		st.blacklist = blacklistrepo.NewPostgresRepository(st.sqlDB)
	default:
		st.blacklist = blacklistrepo.NewMemoryRepository(time.Now)
	}
	return st, nil
}
