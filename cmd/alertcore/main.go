// Alertcore is the advanced alerting subsystem for the PlantWatch industrial IoT platform.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	alertapi "github.com/plantwatch/alertcore/internal/api"
	"github.com/plantwatch/alertcore/internal/api/handler"
	"github.com/plantwatch/alertcore/internal/bridge"
	"github.com/plantwatch/alertcore/internal/config"
	"github.com/plantwatch/alertcore/internal/db"
	"github.com/plantwatch/alertcore/internal/escalation"
	"github.com/plantwatch/alertcore/internal/health"
	"github.com/plantwatch/alertcore/internal/ingress"
	"github.com/plantwatch/alertcore/internal/metrics"
	"github.com/plantwatch/alertcore/internal/notify"
	"github.com/plantwatch/alertcore/internal/observability"
	"github.com/plantwatch/alertcore/internal/seed"
	"github.com/plantwatch/alertcore/internal/store"
	"github.com/plantwatch/alertcore/internal/version"
	"github.com/plantwatch/alertcore/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "alertcore",
		ServiceVersion: version.Version,
		Environment:    cfg.OTel.Environment,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
		SampleRatio:    cfg.OTel.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())
	slog.SetDefault(log)
	log.Info("starting alertcore", "version", version.Version, "commit", version.Commit, "db_driver", cfg.DB.Driver)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// --- Database ------------------------------------------------------------
	// db.New opens the connection, runs migrations (AutoMigrate for SQLite,
	// golang-migrate for Postgres), and returns the GORM handle plus an
	// optional pgxpool (non-nil only for postgres, used by River).
	gormDB, pool, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	log.Info("database ready", "driver", cfg.DB.Driver)

	st := store.New(gormDB)

	// --- Seed default escalation policies -------------------------------------
	if err := seed.EnsurePolicies(ctx, st, log); err != nil {
		return fmt.Errorf("seed policies: %w", err)
	}

	// --- Domain services -------------------------------------------------------
	grouper := ingress.NewGrouper(st, cfg.GroupingWindow())
	slaTracker := ingress.NewSLATracker(st, cfg.SLA.SeverityTargets, log)
	svc := ingress.NewService(st, grouper, slaTracker, log)
	anomalyBridge := bridge.New(svc, cfg.Bridge.MinConfidence, log)

	// --- Worker queue ----------------------------------------------------------
	// River migrations only run when Postgres is available.
	if pool != nil {
		if err := worker.MigrateRiver(ctx, pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}

	dispatcher := notify.NewLogDispatcher(log)
	wq, emitter, err := worker.New(ctx, pool, cfg.DB.Driver, cfg.Worker.Concurrency, st, dispatcher, log)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if emitter == nil {
		// No job queue available: dispatch intents synchronously.
		emitter = notify.NewDirectEmitter(st, dispatcher, log)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	// --- Escalation driver -------------------------------------------------------
	var locker escalation.Locker = escalation.NoopLocker{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer func() { _ = rdb.Close() }()
		locker = escalation.NewRedisLocker(rdb, uuid.New().String())
		log.Info("escalation tick lock backed by redis", "addr", cfg.Redis.Addr)
	}
	driver := escalation.NewDriver(st, emitter, locker, escalation.Config{
		TickInterval:  cfg.EscalationTickInterval(),
		BatchSize:     cfg.Escalation.BatchSize,
		AckSuppresses: cfg.Escalation.AcknowledgeSuppress,
	}, log)
	go driver.Run(ctx)

	// --- Anomaly detection ingress (Kafka) ----------------------------------------
	if cfg.Bridge.KafkaBrokers != "" {
		consumer, err := bridge.NewConsumer(
			cfg.Bridge.KafkaBrokers, cfg.Bridge.KafkaTopic, cfg.Bridge.KafkaGroupID,
			anomalyBridge, log)
		if err != nil {
			return fmt.Errorf("create kafka consumer: %w", err)
		}
		defer func() { _ = consumer.Close() }()
		go consumer.Run(ctx)
	}

	// --- HTTP routes ----------------------------------------------------------------
	mux := http.NewServeMux()
	alertapi.RegisterRoutes(mux, alertapi.Handlers{
		Health:        health.New(db.NewPinger(gormDB)),
		Alerts:        handler.NewAlertHandler(svc),
		Groups:        handler.NewGroupHandler(st, grouper),
		SLA:           handler.NewSLAHandler(slaTracker),
		OnCall:        handler.NewOnCallHandler(st),
		Policies:      handler.NewPolicyHandler(st),
		Notifications: handler.NewNotificationHandler(st),
		Anomalies:     handler.NewAnomalyHandler(anomalyBridge),
	}, cfg.Auth.Secret)
	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Start server ------------------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}
