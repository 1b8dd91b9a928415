package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"afterimage/internal/audit"
	audithandler "afterimage/internal/audit/handler"
	"afterimage/internal/cooldown"
	"afterimage/internal/decision"
	decisionhandler "afterimage/internal/decision/handler"
	decisionmetrics "afterimage/internal/decision/metrics"
	"afterimage/internal/decision/ports"
	"afterimage/internal/gate"
	jwttoken "afterimage/internal/jwt_token"
	"afterimage/internal/ledger"
	"afterimage/internal/ledger/export"
	ledgerhandler "afterimage/internal/ledger/handler"
	ledgermetrics "afterimage/internal/ledger/metrics"
	"afterimage/internal/platform/config"
	"afterimage/internal/platform/httpserver"
	"afterimage/internal/platform/kafka"
	"afterimage/internal/platform/logger"
	"afterimage/internal/platform/metrics"
	"afterimage/internal/platform/redis"
	"afterimage/internal/scope"
	"afterimage/internal/storage"
	httpapi "afterimage/internal/transport/http"
)

var version = "dev"

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("afterimage stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := gate.DefaultCatalog()
	if err != nil {
		return err
	}
	if cfg.Catalog.ParametersPath != "" {
		if err := catalog.LoadFile(cfg.Catalog.ParametersPath); err != nil {
			return err
		}
	}
	engine := gate.NewEngine(catalog)

	backend, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	appMetrics := metrics.New(version)
	l, err := ledger.Open(ctx, backend.Store, engine,
		ledger.WithLogger(log),
		ledger.WithMetrics(ledgermetrics.New()),
		ledger.WithSchemaVersion(cfg.Ledger.SchemaVersion),
		ledger.WithPageSize(cfg.Ledger.VerifyPageSize),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Close(); err != nil {
			log.Error("ledger close failed", "error", err)
		}
	}()

	// A broken chain is reported, not fatal: audit reads refuse it until
	// acknowledged and operators need the server up to investigate.
	if res, err := l.EnsureVerified(ctx); err != nil {
		return fmt.Errorf("initial ledger verification: %w", err)
	} else if !res.Valid() {
		log.Error("CRITICAL: ledger failed verification at startup",
			"broken_at", res.BrokenAt,
			"reason", res.Reason,
		)
	}

	directory, err := loadDirectory(cfg.Catalog)
	if err != nil {
		return err
	}
	scopes := scope.NewClaimsProvider(directory)

	redisClient, err := redis.New(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	health := map[string]httpapi.HealthCheck{
		"ledger": func(ctx context.Context) error {
			if res, ok := l.Integrity(); ok && !res.Valid() {
				return fmt.Errorf("chain broken at %d", res.BrokenAt)
			}
			return nil
		},
	}
	if redisClient != nil {
		defer redisClient.Close()
		health["redis"] = redisClient.Health
	}

	decisionOpts := []decision.Option{
		decision.WithLogger(log),
		decision.WithMetrics(decisionmetrics.New()),
	}
	if cfg.Cooldown.Enforce {
		var tracker ports.CooldownTracker = cooldown.NewInMemoryTracker(time.Now)
		if redisClient != nil {
			tracker = cooldown.NewRedisTracker(redisClient.Client)
		}
		decisionOpts = append(decisionOpts, decision.WithCooldowns(tracker))
	}
	decisionService, err := decision.New(scopes, l, decisionOpts...)
	if err != nil {
		return err
	}

	reader, err := audit.NewReader(l, audit.WithLogger(log), audit.WithPageSize(cfg.Ledger.VerifyPageSize))
	if err != nil {
		return err
	}
	replayer, err := audit.NewReplayer(l, engine, log)
	if err != nil {
		return err
	}

	var runExporter func(context.Context) error
	kafkaClient, err := kafka.New(ctx, cfg.Kafka, log)
	if err != nil {
		return err
	}
	if kafkaClient != nil {
		defer kafkaClient.Close()
		var cursor export.Cursor = export.NewMemoryCursor()
		if redisClient != nil {
			cursor = export.NewRedisCursor(redisClient.Client, cfg.Kafka.Topic)
		}
		exporter, err := export.New(l, export.NewKafkaSink(kafkaClient.Client, cfg.Kafka.Topic), cursor,
			export.WithLogger(log),
			export.WithInterval(cfg.Kafka.ExportInterval),
			export.WithBatchSize(cfg.Kafka.ExportBatch),
			export.WithLagObserver(appMetrics.SetExportLag),
		)
		if err != nil {
			return err
		}
		health["kafka"] = kafkaClient.Health
		runExporter = exporter.Run
	}

	ledgerHTTP := ledgerhandler.New(l, log)
	auditHTTP := audithandler.New(reader, replayer, log)
	router := httpapi.NewRouter(httpapi.Deps{
		Logger:     log,
		Validator:  jwttoken.NewValidator(jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer)),
		AdminToken: cfg.Auth.AdminToken,
		Decision:   decisionhandler.New(decisionService, log),
		Ledger:     ledgerHTTP,
		Audit:      auditHTTP,
		Operator: []httpapi.Registrar{
			httpapi.RegistrarFunc(ledgerHTTP.RegisterOperator),
			httpapi.RegistrarFunc(auditHTTP.RegisterOperator),
		},
		Health: health,
	})
	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting afterimage",
			"addr", cfg.Server.Addr,
			"store", backend.Name,
			"head_sequence_no", l.Head(gctx).SequenceNo,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return verifyPeriodically(gctx, l, cfg.Ledger.VerifyInterval, log)
	})

	if runExporter != nil {
		g.Go(func() error { return runExporter(gctx) })
	}

	err = g.Wait()
	log.Info("afterimage stopped")
	return err
}

func loadDirectory(cfg config.CatalogConfig) (*scope.Directory, error) {
	if cfg.ActorsPath == "" {
		return scope.NewDirectory(nil)
	}
	return scope.LoadDirectory(cfg.ActorsPath)
}

// verifyPeriodically extends verification to newly committed records so a
// tampered store is noticed without waiting for an audit query.
func verifyPeriodically(ctx context.Context, l *ledger.Ledger, every time.Duration, log *slog.Logger) error {
	if every <= 0 {
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := l.EnsureVerified(ctx); err != nil && ctx.Err() == nil {
				log.WarnContext(ctx, "periodic ledger verification failed", "error", err)
			}
		}
	}
}
