package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/persistence"
	"EscrowLedger/internal/projection"
	"EscrowLedger/internal/query"
	"EscrowLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLogger("escrowledger")
	logger.Info().Msg("EscrowLedger starting")

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("EscrowLedger stopped")
	}
	logger.Info().Msg("EscrowLedger shutdown complete")
}

func run(cfg Config, logger zerolog.Logger) error {
	startTime := time.Now()

	// serveCtx scopes ingestion, the core and the network surfaces.
	// Workers get their own context so they can drain after serveCtx ends.
	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(serveCtx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	applied, err := persistence.NewMigrator(db, cfg.MigrationsDir, logger.With().Str("component", "migrator").Logger()).Up(serveCtx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddProbe("postgres", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return db.PingContext(ctx)
	})

	// --- Channels ---
	// The persist channel blocks (backpressure); the projection channel drops.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	streamChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
	requests := make(chan core.Request, cfg.RequestChanSize)

	// --- Core ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	c := core.NewCore(core.Config{
		GameOwner:   cfg.GameOwner,
		MarketOwner: cfg.MarketOwner,
		LRUCapacity: cfg.LRUCapacity,
		Logger:      logger.With().Str("component", "core").Logger(),
	}, persistCoreChan, projectionCoreChan, dbChecker, metrics)

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	writer := persistence.NewCommandLogWriter(db)
	replayed, err := recoverCore(serveCtx, c, snapMgr, writer, metrics, logger)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	logger.Info().Int64("replayed", replayed).Int64("sequence", c.GetSequence()).Msg("recovery complete")

	keys, err := dbChecker.RecentKeys(serveCtx, cfg.LRUWarmKeys)
	if err != nil {
		logger.Warn().Err(err).Msg("load recent idempotency keys")
	} else {
		c.WarmLRU(keys)
		logger.Info().Int("keys", len(keys)).Msg("warmed idempotency LRU")
	}

	if cfg.RebuildProjectionsOnStart {
		if err := projection.RebuildProjections(serveCtx, db, logger); err != nil {
			return fmt.Errorf("rebuild projections: %w", err)
		}
	}

	// --- NATS (optional) ---
	var (
		natsSubscriber *ingestion.NATSSubscriber
		publisher      *ingestion.OutboundPublisher
		publishChan    chan ingestion.PublishableEvent
		ingestChan     = make(chan ingestion.RawCommand, cfg.IngestChanSize)
	)
	if cfg.NATSURL != "" {
		natsLogger := logger.With().Str("component", "nats").Logger()
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		healthChecker.AddProbe("nats", func() error {
			if nc.Status() != nats.CONNECTED {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})

		if err := ingestion.EnsureStreams(serveCtx, js, natsLogger); err != nil {
			return err
		}
		natsSubscriber = ingestion.NewNATSSubscriber(js, ingestChan, natsLogger)
		if err := natsSubscriber.Subscribe(serveCtx); err != nil {
			return err
		}
		publishChan = make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
		publisher = ingestion.NewOutboundPublisher(js, publishChan, natsLogger)
	} else {
		logger.Warn().Msg("ESCROW_NATS_URL empty, NATS ingestion disabled")
	}

	// --- Services ---
	hub := server.NewEventHub(metrics, logger.With().Str("component", "stream").Logger())
	service := server.NewLedgerService(server.ServiceDeps{
		Ingest:        ingestion.NewGRPCIngestService(requests, metrics),
		State:         c,
		QueryService:  query.NewQueryService(db, metrics),
		DB:            db,
		HealthChecker: healthChecker,
		StartTime:     startTime,
		Logger:        logger.With().Str("component", "server").Logger(),
	})
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, service, hub, healthChecker, logger.With().Str("component", "server").Logger())

	// --- Goroutines ---
	errChan := make(chan error, 16)
	var workers, serving sync.WaitGroup

	// 1. Persistence worker
	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics,
		logger.With().Str("component", "persistence").Logger())
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	// 2. Projection worker
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, projection.NewTransferHistory(10000), metrics,
		logger.With().Str("component", "projection").Logger())
	workers.Add(1)
	go func() {
		defer workers.Done()
		projWorker.Run(workerCtx)
	}()

	// 3. Output bridges
	workers.Add(2)
	go func() {
		defer workers.Done()
		bridgePersist(persistCoreChan, persistWorkerChan, publishChan, streamChan, metrics)
	}()
	go func() {
		defer workers.Done()
		bridgeProjection(projectionCoreChan, projectionWorkerChan, metrics)
	}()

	// 4. Outbound publisher and websocket feed
	if publisher != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			publisher.Run(workerCtx)
		}()
	}
	workers.Add(1)
	go func() {
		defer workers.Done()
		hub.Run(workerCtx, streamChan)
	}()

	// 5. Core: the single writer
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		c.Run(serveCtx, requests)
	}()

	// 6. NATS → core
	handler := ingestion.NewCommandHandler("nats", requests, metrics, logger.With().Str("component", "ingest").Logger())
	serving.Add(1)
	go func() {
		defer serving.Done()
		handler.Run(serveCtx, ingestChan)
	}()

	// 7. gRPC server and HTTP gateway
	serving.Add(2)
	go func() {
		defer serving.Done()
		if err := grpcServer.StartGRPC(serveCtx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		defer serving.Done()
		if err := grpcServer.StartHTTPGateway(serveCtx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	// 8. Periodic snapshots
	serving.Add(1)
	go func() {
		defer serving.Done()
		runPeriodicSnapshots(serveCtx, c, snapMgr, cfg.SnapshotInterval, cfg.SnapshotCheckInterval, metrics,
			logger.With().Str("component", "snapshot").Logger())
	}()

	// 9. Channel gauges
	serving.Add(1)
	go func() {
		defer serving.Done()
		runChannelMetrics(serveCtx, metrics, map[string]func() (int, int){
			"requests":   func() (int, int) { return len(requests), cap(requests) },
			"ingest":     func() (int, int) { return len(ingestChan), cap(ingestChan) },
			"persist":    func() (int, int) { return len(persistCoreChan), cap(persistCoreChan) },
			"projection": func() (int, int) { return len(projectionCoreChan), cap(projectionCoreChan) },
			"stream":     func() (int, int) { return len(streamChan), cap(streamChan) },
		})
	}()

	// 10. Prometheus metrics server
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("sequence", c.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("EscrowLedger ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, let the core finish its current command, drain every
	// output to storage, then take a final snapshot.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	if natsSubscriber != nil {
		natsSubscriber.Stop()
	}
	stopServing()
	<-coreDone
	serving.Wait()

	close(persistCoreChan)
	close(projectionCoreChan)

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Error().Msg("workers did not drain in 30s")
		stopWorkers()
		<-drained
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := takeSnapshot(shutdownCtx, c, snapMgr, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else if _, err := snapMgr.VerifyPending(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot verification failed")
	} else {
		logger.Info().Int64("sequence", c.GetSequence()).Msg("final snapshot saved")
	}
	metricsServer.Shutdown(shutdownCtx)

	return runErr
}

// runChannelMetrics samples channel depth every 5s.
func runChannelMetrics(ctx context.Context, metrics *observability.Metrics, channels map[string]func() (int, int)) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, sample := range channels {
				size, capacity := sample()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}
