package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"BattleLedger/internal/battle"
	"BattleLedger/internal/config"
	"BattleLedger/internal/event"
	"BattleLedger/internal/ingestion"
	"BattleLedger/internal/observability"
	"BattleLedger/internal/persistence"
	"BattleLedger/internal/server"
	"BattleLedger/internal/settlement"
)

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("BattleLedger starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	log.Info().Msg("migrations applied")

	store := persistence.NewStore(db)

	// --- NATS ---
	natsLog := observability.NewLogger("nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLog)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js, natsLog); err != nil {
		log.Fatal().Err(err).Msg("ensure NATS streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, natsLog); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// Audit channel blocks (backpressure), publish channel drops.
	persistChan := make(chan event.Outbound, cfg.PersistChanSize)
	publishChan := make(chan event.Outbound, cfg.PublishChanSize)
	rawGiftChan := make(chan ingestion.RawEvent, cfg.GiftChanSize)

	// --- Director ---
	engine := settlement.NewEngine(observability.NewLogger("settlement"))
	director := battle.NewDirector(engine, battle.DirectorOpts{
		GraceWindow: cfg.GraceWindow,
		DupChecker:  store,
		PersistChan: persistChan,
		PublishChan: publishChan,
		Metrics:     metrics,
	}, observability.NewLogger("director"))

	// --- NATS gift/like subscriber ---
	subscriber := ingestion.NewNATSSubscriber(js, rawGiftChan, natsLog)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}

	// --- Goroutines ---
	errChan := make(chan error, 8)

	// 1. Audit worker
	auditWorker := persistence.NewWorker(store, persistChan, cfg.PersistBatchSize, cfg.PersistFlush,
		metrics, observability.NewLogger("audit"))
	go func() {
		errChan <- auditWorker.Run(ctx)
	}()

	// 2. Lifecycle publisher
	publisher := ingestion.NewLifecyclePublisher(js, publishChan, metrics, natsLog)
	go func() {
		errChan <- publisher.Run(ctx)
	}()

	// 3. Gift ingestion loop: NATS → parse → director
	go func() {
		runGiftIngestion(ctx, rawGiftChan, director, observability.NewLogger("ingest"))
	}()

	// 4. HTTP API
	apiServer := server.New(cfg.HTTPAddr, director, healthChecker, observability.NewLogger("http"))
	go func() {
		errChan <- apiServer.Start(ctx)
	}()

	// 5. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	healthChecker.SetReady(true)
	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Dur("grace_window", cfg.GraceWindow).
		Msg("BattleLedger ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down...")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down...")
	}

	subscriber.Stop()
	cancel()

	// Channels stay open: a live battle timer may still fire during the
	// drain window. The audit worker flushes on ctx cancellation.
	time.Sleep(200 * time.Millisecond)

	log.Info().Msg("BattleLedger shutdown complete")
}

// runGiftIngestion reads raw gift/like events from NATS, parses them and
// routes them to the director. Invalid events are acked to avoid
// redelivery loops; events for unknown or inactive battles are acked and
// dropped; a late gift simply doesn't move the score.
func runGiftIngestion(
	ctx context.Context,
	rawChan <-chan ingestion.RawEvent,
	director *battle.Director,
	log zerolog.Logger,
) {
	subjectToType := make(map[string]string)
	for _, cfg := range ingestion.DefaultSubjects() {
		prefix := strings.TrimSuffix(cfg.Subject, ".>")
		subjectToType[prefix] = cfg.EventType
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			eventType := resolveEventType(raw.Subject, subjectToType)
			if eventType == "" {
				log.Warn().Str("subject", raw.Subject).Msg("unknown NATS subject")
				raw.AckFunc()
				continue
			}

			evt, err := ingestion.ParseRawEvent(raw, eventType)
			if err != nil {
				log.Warn().Str("subject", raw.Subject).Err(err).Msg("parse event failed")
				raw.AckFunc()
				continue
			}

			gift, ok := evt.(*event.GiftSent)
			if !ok {
				raw.AckFunc()
				continue
			}

			if err := director.ApplyGiftEvent(gift); err != nil {
				log.Debug().
					Str("battle_id", gift.Battle.String()).
					Err(err).
					Msg("gift dropped")
			}
			raw.AckFunc()
		}
	}
}

// resolveEventType finds the event type for a NATS subject by matching
// the longest configured prefix.
func resolveEventType(subject string, prefixMap map[string]string) string {
	bestMatch := ""
	bestType := ""
	for prefix, evtType := range prefixMap {
		if strings.HasPrefix(subject, prefix) && len(prefix) > len(bestMatch) {
			bestMatch = prefix
			bestType = evtType
		}
	}
	return bestType
}
