// Package main provides the medication safety API service entry point.
// Hosts the scheduling engine, the escalation engine and the background
// sweep loop in one process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carebridge/medsafe/internal/api/handlers"
	"github.com/carebridge/medsafe/internal/api/middleware"
	"github.com/carebridge/medsafe/internal/domain/alert"
	"github.com/carebridge/medsafe/internal/domain/custody"
	"github.com/carebridge/medsafe/internal/domain/medication"
	"github.com/carebridge/medsafe/internal/domain/prescription"
	"github.com/carebridge/medsafe/internal/domain/schedule"
	"github.com/carebridge/medsafe/internal/engine"
	"github.com/carebridge/medsafe/internal/infrastructure/postgres"
	"github.com/carebridge/medsafe/internal/infrastructure/redpanda"
	"github.com/carebridge/medsafe/internal/observability/metrics"
	"github.com/carebridge/medsafe/internal/observability/tracing"
	"github.com/carebridge/medsafe/internal/safety"
	"github.com/carebridge/medsafe/internal/storage/memory"
	"github.com/carebridge/medsafe/pkg/idempotency"
	"github.com/carebridge/medsafe/pkg/workerpool"
)

// Config holds application configuration
type Config struct {
	Port              string
	DatabaseURL       string
	OTLPEndpoint      string
	RulesFile         string
	APIKeys           map[string]string
	SweepInterval     time.Duration
	ReconcileInterval time.Duration
	RefireInterval    time.Duration
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := loadConfig()

	tracingCfg := tracing.DefaultConfig("medsafe-api")
	tracingCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tp, err := tracing.Init(context.Background(), tracingCfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New()

	// In-memory tables hold current state; Postgres carries the
	// append-only audit trail, outbox and idempotency inbox.
	prescriptions := memory.NewPrescriptionStore()
	slots := memory.NewSlotStore()
	custodyStore := memory.NewCustodyStore()
	alertStore := memory.NewAlertStore()
	directory := memory.NewResidentDirectory(prescriptions)

	rules, err := loadRules(cfg.RulesFile, directory, logger)
	if err != nil {
		logger.Fatal("rules load failed", zap.Error(err))
	}

	var (
		pool       *pgxpool.Pool
		outbox     *postgres.Outbox
		inbox      *idempotency.Inbox
		eventsRepo *prescription.Repository
		auditSink  engine.AuditSink
		screenSink safety.AuditSink
	)
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(context.Background()); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		logger.Info("connected to database")

		trail := postgres.NewAuditTrail(pool, logger)
		auditSink = trail
		screenSink = trail
		// Enqueue-only; the relay service drains the outbox.
		outbox = postgres.NewOutbox(pool, nil, postgres.DefaultOutboxConfig(), logger)
		inbox = idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
		inbox.StartCleanup()
		defer inbox.Stop()
		eventsRepo = prescription.NewRepository(pool, logger)
	} else {
		log := memory.NewAuditLog()
		auditSink = log
		screenSink = log
		logger.Warn("no DATABASE_URL set, audit trail is in-memory only")
	}

	auditSink = &meteredAudit{next: auditSink, metrics: m}
	screenSink = &meteredScreenings{next: screenSink, metrics: m}

	alertSink := &notifySink{outbox: outbox, metrics: m, logger: logger}
	alerts := alert.NewEngine(alertStore, alertSink, alert.Config{RefireInterval: cfg.RefireInterval}, logger)
	defer alerts.Stop()

	ledger := custody.NewLedger(custodyStore, alerts, logger)
	screener := safety.NewScreener(directory, rules, screenSink, logger)

	deps := engine.Deps{
		Prescriptions: prescriptions,
		Slots:         &meteredSlots{SlotStore: slots, metrics: m},
		Catalogue:     directory,
		Screener:      screener,
		Ledger:        ledger,
		Alerts:        alerts,
		Audit:         auditSink,
		ScheduleCfg:   schedule.DefaultConfig(),
		Logger:        logger,
	}
	if eventsRepo != nil {
		deps.Events = eventsRepo
	}
	eng := engine.New(deps)

	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	defer stopSweeps()
	go sweepLoop(sweepCtx, eng, m, cfg.SweepInterval, logger)
	go reconcileLoop(sweepCtx, eng, prescriptions, m, cfg.ReconcileInterval, logger)

	prescriptionHandler := handlers.NewPrescriptionHandler(eng, eventsRepo, logger)
	slotHandler := handlers.NewSlotHandler(eng, inbox, logger)
	custodyHandler := handlers.NewCustodyHandler(eng, custodyStore, logger)
	alertHandler := handlers.NewAlertHandler(alerts, logger)
	screeningHandler := handlers.NewScreeningHandler(eng, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("medsafe-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Use(middleware.StaffIdentity)
		r.Mount("/prescriptions", prescriptionHandler.Routes())
		r.Mount("/slots", slotHandler.Routes())
		r.Mount("/custody", custodyHandler.Routes())
		r.Mount("/alerts", alertHandler.Routes())
		r.Mount("/safety", screeningHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		stopSweeps()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting medsafe API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// sweepLoop runs periodic due/missed sweeps, fanned across a worker
// pool so one slow prescription cannot stall the round.
func sweepLoop(ctx context.Context, eng *engine.Engine, m *metrics.Metrics, interval time.Duration, logger *zap.Logger) {
	poolCfg := workerpool.DefaultConfig()
	wp, err := workerpool.New(poolCfg, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		res, err := eng.SweepPrescription(ctx, task.ID)
		if err != nil {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
		}
		m.SlotsMissed.Add(float64(res.Missed))
		return &workerpool.Result{TaskID: task.ID, Success: true, Data: res}
	}, logger)
	if err != nil {
		logger.Error("sweep pool creation failed", zap.Error(err))
		return
	}
	wp.Start()
	defer wp.Stop()

	// Drain results so the channel never backs up.
	go func() {
		for range wp.Results() {
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			ids, err := eng.ActivePrescriptionIDs(ctx)
			if err != nil {
				logger.Error("sweep listing failed", zap.Error(err))
				continue
			}
			for _, id := range ids {
				if err := wp.Submit(&workerpool.Task{ID: id, Context: ctx}); err != nil {
					logger.Warn("sweep submit failed", zap.String("prescription_id", id), zap.Error(err))
				}
			}
			m.SweepDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// reconcileLoop periodically reconciles every stock item referenced by
// an active controlled prescription.
func reconcileLoop(ctx context.Context, eng *engine.Engine, prescriptions *memory.PrescriptionStore, m *metrics.Metrics, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active, err := prescriptions.Active(ctx)
			if err != nil {
				logger.Error("reconcile listing failed", zap.Error(err))
				continue
			}
			seen := make(map[string]bool)
			for _, rx := range active {
				if rx.StockItemID == "" || seen[rx.StockItemID] {
					continue
				}
				seen[rx.StockItemID] = true
				report, err := eng.ReconcileCustody(ctx, rx.StockItemID)
				if err != nil {
					logger.Error("reconciliation failed",
						zap.String("stock_item_id", rx.StockItemID), zap.Error(err))
					continue
				}
				if !report.Consistent {
					m.CustodyDiscrepancies.Inc()
				}
			}
		}
	}
}

// notifySink delivers alerts by logging them and, when an outbox is
// configured, enqueueing a notification for the relay.
type notifySink struct {
	outbox  *postgres.Outbox
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func (s *notifySink) Deliver(ctx context.Context, a *alert.Alert) error {
	s.metrics.AlertsRaised.WithLabelValues(string(a.Severity)).Inc()
	if a.FireCount > 1 {
		s.metrics.AlertRefires.Inc()
	}
	s.logger.Warn("alert",
		zap.String("alert_id", a.ID),
		zap.String("source", string(a.Source)),
		zap.String("severity", string(a.Severity)),
		zap.String("subject_id", a.SubjectID),
		zap.String("message", a.Message),
		zap.Int("fire_count", a.FireCount))

	if s.outbox == nil {
		return nil
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, &postgres.OutboxEntry{
		SubjectID:   a.SubjectID,
		SubjectType: string(a.Source),
		RecordType:  "alert",
		Payload:     payload,
		Topic:       redpanda.TopicAlertNotifications,
		Key:         a.ID,
	})
}

// meteredAudit counts lifecycle, resolution and custody records on
// their way to the configured audit sink.
type meteredAudit struct {
	next    engine.AuditSink
	metrics *metrics.Metrics
}

func (s *meteredAudit) Record(ctx context.Context, rec engine.AuditRecord) error {
	switch rec.Kind {
	case string(prescription.EventCreated):
		s.metrics.PrescriptionsCreated.Inc()
	case string(prescription.EventSuperseded):
		s.metrics.PrescriptionsSuperseded.Inc()
	case string(prescription.EventDiscontinued):
		s.metrics.PrescriptionsDiscontinued.Inc()
	case string(prescription.EventExpired):
		s.metrics.PrescriptionsExpired.Inc()
	case "slot_administered":
		s.metrics.SlotsResolved.WithLabelValues("administered").Inc()
	case "slot_refused":
		s.metrics.SlotsResolved.WithLabelValues("refused").Inc()
	case "slot_blocked":
		s.metrics.SlotsResolved.WithLabelValues("blocked").Inc()
	case "custody_entry":
		s.metrics.CustodyEntries.Inc()
	}
	return s.next.Record(ctx, rec)
}

// meteredScreenings counts screening passes and blocks.
type meteredScreenings struct {
	next    safety.AuditSink
	metrics *metrics.Metrics
}

func (s *meteredScreenings) RecordScreening(ctx context.Context, rec safety.ScreeningRecord) error {
	s.metrics.ScreeningsPerformed.Inc()
	if rec.Blocked {
		s.metrics.ScreeningsBlocked.Inc()
	}
	return s.next.RecordScreening(ctx, rec)
}

// meteredSlots counts generated slots as they land in the table store.
type meteredSlots struct {
	*memory.SlotStore
	metrics *metrics.Metrics
}

func (s *meteredSlots) Insert(ctx context.Context, slots ...*schedule.Slot) error {
	if err := s.SlotStore.Insert(ctx, slots...); err != nil {
		return err
	}
	s.metrics.SlotsGenerated.Add(float64(len(slots)))
	return nil
}

// loadRules reads the medication catalogue and rule set from the
// configured file and publishes the records into the directory. With no
// file the engine starts with an empty catalogue; records can only be
// published through the directory at runtime.
func loadRules(path string, directory *memory.ResidentDirectory, logger *zap.Logger) (*medication.RuleSet, error) {
	if path == "" {
		logger.Warn("no RULES_FILE set, starting with an empty catalogue")
		return medication.NewRuleSet(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()

	records, rules, err := medication.LoadCatalogue(f)
	if err != nil {
		return nil, fmt.Errorf("load catalogue: %w", err)
	}
	for _, rec := range records {
		directory.PublishMedication(rec)
	}
	logger.Info("catalogue loaded", zap.Int("medications", len(records)), zap.String("file", path))
	return rules, nil
}

func loadConfig() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	apiKeys := map[string]string{
		"demo-api-key-12345": "demo-client",
	}
	if key := os.Getenv("API_KEY"); key != "" {
		apiKeys[key] = "env-client"
	}

	return Config{
		Port:              port,
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		OTLPEndpoint:      os.Getenv("OTLP_ENDPOINT"),
		RulesFile:         os.Getenv("RULES_FILE"),
		APIKeys:           apiKeys,
		SweepInterval:     durationEnv("SWEEP_INTERVAL", time.Minute),
		ReconcileInterval: durationEnv("RECONCILE_INTERVAL", time.Hour),
		RefireInterval:    durationEnv("ALERT_REFIRE_INTERVAL", 15*time.Minute),
	}
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"medsafe-api","version":"1.0.0"}`)
}
