package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fanzcore/config"
	"fanzcore/gateway/middleware"
	"fanzcore/gateway/routes"
	"fanzcore/native/approval"
	"fanzcore/native/fees"
	"fanzcore/native/idempotency"
	"fanzcore/native/ledger"
	"fanzcore/native/routing"
	"fanzcore/native/settlement"
	"fanzcore/native/trust"
	"fanzcore/observability/logging"
	telemetry "fanzcore/observability/otel"
	"fanzcore/orchestrator"
	"fanzcore/processor"
	"fanzcore/processor/ccbill"
	"fanzcore/processor/cryptopay"
	"fanzcore/processor/segpay"
	"fanzcore/services/eventbus"
	"fanzcore/services/webhookd"
	"fanzcore/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fanzcored:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	var writeConfig bool
	flag.StringVar(&cfgPath, "config", "", "path to fanzcored configuration")
	flag.BoolVar(&writeConfig, "write-config", false, "write the default configuration to the -config path and exit")
	flag.Parse()

	if writeConfig {
		if cfgPath == "" {
			return fmt.Errorf("-write-config requires -config")
		}
		return config.WriteDefault(cfgPath)
	}

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	var fileCfg *logging.FileConfig
	if cfg.Logging.File != "" {
		fileCfg = &logging.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}
	}
	log := logging.Setup(cfg.Service, cfg.Environment, fileCfg)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: cfg.Service,
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	if err := storage.AutoMigrate(db); err != nil {
		return err
	}
	store := storage.NewStore(db)
	book := ledger.New(storage.NewLedgerStore(db))
	audit := storage.NewAuditLog(db)

	var idem idempotency.Store
	if cfg.Database.IdempotencyPath != "" {
		sqliteIdem, err := idempotency.NewSQLiteStore(cfg.Database.IdempotencyPath)
		if err != nil {
			return fmt.Errorf("open idempotency store: %w", err)
		}
		defer func() { _ = sqliteIdem.Close() }()
		idem = sqliteIdem
	} else {
		idem = idempotency.NewMemoryStore()
	}

	engine, err := buildTrustEngine(cfg, storage.NewTrustScoreStore(db))
	if err != nil {
		return err
	}

	snapshot := routing.NewSnapshot(nil, nil, "")
	if cfg.Routing.RulesFile != "" {
		snapshot, err = routing.LoadSnapshot(cfg.Routing.RulesFile)
		if err != nil {
			return fmt.Errorf("load routing rules: %w", err)
		}
	}
	holder := routing.NewSnapshotHolder(snapshot)

	registry := processor.NewRegistry()
	names := make([]string, 0, len(cfg.Processors))
	for name, proc := range cfg.Processors {
		adapter, err := buildAdapter(name, proc, cfg.Webhooks.ToleranceSeconds)
		if err != nil {
			return err
		}
		registry.Register(adapter, processor.BreakerConfig{
			Window:      time.Duration(cfg.Circuit.WindowSeconds) * time.Second,
			MinRequests: cfg.Circuit.MinRequests,
			ErrorRatio:  cfg.Circuit.ErrorRatio,
			Cooldown:    time.Duration(cfg.Circuit.CooldownSecs) * time.Second,
		}, proc.RequestsPerS, proc.Burst)
		names = append(names, name)
	}

	router, err := routing.NewRouter(holder,
		routing.WithAvailability(registry.Available),
		routing.WithVolumeTracker(routing.NewVolumeTracker()),
	)
	if err != nil {
		return err
	}

	schedule, err := fees.NewSchedule(cfg.Fees.PlatformFeeRateBps, cfg.Fees.ProcessingFeeRateBps, cfg.Fees.DefaultProcessingFeeRate)
	if err != nil {
		return err
	}

	bus := eventbus.New(cfg.Service)
	queue := approval.NewQueue(approval.WithEmitter(bus))
	dispatcher := eventbus.NewDispatcher()
	defer dispatcher.Close()

	orc, err := orchestrator.New(orchestrator.Deps{
		Store:       store,
		Ledger:      book,
		Idempotency: idem,
		Trust:       engine,
		Router:      router,
		Processors:  registry,
		Fees:        schedule,
		Approvals:   queue,
	},
		orchestrator.WithEmitter(bus),
		orchestrator.WithLimits(orchestrator.Limits{
			MinAmount: cfg.Limits.MinTransactionAmount,
			MaxAmount: cfg.Limits.MaxTransactionAmount,
		}),
		orchestrator.WithPayoutMinimums(cfg.Payouts.Minimums),
		orchestrator.WithRetryPolicy(orchestrator.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			MinBackoff:  200 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
		}),
		orchestrator.WithOverloadProbe(func() bool {
			if cfg.Limits.ApprovalHighWater > 0 && queue.Depth() >= cfg.Limits.ApprovalHighWater {
				return true
			}
			return cfg.Limits.OutboundHighWater > 0 && dispatcher.Backlog() >= cfg.Limits.OutboundHighWater
		}),
	)
	if err != nil {
		return err
	}

	settler, err := settlement.NewEngine(orc,
		settlement.WithMarker(orc),
		settlement.WithPoster(book),
		settlement.WithEmitter(bus),
		settlement.WithFeeTolerance(cfg.Settlement.FeeToleranceUnits),
	)
	if err != nil {
		return err
	}

	ingestor, err := webhookd.NewIngestor(registry, orc, idem, webhookd.WithLogger(log))
	if err != nil {
		return err
	}
	webhookServer, err := webhookd.NewServer(ingestor, log)
	if err != nil {
		return err
	}

	var runner *settlement.Runner
	if len(names) > 0 {
		runner = settlement.NewRunner(settler, registry, names, cfg.Settlement.ReportDir,
			settlement.WithRunnerInterval(time.Duration(cfg.Settlement.FetchIntervalHours)*time.Hour),
			settlement.WithRunnerLogger(log),
		)
	}

	handler, err := routes.New(routes.Deps{
		Orchestrator:     orc,
		Store:            store,
		Approvals:        queue,
		Ledger:           book,
		Registry:         registry,
		Settlements:      settler,
		SettlementRunner: runner,
		Webhooks:         webhookServer,
		Stream:           eventbus.NewStreamHandler(bus),
		DB:               db,
		Audit:            audit,
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}, log),
		RateLimiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			"public": {RequestsPerMinute: 600, Burst: 120},
		}),
		Log: log,
	})
	if err != nil {
		return err
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go queue.Run(stopCtx)
	go dispatcher.Pump(stopCtx, bus.Subscribe())

	if cfg.Routing.RefreshSeconds > 0 && cfg.Routing.RulesFile != "" {
		go refreshRouting(stopCtx, holder, cfg.Routing.RulesFile, time.Duration(cfg.Routing.RefreshSeconds)*time.Second, log)
	}
	if cfg.Settlement.FetchIntervalHours > 0 && runner != nil {
		go runner.Run(stopCtx)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("fanzcored listening", "addr", cfg.ListenAddress, "processors", names)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// buildTrustEngine assembles the scoring engine. Collector providers
// (device history, IP intel, BIN directory, account and platform
// profiles) are deployment integrations; without them the collectors
// degrade to proof-only signals.
func buildTrustEngine(cfg *config.Config, store trust.ScoreStore) (*trust.Engine, error) {
	weights := trust.DefaultWeights()
	thresholds := trust.DefaultThresholds()
	version := ""
	if cfg.Trust.ModelFile != "" {
		var err error
		version, weights, thresholds, err = trust.LoadModel(cfg.Trust.ModelFile)
		if err != nil {
			return nil, fmt.Errorf("load trust model: %w", err)
		}
	}
	if cfg.Trust.AutoApproveLimit > 0 {
		thresholds.AutoApproveLimit = cfg.Trust.AutoApproveLimit
	}
	if cfg.Trust.ManualReviewLimit > 0 {
		thresholds.ManualReviewLimit = cfg.Trust.ManualReviewLimit
	}
	if cfg.Trust.BlockLimit > 0 {
		thresholds.BlockLimit = cfg.Trust.BlockLimit
	}

	opts := []trust.Option{
		trust.WithWeights(weights),
		trust.WithThresholds(thresholds),
		trust.WithCollectors(
			trust.DeviceCollector{},
			trust.NetworkCollector{},
			trust.PaymentCollector{},
			trust.BehavioralCollector{},
			trust.PlatformCollector{},
		),
	}
	if version != "" {
		opts = append(opts, trust.WithModelVersion(version))
	}
	return trust.NewEngine(store, opts...)
}

func buildAdapter(name string, proc config.Processor, toleranceSeconds int) (processor.Adapter, error) {
	client := processor.NewClient(proc.Endpoint, proc.APIKey, []byte(proc.Secret),
		processor.WithWebhookSecret([]byte(proc.WebhookSecret)),
		processor.WithSignatureTolerance(time.Duration(toleranceSeconds)*time.Second),
	)
	switch name {
	case ccbill.Name:
		return ccbill.New(client), nil
	case segpay.Name:
		return segpay.New(client), nil
	case cryptopay.Name:
		return cryptopay.New(client), nil
	default:
		return nil, fmt.Errorf("unknown processor %q", name)
	}
}

func refreshRouting(ctx context.Context, holder *routing.SnapshotHolder, path string, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next, err := routing.LoadSnapshot(path)
			if err != nil {
				log.Warn("routing reload failed", "path", path, "err", err)
				continue
			}
			holder.Swap(next)
			log.Info("routing rules reloaded", "path", path)
		}
	}
}
