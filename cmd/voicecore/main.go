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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/voicecore/voicecore/internal/ai"
	"github.com/voicecore/voicecore/internal/audit"
	"github.com/voicecore/voicecore/internal/call"
	"github.com/voicecore/voicecore/internal/classify"
	"github.com/voicecore/voicecore/internal/config"
	"github.com/voicecore/voicecore/internal/database"
	"github.com/voicecore/voicecore/internal/database/pgaudit"
	"github.com/voicecore/voicecore/internal/dispatch"
	"github.com/voicecore/voicecore/internal/metrics"
	"github.com/voicecore/voicecore/internal/routing"
	"github.com/voicecore/voicecore/internal/telephony"
	"github.com/voicecore/voicecore/internal/tenant"
	"github.com/voicecore/voicecore/internal/webhook"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting voicecore",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	tenants := database.NewTenantRepository(db)
	agents := database.NewAgentRepository(db)
	rules := database.NewSpamRuleRepository(db)
	records := database.NewCallRecordRepository(db)
	auditRepo := database.NewAuditRepository(db)

	// Optional PostgreSQL audit mirror for the analytics warehouse.
	var mirror database.AuditRepository
	if cfg.AuditPostgresDSN != "" {
		pg, err := pgaudit.New(cfg.AuditPostgresDSN)
		if err != nil {
			slog.Error("failed to open audit mirror", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		mirror = pg
		slog.Info("audit mirror enabled")
	}

	auditLog := audit.NewLog(auditRepo, mirror, logger)
	machine := call.NewMachine(auditLog, logger)

	fpKey, err := cfg.FingerprintKeyBytes()
	if err != nil {
		slog.Error("failed to load fingerprint key", "error", err)
		os.Exit(1)
	}
	fp, err := tenant.NewFingerprinter(fpKey)
	if err != nil {
		slog.Error("failed to create fingerprinter", "error", err)
		os.Exit(1)
	}
	resolver := tenant.NewResolver(tenants, agents, rules, fp, logger)
	classifier := classify.New(logger)

	registry := routing.NewRegistry()
	queue := routing.NewWaitQueue()
	engine := routing.NewEngine(registry, queue, machine, logger)

	// AI provider is optional: without a key, calls skip the receptionist
	// and route straight to a human.
	var provider ai.Provider
	if cfg.OpenAIAPIKey != "" {
		p, err := ai.NewOpenAIProvider(ai.OpenAIConfig{
			BaseURL:   cfg.OpenAIBaseURL,
			APIKey:    cfg.OpenAIAPIKey,
			ChatModel: cfg.OpenAIModel,
		}, logger)
		if err != nil {
			slog.Error("failed to create ai provider", "error", err)
			os.Exit(1)
		}
		provider = p
	} else {
		slog.Warn("no AI provider configured, calls will route directly to agents")
	}

	var controller telephony.Controller
	if client := telephony.NewClient(cfg.TelephonyBaseURL, cfg.TelephonyToken); client.Configured() {
		controller = client
	} else {
		slog.Warn("no telephony provider configured, call commands will be logged only")
		controller = telephony.NewNopController(logger)
	}

	dispatcher := dispatch.New(resolver, classifier, machine, engine, provider, controller, records, dispatch.Options{
		AITimeout:    cfg.AITimeout(),
		QueueMaxWait: cfg.QueueMaxWait(),
	}, logger)

	// Seed agent availability from persisted state: every enabled agent
	// starts available until presence updates say otherwise.
	seedAvailability(context.Background(), tenants, agents, registry)

	// Prometheus collector, scraped at /metrics.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(dispatcher, queue, registry, auditRepo, records, startTime))
	metricsHandler := promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}

	limiterCfg := webhook.DefaultRateLimiterConfig()
	limiterCfg.Rate = rate.Limit(cfg.WebhookRate)
	limiterCfg.Burst = cfg.WebhookBurst
	limiter := webhook.NewRateLimiter(limiterCfg)
	defer limiter.Stop()

	handler := webhook.NewServer(dispatcher, auditLog, records, agents, limiter, jwtSecret, metricsHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout. The HTTP surface closes first so no
	// new calls arrive, then live call workers are torn down.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if err := dispatcher.Shutdown(ctx); err != nil {
		slog.Error("dispatcher shutdown error", "error", err)
	}

	slog.Info("voicecore stopped")
}

// seedAvailability marks every enabled agent available at boot. Presence
// updates over the API take over from there.
func seedAvailability(ctx context.Context, tenants database.TenantRepository, agents database.AgentRepository, registry *routing.Registry) {
	all, err := tenants.List(ctx)
	if err != nil {
		slog.Error("failed to list tenants for availability seed", "error", err)
		return
	}

	seeded := 0
	for _, t := range all {
		list, err := agents.ListByTenant(ctx, t.ID)
		if err != nil {
			slog.Error("failed to list agents for availability seed",
				"tenant_id", t.ID,
				"error", err,
			)
			continue
		}
		for _, a := range list {
			if a.Enabled {
				registry.SetAvailable(a.ID, true)
				seeded++
			}
		}
	}
	slog.Info("seeded agent availability", "agents", seeded)
}
