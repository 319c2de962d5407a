package main

import (
	"flag"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"pubarmour/internal/api"
	"pubarmour/internal/api/handlers"
	"pubarmour/internal/api/middleware"
	"pubarmour/internal/engine/gatekeeper"
	"pubarmour/internal/engine/licenses"
	"pubarmour/internal/engine/payload"
	"pubarmour/internal/engine/scripts"
	"pubarmour/internal/engine/tokens"
	"pubarmour/internal/pkg/logger"
	"pubarmour/internal/platform/audit"
	"pubarmour/internal/platform/config"
	"pubarmour/internal/platform/database"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Pipeline components
	licenseSvc := licenses.NewService(licenses.NewRepository(db))
	scriptRepo := scripts.NewRepository(db)
	broker := tokens.NewBroker(cfg.Tokens.TTL, cfg.Tokens.Grace)
	generator := payload.NewGenerator(cfg.Payload.ChunkSize, cfg.Payload.TimingThreshold)
	limiter := gatekeeper.NewRateLimiter(cfg.Gate.RateWindow, cfg.Gate.RateMax)
	bans := gatekeeper.NewBanlist()
	auditLog := audit.NewLogger(db)

	// Token sweeper
	stop := make(chan struct{})
	defer close(stop)
	go broker.Run(cfg.Tokens.SweepInterval, stop)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := handlers.NewMetrics(registry)

	// Handlers
	delivery := handlers.NewDeliveryHandler(handlers.DeliveryDeps{
		Licenses: licenseSvc,
		Scripts:  scriptRepo,
		Tokens:   broker,
		Payloads: generator,
		Limiter:  limiter,
		Bans:     bans,
		Audit:    auditLog,
		Metrics:  metrics,
		Gate:     cfg.Gate,
	})

	deps := &api.Dependencies{
		Delivery:   delivery,
		Keys:       handlers.NewKeyHandler(licenseSvc, auditLog),
		Scripts:    handlers.NewScriptHandler(scriptRepo, licenseSvc, auditLog),
		Audit:      handlers.NewAuditHandler(auditLog),
		Health:     handlers.NewHealthHandler(db),
		AdminAuth:  middleware.NewAdminAuth(cfg.Admin),
		Registry:   registry,
		DecoyPaths: cfg.Gate.DecoyPaths,
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info().Str("addr", addr).Msg("pubarmour listening")
	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
