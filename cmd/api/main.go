package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"equity_valuation/pkg/api"
	"equity_valuation/pkg/api/valuation"
	"equity_valuation/pkg/app"
	"equity_valuation/pkg/config"
	"equity_valuation/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML config file")
	flag.Parse()

	// Bootstrap logger until the configured one exists
	log := logger.New(logger.Config{Level: "info", Pretty: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.New(cfg.Logger())
	logger.SetGlobalLogger(log)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize valuation engine")
	}
	defer a.Close()

	srv := api.New(api.Config{
		Port:           cfg.Server.Port,
		Log:            log,
		AllowedOrigins: cfg.Server.CORSOrigins,
		Modules: []api.Routes{
			valuation.NewHandler(a.Evaluator, a.Narrator, log),
		},
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().
		Int("port", cfg.Server.Port).
		Str("source", cfg.Data.Source).
		Bool("narrative", a.Narrator != nil).
		Msg("Server started: GET /api/health, POST /api/valuation/report")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server stopped")
}
