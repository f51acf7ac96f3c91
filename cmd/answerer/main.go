// Command answerer runs the DefiLlama TVL obligation engine: one
// supervised set of log scanners and an answerer per configured chain,
// plus the validation HTTP collaborator.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/carrot-kpi/defillama-answerer/pkg/config"
	"github.com/carrot-kpi/defillama-answerer/pkg/database"
	"github.com/carrot-kpi/defillama-answerer/pkg/dataprovider"
	"github.com/carrot-kpi/defillama-answerer/pkg/engine"
	"github.com/carrot-kpi/defillama-answerer/pkg/logging"
	"github.com/carrot-kpi/defillama-answerer/pkg/server"
)

// defillamaAPIBaseURL mirrors pkg/engine's own data-provider endpoint:
// the validation HTTP collaborator must validate specifications the same
// way C3 would.
const defillamaAPIBaseURL = "https://api.llama.fi"

func main() {
	if err := run(); err != nil {
		log.Fatalf("answerer: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("could not build logger: %w", err)
	}
	defer logger.Sync()

	dbClient, err := database.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}
	defer dbClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dbClient.MigrateUp(ctx); err != nil {
		return fmt.Errorf("could not run database migrations: %w", err)
	}

	eng, err := engine.New(ctx, cfg, dbClient, logger)
	if err != nil {
		return fmt.Errorf("could not set up engine: %w", err)
	}

	validationHandler := server.NewValidationHandler(dataprovider.New(defillamaAPIBaseURL), logger)
	httpServer := server.New(fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port), validationHandler, logger)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	errs := make(chan error, 2)
	go func() { errs <- eng.Run(ctx) }()
	go func() { errs <- httpServer.Run(ctx) }()

	logger.Info("answerer started",
		zap.Int("chains", len(cfg.Chains)),
		zap.String("api_addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)),
	)

	var firstErr error
	remaining := 2

	select {
	case sig := <-signals:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	case err := <-errs:
		remaining--
		if err != nil {
			firstErr = err
			logger.Error("a top-level task failed, shutting down", zap.Error(err))
		}
		cancel()
	}

	for ; remaining > 0; remaining-- {
		<-errs
	}

	return firstErr
}
