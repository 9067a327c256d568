// Command refresh-fees rewrites stored fee statuses once and exits. It is meant for
// deployments that drive maintenance from an external cron instead of the API scheduler.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/secretaria-go-api/internal/config"
	"github.com/noah-isme/secretaria-go-api/internal/database"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
	"github.com/noah-isme/secretaria-go-api/internal/service"
)

func main() {
	if err := run(); err != nil {
		log.Printf("refresh-fees: %v", err)
		os.Exit(1)
	}
}

// run returns instead of exiting so deferred cleanup always happens.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, cfg.PostgresOptions())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName+"-refresh")
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	if natsConn != nil {
		defer natsConn.Drain()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	events := service.NewEventPublisher(nil, natsConn, cfg.EventChannelBase, logger)
	activity := service.NewActivityService(repository.NewActivityLogRepository(db), logger)
	fees := service.NewFeeService(repository.NewFeeRepository(db), repository.NewStudentRepository(db), validate, activity, events, cfg.Location(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := fees.RefreshStatuses(ctx)
	if err != nil {
		logger.Error().Err(err).Int("scanned", result.Scanned).Int("updated", result.Updated).Msg("fee status refresh failed")
		return fmt.Errorf("failed to refresh fee statuses: %w", err)
	}

	logger.Info().Int("scanned", result.Scanned).Int("updated", result.Updated).Msg("fee statuses refreshed")
	return nil
}
