package main

import (
	"context"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/charity-dao/internal/config"
	"github.com/david/charity-dao/internal/db"
	"github.com/david/charity-dao/internal/logging"
)

const programName = "charityctl"

type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func (e *env) connect(ctx context.Context) (*pgxpool.Pool, *db.Store, error) {
	pool, err := db.Connect(ctx, e.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pool, db.NewStore(pool), nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Operator tools for the charity DAO backend",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		syncCommand(),
		statusesCommand(),
		runsCommand(),
		triggerCommand(),
	)
	if err := rootCmd.Execute(); err != nil {
		log.Printf("%s: %v", programName, err)
		os.Exit(1)
	}
}
