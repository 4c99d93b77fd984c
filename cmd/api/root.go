package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/calma/backend/internal/config"
	"github.com/zhouzirui/calma/backend/pkg/log"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "calma",
	Short: "Calma conversational backend",
	Long:  `Calma streams supportive replies, tracks the emotional tone of every turn and raises risk alerts.`,
	RunE:  runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
}

// bootstrap loads .env, parses the configuration and installs the logger.
func bootstrap(ctx context.Context) (context.Context, *config.Config, func(), error) {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return ctx, nil, func() {}, err
	}

	ctx, flush := log.NewContextWithLogger(ctx, debug || cfg.Log.Debug)
	if envErr != nil {
		log.FromCtx(ctx).Warn().Err(envErr).Msg("no .env file loaded, using process environment")
	}
	return ctx, cfg, flush, nil
}
