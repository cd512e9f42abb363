package cmd

import (
	"context"
	"log"
	"time"

	"github.com/ceradon/sam-digest/internal/logger"
	"github.com/ceradon/sam-digest/internal/pipeline"
	"github.com/ceradon/sam-digest/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Ingest and score a historical posted-date window without emailing anything",
	Run: func(cmd *cobra.Command, _ []string) {
		backfill(cmd)
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().Int("days", 30, "how many days back to ingest")
}

func backfill(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	deps, err := buildDeps(ctx, config, logger)
	if err != nil {
		logger.Fatal("preparing backfill dependencies", zap.Error(err))
	}
	defer deps.pool.Close()

	days, _ := cmd.Flags().GetInt("days")
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	runLogger := logger.With(zap.String("run_id", uuid.NewString()))
	runLogger.Info("starting backfill",
		zap.String("from", from.Format("2006-01-02")),
		zap.String("to", to.Format("2006-01-02")),
	)

	p := pipeline.New(deps.client, store.New(deps.pool), config.Scoring, config.Digest.MaxItems, runLogger)

	result, err := p.Backfill(ctx, from, to)
	if err != nil {
		runLogger.Fatal("backfill failed", zap.Error(err))
	}

	runLogger.Info("backfill completed",
		zap.Int("fetched", result.Summary.Fetched),
		zap.Int("new", result.Summary.New),
		zap.Int("refreshed", result.Summary.RefreshedUnchanged+result.Summary.RefreshedChanged),
		zap.Int("would_qualify", result.Summary.Qualified),
	)
}
