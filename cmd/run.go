package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ceradon/sam-digest/internal/digest"
	"github.com/ceradon/sam-digest/internal/logger"
	"github.com/ceradon/sam-digest/internal/pipeline"
	"github.com/ceradon/sam-digest/internal/samgov"
	"github.com/ceradon/sam-digest/internal/secrets"
	"github.com/ceradon/sam-digest/internal/store"
	"github.com/ceradon/sam-digest/internal/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, score and email a digest of fresh SAM.gov opportunities",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("daemon", false, "keep running, repeating the pipeline on an interval")
	runCmd.Flags().Int("interval-minutes", 60, "minutes between runs in daemon mode")
	runCmd.Flags().Bool("no-email", false, "build the digest but print it instead of sending")
}

// runtimeDeps are the long-lived collaborators shared across daemon iterations.
type runtimeDeps struct {
	pool   *pgxpool.Pool
	client *samgov.Client
	sender *digest.Sender
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the sam-digest", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	deps, err := buildDeps(ctx, config, logger)
	if err != nil {
		logger.Fatal("preparing run dependencies", zap.Error(err))
	}
	defer deps.pool.Close()

	daemon, _ := cmd.Flags().GetBool("daemon")
	intervalMinutes, _ := cmd.Flags().GetInt("interval-minutes")
	noEmail, _ := cmd.Flags().GetBool("no-email")
	interval := time.Duration(intervalMinutes) * time.Minute

	for {
		if err := runOnce(ctx, config, deps, noEmail, logger); err != nil {
			if !daemon {
				logger.Fatal("run failed", zap.Error(err))
			}
			// A daemon survives a bad run; the next interval retries from
			// scratch because ingestion is idempotent.
			logger.Error("run failed, will retry next interval", zap.Error(err))
		}

		if !daemon {
			return
		}

		logger.Info("sleeping until next run", zap.Duration("interval", interval))
		if err := utils.WaitFor(ctx, interval); err != nil {
			logger.Info("exiting", zap.String("reason", "shutdown requested"))
			return
		}
	}
}

// runOnce executes one full pipeline pass under a fresh run_id and delivers
// the resulting digest.
func runOnce(ctx context.Context, config *Config, deps *runtimeDeps, noEmail bool, baseLogger *zap.Logger) error {
	runLogger := baseLogger.With(zap.String("run_id", uuid.NewString()))

	p := pipeline.New(deps.client, store.New(deps.pool), config.Scoring, config.Digest.MaxItems, runLogger)

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -config.Fetch.PostedFromDays)

	result, err := p.Run(ctx, from, to)
	if err != nil {
		return err
	}

	payload := digest.Build(result.Digest)

	if noEmail || deps.sender == nil {
		runLogger.Info("email delivery disabled, printing digest", zap.Int("items", len(result.Digest)))
		fmt.Printf("%s\n\n%s", payload.Subject, payload.Body)
		return nil
	}

	if len(result.Digest) == 0 && !config.Digest.SendEmpty {
		runLogger.Info("skipping email", zap.String("reason", "no opportunities qualified"))
		return nil
	}

	if err := deps.sender.Send(payload); err != nil {
		return fmt.Errorf("delivering digest: %w", err)
	}

	runLogger.Info("digest delivered",
		zap.Int("items", len(result.Digest)),
		zap.String("to", config.SMTP.To),
	)
	return nil
}

// buildDeps connects the store, migrates it, and wires the SAM.gov client plus
// the optional SMTP sender.
func buildDeps(ctx context.Context, config *Config, logger *zap.Logger) (*runtimeDeps, error) {
	pool, err := store.Connect(ctx, config.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "SAM.gov api key",
		File: config.Fetch.APIKeyFile,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w (set fetch.api-key-file or SAM_API_KEY_FILE)", err)
	}

	client := samgov.New(logger, apiKey)
	client.APIKeyInQuery = config.Fetch.APIKeyInQuery
	if config.Fetch.PageSize > 0 {
		client.PageSize = config.Fetch.PageSize
	}

	var sender *digest.Sender
	if config.SMTP != nil && config.SMTP.Enabled {
		password, err := secrets.Load(secrets.Source{
			Name: "smtp password",
			File: config.SMTP.PasswordFile,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("%w (set smtp.password-file or SMTP_PASSWORD_FILE)", err)
		}

		sender = digest.NewSender(digest.SMTPConfig{
			Host:     config.SMTP.Host,
			Port:     config.SMTP.Port,
			User:     config.SMTP.User,
			Password: password,
			From:     config.SMTP.From,
			To:       config.SMTP.To,
		})
	}

	return &runtimeDeps{pool: pool, client: client, sender: sender}, nil
}
