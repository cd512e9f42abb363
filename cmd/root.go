package cmd

import (
	"errors"
	"log"

	"github.com/ceradon/sam-digest/internal/scoring"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "sam-digest"
)

type Config struct {
	Scoring *scoring.Config `mapstructure:"scoring"`
	Fetch   *FetchConfig    `mapstructure:"fetch"`
	Store   *StoreConfig    `mapstructure:"store"`
	Digest  *DigestConfig   `mapstructure:"digest"`
	SMTP    *SMTPConfig     `mapstructure:"smtp"`
}

// FetchConfig controls the SAM.gov search window and client behavior.
type FetchConfig struct {
	APIKeyFile     string `mapstructure:"api-key-file"`
	APIKeyInQuery  bool   `mapstructure:"api-key-in-query"`
	PostedFromDays int    `mapstructure:"posted-from-days"`
	PageSize       int    `mapstructure:"page-size"`
}

type StoreConfig struct {
	DatabaseURL string `mapstructure:"database-url"`
}

type DigestConfig struct {
	MaxItems  int  `mapstructure:"max-items"`
	SendEmpty bool `mapstructure:"send-empty"`
}

type SMTPConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	PasswordFile string `mapstructure:"password-file"`
	From         string `mapstructure:"from"`
	To           string `mapstructure:"to"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "sam-digest polls SAM.gov contract opportunities, scores them and emails a digest of the relevant ones",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("fetch.api-key-file", "SAM_API_KEY_FILE"); err != nil {
		log.Fatalf("binding SAM_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("smtp.password-file", "SMTP_PASSWORD_FILE"); err != nil {
		log.Fatalf("binding SMTP_PASSWORD_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("store.database-url", "DATABASE_URL"); err != nil {
		log.Fatalf("binding DATABASE_URL environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is sam-digest.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// The version command works without any configuration.
	if versionCmd.CalledAs() != "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Scoring == nil {
		return nil, errors.New("a scoring section is required to rank opportunities")
	}
	if err := config.Scoring.Validate(); err != nil {
		return nil, err
	}

	if config.Fetch == nil {
		config.Fetch = &FetchConfig{}
	}
	if config.Fetch.PostedFromDays <= 0 {
		config.Fetch.PostedFromDays = 1
	}
	if config.Store == nil {
		config.Store = &StoreConfig{}
	}
	if config.Digest == nil {
		config.Digest = &DigestConfig{}
	}
	if config.Digest.MaxItems <= 0 {
		config.Digest.MaxItems = 20
	}

	return config, nil
}
