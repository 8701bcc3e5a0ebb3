package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/SlackPipe/internal/api"
	"github.com/BTreeMap/SlackPipe/internal/lockfile"
	"github.com/BTreeMap/SlackPipe/internal/slackclient"
	"github.com/BTreeMap/SlackPipe/internal/store"
	"github.com/BTreeMap/SlackPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SlackPipe state data
	DefaultStateDir = "/var/lib/slackpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "slackpipe.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Guard against a second instance polling the same database
	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire instance lock", "error", err, "state_dir", *flags.stateDir)
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	storeOpts := buildStoreOptions(flags)
	slackOpts := buildSlackOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping SlackPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "slack", len(slackOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(storeOpts, slackOpts, apiOpts); err != nil {
		slog.Error("SlackPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SlackPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL       string
	StateDir          string
	ClientID          string
	ClientSecret      string
	RedirectURI       string
	FrontendOrigin    string
	APIAddr           string
	SchedulerInterval time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir          *string
	dbDSN             *string
	clientID          *string
	clientSecret      *string
	redirectURI       *string
	frontendOrigin    *string
	apiAddr           *string
	schedulerInterval *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StateDir:          os.Getenv("SLACKPIPE_STATE_DIR"),
		ClientID:          os.Getenv("SLACK_CLIENT_ID"),
		ClientSecret:      os.Getenv("SLACK_CLIENT_SECRET"),
		RedirectURI:       os.Getenv("SLACK_REDIRECT_URI"),
		FrontendOrigin:    os.Getenv("FRONTEND_ORIGIN"),
		APIAddr:           os.Getenv("API_ADDR"),
		SchedulerInterval: util.ParseDurationEnv("SCHEDULER_INTERVAL", 0),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SLACKPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("SLACKPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SLACKPIPE_STATE_DIR", config.StateDir,
		"SLACK_CLIENT_ID_SET", config.ClientID != "",
		"SLACK_CLIENT_SECRET_SET", config.ClientSecret != "",
		"SLACK_REDIRECT_URI", config.RedirectURI,
		"FRONTEND_ORIGIN", config.FrontendOrigin,
		"API_ADDR", config.APIAddr,
		"SCHEDULER_INTERVAL", config.SchedulerInterval)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:          flag.String("state-dir", config.StateDir, "state directory for SlackPipe data (overrides $SLACKPIPE_STATE_DIR)"),
		dbDSN:             flag.String("db-dsn", config.DatabaseURL, "database DSN for the store (overrides $DATABASE_URL)"),
		clientID:          flag.String("slack-client-id", config.ClientID, "Slack app client ID (overrides $SLACK_CLIENT_ID)"),
		clientSecret:      flag.String("slack-client-secret", config.ClientSecret, "Slack app client secret (overrides $SLACK_CLIENT_SECRET)"),
		redirectURI:       flag.String("slack-redirect-uri", config.RedirectURI, "OAuth redirect URI (overrides $SLACK_REDIRECT_URI)"),
		frontendOrigin:    flag.String("frontend-origin", config.FrontendOrigin, "frontend origin for post-OAuth redirects (overrides $FRONTEND_ORIGIN)"),
		apiAddr:           flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		schedulerInterval: flag.Duration("scheduler-interval", config.SchedulerInterval, "delivery poll interval (overrides $SCHEDULER_INTERVAL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"clientID_set", *flags.clientID != "",
		"clientSecret_set", *flags.clientSecret != "",
		"redirectURI", *flags.redirectURI,
		"frontendOrigin", *flags.frontendOrigin,
		"apiAddr", *flags.apiAddr,
		"schedulerInterval", *flags.schedulerInterval)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		return err
	}
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		dbDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating directory for file-based database", "db_dir", dbDir)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			slog.Error("Failed to create database directory", "error", err, "db_dir", dbDir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildSlackOptions constructs Slack client configuration options
func buildSlackOptions(flags Flags) []slackclient.Option {
	var slackOpts []slackclient.Option
	if *flags.clientID != "" {
		slackOpts = append(slackOpts, slackclient.WithClientID(*flags.clientID))
	}
	if *flags.clientSecret != "" {
		slackOpts = append(slackOpts, slackclient.WithClientSecret(*flags.clientSecret))
	}
	if *flags.redirectURI != "" {
		slackOpts = append(slackOpts, slackclient.WithRedirectURI(*flags.redirectURI))
	}
	return slackOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.frontendOrigin != "" {
		apiOpts = append(apiOpts, api.WithFrontendOrigin(*flags.frontendOrigin))
	}
	if *flags.schedulerInterval > 0 {
		apiOpts = append(apiOpts, api.WithPollInterval(*flags.schedulerInterval))
	}
	return apiOpts
}
