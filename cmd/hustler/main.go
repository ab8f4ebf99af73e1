package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MichaelRobotics/Hustler-sub011/internal/api"
	"github.com/MichaelRobotics/Hustler-sub011/internal/funnel"
	"github.com/MichaelRobotics/Hustler-sub011/internal/messaging"
	"github.com/MichaelRobotics/Hustler-sub011/internal/platform"
	"github.com/MichaelRobotics/Hustler-sub011/internal/scheduler"
	"github.com/MichaelRobotics/Hustler-sub011/internal/store"
	"github.com/MichaelRobotics/Hustler-sub011/internal/twiliodm"
	"github.com/MichaelRobotics/Hustler-sub011/internal/util"
	"github.com/MichaelRobotics/Hustler-sub011/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Hustler state data
	DefaultStateDir = "/var/lib/hustler"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "hustler.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping Hustler with configured modules")
	if err := run(flags); err != nil {
		slog.Error("Hustler failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Hustler exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	WhatsAppDSN    string
	StateDir       string
	APIAddr        string
	PlatformKey    string
	ChatBaseURL    string
	ExperienceID   string
	FunnelID       string
	Messaging      string
	SweepSchedule  string
	IdleThreshold  time.Duration
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	dbDSN         *string
	whatsappDSN   *string
	apiAddr       *string
	platformKey   *string
	chatBaseURL   *string
	experienceID  *string
	funnelID      *string
	messaging     *string
	sweepSchedule *string
	idleThreshold *time.Duration
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
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:      os.Getenv("HUSTLER_STATE_DIR"),
		APIAddr:       os.Getenv("API_ADDR"),
		PlatformKey:   os.Getenv("PLATFORM_API_KEY"),
		ChatBaseURL:   os.Getenv("CHAT_BASE_URL"),
		ExperienceID:  os.Getenv("DEFAULT_EXPERIENCE_ID"),
		FunnelID:      os.Getenv("DEFAULT_FUNNEL_ID"),
		Messaging:     os.Getenv("MESSAGING_BACKEND"),
		SweepSchedule: os.Getenv("SWEEP_SCHEDULE"),
		IdleThreshold: util.ParseDurationEnv("IDLE_THRESHOLD", scheduler.DefaultIdleThreshold),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No HUSTLER_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Fall back to the main database for the whatsmeow session store
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, "whatsmeow.db")
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"HUSTLER_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"PLATFORM_API_KEY_SET", config.PlatformKey != "",
		"MESSAGING_BACKEND", config.Messaging)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for Hustler data (overrides $HUSTLER_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for the conversation store (overrides $DATABASE_URL)"),
		whatsappDSN:   flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the whatsmeow session store (overrides $WHATSAPP_DB_DSN)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		platformKey:   flag.String("platform-api-key", config.PlatformKey, "commerce platform API key (overrides $PLATFORM_API_KEY)"),
		chatBaseURL:   flag.String("chat-base-url", config.ChatBaseURL, "base URL for internal chat links (overrides $CHAT_BASE_URL)"),
		experienceID:  flag.String("experience-id", config.ExperienceID, "experience id for inbound message routing (overrides $DEFAULT_EXPERIENCE_ID)"),
		funnelID:      flag.String("funnel-id", config.FunnelID, "funnel id for inbound message routing (overrides $DEFAULT_FUNNEL_ID)"),
		messaging:     flag.String("messaging", config.Messaging, "messaging backend: whatsapp, twilio or none (overrides $MESSAGING_BACKEND)"),
		sweepSchedule: flag.String("sweep-schedule", config.SweepSchedule, "cron schedule for the abandonment sweep (overrides $SWEEP_SCHEDULE)"),
		idleThreshold: flag.Duration("idle-threshold", config.IdleThreshold, "idle duration before a conversation is abandoned (overrides $IDLE_THRESHOLD)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"messaging", *flags.messaging,
		"sweepSchedule", *flags.sweepSchedule,
		"idleThreshold", *flags.idleThreshold)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildStore opens the conversation store for the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildMessagingService constructs the configured messaging backend, or nil
// when messaging is disabled.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch strings.ToLower(*flags.messaging) {
	case "twilio":
		client, err := twiliodm.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	case "whatsapp":
		var waOpts []whatsapp.Option
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		slog.Info("Messaging backend disabled", "messaging", *flags.messaging)
		return nil, nil
	}
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	// Platform lookups and interest tracking are optional; without an API key
	// the engine falls back to tenant-id affiliate attribution.
	var lookup platform.Lookup
	var interest platform.InterestTracker
	if *flags.platformKey != "" {
		client, err := platform.NewClient(platform.WithAPIKey(*flags.platformKey))
		if err != nil {
			return err
		}
		lookup = client
		interest = client
	} else {
		slog.Warn("No platform API key configured; affiliate and deep-link lookups disabled")
	}

	msgService, err := buildMessagingService(flags)
	if err != nil {
		return err
	}

	engineOpts := []funnel.Option{
		funnel.WithLinkResolver(funnel.NewLinkResolver(st, lookup, *flags.chatBaseURL)),
	}
	if interest != nil {
		engineOpts = append(engineOpts, funnel.WithInterestTracker(interest))
	}
	if msgService != nil {
		engineOpts = append(engineOpts, funnel.WithMessenger(msgService))
	}
	engine := funnel.NewEngine(st, engineOpts...)

	if msgService != nil {
		if err := msgService.Start(ctx); err != nil {
			return err
		}
		defer msgService.Stop()

		var routerOpts []messaging.RouterOption
		if *flags.experienceID != "" && *flags.funnelID != "" {
			routerOpts = append(routerOpts, messaging.WithFunnelRouting(engine, st, *flags.experienceID, *flags.funnelID))
		} else {
			slog.Warn("No default experience/funnel configured; inbound messages get the default reply")
		}
		respHandler := messaging.NewResponseHandler(msgService, routerOpts...)
		respHandler.Start(ctx)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	sweeper := scheduler.NewSweeper(st, engine, *flags.idleThreshold)
	if err := sweeper.Register(sched, *flags.sweepSchedule); err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(st, engine, msgService, apiOpts...)
	return server.Run(ctx)
}
