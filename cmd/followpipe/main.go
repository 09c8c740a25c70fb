package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/juliahq/followpipe/internal/api"
	"github.com/juliahq/followpipe/internal/followup"
	"github.com/juliahq/followpipe/internal/genai"
	"github.com/juliahq/followpipe/internal/lockfile"
	"github.com/juliahq/followpipe/internal/messaging"
	"github.com/juliahq/followpipe/internal/scheduler"
	"github.com/juliahq/followpipe/internal/store"
	"github.com/juliahq/followpipe/internal/util"
	"github.com/juliahq/followpipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FollowPipe state data
	DefaultStateDir = "/var/lib/followpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "followpipe.db"
	// DefaultSweepCron runs the pre-follow-up cleanup sweep nightly.
	DefaultSweepCron = "0 3 * * *"
	// DefaultPromoteCron promotes due pre-follow-ups every five minutes.
	DefaultPromoteCron = "*/5 * * * *"
	// DefaultDeliveryCron delivers due executions every minute.
	DefaultDeliveryCron = "* * * * *"
)

func main() {
	// Load environment before logger setup so the debug toggle applies.
	config := loadEnvironmentConfig()

	initializeLogger(config.Debug)

	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Only one FollowPipe instance may own a state directory at a time.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire process lock", "error", err)
		os.Exit(1)
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			slog.Error("Failed to release process lock", "error", releaseErr)
		}
	}()

	slog.Info("Bootstrapping FollowPipe with configured modules")
	if err := run(flags, config); err != nil {
		slog.Error("FollowPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("FollowPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	WhatsAppDSN    string
	StateDir       string
	OpenAIKey      string
	APIAddr        string
	Provider       string
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
	GatewayBaseURL string
	GatewayToken   string
	GatewayInst    string
	SweepCron      string
	PromoteCron    string
	DeliveryCron   string
	DeliveryBatch  int
	Debug          bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	openaiKey    *string
	apiAddr      *string
	provider     *string
	sweepCron    *string
	promoteCron  *string
	deliveryCron *string
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:       os.Getenv("FOLLOWPIPE_STATE_DIR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		APIAddr:        os.Getenv("API_ADDR"),
		Provider:       os.Getenv("MESSAGING_PROVIDER"),
		TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:     os.Getenv("TWILIO_FROM_NUMBER"),
		GatewayBaseURL: os.Getenv("GATEWAY_BASE_URL"),
		GatewayToken:   os.Getenv("GATEWAY_TOKEN"),
		GatewayInst:    os.Getenv("GATEWAY_INSTANCE"),
		SweepCron:      os.Getenv("FOLLOWUP_SWEEP_CRON"),
		PromoteCron:    os.Getenv("FOLLOWUP_PROMOTE_CRON"),
		DeliveryCron:   os.Getenv("FOLLOWUP_DELIVERY_CRON"),
		DeliveryBatch:  util.ParseIntEnv("FOLLOWUP_DELIVERY_BATCH", followup.DefaultDeliveryBatchSize),
		Debug:          util.ParseBoolEnv("FOLLOWPIPE_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.Provider == "" {
		config.Provider = "whatsmeow"
	}
	if config.SweepCron == "" {
		config.SweepCron = DefaultSweepCron
	}
	if config.PromoteCron == "" {
		config.PromoteCron = DefaultPromoteCron
	}
	if config.DeliveryCron == "" {
		config.DeliveryCron = DefaultDeliveryCron
	}

	// If no database URL is provided, default to SQLite in the state directory.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	// The whatsmeow session store shares the main database unless overridden.
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"FOLLOWPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_PROVIDER", config.Provider,
		"FOLLOWUP_SWEEP_CRON", config.SweepCron,
		"FOLLOWUP_PROMOTE_CRON", config.PromoteCron,
		"FOLLOWUP_DELIVERY_CRON", config.DeliveryCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for FollowPipe data (overrides $FOLLOWPIPE_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN for the follow-up store (overrides $DATABASE_URL)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		provider:     flag.String("provider", config.Provider, "messaging provider: whatsmeow, twilio, uazap or evolution (overrides $MESSAGING_PROVIDER)"),
		sweepCron:    flag.String("sweep-cron", config.SweepCron, "cron schedule for the cleanup sweep (overrides $FOLLOWUP_SWEEP_CRON)"),
		promoteCron:  flag.String("promote-cron", config.PromoteCron, "cron schedule for pre-follow-up promotion (overrides $FOLLOWUP_PROMOTE_CRON)"),
		deliveryCron: flag.String("delivery-cron", config.DeliveryCron, "cron schedule for message delivery (overrides $FOLLOWUP_DELIVERY_CRON)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"provider", *flags.provider)

	// Follow a relocated state directory when the DSN was derived from it.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
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
		slog.Debug("Creating directory for file-based database", "dir", dbDir)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dbDir)
			return err
		}
	}
	return nil
}

// buildStore opens the follow-up store for the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildMessagingService constructs the configured delivery provider.
func buildMessagingService(flags Flags, config Config) (messaging.Service, error) {
	switch *flags.provider {
	case "whatsmeow":
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDSN)}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(waClient), nil
	case "twilio":
		client, err := messaging.NewTwilioClient(
			messaging.WithAccountSID(config.TwilioSID),
			messaging.WithAuthToken(config.TwilioToken),
			messaging.WithFromNumber(config.TwilioFrom),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	case "uazap", "evolution":
		return messaging.NewHTTPService(
			messaging.WithBaseURL(config.GatewayBaseURL),
			messaging.WithToken(config.GatewayToken),
			messaging.WithInstance(config.GatewayInst),
			messaging.WithGatewayStyle(messaging.GatewayStyle(*flags.provider)),
		)
	default:
		return nil, fmt.Errorf("unknown messaging provider %q", *flags.provider)
	}
}

// run wires the store, services and scheduler together and blocks until a
// shutdown signal arrives.
func run(flags Flags, config Config) error {
	st, err := buildStore(flags)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	msgService, err := buildMessagingService(flags, config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer func() {
		if stopErr := msgService.Stop(); stopErr != nil {
			slog.Error("Failed to stop messaging service", "error", stopErr)
		}
	}()

	// Drain provider events continuously; a full receipt buffer would make
	// every send wait out the emit timeout.
	go func() {
		for {
			select {
			case receipt, ok := <-msgService.Receipts():
				if !ok {
					return
				}
				slog.Debug("Delivery receipt", "to", receipt.To, "status", receipt.Status)
			case response, ok := <-msgService.Responses():
				if !ok {
					return
				}
				slog.Info("Inbound message received", "from", response.From, "body_length", len(response.Body))
			}
		}
	}()

	// Auto-message generation degrades to canned fallback text without a key.
	var textGen followup.TextGenerator
	if *flags.openaiKey != "" {
		gaClient, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return fmt.Errorf("failed to create GenAI client: %w", err)
		}
		textGen = gaClient
	} else {
		slog.Warn("No OpenAI API key configured, auto-messages will use fallback text")
	}

	generator := followup.NewGenerator(st, textGen)
	sweeper := followup.NewSweeper(st)
	promoter := followup.NewPromoter(st)
	deliverer := followup.NewDeliverer(st, generator, msgService, followup.WithBatchSize(config.DeliveryBatch))

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	if err := sched.AddJob(*flags.sweepCron, func() {
		if result, err := sweeper.Run(); err != nil {
			slog.Error("Scheduled sweep failed", "error", err)
		} else {
			slog.Info("Scheduled sweep complete", "result", result.String())
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep job: %w", err)
	}
	if err := sched.AddJob(*flags.promoteCron, func() {
		if result, err := promoter.Run(); err != nil {
			slog.Error("Scheduled promotion failed", "error", err)
		} else if result.Promoted > 0 {
			slog.Info("Scheduled promotion complete", "promoted", result.Promoted, "scheduled", result.Scheduled, "skipped", result.Skipped)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule promotion job: %w", err)
	}
	if err := sched.AddJob(*flags.deliveryCron, func() {
		if result, err := deliverer.Run(ctx); err != nil {
			slog.Error("Scheduled delivery failed", "error", err)
		} else if result.Claimed > 0 {
			slog.Info("Scheduled delivery complete", "claimed", result.Claimed, "sent", result.Sent, "failed", result.Failed)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule delivery job: %w", err)
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(st, apiOpts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received shutdown signal", "signal", sig.String())
		if err := server.Stop(); err != nil {
			slog.Error("Failed to stop API server", "error", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
