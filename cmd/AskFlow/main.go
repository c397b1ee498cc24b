package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/AskFlow/internal/api"
	"github.com/BTreeMap/AskFlow/internal/genai"
	"github.com/BTreeMap/AskFlow/internal/store"
	"github.com/BTreeMap/AskFlow/internal/twiliowhatsapp"
	"github.com/BTreeMap/AskFlow/internal/util"
	"github.com/BTreeMap/AskFlow/internal/whatsapp"
	"github.com/joho/godotenv"
)

const (
	// DefaultStateDir holds profiles, the lock file and the default databases.
	DefaultStateDir = "/var/lib/askflow"
	// DefaultWhatsAppDBFileName is the whatsmeow device store inside the state dir.
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAppDBFileName is the application SQLite database inside the state dir.
	DefaultAppDBFileName = "askflow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	waOpts := buildWhatsAppOptions(flags)
	twilioOpts := buildTwilioOptions(config)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts, err := buildAPIOptions(flags)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping AskFlow", "transport", *flags.transport, "state_dir", *flags.stateDir, "api_addr", *flags.apiAddr)
	if err := api.Run(waOpts, twilioOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("AskFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("AskFlow exited successfully")
}

// Config holds environment configuration.
type Config struct {
	StateDir          string
	WhatsAppDBDSN     string
	ApplicationDBDSN  string
	OpenAIKey         string
	OpenAIModel       string
	OpenAIBaseURL     string
	GenAIDebug        bool
	APIAddr           string
	DailySchedule     string
	TimeZone          string
	WebAppURL         string
	GreetingQuestions string
	TelosQuestions    string
	Transport         string
	SessionTimeout    time.Duration
	BatchSize         int
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
}

// Flags holds command line flag values.
type Flags struct {
	qrOutput       *string
	numeric        *bool
	stateDir       *string
	waDSN          *string
	appDSN         *string
	openaiKey      *string
	openaiModel    *string
	openaiBaseURL  *string
	genaiDebug     *bool
	apiAddr        *string
	dailySchedule  *string
	timeZone       *string
	webAppURL      *string
	greetings      *string
	telos          *string
	transport      *string
	sessionTimeout *time.Duration
	batchSize      *int
}

func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig reads .env (if present) and the process environment.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:          os.Getenv("ASKFLOW_STATE_DIR"),
		WhatsAppDBDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		ApplicationDBDSN:  os.Getenv("DATABASE_DSN"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		GenAIDebug:        util.ParseBoolEnv("GENAI_DEBUG", false),
		APIAddr:           os.Getenv("API_ADDR"),
		DailySchedule:     os.Getenv("DAILY_SCHEDULE"),
		TimeZone:          os.Getenv("ASKFLOW_TIMEZONE"),
		WebAppURL:         os.Getenv("WEBAPP_URL"),
		GreetingQuestions: os.Getenv("GREETING_QUESTIONS"),
		TelosQuestions:    os.Getenv("TELOS_QUESTIONS"),
		Transport:         strings.ToLower(os.Getenv("MESSAGING_TRANSPORT")),
		SessionTimeout:    util.ParseDurationEnv("SESSION_TIMEOUT", 0),
		BatchSize:         util.ParseIntEnv("CONTINUE_BATCH_SIZE", 0),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  os.Getenv("TWILIO_FROM_NUMBER"),
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ASKFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}
	if config.Transport == "" {
		config.Transport = api.TransportWhatsApp
	}

	slog.Debug("environment variables loaded",
		"ASKFLOW_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"DAILY_SCHEDULE", config.DailySchedule,
		"WEBAPP_URL", config.WebAppURL,
		"MESSAGING_TRANSPORT", config.Transport)
	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:       flag.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:        flag.Bool("numeric-code", false, "print the raw login code instead of a QR code"),
		stateDir:       flag.String("state-dir", config.StateDir, "state directory (overrides $ASKFLOW_STATE_DIR)"),
		waDSN:          flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "WhatsApp device store DSN (overrides $WHATSAPP_DB_DSN)"),
		appDSN:         flag.String("db-dsn", config.ApplicationDBDSN, "application database DSN (overrides $DATABASE_DSN)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:    flag.String("openai-model", config.OpenAIModel, "chat model (overrides $OPENAI_MODEL)"),
		openaiBaseURL:  flag.String("openai-base-url", config.OpenAIBaseURL, "OpenAI-compatible endpoint (overrides $OPENAI_BASE_URL)"),
		genaiDebug:     flag.Bool("genai-debug", config.GenAIDebug, "dump model requests and responses under the state dir (overrides $GENAI_DEBUG)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		dailySchedule:  flag.String("daily-schedule", config.DailySchedule, "cron expression of the daily questions (overrides $DAILY_SCHEDULE)"),
		timeZone:       flag.String("timezone", config.TimeZone, "IANA time zone of the daily schedule (overrides $ASKFLOW_TIMEZONE)"),
		webAppURL:      flag.String("webapp-url", config.WebAppURL, "question front end base URL (overrides $WEBAPP_URL)"),
		greetings:      flag.String("greeting-questions", config.GreetingQuestions, "onboarding question bank, JSON or YAML (overrides $GREETING_QUESTIONS)"),
		telos:          flag.String("telos-questions", config.TelosQuestions, "daily question bank, JSON or YAML (overrides $TELOS_QUESTIONS)"),
		transport:      flag.String("transport", config.Transport, "messaging transport: whatsapp or twilio (overrides $MESSAGING_TRANSPORT)"),
		sessionTimeout: flag.Duration("session-timeout", config.SessionTimeout, "idle time before a session is dropped (overrides $SESSION_TIMEOUT)"),
		batchSize:      flag.Int("batch-size", config.BatchSize, "questions per daily batch (overrides $CONTINUE_BATCH_SIZE)"),
	}
	flag.Parse()

	// Follow a changed -state-dir with the default DSNs that were derived from it.
	if *flags.stateDir != config.StateDir {
		if *flags.appDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
			*flags.appDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		}
		if *flags.waDSN == defaultWhatsAppDSN(config.StateDir) {
			*flags.waDSN = defaultWhatsAppDSN(*flags.stateDir)
		}
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"transport", *flags.transport,
		"apiAddr", *flags.apiAddr,
		"dailySchedule", *flags.dailySchedule,
		"webAppURL", *flags.webAppURL,
		"openaiKeySet", *flags.openaiKey != "")
	return flags
}

// ensureDirectoriesExist creates the state dir and the parent of a file based
// application database.
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if store.DetectDSNType(*flags.appDSN) != "postgres" {
		dirs = append(dirs, filepath.Dir(strings.TrimPrefix(*flags.appDSN, "file:")))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var opts []whatsapp.Option
	if *flags.qrOutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	if *flags.waDSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return opts
}

func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if config.TwilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFromNumber != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(config.TwilioFromNumber))
	}
	return opts
}

func buildStoreOptions(flags Flags) []store.Option {
	dsn := *flags.appDSN
	if dsn == "" {
		slog.Debug("No application DSN, using the JSON file store", "dir", *flags.stateDir)
		return []store.Option{store.WithFileDir(filepath.Join(*flags.stateDir, "data"))}
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(dsn)}
	}
	slog.Debug("Detected SQLite DSN", "db_path", dsn)
	return []store.Option{store.WithSQLiteDSN(dsn)}
}

func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		opts = append(opts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.openaiBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(*flags.openaiBaseURL))
	}
	if *flags.genaiDebug {
		opts = append(opts, genai.WithDebugMode(true, *flags.stateDir))
	}
	return opts
}

func buildAPIOptions(flags Flags) ([]api.Option, error) {
	opts := []api.Option{
		api.WithStateDir(*flags.stateDir),
		api.WithTransport(*flags.transport),
	}
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.dailySchedule != "" {
		opts = append(opts, api.WithDailySchedule(*flags.dailySchedule))
	}
	if *flags.timeZone != "" {
		loc, err := time.LoadLocation(*flags.timeZone)
		if err != nil {
			return nil, err
		}
		opts = append(opts, api.WithLocation(loc))
	}
	if *flags.webAppURL != "" {
		opts = append(opts, api.WithWebAppURL(*flags.webAppURL))
	}
	if *flags.greetings != "" {
		opts = append(opts, api.WithGreetingQuestions(*flags.greetings))
	}
	if *flags.telos != "" {
		opts = append(opts, api.WithTelosQuestions(*flags.telos))
	}
	if *flags.sessionTimeout > 0 {
		opts = append(opts, api.WithSessionTimeout(*flags.sessionTimeout))
	}
	if *flags.batchSize > 0 {
		opts = append(opts, api.WithBatchSize(*flags.batchSize))
	}
	return opts, nil
}
