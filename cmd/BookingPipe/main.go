package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/BookingPipe/internal/genai"
	"github.com/BTreeMap/BookingPipe/internal/interpret"
	"github.com/BTreeMap/BookingPipe/internal/metrics"
	"github.com/BTreeMap/BookingPipe/internal/scheduler"
	"github.com/BTreeMap/BookingPipe/internal/store"
	"github.com/BTreeMap/BookingPipe/internal/util"
	"github.com/BTreeMap/BookingPipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for BookingPipe state data
	DefaultStateDir = "/var/lib/bookingpipe"
	// DefaultAppDBFileName is the default SQLite appointment database filename
	DefaultAppDBFileName = "bookingpipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultRateLimitRPS is the default per-IP request rate of the API
	DefaultRateLimitRPS = 10.0
)

// LLM provider names accepted by LLM_PROVIDER.
const (
	providerOpenAI = "openai"
	providerGemini = "gemini"
	providerNone   = "none"
)

func main() {
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)
	initializeLogger(*flags.debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case *flags.example:
		err = runExample(ctx, flags, os.Stdout)
	case *flags.message != "":
		err = runMessage(ctx, flags, os.Stdout)
	case *flags.chat:
		err = runChat(ctx, flags, os.Stdin, os.Stdout)
	default:
		err = serve(ctx, flags)
	}
	if err != nil {
		slog.Error("BookingPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("BookingPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir        string
	DatabaseDSN     string
	RedisURL        string
	APIAddr         string
	OpenAIKey       string
	OpenAIModel     string
	OpenAIBaseURL   string
	GeminiKey       string
	GeminiModel     string
	LLMProvider     string
	MCPEndpoint     string
	MCPPreferRemote bool
	MCPTimeout      time.Duration
	WhatsAppDSN     string
	WhatsAppEnabled bool
	TwilioEnabled   bool
	ContinuePending bool
	RateLimitRPS    float64
	PurgeSchedule   string
	InboundTTL      time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	redisURL        *string
	apiAddr         *string
	openaiKey       *string
	openaiModel     *string
	openaiBaseURL   *string
	geminiKey       *string
	geminiModel     *string
	llmProvider     *string
	mcpEndpoint     *string
	mcpPreferRemote *bool
	mcpTimeout      *time.Duration
	whatsappDSN     *string
	whatsapp        *bool
	twilio          *bool
	qrOutput        *string
	numeric         *bool
	continuePending *bool
	rateLimit       *float64
	purgeSchedule   *string
	inboundTTL      *time.Duration
	debug           *bool

	chat      *bool
	message   *string
	example   *bool
	userID    *string
	sessionID *string
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:        util.GetEnvDefault("BOOKINGPIPE_STATE_DIR", DefaultStateDir),
		DatabaseDSN:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		APIAddr:         os.Getenv("API_ADDR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		GeminiKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     os.Getenv("GEMINI_MODEL"),
		LLMProvider:     strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER"))),
		MCPEndpoint:     os.Getenv("MCP_ENDPOINT"),
		MCPPreferRemote: util.ParseBoolEnv("MCP_PREFER_REMOTE", true),
		MCPTimeout:      util.ParseDurationEnv("MCP_TIMEOUT", interpret.DefaultTimeout),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		WhatsAppEnabled: util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		TwilioEnabled:   os.Getenv("TWILIO_ACCOUNT_SID") != "",
		ContinuePending: util.ParseBoolEnv("BOOKING_CONTINUE_PENDING", false),
		RateLimitRPS:    DefaultRateLimitRPS,
		PurgeSchedule:   util.GetEnvDefault("INBOUND_PURGE_SCHEDULE", scheduler.DefaultPurgeSchedule),
		InboundTTL:      util.ParseDurationEnv("INBOUND_RETENTION", scheduler.DefaultInboundRetention),
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			config.RateLimitRPS = rps
		} else {
			slog.Warn("invalid RATE_LIMIT_RPS, using default", "value", v, "default", DefaultRateLimitRPS)
		}
	}

	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No DATABASE_URL set, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = defaultWhatsAppDSN(config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"BOOKINGPIPE_STATE_DIR", config.StateDir,
		"REDIS_URL_SET", config.RedisURL != "",
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"LLM_PROVIDER", config.LLMProvider,
		"MCP_ENDPOINT", config.MCPEndpoint,
		"WHATSAPP_ENABLED", config.WhatsAppEnabled,
		"TWILIO_ENABLED", config.TwilioEnabled)
	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	return parseFlags(flag.CommandLine, os.Args[1:], config)
}

func parseFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		stateDir:        fs.String("state-dir", config.StateDir, "state directory for BookingPipe data (overrides $BOOKINGPIPE_STATE_DIR)"),
		dbDSN:           fs.String("db-dsn", config.DatabaseDSN, "appointment store DSN: postgres, SQLite path or .json file (overrides $DATABASE_URL)"),
		redisURL:        fs.String("redis-url", config.RedisURL, "Redis URL for conversation sessions (overrides $REDIS_URL)"),
		apiAddr:         fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		openaiKey:       fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:     fs.String("openai-model", config.OpenAIModel, "OpenAI model (overrides $OPENAI_MODEL)"),
		openaiBaseURL:   fs.String("openai-base-url", config.OpenAIBaseURL, "OpenAI-compatible base URL (overrides $OPENAI_BASE_URL)"),
		geminiKey:       fs.String("gemini-api-key", config.GeminiKey, "Gemini API key (overrides $GEMINI_API_KEY)"),
		geminiModel:     fs.String("gemini-model", config.GeminiModel, "Gemini model (overrides $GEMINI_MODEL)"),
		llmProvider:     fs.String("llm-provider", config.LLMProvider, "interpretation LLM: openai, gemini or none; empty picks by available key (overrides $LLM_PROVIDER)"),
		mcpEndpoint:     fs.String("mcp-endpoint", config.MCPEndpoint, "remote interpretation /task endpoint (overrides $MCP_ENDPOINT)"),
		mcpPreferRemote: fs.Bool("mcp-prefer-remote", config.MCPPreferRemote, "ask the remote endpoint before the LLM (overrides $MCP_PREFER_REMOTE)"),
		mcpTimeout:      fs.Duration("mcp-timeout", config.MCPTimeout, "per-call interpretation timeout (overrides $MCP_TIMEOUT)"),
		whatsappDSN:     fs.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)"),
		whatsapp:        fs.Bool("whatsapp", config.WhatsAppEnabled, "enable the WhatsApp channel (overrides $WHATSAPP_ENABLED)"),
		twilio:          fs.Bool("twilio", config.TwilioEnabled, "enable the Twilio channel (default on when $TWILIO_ACCOUNT_SID is set)"),
		qrOutput:        fs.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:         fs.Bool("numeric-code", false, "print the WhatsApp pairing code instead of a QR code"),
		continuePending: fs.Bool("continue-pending", config.ContinuePending, "keep a pending booking operation when a message has no clear intent (overrides $BOOKING_CONTINUE_PENDING)"),
		rateLimit:       fs.Float64("rate-limit", config.RateLimitRPS, "per-IP API requests per second, 0 disables (overrides $RATE_LIMIT_RPS)"),
		purgeSchedule:   fs.String("purge-schedule", config.PurgeSchedule, "cron expression for purging old inbound message ids, empty disables (overrides $INBOUND_PURGE_SCHEDULE)"),
		inboundTTL:      fs.Duration("inbound-retention", config.InboundTTL, "how long inbound message ids are kept for deduplication (overrides $INBOUND_RETENTION)"),
		debug:           fs.Bool("debug", false, "enable debug logging"),

		chat:      fs.Bool("chat", false, "start an interactive chat in the terminal"),
		message:   fs.String("message", "", "send a single message and exit"),
		example:   fs.Bool("example", false, "run the example booking and rescheduling conversation"),
		userID:    fs.String("user-id", "", "user id for chat modes (generated when empty)"),
		sessionID: fs.String("session-id", "", "session id for chat modes (derived from the user id when empty)"),
	}
	if err := fs.Parse(args); err != nil {
		slog.Warn("failed to parse flags", "error", err)
	}

	// A state directory given only on the command line also moves the default database files.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
	}
	if *flags.whatsappDSN == defaultWhatsAppDSN(config.StateDir) && *flags.stateDir != config.StateDir {
		*flags.whatsappDSN = defaultWhatsAppDSN(*flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"llmProvider", *flags.llmProvider,
		"whatsapp", *flags.whatsapp,
		"twilio", *flags.twilio)
	return flags
}

// ensureDirectoriesExist creates the directory of a file-based appointment store
func ensureDirectoriesExist(flags Flags) error {
	dsn := *flags.dbDSN
	if dsn == "" || store.DetectDSNType(dsn) == store.DriverPostgres {
		return nil
	}
	dir := filepath.Dir(strings.TrimPrefix(dsn, "file:"))
	if err := os.MkdirAll(dir, store.DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	dsn := *flags.dbDSN
	if dsn == "" {
		return nil
	}
	switch store.DetectDSNType(dsn) {
	case store.DriverPostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return []store.Option{store.WithPostgresDSN(dsn)}
	case store.DriverJSON:
		slog.Debug("Detected JSON store path", "path", dsn)
		return []store.Option{store.WithJSONPath(dsn)}
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
		return []store.Option{store.WithSQLiteDSN(dsn)}
	}
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
	}
	return waOpts
}

// llmProvider resolves the configured provider, picking by available key when unset.
func llmProvider(flags Flags) string {
	switch p := *flags.llmProvider; p {
	case providerOpenAI, providerGemini, providerNone:
		return p
	case "":
	default:
		slog.Warn("unknown LLM provider, picking by available key", "provider", p)
	}
	switch {
	case *flags.openaiKey != "":
		return providerOpenAI
	case *flags.geminiKey != "":
		return providerGemini
	default:
		return providerNone
	}
}

// buildGenerator creates the LLM text generator, or nil when none is configured.
func buildGenerator(ctx context.Context, flags Flags) (genai.Generator, func(), error) {
	noop := func() {}
	switch llmProvider(flags) {
	case providerOpenAI:
		gen, err := genai.NewClient(
			genai.WithAPIKey(*flags.openaiKey),
			genai.WithModel(*flags.openaiModel),
			genai.WithBaseURL(*flags.openaiBaseURL),
			genai.WithDebugMode(*flags.debug, *flags.stateDir),
		)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return gen, noop, nil
	case providerGemini:
		gen, err := genai.NewGeminiClient(ctx,
			genai.WithAPIKey(*flags.geminiKey),
			genai.WithModel(*flags.geminiModel),
		)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return gen, func() { gen.Close() }, nil
	default:
		return nil, noop, nil
	}
}

// interpretation holds the resolver chain and the service answering POST /task.
type interpretation struct {
	resolver *interpret.Resolver
	tasks    interpret.Service
	close    func()
}

// buildInterpretation orders the backends: remote and LLM (remote first unless
// told otherwise), then the local interpreter.
func buildInterpretation(ctx context.Context, flags Flags, m *metrics.Metrics) (*interpretation, error) {
	local := interpret.NewLocal(nil)
	gen, closeGen, err := buildGenerator(ctx, flags)
	if err != nil {
		return nil, err
	}

	var remote, llm []interpret.ResolverOption
	var tasks interpret.Service = local
	if *flags.mcpEndpoint != "" {
		remote = append(remote, interpret.WithBackend("remote", interpret.NewRemote(*flags.mcpEndpoint, nil, *flags.mcpTimeout)))
	}
	if gen != nil {
		svc := interpret.NewLLM(gen, nil)
		llm = append(llm, interpret.WithBackend("llm", svc))
		tasks = svc
	}

	opts := []interpret.ResolverOption{
		interpret.WithLocal(local),
		interpret.WithTimeout(*flags.mcpTimeout),
		interpret.WithMetrics(m),
	}
	if *flags.mcpPreferRemote {
		opts = append(append(opts, remote...), llm...)
	} else {
		opts = append(append(opts, llm...), remote...)
	}
	slog.Info("interpretation configured", "llm", llmProvider(flags), "remote", *flags.mcpEndpoint != "", "prefer_remote", *flags.mcpPreferRemote)
	return &interpretation{resolver: interpret.NewResolver(opts...), tasks: tasks, close: closeGen}, nil
}
