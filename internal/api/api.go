package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/BTreeMap/AskFlow/internal/analysis"
	"github.com/BTreeMap/AskFlow/internal/flow"
	"github.com/BTreeMap/AskFlow/internal/genai"
	"github.com/BTreeMap/AskFlow/internal/lockfile"
	"github.com/BTreeMap/AskFlow/internal/messaging"
	"github.com/BTreeMap/AskFlow/internal/profile"
	"github.com/BTreeMap/AskFlow/internal/questionbank"
	"github.com/BTreeMap/AskFlow/internal/scheduler"
	"github.com/BTreeMap/AskFlow/internal/store"
	"github.com/BTreeMap/AskFlow/internal/twiliowhatsapp"
	"github.com/BTreeMap/AskFlow/internal/whatsapp"
)

// Transport names accepted by WithTransport.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// ShutdownTimeout bounds how long Run waits for background work on exit.
const ShutdownTimeout = 15 * time.Second

// Opts holds configuration options for the API server and its wiring.
type Opts struct {
	Addr           string
	StateDir       string
	DailySchedule  string
	WebAppURL      string
	GreetingsPath  string
	TelosPath      string
	Transport      string
	BatchSize      int
	SessionTimeout time.Duration
	ReapInterval   time.Duration
	JobPoll        time.Duration
	Location       *time.Location
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStateDir sets the directory holding profiles, the lock file and debug dumps.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithDailySchedule sets the cron expression of the CONTINUING trigger.
func WithDailySchedule(expr string) Option {
	return func(o *Opts) { o.DailySchedule = expr }
}

// WithWebAppURL sets the question front end base URL. Without it batch flows
// are asked one question at a time in chat.
func WithWebAppURL(url string) Option {
	return func(o *Opts) { o.WebAppURL = url }
}

// WithGreetingQuestions sets the onboarding question bank file.
func WithGreetingQuestions(path string) Option {
	return func(o *Opts) { o.GreetingsPath = path }
}

// WithTelosQuestions sets the CONTINUING question bank file.
func WithTelosQuestions(path string) Option {
	return func(o *Opts) { o.TelosPath = path }
}

// WithTransport selects TransportWhatsApp or TransportTwilio.
func WithTransport(name string) Option {
	return func(o *Opts) { o.Transport = name }
}

// WithBatchSize caps CONTINUING batches.
func WithBatchSize(n int) Option {
	return func(o *Opts) { o.BatchSize = n }
}

// WithSessionTimeout sets the idle time after which the reaper evicts a session.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *Opts) { o.SessionTimeout = d }
}

// WithLocation sets the time zone of the daily trigger and its fire keys.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

func buildOpts(apiOpts []Option) Opts {
	cfg := Opts{
		Addr:           DefaultAddr,
		DailySchedule:  scheduler.DefaultDailySchedule,
		Transport:      TransportWhatsApp,
		SessionTimeout: flow.DefaultSessionTimeout,
		ReapInterval:   flow.DefaultReapInterval,
		JobPoll:        10 * time.Second,
		Location:       time.Local,
	}
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	return cfg
}

// Run wires every component, serves until SIGINT or SIGTERM and then shuts
// down in reverse order.
func Run(waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := buildOpts(apiOpts)
	if err := scheduler.Validate(cfg.DailySchedule); err != nil {
		return err
	}
	greetings, err := loadBank("GREETING_QUESTIONS", cfg.GreetingsPath)
	if err != nil {
		return err
	}
	telos, err := loadBank("TELOS_QUESTIONS", cfg.TelosPath)
	if err != nil {
		return err
	}

	if cfg.StateDir != "" {
		lock, err := lockfile.Acquire(cfg.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("api.Run: store close failed", "error", err)
		}
	}()

	profiles, err := profile.NewFileStore(filepath.Join(stateDirOrTemp(cfg.StateDir), "profiles"))
	if err != nil {
		return err
	}
	gen, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}

	msgService, err := newMessagingService(cfg.Transport, waOpts, twilioOpts)
	if err != nil {
		return err
	}

	orch, err := flow.New(flow.Deps{
		Messenger: msgService,
		Analyst:   analysis.NewPipeline(gen),
		Profiles:  profiles,
		Store:     st,
		Jobs:      st,
		Greetings: greetings,
		Telos:     telos,
		WebAppURL: cfg.WebAppURL,
		BatchSize: cfg.BatchSize,
		Location:  cfg.Location,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.WithLocation(cfg.Location))
	if err := orch.Recurring().Register(ctx, sched, cfg.DailySchedule); err != nil {
		return err
	}
	sched.Start()

	runner := store.NewJobRunner(st, store.WithPollInterval(cfg.JobPoll))
	orch.RegisterJobHandlers(runner)
	if err := runner.RecoverStaleJobs(); err != nil {
		slog.Warn("api.Run: stale job recovery failed", "error", err)
	}

	reaper := flow.NewReaper(orch.Sessions(), flow.WithReapInterval(cfg.ReapInterval), flow.WithSessionTimeout(cfg.SessionTimeout))
	server := NewServer(msgService, orch, cfg.Addr)

	var wg sync.WaitGroup
	background := []func(context.Context){reaper.Run, runner.Run, func(ctx context.Context) { orch.Run(ctx, msgService) }}
	for _, fn := range background {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(ctx)
		}(fn)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()
	slog.Info("api.Run: AskFlow running", "addr", cfg.Addr, "transport", cfg.Transport, "schedule", cfg.DailySchedule)

	select {
	case <-ctx.Done():
		slog.Info("api.Run: shutdown signal received")
		err = nil
	case err = <-serveErr:
		slog.Error("api.Run: HTTP server stopped", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		slog.Warn("api.Run: HTTP shutdown incomplete", "error", serr)
	}
	sched.Stop(shutdownCtx)
	wg.Wait()
	if serr := msgService.Stop(); serr != nil {
		slog.Warn("api.Run: messaging stop failed", "error", serr)
	}
	return err
}

func newMessagingService(transport string, waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option) (messaging.Service, error) {
	switch transport {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(twilioOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	case TransportWhatsApp, "":
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// loadBank loads a required question bank. setting names the variable that
// configures it, for the error message.
func loadBank(setting, path string) (*questionbank.Bank, error) {
	if path == "" {
		return nil, fmt.Errorf("question bank not configured: set %s", setting)
	}
	bank, err := questionbank.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", setting, err)
	}
	return bank, nil
}

func stateDirOrTemp(dir string) string {
	if dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "askflow")
}
