package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/denorm/internal/config"
	"github.com/roach88/denorm/internal/extract"
	"github.com/roach88/denorm/internal/load"
	"github.com/roach88/denorm/internal/logger"
	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
	"github.com/roach88/denorm/internal/store"
	"github.com/roach88/denorm/internal/validate"
)

// Target is the document store a migration writes to and validates against.
// *load.Mongo in production, *load.Memory in tests.
type Target interface {
	load.Sink
	validate.Reader
	Clear(ctx context.Context) (map[model.Collection]int64, error)
}

// indexer is implemented by targets that maintain secondary indexes.
type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

// schemaEnforcer is implemented by targets that validate documents on write.
type schemaEnforcer interface {
	EnsureSchema(ctx context.Context, t *policy.Table) error
}

// session is what every command has after setup: configuration, a logger
// and an output formatter.
type session struct {
	cfg *config.Config
	log *slog.Logger
	out *OutputFormatter
}

// newSession loads configuration (environment over the env file) and builds
// the logger. Logs go to stderr so JSON output on stdout stays parseable.
func newSession(root *RootOptions, cmd *cobra.Command) (*session, error) {
	out := &OutputFormatter{
		Format:    root.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   root.Verbose,
	}

	cfg, err := config.Load(root.EnvFile)
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeConfig, "failed to load configuration", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeConfig, "invalid LOG_LEVEL", err)
	}
	if root.Verbose {
		level = slog.LevelDebug
	}
	log := logger.New(cmd.ErrOrStderr(), level, cfg.LogFormat)

	return &session{cfg: cfg, log: log, out: out}, nil
}

// validate checks the configuration after flag overrides were applied.
func (s *session) validate() error {
	if err := s.cfg.Validate(); err != nil {
		return s.out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
// Uses the command's context if available (for testing).
func signalContext(cmd *cobra.Command, log *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, cancelling run", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}

// openSource returns the extractor for the run: the fixture file when set,
// PostgreSQL otherwise. The returned close func is never nil.
func (s *session) openSource(ctx context.Context, fixture string) (extract.Extractor, func(), error) {
	if fixture != "" {
		s.log.Info("reading fixture", slog.String("path", fixture))
		return extract.NewFile(fixture), func() {}, nil
	}

	s.log.Info("connecting to source", slog.String("dsn", s.cfg.Source.Redacted()))
	pool, err := extract.Connect(ctx, s.cfg.Source.DSN(), s.log)
	if err != nil {
		return nil, nil, s.out.Fail(ExitCommandError, CodeSource, "failed to connect to source", err)
	}
	ex := extract.NewPostgres(pool,
		extract.WithPageSize(s.cfg.Source.PageSize),
		extract.WithLogger(s.log),
	)
	return ex, pool.Close, nil
}

// openTarget returns override when set, otherwise connects to MongoDB.
// The returned close func is never nil.
func (s *session) openTarget(ctx context.Context, override Target) (Target, func(), error) {
	if override != nil {
		return override, func() {}, nil
	}

	client, target, err := load.ConnectMongo(ctx, s.cfg.Target.URI, s.cfg.Target.Database, s.log)
	if err != nil {
		return nil, nil, s.out.Fail(ExitCommandError, CodeTarget, "failed to connect to target", err)
	}
	return target, func() {
		if err := client.Disconnect(context.Background()); err != nil {
			s.log.Error("error disconnecting from target", logger.Error(err))
		}
	}, nil
}

// openLedger opens (creating if needed) the run ledger.
func (s *session) openLedger() (*store.Store, func(), error) {
	s.log.Debug("opening ledger", slog.String("path", s.cfg.Run.LedgerPath))
	st, err := store.Open(s.cfg.Run.LedgerPath)
	if err != nil {
		return nil, nil, s.out.Fail(ExitCommandError, CodeLedger, "failed to open ledger", err)
	}
	return st, func() {
		if err := st.Close(); err != nil {
			s.log.Error("error closing ledger", logger.Error(err))
		}
	}, nil
}
