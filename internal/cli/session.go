package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/docstate/internal/audit"
	"github.com/roach88/docstate/internal/config"
	"github.com/roach88/docstate/internal/persist"
	"github.com/roach88/docstate/internal/state"
	"github.com/roach88/docstate/internal/store"
)

// newLogger writes text logs to w: warnings by default, everything with
// --verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.CheckFile(opts.ConfigPath)
		if err != nil {
			return config.Config{}, WrapExitError(ExitFailure, "invalid config", err)
		}
		cfg = loaded
	}
	if opts.Name != "" {
		cfg.Name = opts.Name
	}
	if opts.Database != "" {
		cfg.Storage.Path = opts.Database
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitFailure, "invalid config", err)
	}
	return cfg, nil
}

// backend is the opened storage behind a store.
type backend struct {
	kv    persist.KV
	sink  audit.Sink
	close func() error
	// keys lists kv keys by prefix; nil when the backend cannot enumerate.
	keys  func(ctx context.Context, prefix string) ([]string, error)
}

// openBackend opens the configured storage. The badger backend has no
// durable audit table, so its audit log lives for the process only.
func openBackend(cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		st, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		return &backend{kv: st, sink: st.AuditSink(cfg.Name), close: st.Close, keys: st.Keys}, nil
	case "badger":
		kv, err := persist.OpenBadger(cfg.Storage.Path, logger)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open badger store", err)
		}
		return &backend{kv: kv, sink: audit.NewMemorySink(), close: kv.Close}, nil
	default:
		return &backend{
			kv:    persist.NewMemoryKV(),
			sink:  audit.NewMemorySink(),
			close: func() error { return nil },
		}, nil
	}
}

// session is one opened store plus its backend.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	backend *backend
	store   *state.Store
	closed  bool
}

func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	be, err := openBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	st, err := state.New(cfg,
		state.WithLogger(logger),
		state.WithKV(be.kv),
		state.WithAuditSink(be.sink),
	)
	if err != nil {
		be.close()
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	logger.Debug("store opened", "name", cfg.Name, "backend", cfg.Storage.Backend, "path", cfg.Storage.Path)
	return &session{cfg: cfg, logger: logger, backend: be, store: st}, nil
}

// Close flushes the store and closes the backend. Safe to call twice.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.store.Close()
	if cerr := s.backend.close(); err == nil {
		err = cerr
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to close store", err)
	}
	return nil
}
