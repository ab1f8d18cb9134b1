package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/arbor/internal/engine"
	"github.com/roach88/arbor/internal/store"
	"github.com/roach88/arbor/internal/store/redisstore"
)

// Store backends accepted by --store.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// backend is the persistence wiring of one run. Completed contexts go to
// contexts; tracking records go to the SQLite log when one is open.
type backend struct {
	kind     string
	contexts engine.ContextStore
	log      *store.Store
	closers  []func() error
}

// openBackend opens the store named by kind. An empty kind picks sqlite
// when dbPath is set and memory otherwise. The redis backend also opens
// the SQLite log when dbPath is set.
func openBackend(ctx context.Context, kind, dbPath, redisAddr string, logger *slog.Logger) (*backend, error) {
	if kind == "" {
		kind = BackendMemory
		if dbPath != "" {
			kind = BackendSQLite
		}
	}
	b := &backend{kind: kind}

	switch kind {
	case BackendMemory:
		b.contexts = engine.NewMemoryStore()
	case BackendSQLite:
		if dbPath == "" {
			return nil, NewExitError(ExitCommandError, "--db is required for the sqlite store")
		}
	case BackendRedis:
		rs := redisstore.New(redisAddr, "", 0)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to reach redis at %s", redisAddr), err)
		}
		b.contexts = rs
		b.closers = append(b.closers, rs.Close)
	default:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown store %q: must be memory, sqlite or redis", kind))
	}

	if dbPath != "" && kind != BackendMemory {
		st, err := store.Open(dbPath)
		if err != nil {
			_ = b.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		b.log = st
		b.closers = append(b.closers, st.Close)
		if b.contexts == nil {
			b.contexts = st
		}
	}
	logger.Debug("store ready", "store", kind, "db", dbPath)
	return b, nil
}

// options returns the executor options persisting into b.
func (b *backend) options() []engine.Option {
	opts := []engine.Option{engine.WithContextStore(b.contexts)}
	if b.log != nil {
		opts = append(opts, engine.WithTracker(b.log))
	}
	return opts
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// openLog opens the SQLite tracking log for read commands.
func openLog(opts *RootOptions) (*store.Store, error) {
	if opts.Database == "" {
		return nil, NewExitError(ExitCommandError, "--db is required")
	}
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
