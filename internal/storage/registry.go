package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"changesets/internal/config"
	perr "changesets/internal/errors"
	"changesets/internal/logger"
	"changesets/internal/schema"
)

// Config carries what a sink needs to open its destination.
type Config struct {
	// Kind names the registered sink.
	Kind string

	// Path is a file path for file sinks or a DSN for database sinks.
	Path string

	// Table is the destination table for database sinks.
	Table string

	Options config.Options
	Logger  *logger.Logger
}

// Factory opens a sink of one kind for the locked schema.
type Factory func(ctx context.Context, cfg Config, s *schema.Schema) (Sink, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. Sink packages call
// it from init.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// Kinds returns the registered kinds in sorted order.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a sink of cfg.Kind.
func New(ctx context.Context, cfg Config, s *schema.Schema) (Sink, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, perr.Configf("unknown storage kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	sink, err := f(ctx, cfg, s)
	if err != nil {
		if _, ok := perr.As(err); ok {
			return nil, err
		}
		return nil, perr.Wrap(err, perr.KindSink, fmt.Sprintf("open %s sink", cfg.Kind))
	}
	return sink, nil
}

// OpenerFor binds cfg to an Opener for NewWriter. Unknown kinds are reported
// when the writer opens.
func OpenerFor(cfg Config) Opener {
	return func(ctx context.Context, s *schema.Schema) (Sink, error) {
		return New(ctx, cfg, s)
	}
}

// Registered reports whether kind has a factory.
func Registered(kind string) bool {
	regMu.RLock()
	defer regMu.RUnlock()
	_, ok := factories[kind]
	return ok
}
