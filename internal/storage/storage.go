package storage

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// SnapshotStore persists the single client-local snapshot key: the text
// of the most recent user query, shown on the minimized summary view.
type SnapshotStore interface {
	// Ping probes that the backing storage is reachable.
	Ping(ctx context.Context) error
	// SaveLastQuery stores the most recent user query text.
	SaveLastQuery(ctx context.Context, text string) error
	// LastQuery returns the stored query text, or "" when none is stored.
	LastQuery(ctx context.Context) (string, error)
}

// ConsentChecker gates snapshot writes on the user's consent level.
type ConsentChecker interface {
	StorageAllowed() bool
}

// StaticConsent is a fixed consent decision.
type StaticConsent bool

func (c StaticConsent) StorageAllowed() bool { return bool(c) }

// Noop is a SnapshotStore that stores nothing. Used when local storage
// is disabled by configuration.
type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) Ping(context.Context) error                  { return nil }
func (Noop) SaveLastQuery(context.Context, string) error { return nil }
func (Noop) LastQuery(context.Context) (string, error)   { return "", nil }

// Guarded wraps a SnapshotStore with an availability probe and a consent
// check. Availability is probed once, on first use, and cached; when the
// probe fails or consent is withheld, every operation degrades to a
// silent no-op instead of returning an error.
type Guarded struct {
	inner   SnapshotStore
	consent ConsentChecker
	log     *zerolog.Logger

	probeOnce sync.Once
	available bool
}

func NewGuarded(inner SnapshotStore, consent ConsentChecker, logger *zerolog.Logger) *Guarded {
	compLog := logger.With().Str("component", "SnapshotStore").Logger()
	return &Guarded{inner: inner, consent: consent, log: &compLog}
}

func (g *Guarded) probe(ctx context.Context) bool {
	g.probeOnce.Do(func() {
		if err := g.inner.Ping(ctx); err != nil {
			g.log.Warn().Err(err).Msg("local snapshot storage unavailable, degrading to no-op")
			return
		}
		g.available = true
	})
	return g.available
}

func (g *Guarded) Ping(ctx context.Context) error {
	g.probe(ctx)
	return nil
}

func (g *Guarded) SaveLastQuery(ctx context.Context, text string) error {
	if !g.consent.StorageAllowed() || !g.probe(ctx) {
		return nil
	}
	if err := g.inner.SaveLastQuery(ctx, text); err != nil {
		g.log.Warn().Err(err).Msg("failed to persist last query snapshot")
	}
	return nil
}

func (g *Guarded) LastQuery(ctx context.Context) (string, error) {
	if !g.probe(ctx) {
		return "", nil
	}
	text, err := g.inner.LastQuery(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("failed to read last query snapshot")
		return "", nil
	}
	return text, nil
}
