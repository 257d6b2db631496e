package market

import (
	"context"
	"fmt"
	"sync"

	"ecoStock/internal/domain"
	"ecoStock/internal/ports"
)

// SnapshotSource is the part of ports.MarketAPI the history loader needs.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, symbolID int64) (*domain.Snapshot, error)
}

// History is an accepted snapshot with its derived endpoints.
type History struct {
	SymbolID int64
	Series   *domain.Series
	Extended []int64
	Current  *domain.Point
	Previous *domain.Point
}

// DeriveEndpoints returns the last and second-to-last points of a series.
func DeriveEndpoints(s *domain.Series) (current, previous *domain.Point) {
	n := s.Len()
	if n >= 1 {
		p := s.At(n - 1)
		current = &p
	}
	if n >= 2 {
		p := s.At(n - 2)
		previous = &p
	}
	return current, previous
}

// HistoryLoader fetches snapshots and drops responses that arrive after a
// newer load was started.
type HistoryLoader struct {
	source SnapshotSource
	logger ports.Logger

	mu       sync.Mutex
	seq      uint64
	disposed bool
	loaded   map[int64]*History
}

// NewHistoryLoader creates a loader over the given snapshot source.
func NewHistoryLoader(source SnapshotSource, logger ports.Logger) (*HistoryLoader, error) {
	if source == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for HistoryLoader")
	}
	return &HistoryLoader{source: source, logger: logger, loaded: make(map[int64]*History)}, nil
}

// Load clears whatever is cached for symbolID, fetches a fresh snapshot and
// returns it. If another Load started meanwhile the result is discarded with
// ports.ErrStaleResponse.
func (l *HistoryLoader) Load(ctx context.Context, symbolID int64) (*History, error) {
	op := "LoadHistory"

	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return nil, fmt.Errorf("%s failed: %w", op, ports.ErrDisposed)
	}
	l.seq++
	token := l.seq
	delete(l.loaded, symbolID)
	l.mu.Unlock()

	snap, err := l.source.GetSnapshot(ctx, symbolID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed {
		return nil, fmt.Errorf("%s failed: %w", op, ports.ErrDisposed)
	}
	if token != l.seq {
		l.logger.Debug(ctx, "Discarding superseded snapshot", map[string]interface{}{"symbolId": symbolID})
		return nil, fmt.Errorf("%s failed: %w", op, ports.ErrStaleResponse)
	}
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrSnapshotUnavailable, err)
	}
	if snap == nil {
		return nil, fmt.Errorf("%s failed: %w: empty response", op, ports.ErrSnapshotUnavailable)
	}
	if snap.SymbolID != 0 && snap.SymbolID != symbolID {
		return nil, fmt.Errorf("%s failed: %w: got symbol %d, want %d", op, ports.ErrSnapshotUnavailable, snap.SymbolID, symbolID)
	}

	series, extended, problems := snap.Normalize()
	series.SymbolID = symbolID
	for _, p := range problems {
		l.logger.Warn(ctx, "Snapshot entry dropped", map[string]interface{}{"symbolId": symbolID, "reason": p.Error()})
	}

	h := &History{SymbolID: symbolID, Series: series, Extended: extended}
	h.Current, h.Previous = DeriveEndpoints(series)
	l.loaded[symbolID] = h
	l.logger.Info(ctx, "Snapshot loaded", map[string]interface{}{"symbolId": symbolID, "candles": series.Len()})
	return h, nil
}

// Cached returns the last accepted snapshot for a symbol.
func (l *HistoryLoader) Cached(symbolID int64) (*History, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.loaded[symbolID]
	return h, ok
}

// Invalidate drops the cached snapshot for a symbol.
func (l *HistoryLoader) Invalidate(symbolID int64) {
	l.mu.Lock()
	delete(l.loaded, symbolID)
	l.mu.Unlock()
}

// Dispose makes every pending and future Load fail with ports.ErrDisposed.
func (l *HistoryLoader) Dispose() {
	l.mu.Lock()
	l.disposed = true
	l.loaded = make(map[int64]*History)
	l.mu.Unlock()
}
