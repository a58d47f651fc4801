package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/raido/internal/cache"
)

// Sweeper periodically repairs stale cache records in the background so
// read paths rarely pay the cache-miss fallback. It is optional; reads stay
// correct without it.
type Sweeper struct {
	svc      *Service
	store    cache.Store
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper builds a sweeper refreshing records older than ttl every
// interval.
func NewSweeper(svc *Service, store cache.Store, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper: started",
		slog.Duration("ttl", s.ttl),
		slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper: stopped")
			return nil
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	stale, err := s.store.FindStale(s.ttl)
	if err != nil {
		s.logger.Warn("sweeper: find stale failed", slog.String("error", err.Error()))
		return
	}
	if len(stale) == 0 {
		return
	}

	refreshed := 0
	for _, rec := range stale {
		id, err := rec.Identity()
		if err != nil {
			s.logger.Warn("sweeper: bad cached key",
				slog.String("collection", rec.CollectionID),
				slog.String("artifact", rec.Key),
				slog.String("error", err.Error()))
			continue
		}
		if _, err := s.svc.RefreshOne(rec.CollectionID, id); err != nil {
			s.logger.Warn("sweeper: refresh failed",
				slog.String("collection", rec.CollectionID),
				slog.String("artifact", rec.Key),
				slog.String("error", err.Error()))
			continue
		}
		refreshed++
	}
	s.logger.Debug("sweeper: pass done",
		slog.Int("stale", len(stale)),
		slog.Int("refreshed", refreshed))
}
