// Package reaper periodically deletes rooms that have been empty and
// untouched for longer than a TTL.
package reaper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/movie-sync/internal/room"
)

// Registry is the view of the room registry the reaper needs.
type Registry interface {
	Rooms(ctx context.Context) ([]*room.Room, error)
}

// Reaper sweeps a Registry on a fixed interval. Each room decides for itself,
// inside its own goroutine, whether it is idle, so a join racing the sweep
// either lands first (room survives) or fails with room.ErrRoomClosed.
type Reaper struct {
	registry Registry
	interval time.Duration
	ttl      time.Duration
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a reaper. Call Start to begin sweeping.
//
// Example:
//
//	r := reaper.New(h, time.Hour, 24*time.Hour, logger)
//	go r.Start(ctx)
//	defer r.Stop()
func New(registry Registry, interval, ttl time.Duration, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reaper{
		registry: registry,
		interval: interval,
		ttl:      ttl,
		log:      logger.Named("reaper"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start sweeps every interval until ctx is cancelled or Stop is called.
// It blocks the calling goroutine.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reaper started", zap.Duration("interval", r.interval), zap.Duration("ttl", r.ttl))

	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			r.log.Info("reaper stopping", zap.Error(ctx.Err()))
			return
		case <-r.ctx.Done():
			r.log.Info("reaper stopped")
			return
		}
	}
}

// Stop cancels Start and waits for it to return.
func (r *Reaper) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Sweep runs one pass and returns how many rooms were closed.
func (r *Reaper) Sweep(ctx context.Context) int {
	rooms, err := r.registry.Rooms(ctx)
	if err != nil {
		r.log.Warn("list rooms failed", zap.Error(err))
		return 0
	}

	reaped := 0
	for _, rm := range rooms {
		closed, err := rm.CloseIfIdle(ctx, r.ttl)
		if err != nil {
			// Already closed on its own; nothing to do.
			continue
		}
		if closed {
			reaped++
			r.log.Info("reaped idle room", zap.String("room", rm.Code()))
		}
	}
	if reaped > 0 {
		r.log.Info("sweep finished", zap.Int("reaped", reaped), zap.Int("scanned", len(rooms)))
	}
	return reaped
}
