package sweeper

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-live/call-service/internal/config"
	pkglog "github.com/weiawesome/wes-io-live/call-service/pkg/log"
)

// RoomStore is the part of the room registry the sweeper needs.
type RoomStore interface {
	SweepEmpty() int
	Len() int
}

// Sweeper periodically removes call rooms that have no participants left.
type Sweeper struct {
	rooms  RoomStore
	cfg    config.RoomConfig
	quit   chan struct{}
	doneCh chan struct{}
}

// New creates a new Sweeper.
func New(rooms RoomStore, cfg config.RoomConfig) *Sweeper {
	return &Sweeper{
		rooms:  rooms,
		cfg:    cfg,
		quit:   make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the sweeper in a background goroutine. It stops on Stop or
// when ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the sweeper to stop and returns immediately.
// Call Done() to wait for it to exit.
func (s *Sweeper) Stop() {
	close(s.quit)
}

// Done returns a channel that is closed when the sweeper has fully stopped.
func (s *Sweeper) Done() <-chan struct{} {
	return s.doneCh
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes empty rooms once and returns how many were removed.
func (s *Sweeper) Sweep() int {
	removed := s.rooms.SweepEmpty()
	if removed > 0 {
		l := pkglog.L()
		l.Debug().Int("removed", removed).Int("remaining", s.rooms.Len()).Msg("sweeper: removed empty rooms")
	}
	return removed
}
