package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiredHoldCleaner deletes holds whose expiry has passed.
type ExpiredHoldCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

const defaultSweepInterval = 5 * time.Minute

// Sweeper periodically removes expired holds so the ledger stays small.
// Capacity reads never depend on it: expired holds are ignored at read
// time whether or not they have been swept.
type Sweeper struct {
	cleaner  ExpiredHoldCleaner
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSweeper(cleaner ExpiredHoldCleaner, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		cleaner:  cleaner,
		interval: interval,
		logger:   orDiscard(logger),
	}
}

// Sweep runs one cleanup pass.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.cleaner.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("sweep failed", slog.String("error", err.Error()))
		return 0, err
	}
	return n, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		}
	}
}

// EnsureScheduled starts the background loop unless it is already running.
func (s *Sweeper) EnsureScheduled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	done := s.done
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	s.logger.Info("hold sweeper scheduled", slog.Duration("interval", s.interval))
}

// Scheduled reports whether the background loop is running.
func (s *Sweeper) Scheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop cancels the background loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}
