package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically transitions sessions past their expiry to the expired
// status. Run a single instance; the underlying update is idempotent.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSweeper constructs a sweeper over the session store.
func NewSweeper(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		nowFunc:  func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Close stops the sweep loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Close() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	expired, err := s.store.MarkExpired(ctx, s.nowFunc())
	if err != nil {
		s.logger.Error("session expiry sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.Info("expired sessions", "count", expired)
	}
}
