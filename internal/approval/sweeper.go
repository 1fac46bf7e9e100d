package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the sweeper looks for expired
// pending approvals.
const DefaultSweepInterval = time.Minute

// sweepTimeout bounds a single sweep run.
const sweepTimeout = 30 * time.Second

// SweeperConfig configures the expiry sweeper.
type SweeperConfig struct {
	// Interval between sweeps. Zero means DefaultSweepInterval.
	Interval time.Duration

	Logger *slog.Logger
}

// Sweeper periodically expires pending approvals past their deadline.
// Lazy expiry on read covers reads; the sweeper covers approvals nobody
// reads again.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper returns a sweeper for svc.
func NewSweeper(svc *Service, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{
		service:  svc,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}
}

// Start launches the background sweep loop. No-op when already running.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
	s.logger.Info("approval expiry sweeper started", "interval", s.interval.String())
}

// Stop halts the sweep loop and waits for the current run to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	s.logger.Info("approval expiry sweeper stopped")
}

// IsRunning reports whether the sweep loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	expired, err := s.service.ExpireDue(runCtx)
	if err != nil {
		s.logger.Error("approval expiry sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.Info("approval expiry sweep completed", "expired", expired)
	}
}
