package probe

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RoundHandler receives the results of one full round over all targets.
type RoundHandler func(ctx context.Context, results []Result)

// Scheduler pings every target on a fixed interval using a bounded worker pool.
type Scheduler struct {
	cfg     ProbeConfig
	ping    PingFunc
	onRound RoundHandler
	now     func() time.Time
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that hands each round's results to onRound.
func NewScheduler(cfg ProbeConfig, ping PingFunc, onRound RoundHandler, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		ping:    ping,
		onRound: onRound,
		now:     time.Now,
		logger:  logger,
	}
}

// Start begins the scheduling loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		// Run immediately on start, then on each tick.
		s.tick()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop signals the scheduler to stop and waits for completion.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Running reports whether the scheduler loop is active.
func (s *Scheduler) Running() bool {
	return s.ctx != nil && s.ctx.Err() == nil
}

// tick pings all targets and reports the round. Results keep target order.
func (s *Scheduler) tick() {
	if len(s.cfg.Targets) == 0 {
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Interval)
	defer cancel()

	results := make([]Result, len(s.cfg.Targets))
	sem := make(chan struct{}, s.cfg.MaxWorkers)
	var wg sync.WaitGroup

dispatch:
	for i, target := range s.cfg.Targets {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.pingOne(ctx, target)
		}()
	}
	wg.Wait()

	if s.ctx.Err() != nil {
		return
	}
	roundDuration.Observe(time.Since(start).Seconds())
	s.onRound(s.ctx, results)
}

func (s *Scheduler) pingOne(ctx context.Context, target string) Result {
	res, err := s.ping(ctx, target, s.cfg)
	res.Target = target
	res.At = s.now().UTC()
	if err != nil {
		res.Error = err.Error()
		s.logger.Debug("ping failed", zap.String("target", target), zap.Error(err))
	}
	return res
}
