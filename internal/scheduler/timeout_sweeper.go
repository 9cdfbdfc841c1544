package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// Sweeper is the operation run on every tick.
type Sweeper interface {
	SweepTimeouts(ctx context.Context) (int, error)
}

// TimeoutSweeper runs the payment timeout sweep on a cron schedule with seconds precision.
type TimeoutSweeper struct {
	cron    *cron.Cron
	sweeper Sweeper
	budget  time.Duration
	log     *log.Helper
}

func NewTimeoutSweeper(sweeper Sweeper, spec string, budget time.Duration, logger log.Logger) (*TimeoutSweeper, error) {
	s := &TimeoutSweeper{
		cron:    cron.New(cron.WithSeconds()),
		sweeper: sweeper,
		budget:  budget,
		log:     log.NewHelper(log.With(logger, "component", "timeout-sweeper")),
	}

	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// RunOnce performs one sweep bounded by the configured budget.
func (s *TimeoutSweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.budget)
	defer cancel()

	s.log.Info("[CRON] Starting payment timeout sweep...")
	count, err := s.sweeper.SweepTimeouts(ctx)
	if err != nil {
		s.log.Errorf("[CRON] Error sweeping payment timeouts: %v", err)
		return
	}
	s.log.Infof("[CRON] Payment timeout sweep finished, %d payments failed", count)
}

func (s *TimeoutSweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *TimeoutSweeper) Stop() {
	<-s.cron.Stop().Done()
}
