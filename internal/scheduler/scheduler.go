// Package scheduler periodically sweeps the store for scheduled
// notifications whose send time has arrived and hands them to the dispatch
// queue. Representing "due for send" as a store query keeps deferred sends
// durable across process restarts.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

type sweeper interface {
	SweepDue(ctx context.Context, strategy retry.Strategy, limit int) (int, error)
}

// Scheduler runs the due-notification sweep on a cron spec.
type Scheduler struct {
	c         *cron.Cron
	service   sweeper
	strategy  retry.Strategy
	spec      string
	batchSize int
}

// New creates a Scheduler. The spec uses the six-field cron format with
// seconds, e.g. "*/5 * * * * *".
func New(svc sweeper, strategy retry.Strategy, spec string, batchSize int) *Scheduler {
	return &Scheduler{
		c:         cron.New(cron.WithSeconds()),
		service:   svc,
		strategy:  strategy,
		spec:      spec,
		batchSize: batchSize,
	}
}

// Start registers the sweep job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.c.AddFunc(s.spec, func() {
		n, err := s.service.SweepDue(ctx, s.strategy, s.batchSize)
		if err != nil {
			zlog.Logger.Error().Err(err).Msg("sweep failed")
			return
		}

		if n > 0 {
			zlog.Logger.Info().Int("count", n).Msg("enqueued due notifications")
		}
	})
	if err != nil {
		return err
	}

	s.c.Start()
	return nil
}

// Stop cancels the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}
