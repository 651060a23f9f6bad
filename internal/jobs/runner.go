// internal/jobs/runner.go
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coinshop/coinshop-backend/internal/config"
	"github.com/coinshop/coinshop-backend/internal/router"
)

// Runner drives the periodic maintenance loops: invoice expiry, order
// sweeps, subscription lapses, and the reconciliation poller. Each loop
// has its own ticker so a slow chain poll does not delay the sweeps.
type Runner struct {
	config *config.Config
	svc    *router.Services
	wg     sync.WaitGroup
}

func NewRunner(cfg *config.Config, svc *router.Services) *Runner {
	return &Runner{
		config: cfg,
		svc:    svc,
	}
}

// Start launches the loops. They stop when ctx is cancelled; Wait blocks
// until every loop has drained.
func (r *Runner) Start(ctx context.Context) {
	jobs := r.config.Jobs

	r.loop(ctx, "invoice_sweep", time.Duration(jobs.InvoiceSweepSeconds)*time.Second, func(ctx context.Context) error {
		_, err := r.svc.Invoices.SweepExpired(ctx)
		return err
	})

	r.loop(ctx, "order_sweep", time.Duration(jobs.OrderSweepSeconds)*time.Second, func(ctx context.Context) error {
		_, err := r.svc.Orders.SweepUnpaid(ctx)
		return err
	})

	r.loop(ctx, "subscription_sweep", time.Duration(jobs.OrderSweepSeconds)*time.Second, func(ctx context.Context) error {
		_, err := r.svc.Subscriptions.SweepLapsed(ctx)
		return err
	})

	r.loop(ctx, "reconcile_poll", time.Duration(jobs.PollSeconds)*time.Second, func(ctx context.Context) error {
		processed, err := r.svc.Reconciler.PollPending(ctx)
		if processed > 0 {
			logrus.WithField("processed", processed).Info("Reconciliation poll found transactions")
		}
		return err
	})
}

func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	if interval <= 0 {
		logrus.WithField("job", name).Warn("Job disabled (non-positive interval)")
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logrus.WithFields(logrus.Fields{
			"job":      name,
			"interval": interval.String(),
		}).Info("Background job started")

		for {
			select {
			case <-ctx.Done():
				logrus.WithField("job", name).Info("Background job stopped")
				return
			case <-ticker.C:
				if err := run(ctx); err != nil {
					logrus.WithError(err).WithField("job", name).Error("Background job run failed")
				}
			}
		}
	}()
}
