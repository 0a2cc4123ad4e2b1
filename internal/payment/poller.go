package payment

import (
	"context"
	"time"

	"paygate-be/internal/logger"

	"go.uber.org/zap"
)

// Reconciler is the part of Service the poller drives.
type Reconciler interface {
	ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// StatusPoller periodically asks gateways about payments whose callback never arrived.
type StatusPoller struct {
	Reconciler Reconciler
	Interval   time.Duration
	MinAge     time.Duration
	BatchSize  int
	now        func() time.Time
}

func NewStatusPoller(r Reconciler, interval, minAge time.Duration, batch int) *StatusPoller {
	return &StatusPoller{
		Reconciler: r,
		Interval:   interval,
		MinAge:     minAge,
		BatchSize:  batch,
		now:        time.Now,
	}
}

func (p *StatusPoller) Run(ctx context.Context) {
	if p.Interval <= 0 {
		logger.L().Info("status poller disabled")
		return
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	logger.L().Info("status poller started", zap.Duration("interval", p.Interval))
	for {
		select {
		case <-ctx.Done():
			logger.L().Info("status poller stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

func (p *StatusPoller) PollOnce(ctx context.Context) int {
	cutoff := p.now().Add(-p.MinAge)
	changed, err := p.Reconciler.ReconcileStale(ctx, cutoff, p.BatchSize)
	if err != nil {
		logger.L().Error("status poll failed", zap.Error(err))
		return changed
	}
	if changed > 0 {
		logger.L().Info("status poll updated payments", zap.Int("changed", changed))
	}
	return changed
}
