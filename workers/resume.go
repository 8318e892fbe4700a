package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fedilink/bridge/delivery"
	"github.com/fedilink/bridge/models"
)

// ResumeFunc rebuilds the delivery request and sender for an unsettled
// item of one source protocol.
type ResumeFunc func(item *models.Item) (*delivery.Request, delivery.Sender, error)

// Resumer periodically re-drives items whose last delivery run did not
// settle, so a crash or an upstream outage only delays delivery.
type Resumer struct {
	items      *models.Items
	engine     *delivery.Engine
	logger     *zap.Logger
	byProtocol map[string]ResumeFunc

	// Interval is how often to scan; OlderThan is how long an item must
	// have sat untouched before it is considered stuck.
	Interval  time.Duration
	OlderThan time.Duration
}

func NewResumer(items *models.Items, engine *delivery.Engine, logger *zap.Logger, byProtocol map[string]ResumeFunc) *Resumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resumer{
		items:      items,
		engine:     engine,
		logger:     logger,
		byProtocol: byProtocol,
		Interval:   5 * time.Minute,
		OlderThan:  15 * time.Minute,
	}
}

// Run scans until ctx is cancelled.
func (r *Resumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Warn("resume sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep re-drives every stuck item once.
func (r *Resumer) Sweep(ctx context.Context) error {
	stuck, err := r.items.Stuck(r.OlderThan)
	if err != nil {
		return err
	}
	for _, item := range stuck {
		resume, ok := r.byProtocol[item.SourceProtocol]
		if !ok {
			r.logger.Warn("no resume path for protocol",
				zap.String("uri", item.URI),
				zap.String("protocol", item.SourceProtocol),
			)
			continue
		}
		req, sender, err := resume(item)
		if err != nil {
			r.logger.Warn("cannot rebuild delivery",
				zap.String("uri", item.URI),
				zap.Error(err),
			)
			continue
		}
		r.logger.Info("resuming delivery",
			zap.String("uri", item.URI),
			zap.String("status", item.Status),
		)
		if _, err := r.engine.Deliver(ctx, req, sender); err != nil {
			r.logger.Warn("resumed delivery failed",
				zap.String("uri", item.URI),
				zap.Error(err),
			)
		}
	}
	return nil
}
