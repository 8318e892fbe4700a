// package workers holds the background halves of the bridge: the
// in-process delivery queue and the worker that re-drives unsettled items.
package workers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fedilink/bridge/delivery"
)

const defaultQueueDepth = 256

type job struct {
	id     string
	req    *delivery.Request
	sender delivery.Sender
}

// Queue is an in-process delivery queue. Accepted work survives only as
// long as the process; the resume worker picks up whatever a crash drops.
type Queue struct {
	engine *delivery.Engine
	logger *zap.Logger
	jobs   chan job
}

var _ delivery.Enqueuer = (*Queue)(nil)

func NewQueue(engine *delivery.Engine, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		engine: engine,
		logger: logger,
		jobs:   make(chan job, defaultQueueDepth),
	}
}

// Enqueue accepts the request for asynchronous delivery. A full queue is
// an error rather than a stall; callers fall back to synchronous delivery
// or retry.
func (q *Queue) Enqueue(ctx context.Context, req *delivery.Request, sender delivery.Sender) error {
	j := job{id: uuid.NewString(), req: req, sender: sender}
	select {
	case q.jobs <- j:
		q.logger.Info("queued delivery",
			zap.String("job", j.id),
			zap.String("uri", req.ID),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("delivery queue is full")
	}
}

// Run consumes the queue until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-q.jobs:
			if _, err := q.engine.Deliver(ctx, j.req, j.sender); err != nil {
				q.logger.Warn("queued delivery failed",
					zap.String("job", j.id),
					zap.String("uri", j.req.ID),
					zap.Error(err),
				)
			}
		}
	}
}
