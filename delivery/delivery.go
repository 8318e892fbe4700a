// package delivery implements the fan-out engine: given a federated item
// and a set of resolved targets it drives serial, persistent delivery and
// settles the item's final status.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
)

// Result is the outcome of one successful delivery attempt.
type Result struct {
	StatusCode int
	Body       string
}

// Sender performs one protocol-specific delivery attempt. A (nil, nil)
// return means the target turned out not to accept this protocol at all;
// the engine drops it without counting it delivered or failed.
type Sender interface {
	Send(ctx context.Context, target models.Target, meta map[string]any, update bool) (*Result, error)
}

// GatewayError marks a failure of an upstream server rather than of the
// request itself. When a delivery run produces no success and at least one
// gateway error, the run's error is a GatewayError so callers can answer
// 502 or 504 instead of blaming the sender.
type GatewayError struct {
	Target  string
	Timeout bool
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("upstream failure for %s: %v", e.Target, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsTimeout reports whether err looks like an upstream timeout, for
// choosing between 502 and 504.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// RemoteError is a refusal the remote itself answered with: the request
// completed and came back non-2xx. Callers relay the remote's status
// rather than reporting a gateway failure.
type RemoteError struct {
	Target     string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s answered %d: %v", e.Target, e.StatusCode, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// ClassifyErr wraps one failed delivery attempt. A recorded status means
// the remote answered and owns the refusal; everything else is a
// connection-class failure of the upstream.
func ClassifyErr(target string, status int, err error) error {
	if status > 0 {
		return &RemoteError{Target: target, StatusCode: status, Err: err}
	}
	return &GatewayError{Target: target, Timeout: IsTimeout(err), Err: err}
}

// Request describes one delivery run.
type Request struct {
	// ID is the item's federation id.
	ID string

	// Encoding and Payload are the item's wire document.
	Encoding translate.Encoding
	Payload  map[string]any

	// Targets maps each destination to prefetched per-target metadata,
	// handed through to the Sender untouched.
	Targets map[models.Target]map[string]any

	// Mutable items are re-delivered as updates when their content has
	// changed since the last run.
	Mutable bool

	SourceProtocol string
	Domains        []string
	Labels         []string
	Deleted        bool
}

// Enqueuer hands a delivery request off for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *Request, sender Sender) error
}

// Engine drives delivery runs against the item store.
type Engine struct {
	items      *models.Items
	translator translate.Translator
	logger     *zap.Logger
}

func NewEngine(items *models.Items, translator translate.Translator, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{items: items, translator: translator, logger: logger}
}

// Deliver runs the request to completion. The item is persisted before the
// first attempt and after every attempt, so a crash mid-run loses at most
// the in-flight attempt and a resumed run picks up exactly the targets
// still undelivered.
//
// The returned Result is the last successful attempt's, nil when there was
// none. The returned error is non-nil only when no attempt succeeded: a
// GatewayError when an upstream failed, otherwise the last recorded error.
func (e *Engine) Deliver(ctx context.Context, req *Request, sender Sender) (*Result, error) {
	item, err := e.items.Get(req.ID)
	if err != nil {
		return nil, err
	}
	update := false
	if item == nil {
		item = &models.Item{URI: req.ID}
	} else if req.Mutable {
		update, err = e.contentChanged(item, req)
		if err != nil {
			e.logger.Warn("cannot compare item content", zap.String("uri", req.ID), zap.Error(err))
		}
	}

	// Failed targets from earlier runs get another chance.
	item.Undelivered = append(item.Undelivered, item.Failed...)
	item.Failed = nil

	// Changed content must reach previously satisfied targets again.
	if update {
		item.Undelivered = append(item.Undelivered, item.Delivered...)
		item.Delivered = nil
	}

	seen := item.SeenTargets()
	for t := range req.Targets {
		if !seen[t.URI] {
			item.Undelivered = append(item.Undelivered, t)
			seen[t.URI] = true
		}
	}

	e.applyPayload(item, req)
	item.Status = models.StatusInProgress
	if err := e.items.Put(item); err != nil {
		return nil, err
	}

	var (
		lastResult *Result
		lastErr    error
		gatewayErr *GatewayError
	)
	for len(item.Undelivered) > 0 {
		target := item.Undelivered[0]
		item.Undelivered = item.Undelivered[1:]

		res, err := sender.Send(ctx, target, req.Targets[target], update)
		switch {
		case err != nil:
			item.Failed = append(item.Failed, target)
			lastErr = err
			var ge *GatewayError
			if errors.As(err, &ge) {
				gatewayErr = ge
			}
			e.logger.Warn("delivery failed",
				zap.String("uri", item.URI),
				zap.String("target", target.URI),
				zap.Error(err),
			)
		case res == nil:
			// Target does not speak this protocol; drop it silently.
			e.logger.Debug("target skipped",
				zap.String("uri", item.URI),
				zap.String("target", target.URI),
			)
		default:
			item.Delivered = append(item.Delivered, target)
			lastResult = res
			e.logger.Info("delivered",
				zap.String("uri", item.URI),
				zap.String("target", target.URI),
				zap.Int("status", res.StatusCode),
			)
		}

		if err := e.items.Put(item); err != nil {
			return lastResult, err
		}
	}

	switch {
	case len(item.Delivered) > 0:
		item.Status = models.StatusComplete
	case len(item.Failed) > 0:
		item.Status = models.StatusFailed
	default:
		item.Status = models.StatusIgnored
	}
	if err := e.items.Put(item); err != nil {
		return lastResult, err
	}

	if lastResult != nil {
		return lastResult, nil
	}
	if gatewayErr != nil {
		return nil, gatewayErr
	}
	return nil, lastErr
}

// contentChanged compares the persisted payload's user-visible content to
// the request's.
func (e *Engine) contentChanged(item *models.Item, req *Request) (bool, error) {
	prev, err := item.Unified(e.translator)
	if err != nil || prev == nil {
		return false, err
	}
	next, err := e.translator.Unify(req.Encoding, req.Payload)
	if err != nil {
		return false, err
	}
	return translate.ContentChanged(prev, next), nil
}

// applyPayload stores the request's document in the matching encoding slot,
// clearing the other slots, and refreshes the item's routing metadata.
func (e *Engine) applyPayload(item *models.Item, req *Request) {
	if req.Payload == nil {
		return
	}
	item.Activity, item.Record, item.Microformat = nil, nil, nil
	switch req.Encoding {
	case translate.EncodingActivity:
		item.Activity = req.Payload
	case translate.EncodingRecord:
		item.Record = req.Payload
	case translate.EncodingMicroformat:
		item.Microformat = req.Payload
	}
	item.SourceProtocol = req.SourceProtocol
	item.Domains = req.Domains
	item.Labels = req.Labels
	item.Deleted = req.Deleted
}
