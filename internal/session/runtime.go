package session

import (
	"context"
	"time"

	"github.com/bhandras/evalworker/internal/actor"
	"github.com/bhandras/evalworker/internal/evaluator"
	"github.com/bhandras/evalworker/internal/journal"
	"github.com/bhandras/evalworker/internal/logger"
	"github.com/bhandras/evalworker/internal/metrics"
	"github.com/bhandras/evalworker/internal/wire"
)

// Journal records responses. Implementations must be safe to call from the
// session goroutine; failures are logged and never change the response.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// sessionRuntime executes reducer effects on the actor goroutine, so each
// message is evaluated and answered before the next one is dequeued.
type sessionRuntime struct {
	sessionID   string
	evalTimeout time.Duration
	journal     Journal
	clock       actor.Clock
	out         chan wire.Response

	// eval is assigned by Session.start before the actor loop is started and
	// never changes afterwards.
	eval *evaluator.Evaluator
}

var _ actor.Runtime = (*sessionRuntime)(nil)

func (r *sessionRuntime) HandleEffects(ctx context.Context, effects []actor.Effect, _ func(actor.Input)) {
	for _, eff := range effects {
		var (
			resp wire.Response
			req  wire.Request
		)
		switch e := eff.(type) {
		case evaluateEffect:
			req = e.req
			resp = r.evaluate(ctx, e)
		case rejectEffect:
			req = e.req
			logger.Debugf("[session] %s seq=%d rejected: %s", r.sessionID, e.seq, e.reason)
			metrics.Messages.WithLabelValues(wire.CodeInvalidRequest).Inc()
			resp = wire.NewFailure(e.seq, e.req.ID, wire.CodeInvalidRequest, e.reason)
		default:
			logger.Warnf("[session] %s: unknown effect %T", r.sessionID, eff)
			continue
		}

		r.record(ctx, req, resp)

		select {
		case r.out <- resp:
		case <-ctx.Done():
			return
		}
	}
}

func (r *sessionRuntime) evaluate(ctx context.Context, e evaluateEffect) wire.Response {
	if r.evalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.evalTimeout)
		defer cancel()
	}

	even, err := r.eval.IsEvenContext(ctx, e.n)
	if err != nil {
		logger.Warnf("[session] %s seq=%d: %v", r.sessionID, e.seq, err)
		metrics.Messages.WithLabelValues(wire.CodeTimeout).Inc()
		return wire.NewFailure(e.seq, e.req.ID, wire.CodeTimeout, err.Error())
	}

	logger.Tracef("[session] %s seq=%d is_even(%d)=%t", r.sessionID, e.seq, e.n, even)
	metrics.Messages.WithLabelValues("ok").Inc()
	return wire.NewResult(e.seq, e.req.ID, even)
}

func (r *sessionRuntime) record(ctx context.Context, req wire.Request, resp wire.Response) {
	if r.journal == nil {
		return
	}
	entry := journal.Entry{
		SessionID: r.sessionID,
		Seq:       resp.Seq,
		RequestID: req.ID,
		Payload:   string(req.Payload),
		Result:    resp.Result,
		CreatedAt: r.clock.Now(),
	}
	if resp.Error != nil {
		entry.ErrorCode = resp.Error.Code
	}
	if err := r.journal.Record(ctx, entry); err != nil {
		logger.Errorf("[session] %s seq=%d journal error: %v", r.sessionID, resp.Seq, err)
	}
}

func (r *sessionRuntime) Stop() {}
