package orchestrator

import (
	"context"
	"time"

	"ec2herd/internal/cloud"
	"ec2herd/internal/instance"

	"go.uber.org/zap"
)

// backoffCap bounds the exponential retry delay, in backoff units.
const backoffCap = 120

// spotManager drives one spot spec through request, poll, and retry
// until it ends in success, exhaustion, or cancellation. It is owned
// by a single worker and never shared.
type spotManager struct {
	client cloud.InstanceClient
	log    *zap.Logger
	spec   instance.Spec

	pollInterval   time.Duration
	fulfillTimeout time.Duration

	// unit is the time base for retry delays. One second in
	// production; tests shrink it to keep backoff measurable.
	unit time.Duration

	// most recent spot request that may still be open on the
	// provider side
	lastRequestID string

	attempts []instance.SpotAttempt
}

// acquire runs the spec to a terminal result. Rejections consume retry
// budget until SpotMaxRetries is spent; the final outstanding request
// is cancelled exactly once on exhaustion so nothing is left open.
func (m *spotManager) acquire(ctx context.Context) instance.Result {
	total := m.spec.SpotMaxRetries + 1

	var reason string
	var kind cloud.ErrorKind

	for attempt := 1; attempt <= total; attempt++ {
		var delay time.Duration
		if attempt > 1 {
			delay = m.backoff(attempt - 1)
			m.log.Info("waiting before spot retry",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return m.cancelled(ctx, attempt-1)
			case <-time.After(delay):
			}
		}

		inst, rejection, err := m.attempt(ctx, attempt, delay)
		if err != nil {
			return m.cancelled(ctx, attempt)
		}
		if inst != nil {
			m.log.Info("spot request fulfilled",
				zap.String("instance_id", inst.ID),
				zap.Int("attempt", attempt))
			return instance.Result{
				Name:          m.spec.Name,
				Outcome:       instance.OutcomeSuccess,
				InstanceID:    inst.ID,
				PublicIP:      inst.PublicIP,
				PrivateIP:     inst.PrivateIP,
				Lifecycle:     m.spec.Lifecycle(),
				Attempts:      attempt,
				SpotRequestID: m.lastRequestID,
			}
		}

		reason, kind = rejection.reason, rejection.kind
		m.log.Warn("spot request rejected",
			zap.Int("attempt", attempt),
			zap.Int("attempts_left", total-attempt),
			zap.String("reason", reason))
	}

	for _, a := range m.attempts {
		m.log.Debug("spot attempt",
			zap.Int("number", a.Number),
			zap.Duration("delay", a.Delay),
			zap.String("outcome", a.Outcome))
	}

	finalRequest := m.lastRequestID
	m.cancelOutstanding(ctx)
	exhausted := &ExhaustedError{Attempts: total, LastKind: kind, LastReason: reason}
	return instance.Result{
		Name:          m.spec.Name,
		Outcome:       instance.OutcomeFailed,
		Lifecycle:     m.spec.Lifecycle(),
		ErrorKind:     string(kind),
		Error:         exhausted.Error(),
		Attempts:      total,
		SpotRequestID: finalRequest,
	}
}

// rejection describes why one attempt did not produce an instance.
type rejection struct {
	reason string
	kind   cloud.ErrorKind
}

// attempt places one spot request and polls it until it resolves. A
// nil instance with a nil error means the attempt was rejected. The
// only returned error is the context's, on interruption.
func (m *spotManager) attempt(ctx context.Context, number int, delay time.Duration) (*cloud.Instance, rejection, error) {
	requestID, err := m.client.RequestSpotInstance(ctx, m.spec)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rejection{}, ctx.Err()
		}
		m.record(number, delay, "request failed")
		return nil, rejection{reason: err.Error(), kind: cloud.KindOf(err)}, nil
	}
	m.lastRequestID = requestID
	m.log.Info("spot request placed",
		zap.String("request_id", requestID),
		zap.Int("attempt", number))

	deadline := time.Now().Add(m.fulfillTimeout)
	for {
		poll, err := m.client.PollSpotRequest(ctx, requestID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, rejection{}, ctx.Err()
			}
			m.record(number, delay, "poll failed")
			return nil, rejection{reason: err.Error(), kind: cloud.KindOf(err)}, nil
		}

		switch poll.State {
		case cloud.SpotFulfilled:
			m.record(number, delay, "fulfilled")
			return poll.Instance, rejection{}, nil
		case cloud.SpotRejected:
			m.record(number, delay, "rejected")
			return nil, rejection{reason: poll.Reason, kind: poll.Kind}, nil
		}

		if time.Now().After(deadline) {
			// Still open on the provider side. Drop it so a fresh
			// request can take its place.
			m.cancelOutstanding(ctx)
			m.record(number, delay, "timed out")
			return nil, rejection{reason: "spot request not fulfilled in time", kind: cloud.KindCapacity}, nil
		}

		select {
		case <-ctx.Done():
			return nil, rejection{}, ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// backoff returns the delay before retry n. The delay doubles from the
// spec's base and is capped at backoffCap units.
func (m *spotManager) backoff(retry int) time.Duration {
	d := time.Duration(m.spec.SpotRetryDelaySeconds) * m.unit
	for i := 1; i < retry; i++ {
		d *= 2
		if limit := backoffCap * m.unit; d > limit {
			d = limit
			break
		}
	}
	return d
}

// cancelled cancels any outstanding request and reports the terminal
// result for an interrupted acquisition.
func (m *spotManager) cancelled(ctx context.Context, attempts int) instance.Result {
	m.cancelOutstanding(ctx)
	return instance.Result{
		Name:      m.spec.Name,
		Outcome:   instance.OutcomeCancelled,
		Lifecycle: m.spec.Lifecycle(),
		Error:     (&CancelledError{Phase: "spot acquisition"}).Error(),
		Attempts:  attempts,
	}
}

// cancelOutstanding cancels the most recent spot request, if any. The
// batch context may already be done, so the call runs on its own
// deadline.
func (m *spotManager) cancelOutstanding(ctx context.Context) {
	if m.lastRequestID == "" {
		return
	}
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := m.client.CancelSpotRequest(cancelCtx, m.lastRequestID); err != nil {
		m.log.Warn("failed to cancel spot request",
			zap.String("request_id", m.lastRequestID),
			zap.Error(err))
	} else {
		m.log.Info("cancelled spot request", zap.String("request_id", m.lastRequestID))
	}
	m.lastRequestID = ""
}

func (m *spotManager) record(number int, delay time.Duration, outcome string) {
	m.attempts = append(m.attempts, instance.SpotAttempt{
		Number:  number,
		Delay:   delay,
		Outcome: outcome,
	})
}
