package fusion

import (
	"fmt"
	"time"
)

// OrderingViolationError reports a batch whose timestamp precedes the last
// propagated model time. The model's clock is never rolled backwards; the
// offending batch is dropped.
type OrderingViolationError struct {
	BatchStamp     time.Time
	LastPropagated time.Time
}

func (e *OrderingViolationError) Error() string {
	return fmt.Sprintf("batch stamp %s precedes last propagated time %s",
		e.BatchStamp.Format(time.RFC3339Nano), e.LastPropagated.Format(time.RFC3339Nano))
}

// TrustPropagationScheduler advances the trust model's time-dependent state
// to each batch's timestamp, exactly once per batch and monotonically.
// Track trust is propagated before agent trust, matching the upstream
// estimator; both complete strictly before Compute runs for the batch.
//
// The scheduler assumes the orchestrator's single-flight discipline: calls
// are never concurrent.
type TrustPropagationScheduler struct {
	model TrustModel

	// Strict controls the response to an out-of-order batch: when true
	// Propagate returns *OrderingViolationError and the orchestrator drops
	// the batch as an error; when false the violation is logged and the
	// batch is skipped without escalating. The model time never moves
	// backwards in either mode.
	Strict bool

	lastPropagated time.Time
	propagated     bool
}

// NewTrustPropagationScheduler creates a scheduler around the given model.
func NewTrustPropagationScheduler(model TrustModel, strict bool) *TrustPropagationScheduler {
	return &TrustPropagationScheduler{model: model, Strict: strict}
}

// Propagate advances agent and track trust state to t. It returns
// (false, *OrderingViolationError) in strict mode when t precedes the last
// propagated time, and (false, nil) in lenient mode for the same
// condition. On success it returns (true, nil).
func (s *TrustPropagationScheduler) Propagate(t time.Time) (bool, error) {
	if s.propagated && t.Before(s.lastPropagated) {
		if s.Strict {
			return false, &OrderingViolationError{BatchStamp: t, LastPropagated: s.lastPropagated}
		}
		opsf("[Scheduler] Skipping out-of-order batch: stamp %s < last propagated %s",
			t.Format(time.RFC3339Nano), s.lastPropagated.Format(time.RFC3339Nano))
		return false, nil
	}

	s.model.PropagateTrackTrust(t)
	s.model.PropagateAgentTrust(t)
	s.lastPropagated = t
	s.propagated = true
	return true, nil
}

// LastPropagated returns the most recent timestamp applied to the model,
// and whether any propagation has happened yet.
func (s *TrustPropagationScheduler) LastPropagated() (time.Time, bool) {
	return s.lastPropagated, s.propagated
}
