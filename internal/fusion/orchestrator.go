package fusion

import (
	"context"
	"fmt"
	"sync/atomic"
)

// OrchestratorConfig holds the collaborators driven by the pipeline.
type OrchestratorConfig struct {
	Resolver  *FrameResolver
	Scheduler *TrustPropagationScheduler
	Model     TrustModel
	Sink      ArtifactSink

	// Reporter, when non-nil, receives collaborator diagnostics after each
	// completed batch. Optional.
	Reporter *DiagnosticsReporter

	// Verbose gates per-batch diagnostics reporting and batch receipt logs.
	Verbose bool
}

// OrchestratorStats counts batch outcomes. All per-batch failures are
// isolated: none of them crash the pipeline or corrupt model state past
// the point propagation succeeded.
type OrchestratorStats struct {
	Completed          uint64 `json:"completed"`
	DroppedPose        uint64 `json:"dropped_pose"`
	DroppedOrdering    uint64 `json:"dropped_ordering"`
	SkippedOrdering    uint64 `json:"skipped_ordering"`
	DroppedCompute     uint64 `json:"dropped_compute"`
	DroppedPartition   uint64 `json:"dropped_partition"`
	PublishFailures    uint64 `json:"publish_failures"`
	InFlightViolations uint64 `json:"in_flight_violations"`
}

// Orchestrator drives the pipeline once per synchronized batch: partition,
// resolve poses, propagate trust, compute, publish, report diagnostics.
// At most one batch is in flight at any time; Run drains the batch channel
// on a single goroutine, so steps 2-5 of consecutive batches never
// interleave and the model's mutable state has exactly one writer.
type Orchestrator struct {
	cfg OrchestratorConfig

	completed        atomic.Uint64
	droppedPose      atomic.Uint64
	droppedOrdering  atomic.Uint64
	skippedOrdering  atomic.Uint64
	droppedCompute   atomic.Uint64
	droppedPartition atomic.Uint64
	publishFailures  atomic.Uint64
	inFlight         atomic.Int32
	flightViolations atomic.Uint64
}

// NewOrchestrator creates an orchestrator. Resolver, Scheduler, Model, and
// Sink are required.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Resolver == nil || cfg.Scheduler == nil || cfg.Model == nil || cfg.Sink == nil {
		return nil, fmt.Errorf("orchestrator requires resolver, scheduler, model, and sink")
	}
	return &Orchestrator{cfg: cfg}, nil
}

// Run consumes batches until the channel closes or the context is
// cancelled. It resets the model once before the first batch.
func (o *Orchestrator) Run(ctx context.Context, batches <-chan *SynchronizedBatch) error {
	o.cfg.Model.Reset()
	opsf("[Pipeline] Trust model reset; pipeline running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			if err := o.ProcessBatch(batch); err != nil {
				opsf("[Pipeline] Batch %s dropped: %v", batch.BatchID, err)
			}
		}
	}
}

// ProcessBatch runs one batch through the full pipeline. The returned
// error describes why the batch was dropped; it is always isolated to this
// batch.
func (o *Orchestrator) ProcessBatch(batch *SynchronizedBatch) error {
	if batch == nil {
		return fmt.Errorf("nil batch")
	}
	if o.inFlight.Add(1) != 1 {
		// Counter only: callers violating single-flight are a programming
		// error surfaced via stats rather than corrupting model state
		// silently.
		o.flightViolations.Add(1)
	}
	defer o.inFlight.Add(-1)

	if o.cfg.Verbose {
		diagf("[Pipeline] Received batch %s with %d items at %s",
			batch.BatchID, len(batch.Items), batch.Stamp.Format("15:04:05.000"))
	}

	// Step 1: partition by role.
	parts, err := batch.Partition()
	if err != nil {
		o.droppedPartition.Add(1)
		return fmt.Errorf("partition: %w", err)
	}

	// Step 2: resolve every agent's pose at batch time. Abort here is safe:
	// no model state has been touched yet.
	positions, err := o.cfg.Resolver.ResolveAll(batch.AgentIDs(), batch.Stamp)
	if err != nil {
		o.droppedPose.Add(1)
		return fmt.Errorf("pose resolution: %w", err)
	}

	// Step 3: propagate trust state to batch time, exactly once. From here
	// the batch can no longer be abandoned without leaving propagation
	// applied; that is by contract (propagation is not reversible).
	ok, err := o.cfg.Scheduler.Propagate(batch.Stamp)
	if err != nil {
		o.droppedOrdering.Add(1)
		return fmt.Errorf("propagation: %w", err)
	}
	if !ok {
		// Lenient mode: out-of-order batch logged and skipped upstream.
		o.skippedOrdering.Add(1)
		return nil
	}

	// Step 4: invoke the trust-computation collaborator.
	out, err := o.cfg.Model.Compute(&ComputeInput{
		BatchID:     batch.BatchID,
		Stamp:       batch.Stamp,
		Positions:   positions,
		FOVs:        parts.FOVs,
		AgentTracks: parts.AgentTracks,
		CCTracks:    parts.CCTracks,
	})
	if err != nil {
		o.droppedCompute.Add(1)
		return fmt.Errorf("trust computation: %w", err)
	}
	if out == nil || out.AgentTrust == nil || out.TrackTrust == nil || out.AgentPsms == nil || out.TrackPsms == nil {
		o.droppedCompute.Add(1)
		return fmt.Errorf("trust computation returned incomplete output")
	}

	// Step 5: publish all four artifacts. Nothing is handed to any sink
	// until every prior step has succeeded, and a sink failure aborts the
	// remaining publishes so the batch is reported rather than half
	// accepted.
	if err := o.publish(out); err != nil {
		o.publishFailures.Add(1)
		return fmt.Errorf("publish: %w", err)
	}

	// Step 6: diagnostics, outside the failure path.
	if o.cfg.Verbose && o.cfg.Reporter != nil {
		if provider, okProv := o.cfg.Model.(DiagnosticsProvider); okProv {
			o.cfg.Reporter.Report(batch.BatchID, provider)
		}
	}

	o.completed.Add(1)
	tracef("[Pipeline] Completed batch %s: %d agent psms, %d track psms",
		batch.BatchID, len(out.AgentPsms.Psms), len(out.TrackPsms.Psms))
	return nil
}

func (o *Orchestrator) publish(out *ComputeOutput) error {
	if err := o.cfg.Sink.PublishAgentPsms(out.AgentPsms); err != nil {
		return fmt.Errorf("agent psms: %w", err)
	}
	if err := o.cfg.Sink.PublishTrackPsms(out.TrackPsms); err != nil {
		return fmt.Errorf("track psms: %w", err)
	}
	if err := o.cfg.Sink.PublishAgentTrust(out.AgentTrust); err != nil {
		return fmt.Errorf("agent trust: %w", err)
	}
	if err := o.cfg.Sink.PublishTrackTrust(out.TrackTrust); err != nil {
		return fmt.Errorf("track trust: %w", err)
	}
	return nil
}

// Stats returns a snapshot of batch outcome counters.
func (o *Orchestrator) Stats() OrchestratorStats {
	return OrchestratorStats{
		Completed:          o.completed.Load(),
		DroppedPose:        o.droppedPose.Load(),
		DroppedOrdering:    o.droppedOrdering.Load(),
		SkippedOrdering:    o.skippedOrdering.Load(),
		DroppedCompute:     o.droppedCompute.Load(),
		DroppedPartition:   o.droppedPartition.Load(),
		PublishFailures:    o.publishFailures.Load(),
		InFlightViolations: o.flightViolations.Load(),
	}
}
