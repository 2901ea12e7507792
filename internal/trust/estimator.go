package trust

import (
	"fmt"
	"time"

	"github.com/cpsl-research/trust-ros/internal/fusion"
)

// EstimatorConfig tunes a TrustEstimator. Zero values select defaults.
type EstimatorConfig struct {
	// NAgents is the number of collaborating agents. Agent trust entries
	// are seeded at the prior on Reset so every agent appears in the
	// published estimates from the first batch.
	NAgents int

	// AssignRadius is the track-matching distance threshold in metres.
	AssignRadius float64

	// AgentUpdater and TrackUpdater tune the two trust stores.
	AgentUpdater UpdaterConfig
	TrackUpdater UpdaterConfig
}

// TrustEstimator is the reference trust model: view-based
// pseudo-measurement generation feeding two Beta trust stores, one for
// agents and one for command-center tracks. It implements
// fusion.TrustModel and fusion.DiagnosticsProvider.
//
// All methods mutate shared state and rely on the orchestrator's
// single-flight discipline; none are safe for concurrent use.
type TrustEstimator struct {
	nAgents int

	agents *TrustUpdater
	tracks *TrustUpdater
	psm    *ViewBasedPsm

	lastResult *PsmResult
	lastStamp  time.Time
	batches    uint64
}

// NewTrustEstimator creates an estimator with the given config.
func NewTrustEstimator(cfg EstimatorConfig) *TrustEstimator {
	if cfg.NAgents <= 0 {
		cfg.NAgents = 4
	}
	e := &TrustEstimator{
		nAgents: cfg.NAgents,
		agents:  NewTrustUpdater(cfg.AgentUpdater),
		tracks:  NewTrustUpdater(cfg.TrackUpdater),
		psm:     NewViewBasedPsm(cfg.AssignRadius),
	}
	e.Reset()
	return e
}

// Reset implements fusion.TrustModel. Agent entries are re-seeded at the
// prior; track entries start empty and appear as command-center tracks do.
func (e *TrustEstimator) Reset() {
	e.agents.Reset()
	e.tracks.Reset()
	for i := 0; i < e.nAgents; i++ {
		e.agents.Ensure(AgentTargetID(i))
	}
	e.lastResult = nil
	e.lastStamp = time.Time{}
	e.batches = 0
}

// PropagateAgentTrust implements fusion.TrustModel.
func (e *TrustEstimator) PropagateAgentTrust(t time.Time) {
	e.agents.Propagate(t)
}

// PropagateTrackTrust implements fusion.TrustModel.
func (e *TrustEstimator) PropagateTrackTrust(t time.Time) {
	e.tracks.Propagate(t)
}

// AgentMean implements TrustMeans.
func (e *TrustEstimator) AgentMean(agentID int) float64 {
	return e.agents.Mean(AgentTargetID(agentID))
}

// TrackMean implements TrustMeans.
func (e *TrustEstimator) TrackMean(trackID string) float64 {
	return e.tracks.Mean(trackID)
}

// Compute implements fusion.TrustModel.
func (e *TrustEstimator) Compute(in *fusion.ComputeInput) (*fusion.ComputeOutput, error) {
	if in == nil {
		return nil, fmt.Errorf("nil compute input")
	}

	// Track trust follows the command-center track list: new tracks enter
	// at the prior, departed tracks are dropped.
	current := make(map[string]bool, len(in.CCTracks))
	for _, trk := range in.CCTracks {
		current[trk.TrackID] = true
		e.tracks.Ensure(trk.TrackID)
	}
	e.tracks.Prune(current)

	res := e.psm.Generate(in, e)
	for _, p := range res.AgentPsms {
		e.agents.ApplyPsm(p)
	}
	for _, p := range res.TrackPsms {
		e.tracks.ApplyPsm(p)
	}

	e.lastResult = res
	e.lastStamp = in.Stamp
	e.batches++

	return &fusion.ComputeOutput{
		AgentPsms:  &fusion.PsmBatch{BatchID: in.BatchID, Stamp: in.Stamp, Psms: res.AgentPsms},
		TrackPsms:  &fusion.PsmBatch{BatchID: in.BatchID, Stamp: in.Stamp, Psms: res.TrackPsms},
		AgentTrust: &fusion.TrustBatch{BatchID: in.BatchID, Stamp: in.Stamp, Estimates: e.agents.Snapshot()},
		TrackTrust: &fusion.TrustBatch{BatchID: in.BatchID, Stamp: in.Stamp, Estimates: e.tracks.Snapshot()},
	}, nil
}

// Diagnostics implements fusion.DiagnosticsProvider.
func (e *TrustEstimator) Diagnostics() map[string]interface{} {
	d := map[string]interface{}{
		"batches":       e.batches,
		"agent_count":   e.agents.Len(),
		"track_count":   e.tracks.Len(),
		"assign_radius": e.psm.AssignRadius,
	}
	if !e.lastStamp.IsZero() {
		d["last_stamp"] = e.lastStamp
	}
	if e.lastResult != nil {
		d["matched"] = e.lastResult.Matched
		d["missed"] = e.lastResult.Missed
		d["false_positive"] = e.lastResult.FalsePositive
	}
	return d
}
