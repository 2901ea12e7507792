package fusion

import (
	"time"

	"github.com/cpsl-research/trust-ros/internal/geometry"
)

// TrustEstimate is the trust distribution for one target (an agent or a
// track), parameterised as a Beta distribution.
type TrustEstimate struct {
	TargetID string  `json:"target_id"`
	Alpha    float64 `json:"alpha"`
	Beta     float64 `json:"beta"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// TrustBatch is the set of trust estimates produced for one synchronized
// batch, keyed by target. Produced fresh per batch; not retained.
type TrustBatch struct {
	BatchID   string          `json:"batch_id"`
	Stamp     time.Time       `json:"stamp"`
	Estimates []TrustEstimate `json:"estimates"`
}

// Psm is one pseudo-measurement: a derived trust observation about a
// target, generated from cross-agent consistency rather than a raw sensor
// reading. Value is in [0, 1] (1 fully supports the target, 0 fully
// refutes it); Confidence weights the observation.
type Psm struct {
	PsmID      string  `json:"psm_id"`
	TargetID   string  `json:"target_id"`
	SourceID   string  `json:"source_id"`
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
}

// PsmBatch is the set of pseudo-measurements produced for one synchronized
// batch.
type PsmBatch struct {
	BatchID string    `json:"batch_id"`
	Stamp   time.Time `json:"stamp"`
	Psms    []Psm     `json:"psms"`
}

// ComputeInput carries the resolved, aligned inputs for one trust
// computation: agent positions at batch time, FOV polygons, per-agent track
// lists, and the command-center track list.
type ComputeInput struct {
	BatchID     string
	Stamp       time.Time
	Positions   map[int]AgentPose
	FOVs        map[int]*geometry.Polygon
	AgentTracks map[int][]Track
	CCTracks    []Track
}

// ComputeOutput is the result of one trust computation: the four artifacts
// published per batch.
type ComputeOutput struct {
	AgentTrust *TrustBatch
	TrackTrust *TrustBatch
	AgentPsms  *PsmBatch
	TrackPsms  *PsmBatch
}

// TrustModel is the trust-computation collaborator. The fusion core treats
// it as a black box over shared mutable state: Reset once at startup,
// Propagate* exactly once per batch strictly before Compute, and Compute
// once per batch. Calls are never made concurrently; the orchestrator's
// single-flight discipline is the only guard the model may rely on.
type TrustModel interface {
	// Reset restores the model to its initial state.
	Reset()

	// PropagateAgentTrust advances per-agent trust state to t without
	// incorporating new observations.
	PropagateAgentTrust(t time.Time)

	// PropagateTrackTrust advances per-track trust state to t without
	// incorporating new observations.
	PropagateTrackTrust(t time.Time)

	// Compute incorporates the batch's observations and returns the four
	// output artifacts. A returned error drops the batch; propagation
	// already applied is not undone.
	Compute(in *ComputeInput) (*ComputeOutput, error)
}

// ArtifactSink is the publish boundary: four independent outputs, each
// accepting one artifact per completed batch. The orchestrator only calls
// a sink once every precondition for the batch has succeeded.
type ArtifactSink interface {
	PublishAgentPsms(b *PsmBatch) error
	PublishTrackPsms(b *PsmBatch) error
	PublishAgentTrust(b *TrustBatch) error
	PublishTrackTrust(b *TrustBatch) error
}

// MultiSink fans a batch's artifacts out to several sinks.
type MultiSink []ArtifactSink

func (m MultiSink) PublishAgentPsms(b *PsmBatch) error {
	for _, s := range m {
		if err := s.PublishAgentPsms(b); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) PublishTrackPsms(b *PsmBatch) error {
	for _, s := range m {
		if err := s.PublishTrackPsms(b); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) PublishAgentTrust(b *TrustBatch) error {
	for _, s := range m {
		if err := s.PublishAgentTrust(b); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) PublishTrackTrust(b *TrustBatch) error {
	for _, s := range m {
		if err := s.PublishTrackTrust(b); err != nil {
			return err
		}
	}
	return nil
}
