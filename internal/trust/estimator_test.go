package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpsl-research/trust-ros/internal/fusion"
	"github.com/cpsl-research/trust-ros/internal/geometry"
)

func estimatorInput(t *testing.T, stamp time.Time) *fusion.ComputeInput {
	t.Helper()
	fov := squareFOV(t, 10)
	return &fusion.ComputeInput{
		BatchID:   "batch-1",
		Stamp:     stamp,
		Positions: map[int]fusion.AgentPose{0: {AgentID: 0}, 1: {AgentID: 1}},
		FOVs:      map[int]*geometry.Polygon{0: fov, 1: fov},
		AgentTracks: map[int][]fusion.Track{
			0: {ccTrack("a0-1", 1.0, 1.0)},
			1: {ccTrack("a1-1", 1.1, 1.0)},
		},
		CCTracks: []fusion.Track{ccTrack("trk-1", 1.0, 1.0)},
	}
}

func TestResetSeedsAgents(t *testing.T) {
	t.Parallel()

	e := NewTrustEstimator(EstimatorConfig{NAgents: 3})
	assert.Equal(t, 3, e.agents.Len())
	assert.Equal(t, 0, e.tracks.Len())
	assert.InDelta(t, 0.5, e.AgentMean(0), 1e-9)
}

func TestComputeProducesAllArtifacts(t *testing.T) {
	t.Parallel()

	e := NewTrustEstimator(EstimatorConfig{NAgents: 2})
	stamp := time.Unix(300, 0).UTC()
	out, err := e.Compute(estimatorInput(t, stamp))
	require.NoError(t, err)

	require.NotNil(t, out.AgentPsms)
	require.NotNil(t, out.TrackPsms)
	require.NotNil(t, out.AgentTrust)
	require.NotNil(t, out.TrackTrust)

	assert.Equal(t, "batch-1", out.AgentTrust.BatchID)
	assert.Equal(t, stamp, out.AgentTrust.Stamp)

	// Both agents confirmed the one track.
	require.Len(t, out.AgentPsms.Psms, 2)
	require.Len(t, out.TrackPsms.Psms, 2)
	require.Len(t, out.AgentTrust.Estimates, 2)
	require.Len(t, out.TrackTrust.Estimates, 1)
	assert.Equal(t, "trk-1", out.TrackTrust.Estimates[0].TargetID)

	// Confirmations push trust above the prior on both sides.
	assert.Greater(t, e.AgentMean(0), 0.5)
	assert.Greater(t, e.TrackMean("trk-1"), 0.5)
}

func TestComputePrunesDepartedTracks(t *testing.T) {
	t.Parallel()

	e := NewTrustEstimator(EstimatorConfig{NAgents: 2})
	stamp := time.Unix(300, 0).UTC()
	_, err := e.Compute(estimatorInput(t, stamp))
	require.NoError(t, err)
	require.Equal(t, 1, e.tracks.Len())

	// Next batch has a different track; trk-1 departs.
	in := estimatorInput(t, stamp.Add(time.Second))
	in.CCTracks = []fusion.Track{ccTrack("trk-2", 5, 5)}
	out, err := e.Compute(in)
	require.NoError(t, err)

	require.Len(t, out.TrackTrust.Estimates, 1)
	assert.Equal(t, "trk-2", out.TrackTrust.Estimates[0].TargetID)
}

func TestMissesErodeAgentTrust(t *testing.T) {
	t.Parallel()

	e := NewTrustEstimator(EstimatorConfig{NAgents: 2})
	stamp := time.Unix(300, 0).UTC()

	// Agent 1 never reports the track agent 0 confirms.
	for i := 0; i < 5; i++ {
		in := estimatorInput(t, stamp.Add(time.Duration(i)*time.Second))
		in.AgentTracks[1] = nil
		_, err := e.Compute(in)
		require.NoError(t, err)
	}

	assert.Greater(t, e.AgentMean(0), 0.5)
	assert.Less(t, e.AgentMean(1), 0.5)
	assert.Greater(t, e.AgentMean(0), e.AgentMean(1))
}

func TestPropagationOrderIndependentStores(t *testing.T) {
	t.Parallel()

	e := NewTrustEstimator(EstimatorConfig{
		NAgents:      2,
		AgentUpdater: UpdaterConfig{TimeConstant: 5 * time.Second},
		TrackUpdater: UpdaterConfig{TimeConstant: 5 * time.Second},
	})
	stamp := time.Unix(300, 0).UTC()
	e.PropagateTrackTrust(stamp)
	e.PropagateAgentTrust(stamp)

	_, err := e.Compute(estimatorInput(t, stamp))
	require.NoError(t, err)
	high := e.AgentMean(0)
	require.Greater(t, high, 0.5)

	// A long quiet gap decays agent trust back toward the prior.
	later := stamp.Add(5 * time.Minute)
	e.PropagateTrackTrust(later)
	e.PropagateAgentTrust(later)
	assert.InDelta(t, 0.5, e.AgentMean(0), 0.01)
}

func TestResetClearsAccumulatedState(t *testing.T) {
	t.Parallel()

	e := NewTrustEstimator(EstimatorConfig{NAgents: 2})
	stamp := time.Unix(300, 0).UTC()
	_, err := e.Compute(estimatorInput(t, stamp))
	require.NoError(t, err)
	require.Greater(t, e.AgentMean(0), 0.5)

	e.Reset()
	assert.InDelta(t, 0.5, e.AgentMean(0), 1e-9)
	assert.Equal(t, 0, e.tracks.Len())
	assert.Equal(t, 2, e.agents.Len())
}

func TestComputeNilInput(t *testing.T) {
	t.Parallel()

	e := NewTrustEstimator(EstimatorConfig{NAgents: 2})
	_, err := e.Compute(nil)
	require.Error(t, err)
}

func TestDiagnostics(t *testing.T) {
	t.Parallel()

	e := NewTrustEstimator(EstimatorConfig{NAgents: 2})
	d := e.Diagnostics()
	assert.Equal(t, uint64(0), d["batches"])

	_, err := e.Compute(estimatorInput(t, time.Unix(300, 0).UTC()))
	require.NoError(t, err)

	d = e.Diagnostics()
	assert.Equal(t, uint64(1), d["batches"])
	assert.Equal(t, 1, d["track_count"])
	assert.Contains(t, d, "matched")
	assert.Contains(t, d, "last_stamp")
}
