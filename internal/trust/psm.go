package trust

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/cpsl-research/trust-ros/internal/fusion"
	"github.com/cpsl-research/trust-ros/internal/geometry"
)

// DefaultAssignRadius is the maximum ground-plane distance at which an
// agent track is considered the same object as a command-center track.
const DefaultAssignRadius = 2.0

// AgentTargetID returns the trust target identifier for an agent.
func AgentTargetID(agentID int) string {
	return fmt.Sprintf("agent%d", agentID)
}

// TrustMeans supplies current expected trust values for weighting
// pseudo-measurement confidence.
type TrustMeans interface {
	AgentMean(agentID int) float64
	TrackMean(trackID string) float64
}

// ViewBasedPsm generates pseudo-measurements by comparing each agent's
// reported tracks against the command-center tracks that fall inside the
// agent's field of view.
//
// For every command-center track an agent should see, the agent either
// confirms it (a matched agent track within the assignment radius) or
// misses it. Confirmations support both the agent and the track; misses
// refute both. An agent track inside the FOV with no command-center
// counterpart refutes the agent alone. Each observation's confidence is
// the current expected trust of the other party: an untrusted track
// barely dents a trusted agent, and vice versa.
type ViewBasedPsm struct {
	AssignRadius float64
}

// NewViewBasedPsm creates a generator. radius <= 0 selects
// DefaultAssignRadius.
func NewViewBasedPsm(radius float64) *ViewBasedPsm {
	if radius <= 0 {
		radius = DefaultAssignRadius
	}
	return &ViewBasedPsm{AssignRadius: radius}
}

// PsmResult is the output of one generation pass.
type PsmResult struct {
	AgentPsms []fusion.Psm
	TrackPsms []fusion.Psm

	// Per-agent match counts for diagnostics.
	Matched       map[int]int
	Missed        map[int]int
	FalsePositive map[int]int
}

// Generate produces pseudo-measurements for one synchronized batch.
func (v *ViewBasedPsm) Generate(in *fusion.ComputeInput, means TrustMeans) *PsmResult {
	res := &PsmResult{
		Matched:       make(map[int]int),
		Missed:        make(map[int]int),
		FalsePositive: make(map[int]int),
	}

	agentIDs := make([]int, 0, len(in.FOVs))
	for id := range in.FOVs {
		agentIDs = append(agentIDs, id)
	}
	sort.Ints(agentIDs)

	for _, agentID := range agentIDs {
		fov := in.FOVs[agentID]
		agentTracks := in.AgentTracks[agentID]
		agentTarget := AgentTargetID(agentID)
		agentMean := means.AgentMean(agentID)

		// Command-center tracks the agent should be able to see.
		var visible []fusion.Track
		for _, trk := range in.CCTracks {
			if fov.Contains(trk.Position()) {
				visible = append(visible, trk)
			}
		}

		assigned := v.assign(agentTracks, visible)

		// Which visible tracks got an agent counterpart.
		confirmed := make(map[int]bool, len(visible))
		for _, col := range assigned {
			if col >= 0 {
				confirmed[col] = true
			}
		}

		for col, trk := range visible {
			seen := confirmed[col]
			value := 0.0
			if seen {
				value = 1.0
				res.Matched[agentID]++
			} else {
				res.Missed[agentID]++
			}

			res.AgentPsms = append(res.AgentPsms, fusion.Psm{
				PsmID:      uuid.NewString(),
				TargetID:   agentTarget,
				SourceID:   trk.TrackID,
				Value:      value,
				Confidence: means.TrackMean(trk.TrackID),
			})
			res.TrackPsms = append(res.TrackPsms, fusion.Psm{
				PsmID:      uuid.NewString(),
				TargetID:   trk.TrackID,
				SourceID:   agentTarget,
				Value:      value,
				Confidence: agentMean,
			})
		}

		// Agent tracks inside the FOV with no command-center counterpart
		// count against the agent. There is no track to weight against, so
		// confidence is the indifferent 0.5.
		for i, trk := range agentTracks {
			if assigned != nil && assigned[i] >= 0 {
				continue
			}
			if !fov.Contains(trk.Position()) {
				continue
			}
			res.FalsePositive[agentID]++
			res.AgentPsms = append(res.AgentPsms, fusion.Psm{
				PsmID:      uuid.NewString(),
				TargetID:   agentTarget,
				SourceID:   trk.TrackID,
				Value:      0,
				Confidence: 0.5,
			})
		}
	}

	return res
}

// assign matches agent tracks (rows) to visible command-center tracks
// (columns) by ground-plane distance, forbidding pairs beyond the
// assignment radius. Returns nil when either side is empty.
func (v *ViewBasedPsm) assign(agentTracks, visible []fusion.Track) []int {
	if len(agentTracks) == 0 || len(visible) == 0 {
		if len(agentTracks) == 0 {
			return nil
		}
		out := make([]int, len(agentTracks))
		for i := range out {
			out[i] = -1
		}
		return out
	}

	cost := make([][]float64, len(agentTracks))
	for i, at := range agentTracks {
		row := make([]float64, len(visible))
		for j, ct := range visible {
			d := geometry.Distance(at.Position(), ct.Position())
			if d > v.AssignRadius {
				row[j] = ForbiddenCost
			} else {
				row[j] = d
			}
		}
		cost[i] = row
	}

	return HungarianAssign(cost)
}
