package fusion

import (
	"fmt"
	"time"
)

// AgentPose is one agent's world-frame position at a point in time,
// resolved from the pose store. Poses are re-resolved for every batch and
// never cached across batches.
type AgentPose struct {
	AgentID int       `json:"agent_id"`
	Stamp   time.Time `json:"stamp"`
	X       float64   `json:"x"`
	Y       float64   `json:"y"`
	Z       float64   `json:"z"`
}

// PoseStore is the external spatiotemporal transform store. Lookup returns
// the agent's world-frame pose as of the latest record at or before the
// requested time (falling back to the latest known pose when no earlier
// record exists), or *PoseUnavailableError when no pose has ever been
// recorded for the agent.
type PoseStore interface {
	Lookup(agentID int, at time.Time) (AgentPose, error)
}

// PoseUnavailableError reports that no pose could be resolved for an agent.
// It is fatal for the batch being assembled: the batch is dropped, never
// completed with defaulted positions.
type PoseUnavailableError struct {
	AgentID int
	At      time.Time
}

func (e *PoseUnavailableError) Error() string {
	return fmt.Sprintf("no pose available for agent %d at %s", e.AgentID, e.At.Format(time.RFC3339Nano))
}

// FrameResolver resolves agent world-frame positions at batch time against
// a PoseStore. It is a pure query layer and carries no state of its own.
type FrameResolver struct {
	store PoseStore
}

// NewFrameResolver creates a resolver over the given pose store.
func NewFrameResolver(store PoseStore) *FrameResolver {
	return &FrameResolver{store: store}
}

// Resolve returns one agent's pose at the requested time.
func (r *FrameResolver) Resolve(agentID int, at time.Time) (AgentPose, error) {
	pose, err := r.store.Lookup(agentID, at)
	if err != nil {
		return AgentPose{}, err
	}
	return pose, nil
}

// ResolveAll resolves every listed agent's pose at the requested time. A
// single unresolvable agent fails the whole call: a batch cannot be
// completed without every agent's position.
func (r *FrameResolver) ResolveAll(agentIDs []int, at time.Time) (map[int]AgentPose, error) {
	poses := make(map[int]AgentPose, len(agentIDs))
	for _, id := range agentIDs {
		pose, err := r.store.Lookup(id, at)
		if err != nil {
			return nil, err
		}
		poses[id] = pose
	}
	return poses, nil
}
