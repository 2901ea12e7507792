// Package transforms maintains per-agent world-frame pose history and
// serves time-indexed lookups for the fusion pipeline's frame resolution.
package transforms

import (
	"sort"
	"sync"
	"time"

	"github.com/cpsl-research/trust-ros/internal/fusion"
)

// DefaultMaxHistory bounds the pose records retained per agent.
const DefaultMaxHistory = 200

// Buffer is a bounded, time-ordered store of agent poses. Writers append
// from transform feeds; the fusion pipeline reads via Lookup. Both sides
// may run concurrently.
//
// Lookup semantics follow the fusion.PoseStore contract: latest record at
// or before the requested time, falling back to the latest known pose when
// every record postdates the request. Interpolation is deliberately not
// performed.
type Buffer struct {
	maxHistory int

	mu    sync.RWMutex
	poses map[int][]fusion.AgentPose
}

// NewBuffer creates a pose buffer. maxHistory <= 0 selects
// DefaultMaxHistory.
func NewBuffer(maxHistory int) *Buffer {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Buffer{
		maxHistory: maxHistory,
		poses:      make(map[int][]fusion.AgentPose),
	}
}

// Insert records a pose for an agent, keeping the per-agent history sorted
// by stamp and bounded at maxHistory (oldest records are discarded).
func (b *Buffer) Insert(pose fusion.AgentPose) {
	b.mu.Lock()
	defer b.mu.Unlock()

	history := b.poses[pose.AgentID]
	idx := sort.Search(len(history), func(i int) bool {
		return history[i].Stamp.After(pose.Stamp)
	})
	history = append(history, fusion.AgentPose{})
	copy(history[idx+1:], history[idx:])
	history[idx] = pose

	if len(history) > b.maxHistory {
		history = history[len(history)-b.maxHistory:]
	}
	b.poses[pose.AgentID] = history
}

// Lookup implements fusion.PoseStore.
func (b *Buffer) Lookup(agentID int, at time.Time) (fusion.AgentPose, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	history := b.poses[agentID]
	if len(history) == 0 {
		return fusion.AgentPose{}, &fusion.PoseUnavailableError{AgentID: agentID, At: at}
	}

	// Latest record at or before the requested time.
	idx := sort.Search(len(history), func(i int) bool {
		return history[i].Stamp.After(at)
	})
	if idx > 0 {
		return history[idx-1], nil
	}

	// Everything postdates the request: serve the latest known pose.
	return history[len(history)-1], nil
}

// Agents returns the identifiers with at least one recorded pose.
func (b *Buffer) Agents() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]int, 0, len(b.poses))
	for id := range b.poses {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Depth returns the number of records held for an agent.
func (b *Buffer) Depth(agentID int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.poses[agentID])
}
