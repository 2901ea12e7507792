package fusion

import (
	"fmt"
	"time"

	"github.com/cpsl-research/trust-ros/internal/geometry"
)

// SynchronizedBatch is one aligned set of channel items: exactly one item
// per channel, all mutually within the configured slop. The representative
// timestamp is taken from the command-center track item. Batches are
// immutable once emitted and consumed exactly once by the orchestrator.
type SynchronizedBatch struct {
	BatchID  string
	Stamp    time.Time
	Channels []ChannelID
	Items    []*ChannelItem
}

// BatchParts is a SynchronizedBatch partitioned by role: per-agent track
// lists, the command-center track list, and per-agent FOV polygons.
type BatchParts struct {
	AgentTracks map[int][]Track
	CCTracks    []Track
	FOVs        map[int]*geometry.Polygon
}

// Partition splits the batch items by channel role. It fails if the batch
// shape does not match its channel descriptors; that indicates a
// synchronizer bug, not bad input.
func (b *SynchronizedBatch) Partition() (*BatchParts, error) {
	if len(b.Items) != len(b.Channels) {
		return nil, fmt.Errorf("batch %s: %d items for %d channels", b.BatchID, len(b.Items), len(b.Channels))
	}
	parts := &BatchParts{
		AgentTracks: make(map[int][]Track),
		FOVs:        make(map[int]*geometry.Polygon),
	}
	for i, ch := range b.Channels {
		item := b.Items[i]
		if item == nil {
			return nil, fmt.Errorf("batch %s: nil item on channel %s", b.BatchID, ch)
		}
		switch {
		case ch.Role == RoleTracks && ch.Agent == CommandCenterID:
			parts.CCTracks = item.Tracks
		case ch.Role == RoleTracks:
			parts.AgentTracks[ch.Agent] = item.Tracks
		case ch.Role == RoleFOV:
			if item.FOV == nil {
				return nil, fmt.Errorf("batch %s: missing polygon on channel %s", b.BatchID, ch)
			}
			parts.FOVs[ch.Agent] = item.FOV
		default:
			return nil, fmt.Errorf("batch %s: unknown role %q on channel %s", b.BatchID, ch.Role, ch)
		}
	}
	return parts, nil
}

// AgentIDs returns the sorted agent identifiers present on track channels,
// excluding the command center.
func (b *SynchronizedBatch) AgentIDs() []int {
	var ids []int
	for _, ch := range b.Channels {
		if ch.Role == RoleTracks && ch.Agent != CommandCenterID {
			ids = append(ids, ch.Agent)
		}
	}
	return ids
}
