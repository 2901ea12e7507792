// Package fusion implements the synchronization-and-orchestration core of
// the trust estimation service: a variable-arity approximate-time
// synchronizer over agent report streams, pose resolution at batch time,
// and a propagate-before-update pipeline around shared trust state.
package fusion

import (
	"fmt"
	"time"

	"github.com/cpsl-research/trust-ros/internal/geometry"
)

// WorldFrame is the shared reference frame every channel item must declare.
// Items in any other frame are rejected at the ingestion boundary; upstream
// frame conversion is a collaborator responsibility.
const WorldFrame = "world"

// CommandCenterID is the agent identifier reserved for the command center
// track channel.
const CommandCenterID = -1

// Role distinguishes the two kinds of per-agent report streams.
type Role string

const (
	// RoleTracks carries 3D box track lists.
	RoleTracks Role = "tracks"
	// RoleFOV carries field-of-view polygons.
	RoleFOV Role = "fov"
)

// ChannelID identifies one input stream: an agent (or the command center)
// paired with a role. The channel set is fixed for the lifetime of a run.
type ChannelID struct {
	Agent int
	Role  Role
}

// String renders the channel as a topic-like name, e.g. "agent2/tracks"
// or "command_center/tracks".
func (c ChannelID) String() string {
	if c.Agent == CommandCenterID {
		return fmt.Sprintf("command_center/%s", c.Role)
	}
	return fmt.Sprintf("agent%d/%s", c.Agent, c.Role)
}

// Channels builds the fixed, ordered channel descriptor list for n agents:
// n agent track channels, the command-center track channel, then n agent
// FOV channels. The ordering is load-bearing: batch partitioning and the
// synchronizer's pivot selection rely on it.
func Channels(n int) []ChannelID {
	chans := make([]ChannelID, 0, 2*n+1)
	for i := 0; i < n; i++ {
		chans = append(chans, ChannelID{Agent: i, Role: RoleTracks})
	}
	chans = append(chans, ChannelID{Agent: CommandCenterID, Role: RoleTracks})
	for i := 0; i < n; i++ {
		chans = append(chans, ChannelID{Agent: i, Role: RoleFOV})
	}
	return chans
}

// Track is one 3D box track as reported by an agent or the command center,
// already expressed in the world frame.
type Track struct {
	TrackID string  `json:"track_id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	VX      float64 `json:"vx"`
	VY      float64 `json:"vy"`
	Length  float64 `json:"length"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Score   float64 `json:"score"`
}

// Position returns the track's ground-plane position.
func (t Track) Position() geometry.Vec2 {
	return geometry.Vec2{X: t.X, Y: t.Y}
}

// ChannelItem is one timestamped payload on a channel: a track list for
// RoleTracks channels, or a FOV polygon for RoleFOV channels. FrameID is
// the declared reference frame of the payload.
type ChannelItem struct {
	Stamp   time.Time
	FrameID string
	Tracks  []Track
	FOV     *geometry.Polygon

	// seq is the arrival order assigned by the synchronizer, used for
	// tie-breaking between equally close candidates.
	seq uint64
}

// InputFrameMismatchError reports an item whose declared frame differs from
// the world frame. The item is dropped; the process continues.
type InputFrameMismatchError struct {
	Channel ChannelID
	FrameID string
}

func (e *InputFrameMismatchError) Error() string {
	return fmt.Sprintf("channel %s: item frame %q is not %q (upstream frame conversion not implemented)",
		e.Channel, e.FrameID, WorldFrame)
}
