package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAll(t *testing.T) {
	t.Parallel()

	r := NewFrameResolver(twoAgentPoses())
	poses, err := r.ResolveAll([]int{0, 1}, time.Unix(10, 0))
	require.NoError(t, err)
	require.Len(t, poses, 2)
	assert.Equal(t, 1.0, poses[0].X)
	assert.Equal(t, 3.0, poses[1].X)
}

func TestResolveAllFailsOnAnyMissingAgent(t *testing.T) {
	t.Parallel()

	store := &mapPoseStore{poses: map[int]AgentPose{0: {AgentID: 0}}}
	r := NewFrameResolver(store)

	_, err := r.ResolveAll([]int{0, 7}, time.Unix(10, 0))
	var unavailable *PoseUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 7, unavailable.AgentID)
}

func TestResolveSingle(t *testing.T) {
	t.Parallel()

	r := NewFrameResolver(twoAgentPoses())
	pose, err := r.Resolve(1, time.Unix(10, 0))
	require.NoError(t, err)
	assert.Equal(t, 4.0, pose.Y)

	_, err = r.Resolve(9, time.Unix(10, 0))
	require.Error(t, err)
}
