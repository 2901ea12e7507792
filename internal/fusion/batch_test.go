package fusion

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	t.Parallel()

	batch := testBatch(t, 2, time.Unix(40, 0))
	parts, err := batch.Partition()
	require.NoError(t, err)

	assert.Len(t, parts.AgentTracks, 2)
	assert.Len(t, parts.FOVs, 2)
	require.Len(t, parts.CCTracks, 1)
	assert.Equal(t, "trk-2", parts.CCTracks[0].TrackID)

	want := []int{0, 1}
	if diff := cmp.Diff(want, batch.AgentIDs()); diff != "" {
		t.Errorf("AgentIDs mismatch (-want +got):\n%s", diff)
	}
}

func TestPartitionRejectsMalformedBatch(t *testing.T) {
	t.Parallel()

	batch := testBatch(t, 2, time.Unix(40, 0))
	batch.Items = batch.Items[:3]
	_, err := batch.Partition()
	require.Error(t, err)
}

func TestPartitionRejectsMissingPolygon(t *testing.T) {
	t.Parallel()

	batch := testBatch(t, 1, time.Unix(40, 0))
	for i, ch := range batch.Channels {
		if ch.Role == RoleFOV {
			batch.Items[i] = &ChannelItem{Stamp: batch.Stamp, FrameID: WorldFrame}
		}
	}
	_, err := batch.Partition()
	require.Error(t, err)
}
