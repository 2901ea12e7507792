package publish

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpsl-research/trust-ros/internal/fusion"
)

func startTestPublisher(t *testing.T) *Publisher {
	t.Helper()
	p := NewPublisher(Config{ListenAddr: "127.0.0.1:0", MaxClients: 2, QueueSize: 8})
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)
	return p
}

func publishBatch(t *testing.T, p *Publisher, batchID string, stamp time.Time) {
	t.Helper()
	require.NoError(t, p.PublishAgentPsms(&fusion.PsmBatch{BatchID: batchID, Stamp: stamp}))
	require.NoError(t, p.PublishTrackPsms(&fusion.PsmBatch{BatchID: batchID, Stamp: stamp}))
	require.NoError(t, p.PublishAgentTrust(&fusion.TrustBatch{BatchID: batchID, Stamp: stamp}))
	require.NoError(t, p.PublishTrackTrust(&fusion.TrustBatch{BatchID: batchID, Stamp: stamp}))
}

func TestBundleAssemblyAndBroadcast(t *testing.T) {
	t.Parallel()

	p := startTestPublisher(t)
	client, err := p.AddClient("c1", &SubscribeRequest{IncludePsms: true, IncludeTrust: true})
	require.NoError(t, err)
	defer p.RemoveClient("c1")

	stamp := time.Unix(600, 0).UTC()
	publishBatch(t, p, "batch-1", stamp)

	select {
	case bundle := <-client.Bundles():
		assert.Equal(t, "batch-1", bundle.BatchID)
		assert.Equal(t, stamp, bundle.Stamp)
		assert.NotNil(t, bundle.AgentPsms)
		assert.NotNil(t, bundle.TrackPsms)
		assert.NotNil(t, bundle.AgentTrust)
		assert.NotNil(t, bundle.TrackTrust)
	case <-time.After(2 * time.Second):
		t.Fatal("no bundle received")
	}

	assert.Equal(t, uint64(1), p.Stats().BundleCount)
}

func TestPartialBundleNotBroadcast(t *testing.T) {
	t.Parallel()

	p := startTestPublisher(t)
	client, err := p.AddClient("c1", nil)
	require.NoError(t, err)
	defer p.RemoveClient("c1")

	stamp := time.Unix(600, 0).UTC()
	require.NoError(t, p.PublishAgentPsms(&fusion.PsmBatch{BatchID: "batch-1", Stamp: stamp}))
	require.NoError(t, p.PublishTrackPsms(&fusion.PsmBatch{BatchID: "batch-1", Stamp: stamp}))

	select {
	case <-client.Bundles():
		t.Fatal("incomplete bundle must not be broadcast")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, uint64(0), p.Stats().BundleCount)
}

func TestAbandonedPartialBundleDiscarded(t *testing.T) {
	t.Parallel()

	p := startTestPublisher(t)
	client, err := p.AddClient("c1", nil)
	require.NoError(t, err)
	defer p.RemoveClient("c1")

	stamp := time.Unix(600, 0).UTC()
	// batch-1 never completes; batch-2 starts and finishes.
	require.NoError(t, p.PublishAgentPsms(&fusion.PsmBatch{BatchID: "batch-1", Stamp: stamp}))
	publishBatch(t, p, "batch-2", stamp.Add(time.Second))

	select {
	case bundle := <-client.Bundles():
		assert.Equal(t, "batch-2", bundle.BatchID)
	case <-time.After(2 * time.Second):
		t.Fatal("no bundle received")
	}
}

func TestClientLimit(t *testing.T) {
	t.Parallel()

	p := startTestPublisher(t)
	_, err := p.AddClient("c1", nil)
	require.NoError(t, err)
	_, err = p.AddClient("c2", nil)
	require.NoError(t, err)
	_, err = p.AddClient("c3", nil)
	require.Error(t, err)

	p.RemoveClient("c1")
	_, err = p.AddClient("c3", nil)
	require.NoError(t, err)
}

func TestStartTwice(t *testing.T) {
	t.Parallel()

	p := startTestPublisher(t)
	require.Error(t, p.Start())
}

func TestNilArtifactsRejected(t *testing.T) {
	t.Parallel()

	p := NewPublisher(DefaultConfig())
	assert.Error(t, p.PublishAgentPsms(nil))
	assert.Error(t, p.PublishTrackPsms(nil))
	assert.Error(t, p.PublishAgentTrust(nil))
	assert.Error(t, p.PublishTrackTrust(nil))
}
