// Package publish streams completed trust artifact bundles to connected
// gRPC clients (dashboards, downstream planners).
package publish

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/cpsl-research/trust-ros/internal/fusion"
)

// Config holds configuration for the artifact gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// QueueSize is the broadcast channel depth; bundles beyond it are
	// dropped rather than blocking the fusion pipeline.
	QueueSize int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50061",
		MaxClients: 5,
		QueueSize:  64,
	}
}

// ArtifactBundle groups the four artifacts of one completed batch for
// streaming as a unit.
type ArtifactBundle struct {
	BatchID    string
	Stamp      time.Time
	AgentPsms  *fusion.PsmBatch
	TrackPsms  *fusion.PsmBatch
	AgentTrust *fusion.TrustBatch
	TrackTrust *fusion.TrustBatch
}

func (b *ArtifactBundle) complete() bool {
	return b.AgentPsms != nil && b.TrackPsms != nil && b.AgentTrust != nil && b.TrackTrust != nil
}

// ClientStream represents a connected streaming client.
type ClientStream struct {
	id       string
	request  *SubscribeRequest
	bundleCh chan *ArtifactBundle
	doneCh   chan struct{}
}

// Publisher manages the gRPC server and bundle streaming. It implements
// fusion.ArtifactSink: the four per-batch publish calls are assembled
// into one ArtifactBundle and broadcast once the batch is complete. The
// fusion orchestrator publishes the four artifacts of a batch in
// sequence from a single goroutine, so assembly needs no locking beyond
// the sink calls themselves being serialised.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	pendingMu sync.Mutex
	pending   *ArtifactBundle

	bundleChan chan *ArtifactBundle
	clients    map[string]*ClientStream
	clientsMu  sync.RWMutex

	bundleCount    atomic.Uint64
	clientCount    atomic.Int32
	droppedBundles atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Publisher{
		config:     cfg,
		bundleChan: make(chan *ArtifactBundle, cfg.QueueSize),
		clients:    make(map[string]*ClientStream),
		stopCh:     make(chan struct{}),
	}
}

// Start starts the gRPC server.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}

	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	p.listener = lis

	p.server = grpc.NewServer()
	// Service registration is done by caller via GRPCServer method

	p.running.Store(true)

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("[publish] gRPC server listening on %s", p.config.ListenAddr)
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[publish] gRPC server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops the gRPC server.
func (p *Publisher) Stop() {
	if !p.running.Load() {
		return
	}
	p.running.Store(false)
	close(p.stopCh)

	if p.server != nil {
		p.server.GracefulStop()
	}
	if p.listener != nil {
		p.listener.Close()
	}

	p.wg.Wait()
	log.Printf("[publish] gRPC server stopped")
}

// pendingFor returns the in-progress bundle for a batch, starting a new
// one when the batch ID changes. An abandoned partial bundle means the
// orchestrator dropped the batch mid-publish; it is discarded.
func (p *Publisher) pendingFor(batchID string, stamp time.Time) *ArtifactBundle {
	if p.pending == nil || p.pending.BatchID != batchID {
		if p.pending != nil {
			log.Printf("[publish] discarding partial bundle for batch %s", p.pending.BatchID)
		}
		p.pending = &ArtifactBundle{BatchID: batchID, Stamp: stamp}
	}
	return p.pending
}

// flushIfComplete broadcasts the pending bundle once all four artifacts
// have arrived.
func (p *Publisher) flushIfComplete() {
	if p.pending == nil || !p.pending.complete() {
		return
	}
	bundle := p.pending
	p.pending = nil

	if !p.running.Load() {
		return
	}

	select {
	case p.bundleChan <- bundle:
		p.bundleCount.Add(1)
	default:
		dropped := p.droppedBundles.Add(1)
		log.Printf("[publish] DROPPED bundle for batch %s (total dropped: %d), channel full",
			bundle.BatchID, dropped)
	}
}

// PublishAgentPsms implements fusion.ArtifactSink.
func (p *Publisher) PublishAgentPsms(b *fusion.PsmBatch) error {
	if b == nil {
		return fmt.Errorf("nil psm batch")
	}
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	p.pendingFor(b.BatchID, b.Stamp).AgentPsms = b
	p.flushIfComplete()
	return nil
}

// PublishTrackPsms implements fusion.ArtifactSink.
func (p *Publisher) PublishTrackPsms(b *fusion.PsmBatch) error {
	if b == nil {
		return fmt.Errorf("nil psm batch")
	}
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	p.pendingFor(b.BatchID, b.Stamp).TrackPsms = b
	p.flushIfComplete()
	return nil
}

// PublishAgentTrust implements fusion.ArtifactSink.
func (p *Publisher) PublishAgentTrust(b *fusion.TrustBatch) error {
	if b == nil {
		return fmt.Errorf("nil trust batch")
	}
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	p.pendingFor(b.BatchID, b.Stamp).AgentTrust = b
	p.flushIfComplete()
	return nil
}

// PublishTrackTrust implements fusion.ArtifactSink.
func (p *Publisher) PublishTrackTrust(b *fusion.TrustBatch) error {
	if b == nil {
		return fmt.Errorf("nil trust batch")
	}
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	p.pendingFor(b.BatchID, b.Stamp).TrackTrust = b
	p.flushIfComplete()
	return nil
}

// broadcastLoop distributes bundles to all connected clients.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case bundle := <-p.bundleChan:
			p.clientsMu.RLock()
			for _, client := range p.clients {
				select {
				case client.bundleCh <- bundle:
				default:
					// Client is slow, drop bundle for this client.
					p.droppedBundles.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// AddClient registers a new streaming client. It returns an error when
// the client limit is reached.
func (p *Publisher) AddClient(id string, req *SubscribeRequest) (*ClientStream, error) {
	p.clientsMu.Lock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		p.clientsMu.Unlock()
		return nil, fmt.Errorf("client limit reached (%d)", p.config.MaxClients)
	}
	client := &ClientStream{
		id:       id,
		request:  req,
		bundleCh: make(chan *ArtifactBundle, 10),
		doneCh:   make(chan struct{}),
	}
	p.clients[id] = client
	p.clientsMu.Unlock()

	p.clientCount.Add(1)
	log.Printf("[publish] client connected: %s (total: %d)", id, p.clientCount.Load())
	return client, nil
}

// RemoveClient unregisters a streaming client.
func (p *Publisher) RemoveClient(id string) {
	p.clientsMu.Lock()
	if client, ok := p.clients[id]; ok {
		close(client.doneCh)
		delete(p.clients, id)
		p.clientsMu.Unlock()
		p.clientCount.Add(-1)
		log.Printf("[publish] client disconnected: %s (remaining: %d)", id, p.clientCount.Load())
	} else {
		p.clientsMu.Unlock()
	}
}

// Bundles returns a client's receive channel.
func (c *ClientStream) Bundles() <-chan *ArtifactBundle {
	return c.bundleCh
}

// Done is closed when the client is removed.
func (c *ClientStream) Done() <-chan struct{} {
	return c.doneCh
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		BundleCount:    p.bundleCount.Load(),
		DroppedBundles: p.droppedBundles.Load(),
		ClientCount:    p.clientCount.Load(),
		Running:        p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	BundleCount    uint64
	DroppedBundles uint64
	ClientCount    int32
	Running        bool
}

// SubscribeRequest mirrors the proto SubscribeRequest for pre-generation
// use.
type SubscribeRequest struct {
	IncludePsms  bool
	IncludeTrust bool
	AgentFilter  []string
}

// GRPCServer returns the underlying gRPC server for service registration.
func (p *Publisher) GRPCServer() *grpc.Server {
	return p.server
}
