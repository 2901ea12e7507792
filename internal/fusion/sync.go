package fusion

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cpsl-research/trust-ros/internal/timeutil"
)

// Synchronizer defaults, matching the upstream estimator node's QoS-style
// settings: depth 10 buffers and a 50 ms alignment tolerance.
const (
	DefaultSlop       = 50 * time.Millisecond
	DefaultQueueSize  = 10
	DefaultBatchQueue = 8
	DefaultStallAfter = 5 * time.Second
)

// SynchronizerConfig configures a StreamSynchronizer.
type SynchronizerConfig struct {
	// Channels is the fixed ordered channel set, typically Channels(n).
	// Exactly one channel must be the command-center track channel; its
	// item provides each batch's representative timestamp.
	Channels []ChannelID

	// Slop is the maximum tolerated pairwise timestamp spread within one
	// batch (default 50ms).
	Slop time.Duration

	// QueueSize bounds each per-channel buffer; the oldest item is evicted
	// when a push exceeds it (default 10).
	QueueSize int

	// BatchQueue bounds the emitted-batch queue drained by the
	// orchestrator (default 8). When full, newly matched batches are
	// dropped and counted rather than blocking ingestion.
	BatchQueue int

	// StallAfter is how long the synchronizer may go without emitting a
	// batch before the condition is counted as a stall (default 5s). A
	// stall is a liveness observation, not an error.
	StallAfter time.Duration

	// Clock supplies wall time; defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

// StreamSynchronizer buffers timestamped items across a fixed set of
// channels and emits a SynchronizedBatch whenever one item per channel can
// be selected with all timestamps mutually within the slop tolerance.
//
// Selection pivots on the command-center track channel: for each buffered
// command-center item, the nearest-in-time item is chosen from every other
// channel (ties broken by earliest arrival), and the candidate with the
// smallest resulting spread wins. On emission the selected items, and any
// items older than them on the same channel, are removed so batch
// timestamps never move backwards.
//
// Push is safe for concurrent producers; the matching pass runs under one
// lock, and emitted batches are consumed by a single reader via Batches.
type StreamSynchronizer struct {
	channels   []ChannelID
	pivot      int
	slop       time.Duration
	queueSize  int
	stallAfter time.Duration
	clock      timeutil.Clock

	mu          sync.Mutex
	buffers     [][]*ChannelItem
	lastArrival []time.Time
	lastEmit    time.Time
	lastStall   time.Time
	seq         uint64
	closed      bool

	batchCh chan *SynchronizedBatch

	emitted        atomic.Uint64
	droppedBatches atomic.Uint64
	evictedItems   atomic.Uint64
	rejectedFrames atomic.Uint64
	stalls         atomic.Uint64
}

// NewStreamSynchronizer creates a synchronizer for the given channel set.
func NewStreamSynchronizer(cfg SynchronizerConfig) (*StreamSynchronizer, error) {
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("synchronizer requires at least one channel")
	}
	pivot := -1
	for i, ch := range cfg.Channels {
		if ch.Agent == CommandCenterID && ch.Role == RoleTracks {
			if pivot >= 0 {
				return nil, fmt.Errorf("duplicate command-center track channel")
			}
			pivot = i
		}
	}
	if pivot < 0 {
		return nil, fmt.Errorf("channel set has no command-center track channel")
	}
	if cfg.Slop == 0 {
		cfg.Slop = DefaultSlop
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BatchQueue == 0 {
		cfg.BatchQueue = DefaultBatchQueue
	}
	if cfg.StallAfter == 0 {
		cfg.StallAfter = DefaultStallAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	s := &StreamSynchronizer{
		channels:    append([]ChannelID(nil), cfg.Channels...),
		pivot:       pivot,
		slop:        cfg.Slop,
		queueSize:   cfg.QueueSize,
		stallAfter:  cfg.StallAfter,
		clock:       cfg.Clock,
		buffers:     make([][]*ChannelItem, len(cfg.Channels)),
		lastArrival: make([]time.Time, len(cfg.Channels)),
		batchCh:     make(chan *SynchronizedBatch, cfg.BatchQueue),
	}
	s.lastEmit = s.clock.Now()
	return s, nil
}

// Batches returns the channel of emitted batches. It is closed by Close.
func (s *StreamSynchronizer) Batches() <-chan *SynchronizedBatch {
	return s.batchCh
}

// Close stops emission and closes the batch channel. Pushes after Close
// are rejected.
func (s *StreamSynchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.batchCh)
}

// Push appends an item to its channel buffer and runs a matching pass.
// Items declaring a frame other than WorldFrame are rejected with
// *InputFrameMismatchError and never enter matching.
func (s *StreamSynchronizer) Push(ch ChannelID, item *ChannelItem) error {
	idx := -1
	for i, c := range s.channels {
		if c == ch {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("unknown channel %s", ch)
	}
	if item == nil {
		return fmt.Errorf("channel %s: nil item", ch)
	}
	if item.FrameID != WorldFrame {
		s.rejectedFrames.Add(1)
		return &InputFrameMismatchError{Channel: ch, FrameID: item.FrameID}
	}
	if ch.Role == RoleFOV && item.FOV == nil {
		return fmt.Errorf("channel %s: missing polygon payload", ch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("synchronizer is closed")
	}

	s.seq++
	item.seq = s.seq
	now := s.clock.Now()
	s.lastArrival[idx] = now
	s.buffers[idx] = append(s.buffers[idx], item)

	// Bound buffer depth: evict the oldest-arrived item.
	if len(s.buffers[idx]) > s.queueSize {
		evicted := s.buffers[idx][0]
		s.buffers[idx] = s.buffers[idx][1:]
		s.evictedItems.Add(1)
		tracef("[Sync] Evicted item on %s (stamp=%s): buffer depth exceeded %d",
			ch, evicted.Stamp.Format(time.RFC3339Nano), s.queueSize)
	}

	for s.tryEmitLocked(now) {
	}

	// Liveness observation: no batch for longer than the stall window.
	if now.Sub(s.lastEmit) > s.stallAfter && now.Sub(s.lastStall) > s.stallAfter {
		s.lastStall = now
		s.stalls.Add(1)
		opsf("[Sync] No batch emitted for %v (stall #%d); channel depths=%v",
			now.Sub(s.lastEmit), s.stalls.Load(), s.depthsLocked())
	}

	return nil
}

// tryEmitLocked attempts one matching pass. Returns true if a batch was
// emitted (or matched and dropped on queue overflow), so the caller can
// loop until no further batch is producible.
func (s *StreamSynchronizer) tryEmitLocked(now time.Time) bool {
	for _, buf := range s.buffers {
		if len(buf) == 0 {
			return false
		}
	}

	// Each non-pivot channel contributes its item nearest the pivot stamp
	// (ties to the earliest arrival). This is a per-channel greedy pick: it
	// does not always minimise the pairwise spread of the whole selection,
	// since an item slightly farther from the pivot could pull the spread
	// tighter when other channels sit on the opposite side. Every emitted
	// batch still satisfies spread <= slop.
	var bestSel []*ChannelItem
	var bestSpread time.Duration
	for _, pivotItem := range s.buffers[s.pivot] {
		sel := make([]*ChannelItem, len(s.channels))
		sel[s.pivot] = pivotItem
		minT, maxT := pivotItem.Stamp, pivotItem.Stamp
		for i := range s.channels {
			if i == s.pivot {
				continue
			}
			var pick *ChannelItem
			var pickDist time.Duration
			for _, cand := range s.buffers[i] {
				d := absDuration(cand.Stamp.Sub(pivotItem.Stamp))
				if pick == nil || d < pickDist || (d == pickDist && cand.seq < pick.seq) {
					pick = cand
					pickDist = d
				}
			}
			sel[i] = pick
			if pick.Stamp.Before(minT) {
				minT = pick.Stamp
			}
			if pick.Stamp.After(maxT) {
				maxT = pick.Stamp
			}
		}
		spread := maxT.Sub(minT)
		if spread > s.slop {
			continue
		}
		if bestSel == nil || spread < bestSpread ||
			(spread == bestSpread && pivotItem.seq < bestSel[s.pivot].seq) {
			bestSel = sel
			bestSpread = spread
		}
	}
	if bestSel == nil {
		return false
	}

	batch := &SynchronizedBatch{
		BatchID:  uuid.NewString(),
		Stamp:    bestSel[s.pivot].Stamp,
		Channels: s.channels,
		Items:    bestSel,
	}

	// Remove the selected items and anything older than them on the same
	// channel, so the next batch's representative timestamp cannot precede
	// this one's.
	for i, used := range bestSel {
		kept := s.buffers[i][:0]
		for _, it := range s.buffers[i] {
			if it == used || !it.Stamp.After(used.Stamp) {
				continue
			}
			kept = append(kept, it)
		}
		s.buffers[i] = kept
	}

	s.lastEmit = now
	select {
	case s.batchCh <- batch:
		s.emitted.Add(1)
		tracef("[Sync] Emitted batch %s at %s (spread=%v)",
			batch.BatchID, batch.Stamp.Format(time.RFC3339Nano), bestSpread)
	default:
		// Queue full: drop rather than block ingestion.
		s.droppedBatches.Add(1)
		opsf("[Sync] Dropped batch %s: batch queue full (%d dropped total)",
			batch.BatchID, s.droppedBatches.Load())
	}
	return true
}

func (s *StreamSynchronizer) depthsLocked() []int {
	depths := make([]int, len(s.buffers))
	for i, buf := range s.buffers {
		depths[i] = len(buf)
	}
	return depths
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// ChannelStats describes one channel's buffer state.
type ChannelStats struct {
	Channel     string    `json:"channel"`
	Depth       int       `json:"depth"`
	LastArrival time.Time `json:"last_arrival"`
}

// SyncStats is a point-in-time snapshot of synchronizer counters.
type SyncStats struct {
	Channels       []ChannelStats `json:"channels"`
	EmittedBatches uint64         `json:"emitted_batches"`
	DroppedBatches uint64         `json:"dropped_batches"`
	EvictedItems   uint64         `json:"evicted_items"`
	RejectedFrames uint64         `json:"rejected_frames"`
	Stalls         uint64         `json:"stalls"`
	LastEmit       time.Time      `json:"last_emit"`
	Stalled        bool           `json:"stalled"`
}

// Stats returns a snapshot of the synchronizer's counters and per-channel
// buffer depths.
func (s *StreamSynchronizer) Stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SyncStats{
		EmittedBatches: s.emitted.Load(),
		DroppedBatches: s.droppedBatches.Load(),
		EvictedItems:   s.evictedItems.Load(),
		RejectedFrames: s.rejectedFrames.Load(),
		Stalls:         s.stalls.Load(),
		LastEmit:       s.lastEmit,
		Stalled:        s.clock.Since(s.lastEmit) > s.stallAfter,
	}
	for i, ch := range s.channels {
		stats.Channels = append(stats.Channels, ChannelStats{
			Channel:     ch.String(),
			Depth:       len(s.buffers[i]),
			LastArrival: s.lastArrival[i],
		})
	}
	return stats
}
