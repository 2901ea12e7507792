// Package ingest receives agent and command-center messages as JSON UDP
// datagrams and feeds them into the synchronizer and pose buffer.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/cpsl-research/trust-ros/internal/fusion"
	"github.com/cpsl-research/trust-ros/internal/geometry"
	"github.com/cpsl-research/trust-ros/internal/monitoring"
)

// Message kinds accepted on the wire.
const (
	KindTracks = "tracks"
	KindFOV    = "fov"
	KindPose   = "pose"
)

// Message is one JSON datagram. AgentID is -1 for the command center.
type Message struct {
	Kind    string          `json:"kind"`
	AgentID int             `json:"agent_id"`
	StampNs int64           `json:"stamp_ns"`
	FrameID string          `json:"frame_id"`
	Tracks  []fusion.Track  `json:"tracks,omitempty"`
	FOV     []geometry.Vec2 `json:"fov,omitempty"`
	Pose    *posePayload    `json:"pose,omitempty"`
}

type posePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ChannelSink accepts synchronizer channel items.
type ChannelSink interface {
	Push(ch fusion.ChannelID, item *fusion.ChannelItem) error
}

// PoseSink accepts agent pose records.
type PoseSink interface {
	Insert(pose fusion.AgentPose)
}

// StatsInterface provides ingest statistics management.
type StatsInterface interface {
	AddDatagram(bytes int)
	AddRejected()
	LogStats()
}

// noopStats is a StatsInterface implementation that does nothing. It is
// used as a safe default when no stats collector is provided.
type noopStats struct{}

func (n *noopStats) AddDatagram(bytes int) {}
func (n *noopStats) AddRejected()          {}
func (n *noopStats) LogStats()             {}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Channels    ChannelSink
	Poses       PoseSink
	Stats       StatsInterface
}

// UDPListener receives JSON datagrams and routes them: track and FOV
// messages to the synchronizer, pose messages to the pose buffer.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	conn        *net.UDPConn
	channels    ChannelSink
	poses       PoseSink
	stats       StatsInterface

	datagrams atomic.Uint64
	rejected  atomic.Uint64
}

// NewUDPListener creates a new UDP listener with the provided
// configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	stats := config.Stats
	if stats == nil {
		stats = &noopStats{}
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		channels:    config.Channels,
		poses:       config.Poses,
		stats:       stats,
	}
}

// Start begins listening for UDP datagrams and processing them. It
// blocks until the context is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.conn = conn
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}

	monitoring.Logf("UDP ingest listener started on %s", conn.LocalAddr())

	go l.startStatsLogging(ctx)

	buffer := make([]byte, 65535)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP ingest listener stopping due to context cancellation")
			return ctx.Err()
		default:
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, from, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				monitoring.Logf("UDP read error: %v", err)
				continue
			}

			if err := l.HandleDatagram(buffer[:n]); err != nil {
				monitoring.Logf("Error handling datagram from %v: %v", from, err)
			}
		}
	}
}

// startStatsLogging periodically logs ingest statistics.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// HandleDatagram processes a single received datagram.
func (l *UDPListener) HandleDatagram(datagram []byte) error {
	l.datagrams.Add(1)
	l.stats.AddDatagram(len(datagram))

	var msg Message
	if err := json.Unmarshal(datagram, &msg); err != nil {
		l.rejected.Add(1)
		l.stats.AddRejected()
		return fmt.Errorf("failed to decode message: %w", err)
	}

	if err := l.route(&msg); err != nil {
		l.rejected.Add(1)
		l.stats.AddRejected()
		return err
	}
	return nil
}

func (l *UDPListener) route(msg *Message) error {
	stamp := time.Unix(0, msg.StampNs).UTC()

	switch msg.Kind {
	case KindTracks:
		if l.channels == nil {
			return nil
		}
		ch := fusion.ChannelID{Agent: msg.AgentID, Role: fusion.RoleTracks}
		return l.channels.Push(ch, &fusion.ChannelItem{
			Stamp:   stamp,
			FrameID: msg.FrameID,
			Tracks:  msg.Tracks,
		})

	case KindFOV:
		if l.channels == nil {
			return nil
		}
		if msg.AgentID == fusion.CommandCenterID {
			return fmt.Errorf("command center does not publish a field of view")
		}
		fov, err := geometry.NewPolygon(msg.FOV)
		if err != nil {
			return fmt.Errorf("invalid field of view: %w", err)
		}
		ch := fusion.ChannelID{Agent: msg.AgentID, Role: fusion.RoleFOV}
		return l.channels.Push(ch, &fusion.ChannelItem{
			Stamp:   stamp,
			FrameID: msg.FrameID,
			FOV:     fov,
		})

	case KindPose:
		if l.poses == nil {
			return nil
		}
		if msg.Pose == nil {
			return fmt.Errorf("pose message without pose payload")
		}
		if msg.FrameID != fusion.WorldFrame {
			return fmt.Errorf("pose declared in frame %q, want %q", msg.FrameID, fusion.WorldFrame)
		}
		l.poses.Insert(fusion.AgentPose{
			AgentID: msg.AgentID,
			Stamp:   stamp,
			X:       msg.Pose.X,
			Y:       msg.Pose.Y,
			Z:       msg.Pose.Z,
		})
		return nil

	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}

// Datagrams returns the number of datagrams received.
func (l *UDPListener) Datagrams() uint64 {
	return l.datagrams.Load()
}

// Rejected returns the number of datagrams that failed decoding or
// routing.
func (l *UDPListener) Rejected() uint64 {
	return l.rejected.Load()
}

// Close closes the UDP listener and releases resources.
func (l *UDPListener) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
