package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical service defaults file.
const DefaultConfigPath = "config/trustd.defaults.json"

// ServiceConfig represents the root configuration for the trust fusion
// service. Fields omitted from the JSON file retain their defaults via
// the Get* methods, so partial configs are safe.
type ServiceConfig struct {
	// Fusion params
	NAgents    *int    `json:"n_agents,omitempty"`
	Slop       *string `json:"slop,omitempty"` // duration string like "50ms"
	QueueSize  *int    `json:"queue_size,omitempty"`
	BatchQueue *int    `json:"batch_queue,omitempty"`
	StallAfter *string `json:"stall_after,omitempty"` // duration string like "5s"

	// Ordering params
	StrictOrdering *bool `json:"strict_ordering,omitempty"`

	// Trust model params
	AssignRadius      *float64 `json:"assign_radius,omitempty"`
	PriorAlpha        *float64 `json:"prior_alpha,omitempty"`
	PriorBeta         *float64 `json:"prior_beta,omitempty"`
	TrustTimeConstant *string  `json:"trust_time_constant,omitempty"` // duration string like "30s"

	// Pose buffer params
	PoseHistory *int `json:"pose_history,omitempty"`

	// Transport params
	IngestAddr  *string `json:"ingest_addr,omitempty"`
	IngestBuf   *int    `json:"ingest_buf,omitempty"`
	PublishAddr *string `json:"publish_addr,omitempty"`
	MonitorAddr *string `json:"monitor_addr,omitempty"`
	MaxClients  *int    `json:"max_clients,omitempty"`

	// Persistence params
	DBPath *string `json:"db_path,omitempty"` // empty disables persistence

	// Diagnostics params
	Verbose *bool `json:"verbose,omitempty"`
}

// EmptyServiceConfig returns a ServiceConfig with all fields set to nil.
// Use LoadServiceConfig to load actual values from a file.
func EmptyServiceConfig() *ServiceConfig {
	return &ServiceConfig{}
}

// LoadServiceConfig loads a ServiceConfig from a JSON file. The file is
// validated to ensure it has a .json extension and is under the max file
// size.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyServiceConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ServiceConfig) Validate() error {
	if c.NAgents != nil && *c.NAgents < 1 {
		return fmt.Errorf("n_agents must be at least 1, got %d", *c.NAgents)
	}

	if c.Slop != nil && *c.Slop != "" {
		d, err := time.ParseDuration(*c.Slop)
		if err != nil {
			return fmt.Errorf("invalid slop '%s': %w", *c.Slop, err)
		}
		if d <= 0 {
			return fmt.Errorf("slop must be positive, got %s", d)
		}
	}

	if c.StallAfter != nil && *c.StallAfter != "" {
		if _, err := time.ParseDuration(*c.StallAfter); err != nil {
			return fmt.Errorf("invalid stall_after '%s': %w", *c.StallAfter, err)
		}
	}

	if c.TrustTimeConstant != nil && *c.TrustTimeConstant != "" {
		if _, err := time.ParseDuration(*c.TrustTimeConstant); err != nil {
			return fmt.Errorf("invalid trust_time_constant '%s': %w", *c.TrustTimeConstant, err)
		}
	}

	if c.QueueSize != nil && *c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", *c.QueueSize)
	}

	if c.AssignRadius != nil && *c.AssignRadius <= 0 {
		return fmt.Errorf("assign_radius must be positive, got %f", *c.AssignRadius)
	}

	if c.PriorAlpha != nil && *c.PriorAlpha <= 0 {
		return fmt.Errorf("prior_alpha must be positive, got %f", *c.PriorAlpha)
	}
	if c.PriorBeta != nil && *c.PriorBeta <= 0 {
		return fmt.Errorf("prior_beta must be positive, got %f", *c.PriorBeta)
	}

	return nil
}

// GetNAgents returns the n_agents value or the default.
func (c *ServiceConfig) GetNAgents() int {
	if c.NAgents == nil {
		return 4 // default
	}
	return *c.NAgents
}

// GetSlop parses and returns the Slop as a time.Duration.
func (c *ServiceConfig) GetSlop() time.Duration {
	if c.Slop == nil || *c.Slop == "" {
		return 50 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.Slop)
	if err != nil {
		return 50 * time.Millisecond // default on parse error
	}
	return d
}

// GetQueueSize returns the queue_size value or the default.
func (c *ServiceConfig) GetQueueSize() int {
	if c.QueueSize == nil {
		return 10
	}
	return *c.QueueSize
}

// GetBatchQueue returns the batch_queue value or the default.
func (c *ServiceConfig) GetBatchQueue() int {
	if c.BatchQueue == nil {
		return 8
	}
	return *c.BatchQueue
}

// GetStallAfter parses and returns the StallAfter as a time.Duration.
func (c *ServiceConfig) GetStallAfter() time.Duration {
	if c.StallAfter == nil || *c.StallAfter == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.StallAfter)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetStrictOrdering returns the strict_ordering value or the default.
func (c *ServiceConfig) GetStrictOrdering() bool {
	if c.StrictOrdering == nil {
		return false // default: log and skip out-of-order batches
	}
	return *c.StrictOrdering
}

// GetAssignRadius returns the assign_radius value or the default.
func (c *ServiceConfig) GetAssignRadius() float64 {
	if c.AssignRadius == nil {
		return 2.0
	}
	return *c.AssignRadius
}

// GetPriorAlpha returns the prior_alpha value or the default.
func (c *ServiceConfig) GetPriorAlpha() float64 {
	if c.PriorAlpha == nil {
		return 1.0
	}
	return *c.PriorAlpha
}

// GetPriorBeta returns the prior_beta value or the default.
func (c *ServiceConfig) GetPriorBeta() float64 {
	if c.PriorBeta == nil {
		return 1.0
	}
	return *c.PriorBeta
}

// GetTrustTimeConstant parses and returns the TrustTimeConstant as a
// time.Duration.
func (c *ServiceConfig) GetTrustTimeConstant() time.Duration {
	if c.TrustTimeConstant == nil || *c.TrustTimeConstant == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.TrustTimeConstant)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetPoseHistory returns the pose_history value or the default.
func (c *ServiceConfig) GetPoseHistory() int {
	if c.PoseHistory == nil {
		return 200
	}
	return *c.PoseHistory
}

// GetIngestAddr returns the ingest_addr value or the default.
func (c *ServiceConfig) GetIngestAddr() string {
	if c.IngestAddr == nil || *c.IngestAddr == "" {
		return ":9750"
	}
	return *c.IngestAddr
}

// GetIngestBuf returns the ingest_buf value or the default.
func (c *ServiceConfig) GetIngestBuf() int {
	if c.IngestBuf == nil {
		return 4 * 1024 * 1024
	}
	return *c.IngestBuf
}

// GetPublishAddr returns the publish_addr value or the default.
func (c *ServiceConfig) GetPublishAddr() string {
	if c.PublishAddr == nil || *c.PublishAddr == "" {
		return "localhost:50061"
	}
	return *c.PublishAddr
}

// GetMonitorAddr returns the monitor_addr value or the default.
func (c *ServiceConfig) GetMonitorAddr() string {
	if c.MonitorAddr == nil || *c.MonitorAddr == "" {
		return ":9751"
	}
	return *c.MonitorAddr
}

// GetMaxClients returns the max_clients value or the default.
func (c *ServiceConfig) GetMaxClients() int {
	if c.MaxClients == nil {
		return 5
	}
	return *c.MaxClients
}

// GetDBPath returns the db_path value or the default (empty: persistence
// disabled).
func (c *ServiceConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

// GetVerbose returns the verbose value or the default.
func (c *ServiceConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}
