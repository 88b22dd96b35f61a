// Package config loads and validates the data acquisition core's YAML
// configuration document.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingConfig controls the internal/logging setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"` // "stdout", "stderr", or a file path
}

// FramePoolConfig sizes the shared frame pool.
type FramePoolConfig struct {
	SlotCount      int  `yaml:"slot_count"`
	ZeroFillOnLoan bool `yaml:"zero_fill_on_loan"`
}

// RingBufferConfig sizes a memory-mapped ring buffer segment.
type RingBufferConfig struct {
	CapacityBytes uint64 `yaml:"capacity_bytes"` // rounded up to a power of two
	BackingPath   string `yaml:"backing_path"`   // empty means anonymous mapping
}

// BroadcastConfig controls FrameBroadcast fan-out sinks.
type BroadcastConfig struct {
	DefaultQueueDepth int    `yaml:"default_queue_depth"`
	DefaultPolicy     string `yaml:"default_policy"` // block, drop_oldest, drop_newest, latest_only
}

// DocumentStreamConfig controls DocumentStream fan-out.
type DocumentStreamConfig struct {
	DefaultQueueDepth int    `yaml:"default_queue_depth"`
	DefaultPolicy     string `yaml:"default_policy"`
}

// EngineConfig controls the RunEngine's dispatch loop and retry policy.
type EngineConfig struct {
	DispatchTimeout  time.Duration `yaml:"dispatch_timeout"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryInitialWait time.Duration `yaml:"retry_initial_wait"`
	RetryMaxWait     time.Duration `yaml:"retry_max_wait"`
	DefaultOnError   string        `yaml:"default_on_error"` // retry, skip, abort
}

// RegistryConfig controls device registry bootstrap behavior.
type RegistryConfig struct {
	AutoDiscover bool           `yaml:"auto_discover"`
	Devices      []DeviceConfig `yaml:"devices"`
}

// DeviceConfig declares one device entry to pre-register at startup.
type DeviceConfig struct {
	ID           string            `yaml:"id"`
	Kind         string            `yaml:"kind"`
	Capabilities []string          `yaml:"capabilities"`
	Params       map[string]string `yaml:"params"`
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Listen    string `yaml:"listen"` // host:port for the /metrics endpoint
}

// Document is the top-level configuration document.
type Document struct {
	Logging   LoggingConfig        `yaml:"logging"`
	FramePool FramePoolConfig      `yaml:"frame_pool"`
	RingBuf   RingBufferConfig     `yaml:"ring_buffer"`
	Broadcast BroadcastConfig      `yaml:"broadcast"`
	Documents DocumentStreamConfig `yaml:"document_stream"`
	Engine    EngineConfig         `yaml:"engine"`
	Registry  RegistryConfig       `yaml:"registry"`
	Metrics   MetricsConfig        `yaml:"metrics"`
}

// New returns a Document populated with defaults.
func New() *Document {
	return &Document{
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
		FramePool: FramePoolConfig{
			SlotCount:      64,
			ZeroFillOnLoan: false,
		},
		RingBuf: RingBufferConfig{
			CapacityBytes: 1 << 20,
		},
		Broadcast: BroadcastConfig{
			DefaultQueueDepth: 16,
			DefaultPolicy:     "drop_oldest",
		},
		Documents: DocumentStreamConfig{
			DefaultQueueDepth: 64,
			DefaultPolicy:     "block",
		},
		Engine: EngineConfig{
			DispatchTimeout:  30 * time.Second,
			RetryMaxAttempts: 3,
			RetryInitialWait: 100 * time.Millisecond,
			RetryMaxWait:     5 * time.Second,
			DefaultOnError:   "abort",
		},
		Registry: RegistryConfig{AutoDiscover: false},
		Metrics:  MetricsConfig{Enabled: false, Namespace: "daqcore", Listen: ":9090"},
	}
}

// Load reads configuration from the path named by the CONFIG_FILE
// environment variable, falling back to "configs/daqcore.yaml", then
// validates the result. A missing file is not an error; defaults apply.
func Load() (*Document, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "configs/daqcore.yaml"
	}
	doc, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadFile reads a YAML document from path, merging it over the
// defaults, and validates the result.
func LoadFile(path string) (*Document, error) {
	doc := New()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if err := doc.Validate(); err != nil {
				return nil, err
			}
			return doc, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", abs, err)
	}

	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", abs, err)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

var validPolicies = map[string]bool{
	"block": true, "drop_oldest": true, "drop_newest": true, "latest_only": true,
}

var validOnError = map[string]bool{"retry": true, "skip": true, "abort": true}

// Validate checks the document for internally-inconsistent or
// out-of-range values. It does not check whether declared devices
// actually exist.
func (d *Document) Validate() error {
	if d.FramePool.SlotCount <= 0 {
		return fmt.Errorf("config: frame_pool.slot_count must be positive, got %d", d.FramePool.SlotCount)
	}
	if d.RingBuf.CapacityBytes == 0 {
		return fmt.Errorf("config: ring_buffer.capacity_bytes must be positive")
	}
	if d.Broadcast.DefaultQueueDepth <= 0 {
		return fmt.Errorf("config: broadcast.default_queue_depth must be positive, got %d", d.Broadcast.DefaultQueueDepth)
	}
	if !validPolicies[d.Broadcast.DefaultPolicy] {
		return fmt.Errorf("config: broadcast.default_policy %q is not one of block, drop_oldest, drop_newest, latest_only", d.Broadcast.DefaultPolicy)
	}
	if d.Documents.DefaultQueueDepth <= 0 {
		return fmt.Errorf("config: document_stream.default_queue_depth must be positive, got %d", d.Documents.DefaultQueueDepth)
	}
	if !validPolicies[d.Documents.DefaultPolicy] {
		return fmt.Errorf("config: document_stream.default_policy %q is not one of block, drop_oldest, drop_newest, latest_only", d.Documents.DefaultPolicy)
	}
	if d.Engine.RetryMaxAttempts < 0 {
		return fmt.Errorf("config: engine.retry_max_attempts must not be negative")
	}
	if !validOnError[d.Engine.DefaultOnError] {
		return fmt.Errorf("config: engine.default_on_error %q is not one of retry, skip, abort", d.Engine.DefaultOnError)
	}
	seen := make(map[string]bool, len(d.Registry.Devices))
	for _, dev := range d.Registry.Devices {
		if dev.ID == "" {
			return fmt.Errorf("config: registry.devices entry missing id")
		}
		if seen[dev.ID] {
			return fmt.Errorf("config: registry.devices has duplicate id %q", dev.ID)
		}
		seen[dev.ID] = true
	}
	return nil
}
