package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds runtime key sets for use by other packages.
type RuntimeConfig struct {
	BackendKeys map[string]struct{}
	SigningKeys map[string]struct{}
}

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Storage   StorageConfig   `yaml:"storage"`
	Identity  IdentityConfig  `yaml:"identity"`
	LLM       LLMConfig       `yaml:"llm"`
	Photo     PhotoConfig     `yaml:"photo"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sensor    SensorConfig    `yaml:"sensor"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address           string    `yaml:"address"`
	Port              int       `yaml:"port"`
	DBPath            string    `yaml:"db_path"`
	TLS               TLSConfig `yaml:"tls"`
	ReadTimeout       Duration  `yaml:"read_timeout"`
	WriteTimeout      Duration  `yaml:"write_timeout"`
	MaxRequestBody    SizeBytes `yaml:"max_request_body"`
	StreamMaxDuration Duration  `yaml:"stream_max_duration"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	APIKeys     struct {
		Backend  []string `yaml:"backend"`
		Frontend []string `yaml:"frontend"`
		Admin    []string `yaml:"admin"`
	} `yaml:"api_keys"`
}

// StorageConfig selects the document backend.
type StorageConfig struct {
	Backend string      `yaml:"backend"` // "pebble" or "mongo"
	Mongo   MongoConfig `yaml:"mongo"`
}

// MongoConfig holds settings for the MongoDB document backend.
type MongoConfig struct {
	URI           string   `yaml:"uri"`
	Database      string   `yaml:"database"`
	Collection    string   `yaml:"collection"`
	Timeout       Duration `yaml:"timeout"`
	ChangeStreams bool     `yaml:"change_streams"`
}

// IdentityConfig controls the email/password identity store.
type IdentityConfig struct {
	Path              string   `yaml:"path"`
	SessionTTL        Duration `yaml:"session_ttl"`
	BcryptCost        int      `yaml:"bcrypt_cost"`
	MinPasswordLength int      `yaml:"min_password_length"`
}

// LLMConfig configures the hosted generative model.
type LLMConfig struct {
	Provider          string   `yaml:"provider"` // "gemini"
	APIKey            string   `yaml:"api_key"`
	Model             string   `yaml:"model"`
	Timeout           Duration `yaml:"timeout"`
	MinBiographyChars int      `yaml:"min_biography_chars"`
}

// PhotoConfig controls photo upload handling.
type PhotoConfig struct {
	MaxBytes    SizeBytes `yaml:"max_bytes"`
	MaxPixels   int       `yaml:"max_pixels"`
	JPEGQuality int       `yaml:"jpeg_quality"`
}

// IngestConfig holds write queue settings.
type IngestConfig struct {
	Queue QueueConfig `yaml:"queue"`
}

// QueueConfig controls the fire-and-forget write queue.
type QueueConfig struct {
	Capacity     int      `yaml:"capacity"`
	Workers      int      `yaml:"workers"`
	WriteTimeout Duration `yaml:"write_timeout"`
	// Durable journals accepted writes so a crash cannot lose them.
	Durable bool `yaml:"durable"`
	// NoSync skips the fsync per journaled write.
	NoSync bool `yaml:"no_sync"`
}

// WorkspaceConfig controls per-user state owners.
type WorkspaceConfig struct {
	IdleTTL       Duration `yaml:"idle_ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RetentionConfig holds configuration for the expired session purge runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// Period is how long a session stays in the store after it expired.
	Period string `yaml:"period"`
	DryRun bool   `yaml:"dry_run"`
	// LockTTL is the lease TTL used by the scheduler when acquiring a run lock.
	LockTTL Duration `yaml:"lock_ttl"`
}

// TelemetryConfig controls trace sampling and the trace writer.
type TelemetryConfig struct {
	SampleRate    float64   `yaml:"sample_rate"`
	SlowThreshold Duration  `yaml:"slow_threshold"`
	BufferSize    SizeBytes `yaml:"buffer_size"`
	FileMaxSize   SizeBytes `yaml:"file_max_size"`
	FlushInterval Duration  `yaml:"flush_interval"`
	QueueCapacity int       `yaml:"queue_capacity"`
}

// SensorConfig sets the disk and heap thresholds the resource sensor warns at.
type SensorConfig struct {
	PollInterval   Duration `yaml:"poll_interval"`
	DiskHighPct    int      `yaml:"disk_high_pct"`
	DiskLowPct     int      `yaml:"disk_low_pct"`
	MemHighPct     int      `yaml:"mem_high_pct"`
	RecoveryWindow Duration `yaml:"recovery_window"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "4MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.Bytes(uint64(s)) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDurationValue(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDurationValue(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
