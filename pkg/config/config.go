package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults and limits
const (
	defaultAddress           = "0.0.0.0"
	defaultPort              = 8080
	defaultReadTimeout       = 10 * time.Second
	defaultWriteTimeout      = 60 * time.Second
	defaultMaxRequestBody    = 8 * 1024 * 1024 // photo data URIs are base64 inflated
	defaultStreamMaxDuration = 50 * time.Second

	defaultRateRPS   = 50
	defaultRateBurst = 100

	defaultStorageBackend     = "pebble"
	defaultMongoDatabase      = "charhub"
	defaultMongoCollection    = "documents"
	defaultMongoTimeout       = 30 * time.Second
	defaultSessionTTL         = 30 * 24 * time.Hour
	defaultBcryptCost         = 10
	defaultMinPasswordLength  = 6
	defaultLLMProvider        = "gemini"
	defaultLLMModel           = "gemini-2.5-flash"
	defaultLLMTimeout         = 90 * time.Second
	defaultMinBiographyChars  = 3000
	defaultPhotoMaxBytes      = 4 * 1024 * 1024
	defaultPhotoMaxPixels     = 40_000_000
	defaultJPEGQuality        = 90
	defaultQueueCapacity      = 1024
	defaultQueueWorkers       = 4
	defaultQueueWriteTimeout  = 30 * time.Second
	defaultWorkspaceIdleTTL   = 30 * time.Minute
	defaultWorkspaceSweepTick = time.Minute

	// Retention defaults
	defaultRetentionLockTTL = 300 * time.Second
	defaultRetentionCron    = "0 3 * * *"
	defaultRetentionPeriod  = "7d"

	// telemetry defaults
	defaultTelemetrySampleRate    = 0.01
	defaultTelemetrySlowMs        = 500
	defaultTelemetryBufferSize    = 1 * 1024 * 1024
	defaultTelemetryFileMaxSize   = 40 * 1024 * 1024
	defaultTelemetryFlushMs       = 2000
	defaultTelemetryQueueCapacity = 2048

	defaultSensorPoll     = 10 * time.Second
	defaultDiskHighPct    = 90
	defaultDiskLowPct     = 80
	defaultMemHighPct     = 90
	defaultSensorRecovery = time.Minute
)

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig

	globalMu  sync.RWMutex
	globalCfg *Config
)

// SetRuntime sets the global runtime config.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetBackendKeys returns a copy of backend API keys.
func GetBackendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := make(map[string]struct{})
	if runtimeCfg == nil || runtimeCfg.BackendKeys == nil {
		return out
	}
	for k := range runtimeCfg.BackendKeys {
		out[k] = struct{}{}
	}
	return out
}

// GetSigningKeys returns a copy of signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := make(map[string]struct{})
	if runtimeCfg == nil || runtimeCfg.SigningKeys == nil {
		return out
	}
	for k := range runtimeCfg.SigningKeys {
		out[k] = struct{}{}
	}
	return out
}

// SetConfig installs the process-wide effective config.
func SetConfig(c *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCfg = c
}

// GetConfig returns the process-wide config, or an empty config with defaults when unset.
func GetConfig() *Config {
	globalMu.RLock()
	c := globalCfg
	globalMu.RUnlock()
	if c == nil {
		c = &Config{}
		c.ApplyDefaults()
	}
	return c
}

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = defaultAddress
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with defaults. It never overrides explicit values.
func (c *Config) ApplyDefaults() {
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(defaultReadTimeout)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(defaultWriteTimeout)
	}
	if c.Server.MaxRequestBody == 0 {
		c.Server.MaxRequestBody = SizeBytes(defaultMaxRequestBody)
	}
	if c.Server.StreamMaxDuration == 0 {
		c.Server.StreamMaxDuration = Duration(defaultStreamMaxDuration)
	}

	// Security defaults: rate limiting
	if c.Security.RateLimit.RPS <= 0 {
		c.Security.RateLimit.RPS = defaultRateRPS
	}
	if c.Security.RateLimit.Burst <= 0 {
		c.Security.RateLimit.Burst = defaultRateBurst
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	if c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = defaultMongoDatabase
	}
	if c.Storage.Mongo.Collection == "" {
		c.Storage.Mongo.Collection = defaultMongoCollection
	}
	if c.Storage.Mongo.Timeout == 0 {
		c.Storage.Mongo.Timeout = Duration(defaultMongoTimeout)
	}

	if c.Identity.SessionTTL == 0 {
		c.Identity.SessionTTL = Duration(defaultSessionTTL)
	}
	if c.Identity.BcryptCost == 0 {
		c.Identity.BcryptCost = defaultBcryptCost
	}
	if c.Identity.MinPasswordLength == 0 {
		c.Identity.MinPasswordLength = defaultMinPasswordLength
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultLLMProvider
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = Duration(defaultLLMTimeout)
	}
	if c.LLM.MinBiographyChars == 0 {
		c.LLM.MinBiographyChars = defaultMinBiographyChars
	}

	if c.Photo.MaxBytes == 0 {
		c.Photo.MaxBytes = SizeBytes(defaultPhotoMaxBytes)
	}
	if c.Photo.MaxPixels == 0 {
		c.Photo.MaxPixels = defaultPhotoMaxPixels
	}
	if c.Photo.JPEGQuality == 0 {
		c.Photo.JPEGQuality = defaultJPEGQuality
	}

	if c.Ingest.Queue.Capacity <= 0 {
		c.Ingest.Queue.Capacity = defaultQueueCapacity
	}
	if c.Ingest.Queue.Workers <= 0 {
		c.Ingest.Queue.Workers = defaultQueueWorkers
	}
	if c.Ingest.Queue.WriteTimeout == 0 {
		c.Ingest.Queue.WriteTimeout = Duration(defaultQueueWriteTimeout)
	}

	if c.Workspace.IdleTTL == 0 {
		c.Workspace.IdleTTL = Duration(defaultWorkspaceIdleTTL)
	}
	if c.Workspace.SweepInterval == 0 {
		c.Workspace.SweepInterval = Duration(defaultWorkspaceSweepTick)
	}

	if c.Retention.LockTTL == 0 {
		c.Retention.LockTTL = Duration(defaultRetentionLockTTL)
	}
	if c.Retention.Cron == "" {
		c.Retention.Cron = defaultRetentionCron
	}
	if c.Retention.Period == "" {
		c.Retention.Period = defaultRetentionPeriod
	}

	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = defaultTelemetrySampleRate
	}
	if c.Telemetry.SlowThreshold == 0 {
		c.Telemetry.SlowThreshold = Duration(time.Duration(defaultTelemetrySlowMs) * time.Millisecond)
	}
	if c.Telemetry.BufferSize == 0 {
		c.Telemetry.BufferSize = SizeBytes(defaultTelemetryBufferSize)
	}
	if c.Telemetry.FileMaxSize == 0 {
		c.Telemetry.FileMaxSize = SizeBytes(defaultTelemetryFileMaxSize)
	}
	if c.Telemetry.FlushInterval == 0 {
		c.Telemetry.FlushInterval = Duration(time.Duration(defaultTelemetryFlushMs) * time.Millisecond)
	}
	if c.Telemetry.QueueCapacity <= 0 {
		c.Telemetry.QueueCapacity = defaultTelemetryQueueCapacity
	}

	if c.Sensor.PollInterval == 0 {
		c.Sensor.PollInterval = Duration(defaultSensorPoll)
	}
	if c.Sensor.DiskHighPct == 0 {
		c.Sensor.DiskHighPct = defaultDiskHighPct
	}
	if c.Sensor.DiskLowPct == 0 {
		c.Sensor.DiskLowPct = defaultDiskLowPct
	}
	if c.Sensor.MemHighPct == 0 {
		c.Sensor.MemHighPct = defaultMemHighPct
	}
	if c.Sensor.RecoveryWindow == 0 {
		c.Sensor.RecoveryWindow = Duration(defaultSensorRecovery)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// IdentityPath returns the SQLite path, defaulting to <db>/identity/identity.db.
func (c *Config) IdentityPath() string {
	if c.Identity.Path != "" {
		return c.Identity.Path
	}
	return filepath.Join(c.Server.DBPath, "identity", "identity.db")
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHARHUB_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
