package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// ValidateConfig fails fast on settings the server cannot start with.
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	// DB path must be present
	if p := eff.DBPath; p == "" {
		return fmt.Errorf("database path is empty: set --db flag, CHARHUB_DB_PATH env, or server.db_path in config")
	}

	// TLS cert/key presence check if one is set
	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	switch cfg.Storage.Backend {
	case "pebble", "memory":
	case "mongo":
		if strings.TrimSpace(cfg.Storage.Mongo.URI) == "" {
			return fmt.Errorf("storage.backend is mongo but storage.mongo.uri is empty")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q: want pebble, mongo or memory", cfg.Storage.Backend)
	}

	if cfg.LLM.Provider != "gemini" {
		return fmt.Errorf("unknown llm.provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.MinBiographyChars < 1 {
		return fmt.Errorf("llm.min_biography_chars must be positive")
	}

	if cfg.Photo.JPEGQuality < 1 || cfg.Photo.JPEGQuality > 100 {
		return fmt.Errorf("photo.jpeg_quality must be within 1..100, got %d", cfg.Photo.JPEGQuality)
	}
	if cfg.Photo.MaxBytes.Int64() <= 0 {
		return fmt.Errorf("photo.max_bytes must be positive")
	}
	if cfg.Photo.MaxPixels <= 0 {
		return fmt.Errorf("photo.max_pixels must be positive")
	}
	if cfg.Photo.MaxBytes.Int64() > cfg.Server.MaxRequestBody.Int64() {
		return fmt.Errorf("photo.max_bytes (%s) exceeds server.max_request_body (%s)", cfg.Photo.MaxBytes, cfg.Server.MaxRequestBody)
	}

	if cfg.Identity.BcryptCost < 4 || cfg.Identity.BcryptCost > 31 {
		return fmt.Errorf("identity.bcrypt_cost must be within 4..31, got %d", cfg.Identity.BcryptCost)
	}

	if cfg.Server.StreamMaxDuration.Duration() >= cfg.Server.WriteTimeout.Duration() {
		return fmt.Errorf("server.stream_max_duration must be shorter than server.write_timeout")
	}

	if s := cfg.Sensor; s.DiskLowPct > s.DiskHighPct {
		return fmt.Errorf("sensor.disk_low_pct (%d) must not exceed sensor.disk_high_pct (%d)", s.DiskLowPct, s.DiskHighPct)
	}

	// Retention validation: if retention is enabled, validate period and cron syntax.
	ret := cfg.Retention
	if ret.Enabled {
		gron := gronx.New()
		if !gron.IsValid(ret.Cron) {
			return fmt.Errorf("invalid retention.cron: not a valid cron expression")
		}
		if _, err := ParseRetentionPeriod(ret.Period); err != nil {
			return fmt.Errorf("invalid retention.period: %w", err)
		}
	}

	return nil
}

// ParseRetentionPeriod parses "30d", "12h" and other Go durations. Empty means 30 days.
func ParseRetentionPeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 30 * 24 * time.Hour, nil
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid days retention: %w", err)
		}
		if n < 0 {
			return 0, fmt.Errorf("negative retention period")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative retention period")
	}
	return d, nil
}
