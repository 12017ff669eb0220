package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
)

// holds parsed command-line flag values and which were set
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// holds the results of applying environment overrides
type EnvResult struct {
	BackendKeys map[string]struct{}
	SigningKeys map[string]struct{}
	EnvUsed     bool
}

// holds the result of LoadEffectiveConfig
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "+"-joined list of "config", "env", "flags", or "defaults"
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	return ParseConfigFlagSet(flag.CommandLine, os.Args[1:])
}

// ParseConfigFlagSet parses args on fs. Split out so tests can use a private FlagSet.
func ParseConfigFlagSet(fs *flag.FlagSet, args []string) Flags {
	addrPtr := fs.String("addr", ":8080", "HTTP listen address")
	dbPtr := fs.String("db", "./.database", "data directory (pebble store, identity db, state)")
	cfgPtr := fs.String("config", "./config.yaml", "Path to config file")
	_ = fs.Parse(args)

	// record which flags were set explicitly
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile loads config from file, returns config, found bool, and error.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs applies CHARHUB_* environment variables onto cfg.
func ParseConfigEnvs(cfg *Config) EnvResult {
	return ApplyEnvOverrides(cfg, os.Getenv)
}

// ApplyEnvOverrides applies environment values read through getenv onto cfg. Empty values are ignored.
func ApplyEnvOverrides(cfg *Config, getenv func(string) string) EnvResult {
	keys := []string{
		"SERVER_ADDR", "SERVER_ADDRESS", "SERVER_PORT", "DB_PATH",
		"CORS_ORIGINS", "RATE_RPS", "RATE_BURST", "IP_WHITELIST",
		"API_BACKEND_KEYS", "API_FRONTEND_KEYS", "API_ADMIN_KEYS",
		"TLS_CERT", "TLS_KEY",

		"STORAGE_BACKEND", "MONGO_URI", "MONGO_DATABASE", "MONGO_COLLECTION", "MONGO_CHANGE_STREAMS",

		"IDENTITY_PATH", "IDENTITY_SESSION_TTL", "IDENTITY_BCRYPT_COST", "IDENTITY_MIN_PASSWORD_LENGTH",

		"LLM_PROVIDER", "LLM_API_KEY", "LLM_MODEL", "LLM_TIMEOUT",
		"PHOTO_MAX_BYTES", "PHOTO_MAX_PIXELS", "PHOTO_JPEG_QUALITY",

		"QUEUE_CAPACITY", "QUEUE_WORKERS", "QUEUE_WRITE_TIMEOUT", "QUEUE_DURABLE",
		"WORKSPACE_IDLE_TTL",

		"RETENTION_ENABLED", "RETENTION_CRON", "RETENTION_PERIOD", "RETENTION_DRY_RUN", "RETENTION_LOCK_TTL",

		"TELEMETRY_SAMPLE_RATE", "TELEMETRY_SLOW_THRESHOLD",

		"LOG_LEVEL",
	}
	envs := make(map[string]string, len(keys))
	envUsed := false
	for _, k := range keys {
		v := strings.TrimSpace(getenv("CHARHUB_" + k))
		envs[k] = v
		if v != "" {
			envUsed = true
		}
	}
	// the hosted model key is commonly exported under its vendor name
	if envs["LLM_API_KEY"] == "" {
		if v := strings.TrimSpace(getenv("GEMINI_API_KEY")); v != "" {
			envs["LLM_API_KEY"] = v
			envUsed = true
		}
	}

	// parse helpers
	parseList := func(v string) []string {
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	parseBool := func(v string) bool {
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			return true
		default:
			return false
		}
	}
	setInt := func(dst *int, v string) {
		if v == "" {
			return
		}
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
	setDuration := func(dst *Duration, v string) {
		if v == "" {
			return
		}
		if d, err := parseDurationValue(v); err == nil {
			*dst = d
		}
	}
	setSize := func(dst *SizeBytes, v string) {
		if v == "" {
			return
		}
		if s, err := parseSize(v); err == nil {
			*dst = s
		}
	}
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	if v := envs["SERVER_ADDR"]; v != "" {
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			setInt(&cfg.Server.Port, p)
		} else {
			cfg.Server.Address = v
		}
	} else {
		setString(&cfg.Server.Address, envs["SERVER_ADDRESS"])
		setInt(&cfg.Server.Port, envs["SERVER_PORT"])
	}
	setString(&cfg.Server.DBPath, envs["DB_PATH"])
	setString(&cfg.Server.TLS.CertFile, envs["TLS_CERT"])
	setString(&cfg.Server.TLS.KeyFile, envs["TLS_KEY"])

	if v := envs["CORS_ORIGINS"]; v != "" {
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := envs["RATE_RPS"]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Security.RateLimit.RPS = f
		}
	}
	setInt(&cfg.Security.RateLimit.Burst, envs["RATE_BURST"])
	if v := envs["IP_WHITELIST"]; v != "" {
		cfg.Security.IPWhitelist = parseList(v)
	}
	if v := envs["API_BACKEND_KEYS"]; v != "" {
		cfg.Security.APIKeys.Backend = parseList(v)
	}
	if v := envs["API_FRONTEND_KEYS"]; v != "" {
		cfg.Security.APIKeys.Frontend = parseList(v)
	}
	if v := envs["API_ADMIN_KEYS"]; v != "" {
		cfg.Security.APIKeys.Admin = parseList(v)
	}

	if v := envs["STORAGE_BACKEND"]; v != "" {
		cfg.Storage.Backend = strings.ToLower(v)
	}
	setString(&cfg.Storage.Mongo.URI, envs["MONGO_URI"])
	setString(&cfg.Storage.Mongo.Database, envs["MONGO_DATABASE"])
	setString(&cfg.Storage.Mongo.Collection, envs["MONGO_COLLECTION"])
	if v := envs["MONGO_CHANGE_STREAMS"]; v != "" {
		cfg.Storage.Mongo.ChangeStreams = parseBool(v)
	}

	setString(&cfg.Identity.Path, envs["IDENTITY_PATH"])
	setDuration(&cfg.Identity.SessionTTL, envs["IDENTITY_SESSION_TTL"])
	setInt(&cfg.Identity.BcryptCost, envs["IDENTITY_BCRYPT_COST"])
	setInt(&cfg.Identity.MinPasswordLength, envs["IDENTITY_MIN_PASSWORD_LENGTH"])

	if v := envs["LLM_PROVIDER"]; v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	setString(&cfg.LLM.APIKey, envs["LLM_API_KEY"])
	setString(&cfg.LLM.Model, envs["LLM_MODEL"])
	setDuration(&cfg.LLM.Timeout, envs["LLM_TIMEOUT"])
	setSize(&cfg.Photo.MaxBytes, envs["PHOTO_MAX_BYTES"])
	setInt(&cfg.Photo.MaxPixels, envs["PHOTO_MAX_PIXELS"])
	setInt(&cfg.Photo.JPEGQuality, envs["PHOTO_JPEG_QUALITY"])

	setInt(&cfg.Ingest.Queue.Capacity, envs["QUEUE_CAPACITY"])
	setInt(&cfg.Ingest.Queue.Workers, envs["QUEUE_WORKERS"])
	setDuration(&cfg.Ingest.Queue.WriteTimeout, envs["QUEUE_WRITE_TIMEOUT"])
	if v := envs["QUEUE_DURABLE"]; v != "" {
		cfg.Ingest.Queue.Durable = parseBool(v)
	}
	setDuration(&cfg.Workspace.IdleTTL, envs["WORKSPACE_IDLE_TTL"])

	if v := envs["RETENTION_ENABLED"]; v != "" {
		cfg.Retention.Enabled = parseBool(v)
	}
	setString(&cfg.Retention.Cron, envs["RETENTION_CRON"])
	setString(&cfg.Retention.Period, envs["RETENTION_PERIOD"])
	if v := envs["RETENTION_DRY_RUN"]; v != "" {
		cfg.Retention.DryRun = parseBool(v)
	}
	setDuration(&cfg.Retention.LockTTL, envs["RETENTION_LOCK_TTL"])

	if v := envs["TELEMETRY_SAMPLE_RATE"]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Telemetry.SampleRate = f
		}
	}
	setDuration(&cfg.Telemetry.SlowThreshold, envs["TELEMETRY_SLOW_THRESHOLD"])

	if v := envs["LOG_LEVEL"]; v != "" {
		cfg.Logging.Level = v
	}

	backendKeys := make(map[string]struct{})
	for _, k := range cfg.Security.APIKeys.Backend {
		backendKeys[k] = struct{}{}
	}
	signingKeys := make(map[string]struct{})
	for k := range backendKeys {
		signingKeys[k] = struct{}{}
	}
	return EnvResult{BackendKeys: backendKeys, SigningKeys: signingKeys, EnvUsed: envUsed}
}

// LoadEffectiveConfig layers the config file, environment and flags (later wins) and applies defaults.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envRes EnvResult) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	if flags.Set["config"] && !fileExists {
		return res, fmt.Errorf("config file %s not found", flags.Config)
	}
	cfg := fileCfg
	if cfg == nil {
		cfg = &Config{}
	}

	var sources []string
	if fileExists {
		sources = append(sources, "config")
	}
	if envRes.EnvUsed {
		sources = append(sources, "env")
	}
	if flags.Set["addr"] {
		host, _, err := net.SplitHostPort(flags.Addr)
		if err != nil {
			return res, fmt.Errorf("invalid --addr %q: %w", flags.Addr, err)
		}
		cfg.Server.Address = host
		cfg.Server.Port = parsePortFromAddr(flags.Addr)
	}
	if flags.Set["db"] || strings.TrimSpace(cfg.Server.DBPath) == "" {
		cfg.Server.DBPath = flags.DB
	}
	if flags.Set["addr"] || flags.Set["db"] {
		sources = append(sources, "flags")
	}
	if len(sources) == 0 {
		sources = append(sources, "defaults")
	}

	cfg.ApplyDefaults()
	res.Config = cfg
	res.Addr = cfg.Addr()
	res.DBPath = cfg.Server.DBPath
	res.Source = strings.Join(sources, "+")
	return res, nil
}

// extracts port integer from host:port string
func parsePortFromAddr(a string) int {
	if a == "" {
		return 0
	}
	if _, p, err := net.SplitHostPort(a); err == nil {
		if pi, err := strconv.Atoi(p); err == nil {
			return pi
		}
	}
	return 0
}
