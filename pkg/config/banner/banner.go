package banner

import (
	"fmt"
	"io"
	"os"
	"strings"

	"charhub/pkg/config"
)

const banner = `
  ____ _   _    _    ____  _   _ _   _ ____
 / ___| | | |  / \  |  _ \| | | | | | | __ )
| |   | |_| | / _ \ | |_) | |_| | | | |  _ \
| |___|  _  |/ ___ \|  _ <|  _  | |_| | |_) |
 \____|_| |_/_/   \_\_| \_\_| |_|\___/|____/
`

// Print writes the startup banner and a production readiness summary to stdout.
func Print(eff config.EffectiveConfigResult, version string) {
	Fprint(os.Stdout, eff, version)
}

// Fprint writes the banner to w.
func Fprint(w io.Writer, eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	src := eff.Source
	if src == "" {
		src = "defaults"
	}

	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s\n", addr)
	fmt.Fprintf(w, "DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config:   %s\n", src)

	cfg := eff.Config
	if cfg == nil {
		return
	}

	fmt.Fprintln(w, "\n== Production? =================================================")
	keyLine := func(label string, n int, missing string) {
		if n > 0 {
			fmt.Fprintf(w, "- %s API keys: OK (%d)\n", label, n)
		} else {
			fmt.Fprintf(w, "- %s API keys: MISSING (%s)\n", label, missing)
		}
	}
	keyLine("Frontend", len(cfg.Security.APIKeys.Frontend), "required for the web client")
	keyLine("Backend", len(cfg.Security.APIKeys.Backend), "required for signed server callers")
	keyLine("Admin", len(cfg.Security.APIKeys.Admin), "required for admin tooling")

	switch cfg.Storage.Backend {
	case "mongo":
		fmt.Fprintf(w, "- Storage: mongo (%s/%s, change streams: %t)\n", cfg.Storage.Mongo.Database, cfg.Storage.Mongo.Collection, cfg.Storage.Mongo.ChangeStreams)
	case "memory":
		fmt.Fprintln(w, "- Storage: memory (NOT DURABLE)")
	default:
		fmt.Fprintln(w, "- Storage: pebble (embedded)")
	}

	if strings.TrimSpace(cfg.LLM.APIKey) != "" {
		fmt.Fprintf(w, "- LLM: %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	} else {
		fmt.Fprintln(w, "- LLM: MISSING API KEY (set CHARHUB_LLM_API_KEY or GEMINI_API_KEY)")
	}
	fmt.Fprintf(w, "- Photo limit: %s\n", cfg.Photo.MaxBytes)

	if cfg.Retention.Enabled {
		fmt.Fprintf(w, "- Retention: enabled (cron=%s, period=%s)\n", cfg.Retention.Cron, cfg.Retention.Period)
	} else {
		fmt.Fprintln(w, "- Retention: disabled")
	}
	fmt.Fprintln(w)
}
