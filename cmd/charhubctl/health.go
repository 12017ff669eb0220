package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

var (
	healthAddr    string
	healthAdmin   string
	healthTimeout time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running server",
	Long: `Query /readyz, and /admin/health when an admin key is given. Exits
non-zero when the server is not ready.`,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().StringVar(&healthAddr, "addr", "http://127.0.0.1:8080", "server base URL")
	healthCmd.Flags().StringVar(&healthAdmin, "admin-key", "", "admin API key")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "request timeout")
}

func fetch(url, apiKey string) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(url)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if err := fasthttp.DoTimeout(req, resp, healthTimeout); err != nil {
		return 0, nil, err
	}
	return resp.StatusCode(), append([]byte(nil), resp.Body()...), nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	base := strings.TrimRight(healthAddr, "/")
	out := cmd.OutOrStdout()

	status, body, err := fetch(base+"/readyz", "")
	if err != nil {
		return fmt.Errorf("readyz: %w", err)
	}
	fmt.Fprintf(out, "readyz %d %s\n", status, body)
	if status != fasthttp.StatusOK {
		return fmt.Errorf("server not ready (%d)", status)
	}

	if healthAdmin != "" {
		status, body, err = fetch(base+"/admin/health", healthAdmin)
		if err != nil {
			return fmt.Errorf("admin health: %w", err)
		}
		fmt.Fprintf(out, "admin/health %d %s\n", status, body)
		if status != fasthttp.StatusOK {
			return fmt.Errorf("admin health failed (%d)", status)
		}
	}
	return nil
}
