package app

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"charhub/pkg/api"
	"charhub/pkg/config/banner"
	"charhub/pkg/logger"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.eff, verStr)
}

// Handler is the full request pipeline: gateway, then the route table.
func (a *App) Handler() fasthttp.RequestHandler {
	return api.Handler(api.Deps{
		Workspaces:        a.workspaces,
		Identity:          a.identity,
		Store:             a.store,
		Queue:             a.queue,
		Bus:               a.bus,
		Retention:         a.retention,
		Sensor:            a.sensor,
		StreamMaxDuration: a.eff.Config.Server.StreamMaxDuration.Duration(),
		Started:           a.started,
		Version:           a.version,
	}, a.gateway)
}

// startHTTP builds and starts the fasthttp server, returning a channel that delivers errors.
func (a *App) startHTTP(_ context.Context) <-chan error {
	cfg := a.eff.Config

	const (
		readBufferSize       = 64 * 1024        // 64 KiB read buffer per connection
		idleTimeout          = 30 * time.Second // max keep-alive idle duration per connection
		maxKeepaliveDuration = 2 * time.Minute  // max duration for keep-alive connection
	)
	a.srvFast = &fasthttp.Server{
		Name:                 "charhub",
		Handler:              a.Handler(),
		ReadBufferSize:       readBufferSize,
		MaxRequestBodySize:   int(cfg.Server.MaxRequestBody.Int64()),
		ReduceMemoryUsage:    true,
		ReadTimeout:          cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:         cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:          idleTimeout,
		MaxKeepaliveDuration: maxKeepaliveDuration,
	}

	errCh := make(chan error, 1)
	addr := a.eff.Addr
	if addr == "" {
		addr = cfg.Addr()
	}
	go func() {
		tls := cfg.Server.TLS
		logger.Info("http_listening", "addr", addr, "tls", tls.CertFile != "")
		if tls.CertFile != "" {
			errCh <- a.srvFast.ListenAndServeTLS(addr, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.srvFast.ListenAndServe(addr)
	}()
	return errCh
}
