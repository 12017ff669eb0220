package app

import (
	"context"

	"charhub/pkg/logger"
	"charhub/pkg/state/shutdown"
	"charhub/pkg/telemetry"
)

// Shutdown stops intake first, drains queued writes, then closes the stores.
func (a *App) Shutdown(ctx context.Context) error {
	a.setState("shutting_down")
	steps := []shutdown.Step{
		{Name: "http", Fn: func(context.Context) error {
			if a.srvFast == nil {
				return nil
			}
			return a.srvFast.Shutdown()
		}},
		{Name: "gateway", Fn: func(context.Context) error { a.gateway.Close(); return nil }},
		{Name: "retention", Fn: func(context.Context) error { a.retention.Stop(); return nil }},
		{Name: "follow", Fn: func(context.Context) error {
			if a.followCancel != nil {
				a.followCancel()
			}
			return nil
		}},
		{Name: "sensor", Fn: func(context.Context) error { a.sensor.Stop(); return nil }},
		{Name: "workspaces", Fn: func(context.Context) error { a.workspaces.Close(); return nil }},
		// drains pending writes into the store
		{Name: "queue", Fn: func(context.Context) error { a.queue.Close(); return nil }},
		{Name: "journal", Fn: func(context.Context) error {
			if a.journal == nil {
				return nil
			}
			return a.journal.Close()
		}},
		{Name: "store", Fn: func(context.Context) error { return a.store.Close() }},
		{Name: "identity", Fn: func(context.Context) error { return a.identity.Close() }},
		{Name: "telemetry", Fn: func(context.Context) error { telemetry.Close(); return nil }},
	}
	err := shutdown.Run(ctx, steps)
	logger.Sync()
	if err == nil {
		a.setState("stopped")
	}
	return err
}
