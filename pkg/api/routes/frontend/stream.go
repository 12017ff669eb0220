package frontend

import (
	"bufio"
	"encoding/json"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"charhub/pkg/api/router"
	"charhub/pkg/events"
	"charhub/pkg/logger"
)

const (
	defaultStreamMaxDuration = 50 * time.Second
	defaultKeepAlive         = 15 * time.Second
)

// Stream serves server-sent events: "state" after every change of the
// caller's state, then "permission_error" and "notification" from the bus.
// Anonymous callers only receive state.
func (h *Handlers) Stream(ctx *fasthttp.RequestCtx) {
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	watcher, err := ws.Watch(ctx)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	var (
		sub *events.Subscription
		evs <-chan events.Event
	)
	if ws.Authenticated() {
		bus := h.Bus
		if bus == nil {
			bus = events.Default
		}
		sub = bus.SubscribeUser(ws.User(), 0)
		evs = sub.C
	}
	maxDur := h.StreamMaxDuration
	if maxDur <= 0 {
		maxDur = defaultStreamMaxDuration
	}
	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	user := ws.User()

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer watcher.Close()
		if sub != nil {
			defer sub.Close()
		}
		deadline := time.NewTimer(maxDur)
		defer deadline.Stop()
		ping := time.NewTicker(keepAlive)
		defer ping.Stop()

		logger.Debug("stream_open", "user", user)
		for {
			var err error
			select {
			case st, ok := <-watcher.C:
				if !ok {
					return
				}
				err = writeFrame(w, "state", 0, st)
			case ev, ok := <-evs:
				if !ok {
					return
				}
				err = writeFrame(w, string(ev.Kind), ev.Seq, ev)
			case <-ping.C:
				if _, err = w.WriteString(": ping\n\n"); err == nil {
					err = w.Flush()
				}
			case <-deadline.C:
				return
			}
			if err != nil {
				logger.Debug("stream_closed", "user", user, "error", err)
				return
			}
		}
	})
}

// writeFrame writes one SSE frame and flushes it.
func writeFrame(w *bufio.Writer, event string, id uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = append(buf.B, "event: "...)
	buf.B = append(buf.B, event...)
	buf.B = append(buf.B, '\n')
	if id > 0 {
		buf.B = append(buf.B, "id: "...)
		buf.B = strconv.AppendUint(buf.B, id, 10)
		buf.B = append(buf.B, '\n')
	}
	buf.B = append(buf.B, "data: "...)
	buf.B = append(buf.B, data...)
	buf.B = append(buf.B, "\n\n"...)
	if _, err := w.Write(buf.B); err != nil {
		return err
	}
	return w.Flush()
}
