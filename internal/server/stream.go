package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashita-ai/enso/internal/model"
)

// keepaliveInterval is how long the stream may sit silent before a
// comment line is written to hold the connection open.
const keepaliveInterval = 500 * time.Millisecond

// HandleRunStream handles POST /v1/programs/{name}/stream (SSE).
//
// The stream carries one `trace` event per execution event, keepalive
// comments during silence, and ends with a single `complete` event
// carrying the result. Resolution and admission failures are reported
// as plain JSON errors before the stream starts.
func (h *Handlers) HandleRunStream(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	inputs := map[string]any{}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &inputs, h.maxRequestBodyBytes); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, err.Error())
			return
		}
	}

	exec, err := h.engine.ExecuteStreaming(r.Context(), name, inputs)
	if err != nil {
		h.writeDispatchError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Enso-Request-ID", exec.RequestID.String())
	w.WriteHeader(http.StatusOK)

	// The controller unwraps the middleware writers down to the
	// transport. A transport that cannot flush cannot stream; the
	// execution already in flight completes and is traced as usual.
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return
	}

	// Disable the server's WriteTimeout for this long-lived connection.
	_ = rc.SetWriteDeadline(time.Time{})

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	events := exec.Events
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			_ = rc.Flush()
		case ev, open := <-events:
			if !open {
				// Execution finished; deliver the terminal event.
				result := <-exec.Result
				eventName := "complete"
				if !result.Success {
					eventName = "error"
				}
				writeSSE(w, eventName, result)
				_ = rc.Flush()
				return
			}
			if writeSSE(w, "trace", ev) != nil {
				return
			}
			_ = rc.Flush()
			keepalive.Reset(keepaliveInterval)
		}
	}
}

// writeSSE writes one named SSE event with a JSON payload.
func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + event + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
