package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/iotaledger/product-core-sub000/internal/rolemap"
)

// Stream serves the role map events of the counter named by ?target as Server-Sent Events.
// The bearer capability must hold events.read on that counter. The stream ends once that
// capability is revoked or destroyed.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	target := strings.TrimSpace(r.URL.Query().Get("target"))
	if target == "" {
		writeErrorReason(w, r, http.StatusBadRequest, "target is required", "invalid_input")
		return
	}
	_, presented, ok := a.authorizeEvents(w, r, target)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx, target)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: " + string(event.Kind) + "\n"))
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
		if event.CapabilityID == presented.ID() && endsCapability(event.Kind) {
			return
		}
	}
}

func endsCapability(kind rolemap.EventKind) bool {
	switch kind {
	case rolemap.EventCapabilityRevoked,
		rolemap.EventCapabilityDestroyed,
		rolemap.EventInitialAdminCapabilityRevoked,
		rolemap.EventInitialAdminCapabilityDestroyed:
		return true
	}
	return false
}
