package kernel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/manthysbr/auleStudio/internal/core/domain"
)

// handleBatchSSE streams progress events of one batch. Unless ?snapshot=false,
// the first event carries the batch and its jobs as they are now, so a client
// that connects late still starts from the full state.
func (s *Server) handleBatchSSE(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snapshot := true
	if err := runtime.BindQueryParameter("form", true, false, "snapshot", r.URL.Query(), &snapshot); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	batchID := domain.BatchID(id)
	if _, err := s.repo.GetBatch(r.Context(), batchID); err != nil {
		s.fail(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before reading the snapshot so nothing between the two is lost.
	ch, unsub := s.eventBus.Subscribe(id)
	defer unsub()

	var initial []byte
	if snapshot {
		detail, err := s.batchDetail(r, batchID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if initial, err = json.Marshal(detail); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if initial != nil {
		fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", initial)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}
