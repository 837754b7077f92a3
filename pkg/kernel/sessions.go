package kernel

import (
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/manthysbr/auleStudio/internal/core/domain"
)

type sessionUpdate struct {
	Mode  *domain.Mode `json:"mode,omitempty"`
	Voice *string      `json:"voice,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("session created", "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.sessions.Get(r.Context(), domain.SessionID(id))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body sessionUpdate
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, err := s.sessions.Update(r.Context(), domain.SessionID(id), func(sess domain.Session) (domain.Session, error) {
		now := time.Now()
		if body.Mode != nil {
			var err error
			if sess, err = sess.WithMode(*body.Mode, now); err != nil {
				return sess, err
			}
		}
		if body.Voice != nil {
			sess = sess.WithVoice(*body.Voice, now)
		}
		return sess, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleUpload stores a raw image body in the session's product or model slot.
// A new upload replaces the previous file of that slot.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var slot string
	if err := runtime.BindStyledParameterWithOptions("simple", "slot", r.PathValue("slot"), &slot,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := domain.SessionID(id)
	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		s.fail(w, r, err)
		return
	}

	mimeType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid content type")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty upload")
		return
	}

	upload, err := s.workspace.SaveUpload(sessionID, domain.UploadSlot(slot), mimeType, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.sessions.Update(r.Context(), sessionID, func(sess domain.Session) (domain.Session, error) {
		return sess.WithUpload(upload, time.Now())
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("upload stored", "session_id", sessionID, "slot", slot, "bytes", len(data))
	writeJSON(w, http.StatusOK, sess)
}
