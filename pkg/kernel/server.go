package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/manthysbr/auleStudio/internal/batch"
	"github.com/manthysbr/auleStudio/internal/config"
	"github.com/manthysbr/auleStudio/internal/core/domain"
	"github.com/manthysbr/auleStudio/internal/core/ports"
	"github.com/manthysbr/auleStudio/internal/core/services"
)

// maxBodyBytes caps request bodies; uploads are the largest.
const maxBodyBytes = 20 << 20

// Server exposes the studio over HTTP.
type Server struct {
	logger    *slog.Logger
	studio    *services.Studio
	sessions  ports.SessionStore
	repo      ports.Repository
	workspace *services.WorkspaceManager
	eventBus  *services.EventBus
	settings  *config.SettingsStore
	validator *requestValidator
}

func NewServer(
	ctx context.Context,
	logger *slog.Logger,
	studio *services.Studio,
	sessions ports.SessionStore,
	repo ports.Repository,
	workspace *services.WorkspaceManager,
	eventBus *services.EventBus,
	settings *config.SettingsStore,
) (*Server, error) {
	validator, err := newRequestValidator(ctx)
	if err != nil {
		return nil, err
	}
	return &Server{
		logger:    logger,
		studio:    studio,
		sessions:  sessions,
		repo:      repo,
		workspace: workspace,
		eventBus:  eventBus,
		settings:  settings,
		validator: validator,
	}, nil
}

// Handler returns the HTTP handler with every route registered behind
// request validation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PUT /v1/sessions/{id}", s.handleUpdateSession)
	mux.HandleFunc("POST /v1/sessions/{id}/uploads/{slot}", s.handleUpload)

	mux.HandleFunc("POST /v1/sessions/{id}/studio", s.handleStartStudio)
	mux.HandleFunc("POST /v1/sessions/{id}/storyboard", s.handleStartStoryboard)
	mux.HandleFunc("POST /v1/sessions/{id}/voiceover", s.handleStartVoiceover)

	mux.HandleFunc("GET /v1/batches/{id}", s.handleGetBatch)
	mux.HandleFunc("GET /v1/batches/{id}/events", s.handleBatchSSE)
	mux.HandleFunc("POST /v1/batches/{id}/resume", s.handleResumeBatch)
	mux.HandleFunc("GET /v1/batches/{id}/download", s.handleDownloadBatch)

	mux.HandleFunc("POST /v1/jobs/{id}/regenerate", s.handleRegenerateJob)
	mux.HandleFunc("GET /v1/assets/{id}", s.handleGetAsset)

	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handleUpdateSettings)

	return s.limitBody(s.validator.Middleware(mux))
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pathID binds the {id} path parameter.
func pathID(r *http.Request) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", r.PathValue("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	return id, err
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps a service error onto an HTTP status and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func errorStatus(err error) int {
	var validation *config.ValidationError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrBatchNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrAssetNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, batch.ErrConfiguration),
		errors.Is(err, domain.ErrMissingUpload),
		errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, domain.ErrInvalidSlot),
		errors.As(err, &validation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
