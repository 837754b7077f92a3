package kernel

import (
	"fmt"
	"net/http"
	"os"

	"github.com/manthysbr/auleStudio/internal/core/domain"
	"github.com/manthysbr/auleStudio/internal/core/services"
)

type batchDetail struct {
	Batch domain.Batch `json:"batch"`
	Jobs  []domain.Job `json:"jobs"`
}

func (s *Server) handleStartStudio(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req services.StudioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	b, err := s.studio.StartImageStudio(r.Context(), domain.SessionID(id), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

func (s *Server) handleStartStoryboard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req services.StoryboardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	b, err := s.studio.StartStoryboard(r.Context(), domain.SessionID(id), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

func (s *Server) handleStartVoiceover(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req services.VoiceoverRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	b, err := s.studio.StartVoiceover(r.Context(), domain.SessionID(id), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	detail, err := s.batchDetail(r, domain.BatchID(id))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) batchDetail(r *http.Request, id domain.BatchID) (batchDetail, error) {
	b, err := s.repo.GetBatch(r.Context(), id)
	if err != nil {
		return batchDetail{}, err
	}
	jobs, err := s.repo.ListBatchJobs(r.Context(), id)
	if err != nil {
		return batchDetail{}, fmt.Errorf("failed to list jobs: %w", err)
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	return batchDetail{Batch: b, Jobs: jobs}, nil
}

func (s *Server) handleResumeBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.studio.Resume(r.Context(), domain.BatchID(id))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

// handleDownloadBatch streams every asset of the batch as one zip archive.
func (s *Server) handleDownloadBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	batchID := domain.BatchID(id)
	if _, err := s.repo.GetBatch(r.Context(), batchID); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "batch-"+id+".zip"))
	if err := s.studio.Bundle(r.Context(), batchID, w); err != nil {
		// Headers are gone by now; the client sees a truncated archive.
		s.logger.Error("bundle failed", "batch_id", batchID, "error", err)
	}
}

func (s *Server) handleRegenerateJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.studio.Regenerate(r.Context(), domain.JobID(id))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := s.repo.GetAsset(r.Context(), domain.AssetID(id))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	f, err := os.Open(asset.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, domain.ErrAssetNotFound.Error())
			return
		}
		s.fail(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", asset.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", asset.Filename))
	http.ServeContent(w, r, asset.Filename, info.ModTime(), f)
}
