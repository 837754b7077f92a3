package mediagen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/manthysbr/auleStudio/internal/core/domain"
)

type videoJob struct {
	ID       string `json:"id"`
	Status   string `json:"status"` // queued, in_progress, completed, failed; anything else is terminal
	Progress int    `json:"progress"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateVideo starts a clip and polls until the backend finishes it. Video
// generation takes minutes, so the HTTP client timeout applies per request
// and the overall wait is bounded by ctx only.
func (p *OpenAIProvider) GenerateVideo(ctx context.Context, req domain.VideoRequest) (domain.GeneratedMedia, error) {
	fields := map[string]string{
		"model":  p.videoModel,
		"prompt": req.Prompt,
	}
	if req.Seconds > 0 {
		fields["seconds"] = strconv.Itoa(req.Seconds)
	}
	var files []domain.MediaFile
	if req.Seed != nil {
		files = append(files, *req.Seed)
	}

	httpReq, err := p.newMultipartRequest(ctx, "/videos", fields, "input_reference", files)
	if err != nil {
		return domain.GeneratedMedia{}, err
	}

	job, err := p.videoStatus(httpReq)
	if err != nil {
		return domain.GeneratedMedia{}, err
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		switch job.Status {
		case "completed":
			return p.download(ctx, fmt.Sprintf("%s/videos/%s/content", p.baseURL, job.ID), "video/mp4")
		case "failed":
			msg := "unknown error"
			if job.Error != nil && job.Error.Message != "" {
				msg = job.Error.Message
			}
			return domain.GeneratedMedia{}, fmt.Errorf("video %s failed: %s", job.ID, msg)
		case "queued", "in_progress":
		default:
			return domain.GeneratedMedia{}, fmt.Errorf("video %s ended with status %q", job.ID, job.Status)
		}

		select {
		case <-ctx.Done():
			return domain.GeneratedMedia{}, ctx.Err()
		case <-ticker.C:
		}

		pollReq, err := p.newJSONRequest(ctx, http.MethodGet, "/videos/"+job.ID, nil)
		if err != nil {
			return domain.GeneratedMedia{}, err
		}
		job, err = p.videoStatus(pollReq)
		if err != nil {
			return domain.GeneratedMedia{}, err
		}
	}
}

func (p *OpenAIProvider) videoStatus(req *http.Request) (videoJob, error) {
	resp, err := p.do(req)
	if err != nil {
		return videoJob{}, err
	}
	defer resp.Body.Close()

	var job videoJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return videoJob{}, fmt.Errorf("failed to decode video API response: %w", err)
	}
	if job.ID == "" {
		return videoJob{}, fmt.Errorf("video API returned no job id")
	}
	return job, nil
}
