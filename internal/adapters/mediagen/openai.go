package mediagen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/manthysbr/auleStudio/internal/core/domain"
)

// OpenAIProvider implements domain.MediaProvider against an OpenAI-compatible API.
// Endpoints used:
//
//	POST {baseURL}/images/generations   text to image
//	POST {baseURL}/images/edits         compose input images (multipart)
//	POST {baseURL}/videos               start a clip, then poll GET /videos/{id}
//	POST {baseURL}/audio/speech         text to speech
type OpenAIProvider struct {
	client       *http.Client
	baseURL      string
	apiKey       string
	imageModel   string
	videoModel   string
	speechModel  string
	pollInterval time.Duration
}

type OpenAIOptions struct {
	ImageModel   string
	VideoModel   string
	SpeechModel  string
	PollInterval time.Duration
	Client       *http.Client
}

func NewOpenAIProvider(baseURL, apiKey string, opts OpenAIOptions) *OpenAIProvider {
	p := &OpenAIProvider{
		client:       opts.Client,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		imageModel:   opts.ImageModel,
		videoModel:   opts.VideoModel,
		speechModel:  opts.SpeechModel,
		pollInterval: opts.PollInterval,
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 120 * time.Second}
	}
	if p.imageModel == "" {
		p.imageModel = "gpt-image-1"
	}
	if p.videoModel == "" {
		p.videoModel = "sora-2"
	}
	if p.speechModel == "" {
		p.speechModel = "gpt-4o-mini-tts"
	}
	if p.pollInterval <= 0 {
		p.pollInterval = 5 * time.Second
	}
	return p
}

var _ domain.MediaProvider = (*OpenAIProvider)(nil)

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (p *OpenAIProvider) GenerateImage(ctx context.Context, req domain.ImageRequest) (domain.GeneratedMedia, error) {
	size := req.Size
	if size == "" {
		size = "1024x1024"
	}

	var httpReq *http.Request
	var err error
	if len(req.InputImages) == 0 {
		payload := map[string]interface{}{
			"model":  p.imageModel,
			"prompt": req.Prompt,
			"size":   size,
		}
		httpReq, err = p.newJSONRequest(ctx, http.MethodPost, "/images/generations", payload)
	} else {
		fields := map[string]string{
			"model":  p.imageModel,
			"prompt": req.Prompt,
			"size":   size,
		}
		httpReq, err = p.newMultipartRequest(ctx, "/images/edits", fields, "image[]", req.InputImages)
	}
	if err != nil {
		return domain.GeneratedMedia{}, err
	}

	resp, err := p.do(httpReq)
	if err != nil {
		return domain.GeneratedMedia{}, err
	}
	defer resp.Body.Close()

	var result imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.GeneratedMedia{}, fmt.Errorf("failed to decode image API response: %w", err)
	}
	if len(result.Data) == 0 {
		return domain.GeneratedMedia{}, errors.New("image API returned no image")
	}

	item := result.Data[0]
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return domain.GeneratedMedia{}, fmt.Errorf("failed to decode image data: %w", err)
		}
		return domain.GeneratedMedia{Data: data, MimeType: http.DetectContentType(data)}, nil
	}
	if strings.TrimSpace(item.URL) == "" {
		return domain.GeneratedMedia{}, errors.New("image API returned no image URL")
	}
	return p.download(ctx, item.URL, "")
}

func (p *OpenAIProvider) SynthesizeSpeech(ctx context.Context, req domain.SpeechRequest) (domain.GeneratedMedia, error) {
	voice := req.Voice
	if voice == "" {
		voice = "alloy"
	}
	payload := map[string]interface{}{
		"model":           p.speechModel,
		"input":           req.Text,
		"voice":           voice,
		"response_format": "mp3",
	}

	httpReq, err := p.newJSONRequest(ctx, http.MethodPost, "/audio/speech", payload)
	if err != nil {
		return domain.GeneratedMedia{}, err
	}
	resp, err := p.do(httpReq)
	if err != nil {
		return domain.GeneratedMedia{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.GeneratedMedia{}, transient(0, fmt.Errorf("failed to read speech audio: %w", err))
	}
	if len(data) == 0 {
		return domain.GeneratedMedia{}, errors.New("speech API returned empty audio")
	}
	return domain.GeneratedMedia{Data: data, MimeType: "audio/mpeg"}, nil
}

func (p *OpenAIProvider) newJSONRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(payloadBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	p.authorize(req)
	return req, nil
}

func (p *OpenAIProvider) newMultipartRequest(ctx context.Context, path string, fields map[string]string, fileField string, files []domain.MediaFile) (*http.Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, f.Name))
		mimeType := f.MimeType
		if mimeType == "" {
			mimeType = http.DetectContentType(f.Data)
		}
		h.Set("Content-Type", mimeType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to create file part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write file part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	p.authorize(req)
	return req, nil
}

func (p *OpenAIProvider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// do sends req and returns the response when the status is 2xx. Failures the
// caller may retry are returned as *domain.TransientError.
func (p *OpenAIProvider) do(req *http.Request) (*http.Response, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, transient(0, fmt.Errorf("failed to call media API: %w", err))
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	err = fmt.Errorf("media API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if isTransientStatus(resp.StatusCode) {
		return nil, transient(resp.StatusCode, err)
	}
	return nil, err
}

// download fetches a result URL. Backends hand these out for finished media.
func (p *OpenAIProvider) download(ctx context.Context, url, mimeType string) (domain.GeneratedMedia, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.GeneratedMedia{}, fmt.Errorf("failed to create download request: %w", err)
	}
	if strings.HasPrefix(url, p.baseURL) {
		p.authorize(req)
	}
	resp, err := p.do(req)
	if err != nil {
		return domain.GeneratedMedia{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.GeneratedMedia{}, transient(0, fmt.Errorf("failed to read media: %w", err))
	}
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return domain.GeneratedMedia{Data: data, URL: url, MimeType: mimeType}, nil
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func transient(code int, err error) error {
	return &domain.TransientError{StatusCode: code, Err: err}
}
