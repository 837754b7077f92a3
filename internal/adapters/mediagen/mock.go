package mediagen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/manthysbr/auleStudio/internal/core/domain"
)

// MockProvider is an in-process backend producing small placeholder media.
// It lets the studio run end to end without credentials and is what tests
// drive. Latency and FailFunc simulate a slow or flaky backend.
type MockProvider struct {
	Latency time.Duration

	// FailFunc, when set, is consulted before every call; a non-nil error is
	// returned as the call's result. call counts from 1 per prompt/text.
	FailFunc func(kind domain.MediaKind, input string, call int) error

	mu    sync.Mutex
	calls map[string]int
}

func NewMockProvider(latency time.Duration) *MockProvider {
	return &MockProvider{Latency: latency, calls: map[string]int{}}
}

var _ domain.MediaProvider = (*MockProvider)(nil)

// Calls returns how many times input was requested for kind.
func (m *MockProvider) Calls(kind domain.MediaKind, input string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[string(kind)+"|"+input]
}

func (m *MockProvider) GenerateImage(ctx context.Context, req domain.ImageRequest) (domain.GeneratedMedia, error) {
	if err := m.simulate(ctx, domain.MediaKindImage, req.Prompt); err != nil {
		return domain.GeneratedMedia{}, err
	}
	data := append([]byte("\x89PNG\r\n\x1a\n"), []byte(fmt.Sprintf("image:%s:inputs=%d", req.Prompt, len(req.InputImages)))...)
	return domain.GeneratedMedia{Data: data, MimeType: "image/png"}, nil
}

func (m *MockProvider) GenerateVideo(ctx context.Context, req domain.VideoRequest) (domain.GeneratedMedia, error) {
	if err := m.simulate(ctx, domain.MediaKindVideo, req.Prompt); err != nil {
		return domain.GeneratedMedia{}, err
	}
	seeded := req.Seed != nil
	data := append([]byte("\x00\x00\x00\x18ftypmp42"), []byte(fmt.Sprintf("video:%s:seeded=%t", req.Prompt, seeded))...)
	return domain.GeneratedMedia{Data: data, MimeType: "video/mp4"}, nil
}

func (m *MockProvider) SynthesizeSpeech(ctx context.Context, req domain.SpeechRequest) (domain.GeneratedMedia, error) {
	if err := m.simulate(ctx, domain.MediaKindAudio, req.Text); err != nil {
		return domain.GeneratedMedia{}, err
	}
	data := append([]byte("ID3"), []byte(fmt.Sprintf("audio:%s:voice=%s", req.Text, req.Voice))...)
	return domain.GeneratedMedia{Data: data, MimeType: "audio/mpeg"}, nil
}

func (m *MockProvider) simulate(ctx context.Context, kind domain.MediaKind, input string) error {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	key := string(kind) + "|" + input
	m.calls[key]++
	call := m.calls[key]
	m.mu.Unlock()

	if m.Latency > 0 {
		t := time.NewTimer(m.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	if m.FailFunc != nil {
		return m.FailFunc(kind, input, call)
	}
	return nil
}
