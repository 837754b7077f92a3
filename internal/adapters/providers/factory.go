package providers

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/manthysbr/auleStudio/internal/adapters/mediagen"
	"github.com/manthysbr/auleStudio/internal/core/domain"
)

// Build creates the media provider from app configuration.
// It hides remote/mock provider selection from callers.
func Build(config *domain.AppConfig) (domain.MediaProvider, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}

	media := config.Providers.Media
	mode := strings.ToLower(strings.TrimSpace(media.Mode))
	switch mode {
	case "", "mock":
		return mediagen.NewMockProvider(mockLatency()), nil
	case "remote":
		if strings.TrimSpace(media.URL) == "" {
			return nil, fmt.Errorf("media url is required when mode=remote")
		}
		return mediagen.NewOpenAIProvider(
			strings.TrimSpace(media.URL),
			strings.TrimSpace(media.APIKey),
			mediagen.OpenAIOptions{
				ImageModel:  strings.TrimSpace(media.ImageModel),
				VideoModel:  strings.TrimSpace(media.VideoModel),
				SpeechModel: strings.TrimSpace(media.SpeechModel),
			},
		), nil
	default:
		return nil, fmt.Errorf("unsupported media provider mode: %s", media.Mode)
	}
}

func mockLatency() time.Duration {
	if v := strings.TrimSpace(os.Getenv("AULE_MOCK_LATENCY")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 300 * time.Millisecond
}
