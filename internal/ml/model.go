package ml

import (
	"context"
	"fmt"

	"github.com/franckalain/nutriscan/internal/imgenc"
)

// Model represents a remote multimodal model that answers a prompt about an
// image with JSON constrained to a response schema
type Model interface {
	// Load initializes the model client with its configuration
	Load(ctx context.Context) error
	// GenerateJSON sends one request and returns the raw reply text
	GenerateJSON(ctx context.Context, img *imgenc.EncodedImage, prompt string, schema *ResponseSchema) (string, error)
	// Close releases the client
	Close() error
}

// ModelFactory creates a new model instance based on configuration
type ModelFactory interface {
	// CreateModel creates a new model instance
	CreateModel() (Model, error)
}

// NewModel creates a model for the given backend type. configPath points to
// an optional backend config file; environment variables fill the gaps.
// A backend without its credential fails here, before any request is made.
func NewModel(modelType, configPath string) (Model, error) {
	var factory ModelFactory

	switch modelType {
	case "gemini", "":
		config := GeminiConfig{
			BaseConfig: BaseConfig{
				ConfigPath: configPath,
			},
		}
		if err := config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load Gemini config: %w", err)
		}
		factory = NewGeminiModelFactory(config)
	case "vertex", "google":
		config := GoogleConfig{
			BaseConfig: BaseConfig{
				ConfigPath: configPath,
			},
		}
		if err := config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load Vertex AI config: %w", err)
		}
		factory = NewGoogleModelFactory(config)
	default:
		return nil, fmt.Errorf("unsupported model type: %s", modelType)
	}
	return factory.CreateModel()
}
