package ml

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/franckalain/nutriscan/internal/imgenc"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig holds configuration for the Gemini Developer API model
type GeminiConfig struct {
	BaseConfig
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url"`

	HTTPClient *http.Client `json:"-"`
}

// Load loads the Gemini configuration
func (c *GeminiConfig) Load() error {
	if err := c.LoadConfig(c.ConfigPath, "gemini", c); err != nil {
		return err
	}

	// Fall back to environment variables if not set
	if c.APIKey == "" {
		c.APIKey = firstEnv("GEMINI_API_KEY", "API_KEY")
	}
	if c.Model == "" {
		c.Model = defaultGeminiModel
	}

	if c.APIKey == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingCredential)
	}
	return nil
}

// GeminiModel implements the Model interface for the Gemini Developer API
type GeminiModel struct {
	config GeminiConfig
	client *genai.Client
}

// GeminiModelFactory implements ModelFactory for Gemini models
type GeminiModelFactory struct {
	config GeminiConfig
}

// NewGeminiModelFactory creates a new Gemini model factory
func NewGeminiModelFactory(config GeminiConfig) *GeminiModelFactory {
	return &GeminiModelFactory{config: config}
}

// CreateModel creates a new Gemini model instance
func (f *GeminiModelFactory) CreateModel() (Model, error) {
	if f.config.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key", ErrMissingCredential)
	}
	return &GeminiModel{
		config: f.config,
	}, nil
}

// Load initializes the Gemini client
func (m *GeminiModel) Load(ctx context.Context) error {
	cc := &genai.ClientConfig{
		APIKey:     m.config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: m.config.HTTPClient,
	}
	if m.config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: m.config.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	return nil
}

// GenerateJSON sends the image and prompt in one generateContent call
func (m *GeminiModel) GenerateJSON(ctx context.Context, img *imgenc.EncodedImage, prompt string, schema *ResponseSchema) (string, error) {
	if m.client == nil {
		return "", fmt.Errorf("model not loaded")
	}

	imageData, err := img.Decode()
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: imageData}},
			{Text: prompt},
		},
	}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenaiSchema(schema),
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.config.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return geminiText(resp)
}

// Close is a no-op; the genai client holds no resources that need releasing
func (m *GeminiModel) Close() error {
	return nil
}

// geminiText extracts the reply text of the first candidate
func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w: prompt blocked (%s)", ErrTransport, resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("%w: no response generated", ErrTransport)
	}

	candidate := resp.Candidates[0]
	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
	}

	if sb.Len() == 0 {
		switch candidate.FinishReason {
		case "", genai.FinishReasonUnspecified, genai.FinishReasonStop:
		default:
			return "", fmt.Errorf("%w: generation stopped (FinishReason: %s)", ErrTransport, candidate.FinishReason)
		}
		return "", fmt.Errorf("%w: no content in response", ErrTransport)
	}
	return sb.String(), nil
}

func toGenaiSchema(s *ResponseSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	props := make(map[string]*genai.Schema, len(s.Fields))
	for _, f := range s.Fields {
		props[f.Name] = &genai.Schema{
			Type:        genaiType(f.Type),
			Description: f.Description,
		}
	}
	return &genai.Schema{
		Type:             genai.TypeObject,
		Properties:       props,
		Required:         s.Required,
		PropertyOrdering: s.FieldNames(),
	}
}

func genaiType(t FieldType) genai.Type {
	switch t {
	case FieldNumber:
		return genai.TypeNumber
	default:
		return genai.TypeString
	}
}
