package ml

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/franckalain/nutriscan/internal/imgenc"
	"google.golang.org/api/option"
)

// GoogleConfig holds configuration for the Vertex AI model
type GoogleConfig struct {
	BaseConfig
	ProjectID       string `json:"project_id"`
	Location        string `json:"location"`
	CredentialsFile string `json:"credentials_file"`
	Model           string `json:"model"`
}

// Load loads the Vertex AI configuration
func (c *GoogleConfig) Load() error {
	if err := c.LoadConfig(c.ConfigPath, "google", c); err != nil {
		return err
	}

	// Fall back to environment variables if not set
	if c.ProjectID == "" {
		c.ProjectID = firstEnv("GOOGLE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT")
	}
	if c.Location == "" {
		c.Location = "us-central1"
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = firstEnv("GOOGLE_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS")
	}
	if c.Model == "" {
		c.Model = defaultGeminiModel
	}

	if c.ProjectID == "" {
		return fmt.Errorf("%w: set GOOGLE_PROJECT_ID", ErrMissingCredential)
	}
	if c.CredentialsFile == "" {
		return fmt.Errorf("%w: set GOOGLE_CREDENTIALS_FILE", ErrMissingCredential)
	}
	return nil
}

// GoogleModel implements the Model interface for Google's Vertex AI
type GoogleModel struct {
	config GoogleConfig
	client *genai.Client
	model  *genai.GenerativeModel
}

// GoogleModelFactory implements ModelFactory for Google models
type GoogleModelFactory struct {
	config GoogleConfig
}

// NewGoogleModelFactory creates a new Google model factory
func NewGoogleModelFactory(config GoogleConfig) *GoogleModelFactory {
	return &GoogleModelFactory{config: config}
}

// CreateModel creates a new Google model instance
func (f *GoogleModelFactory) CreateModel() (Model, error) {
	return &GoogleModel{
		config: f.config,
	}, nil
}

// Load initializes the Google model
func (m *GoogleModel) Load(ctx context.Context) error {
	opts := []option.ClientOption{}

	if m.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(m.config.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, m.config.ProjectID, m.config.Location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	m.model = client.GenerativeModel(m.config.Model)
	m.model.ResponseMIMEType = "application/json"
	return nil
}

// GenerateJSON processes an image using Google's Vertex AI
func (m *GoogleModel) GenerateJSON(ctx context.Context, img *imgenc.EncodedImage, prompt string, schema *ResponseSchema) (string, error) {
	if m.model == nil {
		return "", fmt.Errorf("model not loaded")
	}

	imageData, err := img.Decode()
	if err != nil {
		return "", err
	}

	// The schema is per request; copy the model so concurrent calls do not share it
	model := *m.model
	model.ResponseSchema = toVertexSchema(schema)

	resp, err := model.GenerateContent(ctx, genai.Blob{MIMEType: img.MIMEType, Data: imageData}, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return vertexText(resp)
}

// Close releases the Vertex AI client
func (m *GoogleModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

func vertexText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no response generated", ErrTransport)
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no content in response (FinishReason: %s)", ErrTransport, candidate.FinishReason)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no text in response", ErrTransport)
	}
	return sb.String(), nil
}

func toVertexSchema(s *ResponseSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	props := make(map[string]*genai.Schema, len(s.Fields))
	for _, f := range s.Fields {
		t := genai.TypeString
		if f.Type == FieldNumber {
			t = genai.TypeNumber
		}
		props[f.Name] = &genai.Schema{Type: t, Description: f.Description}
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   s.Required,
	}
}
