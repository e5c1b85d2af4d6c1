package ml

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/franckalain/nutriscan/internal/imgenc"
)

// --- Mocks ---

// mockModel implements Model and records every GenerateJSON call
type mockModel struct {
	mu         sync.Mutex
	calls      int
	lastPrompt string
	lastSchema *ResponseSchema
	lastImage  *imgenc.EncodedImage

	generateFunc func(ctx context.Context, img *imgenc.EncodedImage) (string, error)
}

func (m *mockModel) Load(ctx context.Context) error { return nil }

func (m *mockModel) GenerateJSON(ctx context.Context, img *imgenc.EncodedImage, prompt string, schema *ResponseSchema) (string, error) {
	m.mu.Lock()
	m.calls++
	m.lastPrompt = prompt
	m.lastSchema = schema
	m.lastImage = img
	m.mu.Unlock()

	if m.generateFunc != nil {
		return m.generateFunc(ctx, img)
	}
	return "", nil
}

func (m *mockModel) Close() error { return nil }

func (m *mockModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// replyWith returns a mock model that always answers with text
func replyWith(text string) *mockModel {
	return &mockModel{
		generateFunc: func(ctx context.Context, img *imgenc.EncodedImage) (string, error) {
			return text, nil
		},
	}
}

// bufferLogger returns a logger writing to the returned buffer
func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// testImage is a tiny JPEG-labelled payload
func testImage() *imgenc.EncodedImage {
	img, err := imgenc.Encode(bytes.NewReader([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}), "image/jpeg")
	if err != nil {
		panic(err)
	}
	return img
}
