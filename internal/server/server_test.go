package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/franckalain/nutriscan/internal/imgenc"
	"github.com/franckalain/nutriscan/internal/ml"
	"github.com/franckalain/nutriscan/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appleReply = `{"foodName":"Apple","servingSize":"~150g","calories":80,"protein":0.4,"fat":0.3,"carbohydrates":21}`

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

// stubModel is an ml.Model answering with a fixed reply or error
type stubModel struct {
	mu    sync.Mutex
	calls int
	last  *imgenc.EncodedImage
	reply string
	err   error
}

func (m *stubModel) Load(ctx context.Context) error { return nil }

func (m *stubModel) GenerateJSON(ctx context.Context, img *imgenc.EncodedImage, prompt string, schema *ml.ResponseSchema) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.last = img
	return m.reply, m.err
}

func (m *stubModel) Close() error { return nil }

func (m *stubModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *stubModel) lastImage() *imgenc.EncodedImage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func newTestServer(t *testing.T, model *stubModel, maxUpload int64) (*httptest.Server, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	analyzer, err := ml.NewAnalyzer(model, ml.WithLogger(logger))
	require.NoError(t, err)

	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<h1>nutriscan</h1>"), 0o600))

	srv := httptest.NewServer(New(analyzer, maxUpload, logger).Handler(staticDir))
	t.Cleanup(srv.Close)
	return srv, staticDir
}

// uploadBody builds a multipart body with one file part
func uploadBody(t *testing.T, field, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="meal.jpg"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return body, mw.FormDataContentType()
}

func postImage(t *testing.T, url, field, contentType string, data []byte) *http.Response {
	t.Helper()
	body, ct := uploadBody(t, field, contentType, data)
	resp, err := http.Post(url+"/api/analyze", ct, body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubModel{}, 0)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestStaticFiles(t *testing.T) {
	srv, _ := newTestServer(t, &stubModel{}, 0)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "nutriscan")
}

func TestAnalyzeUpload(t *testing.T) {
	t.Run("returns the estimate", func(t *testing.T) {
		model := &stubModel{reply: appleReply}
		srv, _ := newTestServer(t, model, 0)

		resp := postImage(t, srv.URL, "image", "image/jpeg", jpegBytes)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var got models.NutritionEstimate
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, models.NutritionEstimate{
			FoodName: "Apple", ServingSize: "~150g", Calories: 80, Protein: 0.4, Fat: 0.3, Carbohydrates: 21,
		}, got)

		require.Equal(t, 1, model.callCount())
		assert.Equal(t, "image/jpeg", model.lastImage().MIMEType)
		assert.Equal(t, base64.StdEncoding.EncodeToString(jpegBytes), model.lastImage().Data)
	})

	t.Run("octet-stream uploads are sniffed", func(t *testing.T) {
		model := &stubModel{reply: appleReply}
		srv, _ := newTestServer(t, model, 0)

		resp := postImage(t, srv.URL, "image", "application/octet-stream", jpegBytes)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/jpeg", model.lastImage().MIMEType)
	})

	t.Run("model failure is a bad gateway with the user message", func(t *testing.T) {
		model := &stubModel{err: errors.New("quota exceeded")}
		srv, _ := newTestServer(t, model, 0)

		resp := postImage(t, srv.URL, "image", "image/png", jpegBytes)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, ml.FailureMessage, decodeError(t, resp))
	})

	t.Run("invalid reply is a bad gateway", func(t *testing.T) {
		srv, _ := newTestServer(t, &stubModel{reply: "not json"}, 0)

		resp := postImage(t, srv.URL, "image", "image/png", jpegBytes)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, ml.FailureMessage, decodeError(t, resp))
	})
}

func TestAnalyzeUpload_InvalidInput(t *testing.T) {
	t.Run("wrong field", func(t *testing.T) {
		model := &stubModel{reply: appleReply}
		srv, _ := newTestServer(t, model, 0)

		resp := postImage(t, srv.URL, "photo", "image/jpeg", jpegBytes)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Zero(t, model.callCount())
	})

	t.Run("not an image", func(t *testing.T) {
		model := &stubModel{reply: appleReply}
		srv, _ := newTestServer(t, model, 0)

		resp := postImage(t, srv.URL, "image", "text/plain", []byte("hello"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, decodeError(t, resp), "text/plain")
		assert.Zero(t, model.callCount())
	})

	t.Run("not multipart", func(t *testing.T) {
		model := &stubModel{reply: appleReply}
		srv, _ := newTestServer(t, model, 0)

		resp, err := http.Post(srv.URL+"/api/analyze", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Zero(t, model.callCount())
	})

	t.Run("too large", func(t *testing.T) {
		model := &stubModel{reply: appleReply}
		srv, _ := newTestServer(t, model, 1024)

		resp := postImage(t, srv.URL, "image", "image/jpeg", bytes.Repeat([]byte{0xFF}, 4096))
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		assert.Zero(t, model.callCount())
	})
}

// --- WebSocket ---

type wsReply struct {
	Type    string                    `json:"type"`
	Data    *models.NutritionEstimate `json:"data"`
	Message string                    `json:"message"`
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg any) wsReply {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
	var reply wsReply
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestWebSocketAnalyze(t *testing.T) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes)

	t.Run("data URL", func(t *testing.T) {
		model := &stubModel{reply: appleReply}
		srv, _ := newTestServer(t, model, 0)
		conn := dialWS(t, srv)

		reply := roundTrip(t, conn, map[string]any{
			"type": "analyze",
			"data": map[string]any{"image": dataURL},
		})
		assert.Equal(t, "analysis_result", reply.Type)
		require.NotNil(t, reply.Data)
		assert.Equal(t, "Apple", reply.Data.FoodName)
		assert.Equal(t, 21.0, reply.Data.Carbohydrates)
		assert.Equal(t, "image/jpeg", model.lastImage().MIMEType)
	})

	t.Run("bare base64 with explicit type", func(t *testing.T) {
		model := &stubModel{reply: appleReply}
		srv, _ := newTestServer(t, model, 0)
		conn := dialWS(t, srv)

		reply := roundTrip(t, conn, map[string]any{
			"type": "analyze",
			"data": map[string]any{
				"image":     base64.StdEncoding.EncodeToString(jpegBytes),
				"mime_type": "image/webp",
			},
		})
		assert.Equal(t, "analysis_result", reply.Type)
		assert.Equal(t, "image/webp", model.lastImage().MIMEType)
	})

	t.Run("errors keep the connection open", func(t *testing.T) {
		model := &stubModel{err: errors.New("connection reset")}
		srv, _ := newTestServer(t, model, 0)
		conn := dialWS(t, srv)

		reply := roundTrip(t, conn, map[string]any{"type": "scan"})
		assert.Equal(t, "error", reply.Type)
		assert.Equal(t, "Unknown message type", reply.Message)

		reply = roundTrip(t, conn, map[string]any{
			"type": "analyze",
			"data": map[string]any{"image": "%%%"},
		})
		assert.Equal(t, "error", reply.Type)
		assert.Equal(t, "Invalid image format", reply.Message)

		reply = roundTrip(t, conn, map[string]any{"type": "analyze"})
		assert.Equal(t, "error", reply.Type)
		assert.Equal(t, "Invalid image data", reply.Message)
		assert.Zero(t, model.callCount())

		reply = roundTrip(t, conn, map[string]any{
			"type": "analyze",
			"data": map[string]any{"image": dataURL},
		})
		assert.Equal(t, "error", reply.Type)
		assert.Equal(t, ml.FailureMessage, reply.Message)
		assert.Equal(t, 1, model.callCount())
	})

	t.Run("malformed message", func(t *testing.T) {
		srv, _ := newTestServer(t, &stubModel{}, 0)
		conn := dialWS(t, srv)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
		var reply wsReply
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, "error", reply.Type)
		assert.Equal(t, "Invalid message format", reply.Message)
	})
}

func TestFailureStatus(t *testing.T) {
	status, msg := failureStatus(imgenc.ErrInvalidPayload)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid image data", msg)

	status, msg = failureStatus(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, ml.FailureMessage, msg)
}
