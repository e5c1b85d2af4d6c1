package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/franckalain/nutriscan/internal/imgenc"
	"github.com/franckalain/nutriscan/internal/ml"
	"github.com/franckalain/nutriscan/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// DefaultMaxUpload caps an uploaded image
	DefaultMaxUpload = 16 << 20

	shutdownTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the static frontend may be served from another origin in development
	},
}

// Analyzer estimates the nutrition of an encoded food photo
type Analyzer interface {
	Analyze(ctx context.Context, img *imgenc.EncodedImage) (*models.NutritionEstimate, error)
}

// Server exposes the analyzer over HTTP and WebSocket
type Server struct {
	analyzer  Analyzer
	clients   sync.Map
	maxUpload int64
	logger    *slog.Logger
}

// New creates a server. maxUpload <= 0 selects DefaultMaxUpload.
func New(analyzer Analyzer, maxUpload int64, logger *slog.Logger) *Server {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		analyzer:  analyzer,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// Handler returns the routes of the server
func (s *Server) Handler(staticDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)

	// Serve static files
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	return mux
}

// Start serves on port until SIGINT or SIGTERM, then shuts down gracefully
func (s *Server) Start(port, staticDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(staticDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", port, "static_dir", staticDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// closeClients ends hijacked WebSocket connections, which Shutdown does not track
func (s *Server) closeClients() {
	s.clients.Range(func(key, value any) bool {
		if conn, ok := value.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With("request_id", uuid.New().String())

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Image is too large")
			return
		}
		logger.Debug("invalid upload", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing image field")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}
	img, err := imgenc.Encode(file, mimeType)
	if err != nil {
		logger.Warn("failed to read upload", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid image data")
		return
	}
	if !img.IsImage() {
		writeError(w, http.StatusBadRequest, "Unsupported media type: "+img.MIMEType)
		return
	}

	logger.Debug("analyzing upload", "filename", header.Filename, "mime_type", img.MIMEType, "size", header.Size)
	estimate, err := s.analyzer.Analyze(r.Context(), img)
	if err != nil {
		status, message := failureStatus(err)
		logger.Warn("analysis request failed", "status", status, "error", err)
		writeError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, estimate)
}

// failureStatus maps an Analyze error to an HTTP status and a user message
func failureStatus(err error) (int, string) {
	var failure *ml.AnalysisFailure
	switch {
	case errors.As(err, &failure):
		return http.StatusBadGateway, failure.Error()
	case errors.Is(err, imgenc.ErrInvalidPayload), errors.Is(err, imgenc.ErrUnreadable):
		return http.StatusBadRequest, "Invalid image data"
	default:
		return http.StatusInternalServerError, ml.FailureMessage
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// base64 inflates the payload by a third
	conn.SetReadLimit(s.maxUpload/3*4 + 4096)

	// Store client connection
	clientID := uuid.New().String()
	s.clients.Store(clientID, conn)
	defer s.clients.Delete(clientID)

	logger := s.logger.With("client_id", clientID)
	logger.Debug("websocket client connected")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("error reading message", "error", err)
			}
			break
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
			s.sendError(conn, logger, "Invalid message format")
			continue
		}

		s.handleWebSocketMessage(r.Context(), conn, logger, msg)
	}
}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type analyzeRequest struct {
	Image    string `json:"image"`
	MIMEType string `json:"mime_type"`
}

func (s *Server) handleWebSocketMessage(ctx context.Context, conn *websocket.Conn, logger *slog.Logger, msg wsMessage) {
	switch msg.Type {
	case "analyze":
		s.handleAnalyzeMessage(ctx, conn, logger.With("request_id", uuid.New().String()), msg.Data)
	default:
		s.sendError(conn, logger, "Unknown message type")
	}
}

func (s *Server) handleAnalyzeMessage(ctx context.Context, conn *websocket.Conn, logger *slog.Logger, data json.RawMessage) {
	var req analyzeRequest
	if len(data) == 0 || json.Unmarshal(data, &req) != nil || req.Image == "" {
		s.sendError(conn, logger, "Invalid image data")
		return
	}

	img, err := imgenc.FromDataURL(req.Image)
	if err != nil {
		logger.Debug("invalid image payload", "error", err)
		s.sendError(conn, logger, "Invalid image format")
		return
	}
	if req.MIMEType != "" {
		img.MIMEType = req.MIMEType
	}
	if !img.IsImage() {
		s.sendError(conn, logger, "Unsupported media type: "+img.MIMEType)
		return
	}

	estimate, err := s.analyzer.Analyze(ctx, img)
	if err != nil {
		_, message := failureStatus(err)
		logger.Warn("analysis request failed", "error", err)
		s.sendError(conn, logger, message)
		return
	}

	s.sendMessage(conn, logger, "analysis_result", estimate)
}

func (s *Server) sendMessage(conn *websocket.Conn, logger *slog.Logger, messageType string, data any) {
	msg := map[string]any{
		"type": messageType,
		"data": data,
	}

	logger.Debug("sending message to client", "type", messageType)
	if err := conn.WriteJSON(msg); err != nil {
		logger.Warn("error sending message", "error", err)
	}
}

func (s *Server) sendError(conn *websocket.Conn, logger *slog.Logger, message string) {
	msg := map[string]any{
		"type":    "error",
		"message": message,
	}

	if err := conn.WriteJSON(msg); err != nil {
		logger.Warn("error sending error message", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
