package ml

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/franckalain/nutriscan/internal/imgenc"
	"github.com/franckalain/nutriscan/internal/models"
)

// DefaultTimeout bounds a single analysis round-trip
const DefaultTimeout = 60 * time.Second

// Analyzer turns a food photo into a NutritionEstimate with one model call.
// It keeps no state between calls and is safe for concurrent use.
type Analyzer struct {
	model   Model
	timeout time.Duration
	logger  *slog.Logger
}

// AnalyzerOption configures an Analyzer
type AnalyzerOption func(*Analyzer)

// WithTimeout sets the per-call timeout; zero or negative disables it
func WithTimeout(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		a.timeout = d
	}
}

// WithLogger sets the logger used for failure diagnostics
func WithLogger(l *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAnalyzer creates an Analyzer backed by model
func NewAnalyzer(model Model, opts ...AnalyzerOption) (*Analyzer, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	a := &Analyzer{
		model:   model,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// AnalyzeFile encodes the file at path and analyzes it. A file that cannot be
// read fails with imgenc.ErrUnreadable and the model is not called.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*models.NutritionEstimate, error) {
	img, err := imgenc.EncodeFile(path)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx, img)
}

// Analyze sends the image to the model once and validates the reply. Any
// remote failure is returned as *AnalysisFailure after being logged.
func (a *Analyzer) Analyze(ctx context.Context, img *imgenc.EncodedImage) (*models.NutritionEstimate, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no image", imgenc.ErrInvalidPayload)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	started := time.Now()
	text, err := a.model.GenerateJSON(ctx, img, Instruction, NutritionSchema)
	if err != nil {
		return nil, a.fail(ctx, ErrTransport, err, started)
	}

	estimate, err := ParseEstimate(text)
	if err != nil {
		a.logger.DebugContext(ctx, "raw model reply", "text", text)
		return nil, a.fail(ctx, ErrSchemaViolation, err, started)
	}

	a.logger.InfoContext(ctx, "analyzed food image",
		"food", estimate.FoodName,
		"calories", estimate.Calories,
		"duration", time.Since(started))
	return estimate, nil
}

func (a *Analyzer) fail(ctx context.Context, kind, cause error, started time.Time) *AnalysisFailure {
	a.logger.ErrorContext(ctx, "food image analysis failed",
		"kind", kind.Error(),
		"error", cause,
		"duration", time.Since(started))
	return newFailure(kind)
}
