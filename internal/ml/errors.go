package ml

import "errors"

// FailureMessage is shown to users when an analysis fails for any remote reason.
const FailureMessage = "Не удалось получить данные о питательности."

var (
	// ErrTransport classifies failures reaching the model or malformed replies
	ErrTransport = errors.New("model request failed")
	// ErrSchemaViolation classifies replies that do not satisfy the response schema
	ErrSchemaViolation = errors.New("model reply violates response schema")
	// ErrMissingCredential is returned at startup when a backend has no credential
	ErrMissingCredential = errors.New("missing model credential")
)

// AnalysisFailure is the only error callers see for a failed remote analysis.
// Its message is safe to display; provider detail is logged, not carried.
type AnalysisFailure struct {
	Message string
	kind    error
}

func newFailure(kind error) *AnalysisFailure {
	return &AnalysisFailure{Message: FailureMessage, kind: kind}
}

func (f *AnalysisFailure) Error() string {
	return f.Message
}

// Unwrap exposes the failure class (ErrTransport or ErrSchemaViolation)
func (f *AnalysisFailure) Unwrap() error {
	return f.kind
}
