// Package reqctx carries crawl-run identity through a context.
package reqctx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type key int

const runKey key = 0

// Run identifies one crawl run.
type Run struct {
	ID        string
	StartTime time.Time
}

// WithRun returns a context carrying a fresh run. An existing run on ctx is
// kept so nested calls share one id.
func WithRun(ctx context.Context) context.Context {
	if _, ok := ctx.Value(runKey).(*Run); ok {
		return ctx
	}
	return context.WithValue(ctx, runKey, &Run{
		ID:        generateID(),
		StartTime: time.Now(),
	})
}

// FromContext returns the run on ctx, or a placeholder with id "unknown".
func FromContext(ctx context.Context) *Run {
	if r, ok := ctx.Value(runKey).(*Run); ok {
		return r
	}
	return &Run{
		ID:        "unknown",
		StartTime: time.Now(),
	}
}

// Logger returns a logger that stamps every event with the run id.
func Logger(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	return base.With().Str("run_id", FromContext(ctx).ID).Logger()
}

func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// RunError wraps an error with the run it happened in.
type RunError struct {
	RunID string
	Err   error
}

// Error implements the error interface
func (e *RunError) Error() string {
	return fmt.Sprintf("[run %s] %v", e.RunID, e.Err)
}

// Unwrap returns the underlying error
func (e *RunError) Unwrap() error {
	return e.Err
}

// NewRunError wraps err with the run id from ctx.
func NewRunError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	return &RunError{
		RunID: FromContext(ctx).ID,
		Err:   err,
	}
}
