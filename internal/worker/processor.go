// Package worker consumes queued generation jobs and reconciles jobs the
// pipeline abandoned.
package worker

import (
	"context"

	"github.com/coloring-service/internal/models"
)

// Output is one artifact produced for a job, already uploaded to the
// object store at StoragePath.
type Output struct {
	Kind        models.AssetKind
	StoragePath string
	Width       int
	Height      int
	SizeBytes   int64
	SHA256      string
}

// Processor runs the actual generation for one job and uploads the
// resulting artifacts. Implementations wrap the external image engine;
// the consumer only cares about the produced outputs.
type Processor interface {
	Process(ctx context.Context, job *models.Job) ([]Output, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job *models.Job) ([]Output, error)

func (f ProcessorFunc) Process(ctx context.Context, job *models.Job) ([]Output, error) {
	return f(ctx, job)
}
