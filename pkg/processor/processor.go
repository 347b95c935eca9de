package processor

import (
	"context"
	"io"

	"github.com/doctriage/doctriage/pkg/models"
)

// Processor is the payload processor invoked per job: the external
// classification function from the pipeline's point of view. It must be
// safe to call repeatedly for the same ref since retries re-invoke it.
//
// Failures are reported as *models.ClassificationError; the worker loop
// records them as job state rather than propagating them.
type Processor interface {
	Classify(ctx context.Context, ref string, r io.Reader) (*models.ClassificationResult, error)
}
