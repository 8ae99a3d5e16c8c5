package visit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence interface for visits. Create writes the
// visit together with its pre-diagnosis and sanzhen analysis; callers wanting
// atomicity with other writes run it inside db.InTx.
type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	GetByKey(ctx context.Context, key uuid.UUID) (*Visit, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error)

	// BeginPipeline claims the visit for a diagnosis pipeline, flipping
	// pending to in_progress. An in_progress visit whose last update is
	// older than staleAfter may be taken over.
	BeginPipeline(ctx context.Context, id uuid.UUID, staleAfter time.Duration) error
	// Release puts an in_progress visit back to pending after a failed
	// pipeline. Flipping to completed is the diagnosis repository's job.
	Release(ctx context.Context, id uuid.UUID) error
}
