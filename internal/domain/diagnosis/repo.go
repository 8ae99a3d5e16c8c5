package diagnosis

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists diagnosis records. Attach is the only operation that
// moves a visit to completed: the record insert and the status flip commit
// together or not at all.
type Repository interface {
	Attach(ctx context.Context, rec *DiagnosisRecord) error
	ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*DiagnosisRecord, error)
}
