package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence interface for patients.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByPhone(ctx context.Context, phone string) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}
