package doctor

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence interface for doctors.
type Repository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUsername(ctx context.Context, username string) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
}
