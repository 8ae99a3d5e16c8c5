package doctor

import (
	"time"

	"github.com/google/uuid"
)

// Doctor maps to the doctor table. The password hash never leaves the
// service layer.
type Doctor struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Name         string    `db:"name" json:"name"`
	Title        string    `db:"title" json:"title,omitempty"`
	Department   string    `db:"department" json:"department,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
