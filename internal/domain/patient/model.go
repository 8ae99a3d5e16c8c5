package patient

import (
	"time"

	"github.com/google/uuid"
)

// Sex values accepted for a patient.
const (
	SexMale   = "MALE"
	SexFemale = "FEMALE"
	SexOther  = "OTHER"
)

// Patient maps to the patient table.
type Patient struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Sex       string     `db:"sex" json:"sex"`
	Birthday  *time.Time `db:"birthday" json:"birthday,omitempty"`
	Phone     string     `db:"phone" json:"phone"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Age returns the patient's age in whole years at the given time, or -1 when
// the birthday is unknown.
func (p *Patient) Age(at time.Time) int {
	if p.Birthday == nil {
		return -1
	}
	years := at.Year() - p.Birthday.Year()
	anniversary := p.Birthday.AddDate(years, 0, 0)
	if anniversary.After(at) {
		years--
	}
	return years
}
