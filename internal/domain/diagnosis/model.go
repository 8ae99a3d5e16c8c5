// Package diagnosis runs the four-stage AI consultation pipeline and stores
// the resulting diagnosis records, both AI-generated and doctor-written.
package diagnosis

import (
	"time"

	"github.com/google/uuid"
)

// Diagnosis record kinds.
const (
	KindAI     = "AI"
	KindDoctor = "DOCTOR"
)

// DiagnosisRecord is one diagnosis attached to a visit. Kind selects which
// of the AI or Doctor extensions is populated.
type DiagnosisRecord struct {
	ID           uuid.UUID `db:"id" json:"id"`
	VisitID      uuid.UUID `db:"visit_id" json:"visit_id"`
	Kind         string    `db:"kind" json:"kind"`
	Record       string    `db:"record" json:"record"`
	Syndrome     string    `db:"syndrome" json:"syndrome"`
	Prescription string    `db:"prescription" json:"prescription"`
	ExercisePlan string    `db:"exercise_plan" json:"exercise_plan"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`

	AI     *AIDetail     `db:"-" json:"ai,omitempty"`
	Doctor *DoctorDetail `db:"-" json:"doctor,omitempty"`
}

// AIDetail extends an AI-generated record with the model's reasoning and
// timing metadata.
type AIDetail struct {
	Explanation string  `db:"explanation" json:"explanation"`
	Elapsed     float64 `db:"elapsed" json:"elapsed"`
	Model       string  `db:"model" json:"model"`
}

// DoctorDetail extends a doctor-written record.
type DoctorDetail struct {
	DoctorID uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Comments string    `db:"comments" json:"comments"`
}

// HerbItem is one entry of a parsed herbal prescription.
type HerbItem struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
}
