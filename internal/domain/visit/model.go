// Package visit holds the clinic visit aggregate: the visit itself, its
// write-once pre-diagnosis intake, and the optional sanzhen analysis
// captured during intake.
package visit

import (
	"time"

	"github.com/google/uuid"

	"github.com/tcmclinic/tcmclinic/internal/domain/patient"
)

// Visit status values. A visit is pending until a diagnosis pipeline claims
// it, in_progress while one runs, and completed once a diagnosis record has
// been durably attached.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Visit is the aggregate root for one clinic encounter.
type Visit struct {
	ID             uuid.UUID `db:"id" json:"id"`
	IdempotencyKey uuid.UUID `db:"idempotency_key" json:"uuid"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`

	// Loaded relations.
	Patient      *patient.Patient `db:"-" json:"patient,omitempty"`
	PreDiagnosis *PreDiagnosis    `db:"-" json:"pre_diagnosis,omitempty"`
}

// PreDiagnosis is the intake record written once at visit creation. The
// diagnosis pipeline only reads it.
type PreDiagnosis struct {
	ID              uuid.UUID `db:"id" json:"id"`
	VisitID         uuid.UUID `db:"visit_id" json:"visit_id"`
	IdempotencyKey  uuid.UUID `db:"idempotency_key" json:"uuid"`
	Height          *float64  `db:"height" json:"height,omitempty"`
	Weight          *float64  `db:"weight" json:"weight,omitempty"`
	ConversationLog string    `db:"conversation_log" json:"conversation_log,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`

	Sanzhen *SanzhenAnalysis `db:"-" json:"sanzhen_analysis,omitempty"`
}

// BMI returns weight/(height/100)^2. ok is false when either measurement is
// missing or non-positive.
func (p *PreDiagnosis) BMI() (bmi float64, ok bool) {
	if p == nil || p.Height == nil || p.Weight == nil || *p.Height <= 0 || *p.Weight <= 0 {
		return 0, false
	}
	m := *p.Height / 100
	return *p.Weight / (m * m), true
}

// SanzhenAnalysis holds the face, tongue and pulse observations collected
// before the consult, with the source image URLs where captured.
type SanzhenAnalysis struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	PreDiagnosisID       uuid.UUID `db:"pre_diagnosis_id" json:"pre_diagnosis_id"`
	Face                 string    `db:"face" json:"face,omitempty"`
	FaceImageURL         string    `db:"face_image_url" json:"face_image_url,omitempty"`
	TongueFront          string    `db:"tongue_front" json:"tongue_front,omitempty"`
	TongueFrontImageURL  string    `db:"tongue_front_image_url" json:"tongue_front_image_url,omitempty"`
	TongueBottom         string    `db:"tongue_bottom" json:"tongue_bottom,omitempty"`
	TongueBottomImageURL string    `db:"tongue_bottom_image_url" json:"tongue_bottom_image_url,omitempty"`
	Pulse                string    `db:"pulse" json:"pulse,omitempty"`
	Impression           string    `db:"impression" json:"impression,omitempty"`
}
