package visit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tcmclinic/tcmclinic/internal/domain/patient"
	"github.com/tcmclinic/tcmclinic/internal/errs"
	"github.com/tcmclinic/tcmclinic/internal/platform/db"
)

type Service struct {
	repo     Repository
	patients *patient.Service
	inTx     func(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewService wires the visit service. The pool is used only to open the
// transaction that spans patient bootstrap and visit creation; a nil pool
// runs the unit of work on the bare context.
func NewService(repo Repository, patients *patient.Service, pool *pgxpool.Pool) *Service {
	s := &Service{repo: repo, patients: patients}
	s.inTx = func(ctx context.Context, fn func(ctx context.Context) error) error {
		if pool == nil {
			return fn(ctx)
		}
		return db.InTx(ctx, pool, fn)
	}
	return s
}

// PatientInfo carries the demographics used to bootstrap an unknown patient
// at visit creation.
type PatientInfo struct {
	Name     string `json:"name"`
	Sex      string `json:"sex"`
	Birthday string `json:"birthday"`
	Phone    string `json:"phone"`
}

// SanzhenInput is the intake observation payload.
type SanzhenInput struct {
	Face                 string `json:"face"`
	FaceImageURL         string `json:"face_image_url"`
	TongueFront          string `json:"tongue_front"`
	TongueFrontImageURL  string `json:"tongue_front_image_url"`
	TongueBottom         string `json:"tongue_bottom"`
	TongueBottomImageURL string `json:"tongue_bottom_image_url"`
	Pulse                string `json:"pulse"`
	Impression           string `json:"impression"`
}

// PreDiagnosisInput is the write-once intake record attached at creation.
type PreDiagnosisInput struct {
	IdempotencyKey  string        `json:"uuid"`
	Height          *float64      `json:"height"`
	Weight          *float64      `json:"weight"`
	ConversationLog string        `json:"coze_conversation_log"`
	Sanzhen         *SanzhenInput `json:"sanzhen_analysis"`
}

// CreateInput creates a visit for the patient identified by phone. When the
// patient is unknown, PatientInfo must be present and is registered in the
// same transaction.
type CreateInput struct {
	IdempotencyKey string             `json:"uuid"`
	PatientPhone   string             `json:"patient_phone"`
	PatientInfo    *PatientInfo       `json:"patient_info"`
	PreDiagnosis   *PreDiagnosisInput `json:"pre_diagnosis"`
}

// Create registers the visit, its pre-diagnosis, and if needed the patient,
// all-or-nothing. A reused idempotency key is a conflict.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Visit, error) {
	key, err := uuid.Parse(in.IdempotencyKey)
	if err != nil {
		return nil, errs.Validationf("uuid must be a valid UUID")
	}
	if in.PatientPhone == "" {
		return nil, errs.Validationf("patient_phone is required")
	}
	if in.PreDiagnosis == nil {
		return nil, errs.Validationf("pre_diagnosis is required")
	}
	preKey, err := uuid.Parse(in.PreDiagnosis.IdempotencyKey)
	if err != nil {
		return nil, errs.Validationf("pre_diagnosis.uuid must be a valid UUID")
	}

	v := &Visit{
		IdempotencyKey: key,
		Status:         StatusPending,
		PreDiagnosis: &PreDiagnosis{
			IdempotencyKey:  preKey,
			Height:          in.PreDiagnosis.Height,
			Weight:          in.PreDiagnosis.Weight,
			ConversationLog: in.PreDiagnosis.ConversationLog,
		},
	}
	if sz := in.PreDiagnosis.Sanzhen; sz != nil {
		v.PreDiagnosis.Sanzhen = &SanzhenAnalysis{
			Face:                 sz.Face,
			FaceImageURL:         sz.FaceImageURL,
			TongueFront:          sz.TongueFront,
			TongueFrontImageURL:  sz.TongueFrontImageURL,
			TongueBottom:         sz.TongueBottom,
			TongueBottomImageURL: sz.TongueBottomImageURL,
			Pulse:                sz.Pulse,
			Impression:           sz.Impression,
		}
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.QueryByPhone(ctx, in.PatientPhone)
		if errors.Is(err, errs.ErrNotFound) {
			if in.PatientInfo == nil {
				return errs.Validationf("patient %s is not registered and no patient_info was given", in.PatientPhone)
			}
			p, err = s.patients.Register(ctx, patient.RegisterInput{
				Name:     in.PatientInfo.Name,
				Sex:      in.PatientInfo.Sex,
				Birthday: in.PatientInfo.Birthday,
				Phone:    in.PatientPhone,
			})
		}
		if err != nil {
			return err
		}
		v.PatientID = p.ID
		v.Patient = p
		return s.repo.Create(ctx, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Get returns a visit with its pre-diagnosis and patient loaded.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p, err := s.patients.Get(ctx, v.PatientID); err == nil {
		v.Patient = p
	}
	return v, nil
}

// ListByPatient returns a page of the patient's visits, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
