package visit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tcmclinic/tcmclinic/internal/domain/patient"
	"github.com/tcmclinic/tcmclinic/internal/errs"
)

// memPatientRepo backs the patient service in visit tests.
type memPatientRepo struct {
	byPhone map[string]*patient.Patient
}

func newMemPatientRepo() *memPatientRepo {
	return &memPatientRepo{byPhone: make(map[string]*patient.Patient)}
}

func (m *memPatientRepo) Create(_ context.Context, p *patient.Patient) error {
	if _, ok := m.byPhone[p.Phone]; ok {
		return errs.Conflictf("patient with phone %s already exists", p.Phone)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.byPhone[p.Phone] = p
	return nil
}

func (m *memPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	for _, p := range m.byPhone {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, errs.NotFoundf("patient not found")
}

func (m *memPatientRepo) GetByPhone(_ context.Context, phone string) (*patient.Patient, error) {
	p, ok := m.byPhone[phone]
	if !ok {
		return nil, errs.NotFoundf("patient not found")
	}
	return p, nil
}

func (m *memPatientRepo) List(_ context.Context, limit, offset int) ([]*patient.Patient, int, error) {
	return nil, 0, nil
}

// memRepo is an in-memory visit Repository.
type memRepo struct {
	byID  map[uuid.UUID]*Visit
	byKey map[uuid.UUID]*Visit
}

func newMemRepo() *memRepo {
	return &memRepo{
		byID:  make(map[uuid.UUID]*Visit),
		byKey: make(map[uuid.UUID]*Visit),
	}
}

func (m *memRepo) Create(_ context.Context, v *Visit) error {
	if _, ok := m.byKey[v.IdempotencyKey]; ok {
		return errs.Conflictf("visit with key %s already exists", v.IdempotencyKey)
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	m.byID[v.ID] = v
	m.byKey[v.IdempotencyKey] = v
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Visit, error) {
	v, ok := m.byID[id]
	if !ok {
		return nil, errs.NotFoundf("visit not found")
	}
	return v, nil
}

func (m *memRepo) GetByKey(_ context.Context, key uuid.UUID) (*Visit, error) {
	v, ok := m.byKey[key]
	if !ok {
		return nil, errs.NotFoundf("visit not found")
	}
	return v, nil
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	var out []*Visit
	for _, v := range m.byID {
		if v.PatientID == patientID {
			out = append(out, v)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) BeginPipeline(_ context.Context, id uuid.UUID, staleAfter time.Duration) error {
	v, ok := m.byID[id]
	if !ok {
		return errs.NotFoundf("visit not found")
	}
	switch v.Status {
	case StatusPending:
	case StatusInProgress:
		if time.Since(v.UpdatedAt) < staleAfter {
			return errs.Conflictf("a diagnosis is already in progress for visit %s", id)
		}
	default:
		return errs.Conflictf("visit %s is already completed", id)
	}
	v.Status = StatusInProgress
	v.UpdatedAt = time.Now()
	return nil
}

func (m *memRepo) Release(_ context.Context, id uuid.UUID) error {
	v, ok := m.byID[id]
	if ok && v.Status == StatusInProgress {
		v.Status = StatusPending
		v.UpdatedAt = time.Now()
	}
	return nil
}

func newTestService() (*Service, *memRepo, *memPatientRepo) {
	visits := newMemRepo()
	patients := newMemPatientRepo()
	svc := NewService(visits, patient.NewService(patients), nil)
	return svc, visits, patients
}

func validCreateInput() CreateInput {
	height, weight := 175.0, 80.0
	return CreateInput{
		IdempotencyKey: uuid.NewString(),
		PatientPhone:   "13800138010",
		PatientInfo: &PatientInfo{
			Name:     "新患者",
			Sex:      patient.SexMale,
			Birthday: "1985-01-01",
			Phone:    "13800138010",
		},
		PreDiagnosis: &PreDiagnosisInput{
			IdempotencyKey:  uuid.NewString(),
			Height:          &height,
			Weight:          &weight,
			ConversationLog: "患者：我最近体重增加了...",
			Sanzhen: &SanzhenInput{
				Face:        "面色略黄",
				TongueFront: "舌苔薄白",
				Pulse:       "脉象沉细",
			},
		},
	}
}

func TestCreate_BootstrapsPatient(t *testing.T) {
	svc, _, patients := newTestService()

	v, err := svc.Create(context.Background(), validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.Status != StatusPending {
		t.Errorf("expected pending status, got %s", v.Status)
	}
	if v.Patient == nil || v.Patient.Name != "新患者" {
		t.Errorf("patient not bootstrapped: %+v", v.Patient)
	}
	if _, ok := patients.byPhone["13800138010"]; !ok {
		t.Error("patient row not created")
	}
	if v.PreDiagnosis == nil || v.PreDiagnosis.Sanzhen == nil {
		t.Fatal("pre-diagnosis and sanzhen analysis should be attached")
	}
	if v.PreDiagnosis.Sanzhen.Face != "面色略黄" {
		t.Errorf("unexpected sanzhen face: %q", v.PreDiagnosis.Sanzhen.Face)
	}
}

func TestCreate_ExistingPatient(t *testing.T) {
	svc, _, patients := newTestService()
	existing := &patient.Patient{Name: "老患者", Phone: "13800138011", Sex: patient.SexFemale}
	if err := patients.Create(context.Background(), existing); err != nil {
		t.Fatalf("seed patient: %v", err)
	}

	in := validCreateInput()
	in.PatientPhone = "13800138011"
	in.PatientInfo = nil

	v, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.PatientID != existing.ID {
		t.Errorf("visit bound to wrong patient: %s", v.PatientID)
	}
	if v.Patient.Name != "老患者" {
		t.Errorf("unexpected patient: %+v", v.Patient)
	}
}

func TestCreate_DuplicateKey(t *testing.T) {
	svc, _, _ := newTestService()
	in := validCreateInput()

	if _, err := svc.Create(context.Background(), in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := svc.Create(context.Background(), in)
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict on reused key, got %v", err)
	}
}

func TestCreate_UnknownPatientWithoutInfo(t *testing.T) {
	svc, visits, _ := newTestService()
	in := validCreateInput()
	in.PatientInfo = nil

	_, err := svc.Create(context.Background(), in)
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(visits.byID) != 0 {
		t.Error("no visit should be stored when patient bootstrap fails")
	}
}

func TestCreate_BadKeys(t *testing.T) {
	svc, _, _ := newTestService()

	in := validCreateInput()
	in.IdempotencyKey = "not-a-uuid"
	if _, err := svc.Create(context.Background(), in); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("bad visit key: expected ErrValidation, got %v", err)
	}

	in = validCreateInput()
	in.PreDiagnosis.IdempotencyKey = ""
	if _, err := svc.Create(context.Background(), in); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("bad pre-diagnosis key: expected ErrValidation, got %v", err)
	}
}

func TestBMI(t *testing.T) {
	height, weight := 175.0, 80.0
	pd := &PreDiagnosis{Height: &height, Weight: &weight}

	bmi, ok := pd.BMI()
	if !ok {
		t.Fatal("expected BMI to be computable")
	}
	if bmi < 26.1 || bmi > 26.2 {
		t.Errorf("unexpected BMI: %f", bmi)
	}

	cases := []*PreDiagnosis{
		nil,
		{},
		{Height: &height},
		{Weight: &weight},
	}
	zero := 0.0
	cases = append(cases, &PreDiagnosis{Height: &zero, Weight: &weight})
	for i, pd := range cases {
		if _, ok := pd.BMI(); ok {
			t.Errorf("case %d: expected BMI to be unavailable", i)
		}
	}
}
