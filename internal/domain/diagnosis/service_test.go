package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tcmclinic/tcmclinic/internal/domain/patient"
	"github.com/tcmclinic/tcmclinic/internal/domain/visit"
	"github.com/tcmclinic/tcmclinic/internal/errs"
	"github.com/tcmclinic/tcmclinic/internal/platform/llm"
)

// Canned stage responses for the happy path.
var stageResponses = []string{
	"<answer>主诉：体重增加，身体沉重\n病史：身高175cm，体重80kg，近半年体重增加明显\n症状：肢体困重，食欲不振</answer>",
	"<think>患者肢体困重，舌苔薄白，脉沉细，属脾虚湿阻。</think>\n<answer>1</answer>",
	"<answer>党参 10g\n麸炒白术 15g\n茯苓 15g</answer>",
	"<answer>第一周：快走30分钟，每周5次\n第二周：快走40分钟，加入八段锦\n运动建议说明：循序渐进，避免剧烈运动</answer>",
}

type gwResult struct {
	text string
	err  error
}

// fakeGateway serves scripted responses in call order.
type fakeGateway struct {
	mu        sync.Mutex
	responses []gwResult
	prompts   []string
	entered   chan struct{} // closed-over signal per call, optional
	proceed   chan struct{} // blocks calls until closed, optional
}

func scriptedGateway(texts ...string) *fakeGateway {
	g := &fakeGateway{}
	for _, t := range texts {
		g.responses = append(g.responses, gwResult{text: t})
	}
	return g
}

func (g *fakeGateway) Complete(_ context.Context, prompt string, _ float32) (llm.Completion, error) {
	g.mu.Lock()
	idx := len(g.prompts)
	g.prompts = append(g.prompts, prompt)
	var r gwResult
	if idx < len(g.responses) {
		r = g.responses[idx]
	} else {
		r = gwResult{err: fmt.Errorf("unexpected call %d", idx)}
	}
	entered, proceed := g.entered, g.proceed
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if proceed != nil {
		<-proceed
	}
	if r.err != nil {
		return llm.Completion{}, r.err
	}
	return llm.Completion{Text: r.text, Model: "deepseek-chat", Latency: time.Millisecond}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// memVisitRepo is a thread-safe in-memory visit repository.
type memVisitRepo struct {
	mu     sync.Mutex
	visits map[uuid.UUID]*visit.Visit
}

func newMemVisitRepo() *memVisitRepo {
	return &memVisitRepo{visits: make(map[uuid.UUID]*visit.Visit)}
}

func (m *memVisitRepo) Create(_ context.Context, v *visit.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	m.visits[v.ID] = v
	return nil
}

func (m *memVisitRepo) GetByID(_ context.Context, id uuid.UUID) (*visit.Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return nil, errs.NotFoundf("visit not found")
	}
	return v, nil
}

func (m *memVisitRepo) GetByKey(_ context.Context, key uuid.UUID) (*visit.Visit, error) {
	return nil, errs.NotFoundf("visit not found")
}

func (m *memVisitRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*visit.Visit, int, error) {
	return nil, 0, nil
}

func (m *memVisitRepo) BeginPipeline(_ context.Context, id uuid.UUID, staleAfter time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return errs.NotFoundf("visit not found")
	}
	switch v.Status {
	case visit.StatusPending:
	case visit.StatusInProgress:
		if time.Since(v.UpdatedAt) < staleAfter {
			return errs.Conflictf("a diagnosis is already in progress for visit %s", id)
		}
	default:
		return errs.Conflictf("visit %s is already completed", id)
	}
	v.Status = visit.StatusInProgress
	v.UpdatedAt = time.Now()
	return nil
}

func (m *memVisitRepo) Release(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.visits[id]; ok && v.Status == visit.StatusInProgress {
		v.Status = visit.StatusPending
		v.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memVisitRepo) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visits[id].Status
}

// memDiagRepo stores records and flips the visit to completed on Attach.
type memDiagRepo struct {
	mu      sync.Mutex
	visits  *memVisitRepo
	records []*DiagnosisRecord
	failErr error
}

func (m *memDiagRepo) Attach(_ context.Context, rec *DiagnosisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	m.records = append(m.records, rec)

	m.visits.mu.Lock()
	defer m.visits.mu.Unlock()
	v, ok := m.visits.visits[rec.VisitID]
	if !ok {
		return errs.NotFoundf("visit not found")
	}
	v.Status = visit.StatusCompleted
	return nil
}

func (m *memDiagRepo) ListByVisit(_ context.Context, visitID uuid.UUID) ([]*DiagnosisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DiagnosisRecord
	for _, rec := range m.records {
		if rec.VisitID == visitID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memDiagRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memPatientRepo struct {
	patients map[uuid.UUID]*patient.Patient
	getErr   error
}

func (m *memPatientRepo) Create(_ context.Context, p *patient.Patient) error { return nil }

func (m *memPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, errs.NotFoundf("patient not found")
	}
	return p, nil
}

func (m *memPatientRepo) GetByPhone(_ context.Context, phone string) (*patient.Patient, error) {
	return nil, errs.NotFoundf("patient not found")
}

func (m *memPatientRepo) List(_ context.Context, limit, offset int) ([]*patient.Patient, int, error) {
	return nil, 0, nil
}

type fixture struct {
	svc      *Service
	gateway  *fakeGateway
	visits   *memVisitRepo
	patients *memPatientRepo
	records  *memDiagRepo
	visitID  uuid.UUID
}

// newFixture seeds one pending visit for a 175cm/80kg male patient.
func newFixture(t *testing.T, gateway *fakeGateway) *fixture {
	t.Helper()

	birthday := time.Date(1985, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &patient.Patient{ID: uuid.New(), Name: "测试患者", Sex: patient.SexMale, Birthday: &birthday, Phone: "13800138000"}
	patients := &memPatientRepo{patients: map[uuid.UUID]*patient.Patient{p.ID: p}}

	visits := newMemVisitRepo()
	height, weight := 175.0, 80.0
	v := &visit.Visit{
		ID:        uuid.New(),
		PatientID: p.ID,
		Status:    visit.StatusPending,
		UpdatedAt: time.Now(),
		PreDiagnosis: &visit.PreDiagnosis{
			Height:          &height,
			Weight:          &weight,
			ConversationLog: "患者：我最近体重增加了...",
		},
	}
	if err := visits.Create(context.Background(), v); err != nil {
		t.Fatalf("seed visit: %v", err)
	}

	records := &memDiagRepo{visits: visits}
	svc := NewService(visits, patients, records, gateway, Config{}, zerolog.Nop())
	return &fixture{svc: svc, gateway: gateway, visits: visits, patients: patients, records: records, visitID: v.ID}
}

const transcript = "医生：您好，请问有什么不舒服？\n患者：我最近体重增加了很多，身体沉重。"

func TestGenerate_Success(t *testing.T) {
	f := newFixture(t, scriptedGateway(stageResponses...))

	rec, err := f.svc.Generate(context.Background(), f.visitID, transcript)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if rec.Kind != KindAI {
		t.Errorf("expected AI kind, got %s", rec.Kind)
	}
	if !strings.Contains(rec.Record, "体重增加") {
		t.Errorf("record does not mention the chief complaint: %q", rec.Record)
	}
	if rec.Syndrome != "脾虚湿阻" {
		t.Errorf("unexpected syndrome: %q", rec.Syndrome)
	}
	if !strings.Contains(rec.Prescription, "党参") {
		t.Errorf("unexpected prescription: %q", rec.Prescription)
	}
	if !strings.Contains(rec.ExercisePlan, "第一周") {
		t.Errorf("unexpected exercise plan: %q", rec.ExercisePlan)
	}
	if rec.AI == nil || rec.AI.Model != "deepseek-chat" || rec.AI.Elapsed < 0 {
		t.Errorf("unexpected AI detail: %+v", rec.AI)
	}
	if rec.AI != nil && rec.AI.Explanation == "" {
		t.Error("expected the stage-2 reasoning as explanation")
	}

	if got := f.gateway.calls(); got != 4 {
		t.Errorf("expected 4 model calls, got %d", got)
	}
	if got := f.visits.status(f.visitID); got != visit.StatusCompleted {
		t.Errorf("expected completed visit, got %s", got)
	}
	if f.records.count() != 1 {
		t.Errorf("expected 1 stored record, got %d", f.records.count())
	}
}

func TestGenerate_EmptyTranscript(t *testing.T) {
	f := newFixture(t, scriptedGateway(stageResponses...))

	_, err := f.svc.Generate(context.Background(), f.visitID, "   ")
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if f.gateway.calls() != 0 {
		t.Errorf("no model calls expected, got %d", f.gateway.calls())
	}
}

func TestGenerate_UnknownVisit(t *testing.T) {
	f := newFixture(t, scriptedGateway(stageResponses...))

	_, err := f.svc.Generate(context.Background(), uuid.New(), transcript)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerate_PatientLookupFailure(t *testing.T) {
	f := newFixture(t, scriptedGateway(stageResponses...))
	f.patients.getErr = errs.Persistence("get patient", errors.New("connection reset by peer"))

	_, err := f.svc.Generate(context.Background(), f.visitID, transcript)
	if !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if f.gateway.calls() != 0 {
		t.Errorf("no model calls expected, got %d", f.gateway.calls())
	}
	if f.records.count() != 0 {
		t.Error("no record should be stored")
	}
	if got := f.visits.status(f.visitID); got != visit.StatusPending {
		t.Errorf("visit should remain pending, got %s", got)
	}
}

func TestGenerate_StageFailureIsAtomic(t *testing.T) {
	gateway := scriptedGateway(stageResponses[0], stageResponses[1])
	gateway.responses = append(gateway.responses, gwResult{err: errs.ErrUpstream})
	f := newFixture(t, gateway)

	_, err := f.svc.Generate(context.Background(), f.visitID, transcript)
	if !errors.Is(err, errs.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Stage != StagePrescription {
		t.Fatalf("expected stage 3 tag, got %v", err)
	}

	if f.records.count() != 0 {
		t.Errorf("no record should be stored, got %d", f.records.count())
	}
	if got := f.visits.status(f.visitID); got != visit.StatusPending {
		t.Errorf("visit should be released to pending, got %s", got)
	}

	// The visit is re-attemptable after the failure.
	f.gateway.mu.Lock()
	f.gateway.responses = make([]gwResult, 0, 4)
	f.gateway.prompts = nil
	for _, text := range stageResponses {
		f.gateway.responses = append(f.gateway.responses, gwResult{text: text})
	}
	f.gateway.mu.Unlock()

	if _, err := f.svc.Generate(context.Background(), f.visitID, transcript); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if got := f.visits.status(f.visitID); got != visit.StatusCompleted {
		t.Errorf("expected completed visit after retry, got %s", got)
	}
}

func TestGenerate_Stage2Timeout(t *testing.T) {
	gateway := scriptedGateway(stageResponses[0])
	gateway.responses = append(gateway.responses, gwResult{err: errs.ErrUpstreamTimeout})
	f := newFixture(t, gateway)

	_, err := f.svc.Generate(context.Background(), f.visitID, transcript)
	if !errors.Is(err, errs.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Stage != StageSyndrome {
		t.Fatalf("expected stage 2 tag, got %v", err)
	}
	if f.records.count() != 0 {
		t.Error("no record should be stored after a timeout")
	}
	if got := f.visits.status(f.visitID); got != visit.StatusPending {
		t.Errorf("visit should be released to pending, got %s", got)
	}
}

func TestGenerate_BMIPrecondition(t *testing.T) {
	f := newFixture(t, scriptedGateway(stageResponses...))

	// Drop the weight so BMI cannot be computed.
	f.visits.mu.Lock()
	f.visits.visits[f.visitID].PreDiagnosis.Weight = nil
	f.visits.mu.Unlock()

	_, err := f.svc.Generate(context.Background(), f.visitID, transcript)
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Stage != StageExercise {
		t.Fatalf("expected stage 4 tag, got %v", err)
	}

	// Stages 1-3 ran; the exercise prompt was never sent.
	if got := f.gateway.calls(); got != 3 {
		t.Errorf("expected 3 model calls, got %d", got)
	}
	if f.records.count() != 0 {
		t.Error("no record should be stored")
	}
	if got := f.visits.status(f.visitID); got != visit.StatusPending {
		t.Errorf("visit should be released to pending, got %s", got)
	}
}

func TestGenerate_MutualExclusion(t *testing.T) {
	gateway := scriptedGateway(stageResponses...)
	gateway.entered = make(chan struct{}, 8)
	gateway.proceed = make(chan struct{})
	f := newFixture(t, gateway)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Generate(context.Background(), f.visitID, transcript)
		done <- err
	}()

	// Wait for the first pipeline to be inside its stage-1 call.
	<-gateway.entered

	_, err := f.svc.Generate(context.Background(), f.visitID, transcript)
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict for the concurrent attempt, got %v", err)
	}

	close(gateway.proceed)
	if err := <-done; err != nil {
		t.Fatalf("first pipeline failed: %v", err)
	}
	if got := f.visits.status(f.visitID); got != visit.StatusCompleted {
		t.Errorf("expected completed visit, got %s", got)
	}
}

func TestGenerate_CompletedVisitConflict(t *testing.T) {
	f := newFixture(t, scriptedGateway(stageResponses...))

	if _, err := f.svc.Generate(context.Background(), f.visitID, transcript); err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, err := f.svc.Generate(context.Background(), f.visitID, transcript)
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict on completed visit, got %v", err)
	}
}

func TestGenerate_AttachFailureReleases(t *testing.T) {
	f := newFixture(t, scriptedGateway(stageResponses...))
	f.records.failErr = errs.Persistence("attach diagnosis", errors.New("connection reset"))

	_, err := f.svc.Generate(context.Background(), f.visitID, transcript)
	if !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if got := f.visits.status(f.visitID); got != visit.StatusPending {
		t.Errorf("visit should be released to pending, got %s", got)
	}
}

func TestCreateDoctorDiagnosis(t *testing.T) {
	f := newFixture(t, scriptedGateway())
	doctorID := uuid.New()

	rec, err := f.svc.CreateDoctorDiagnosis(context.Background(), f.visitID, doctorID, DoctorInput{
		Syndrome:     "脾虚湿阻",
		Prescription: "党参 10g",
		Comments:     "建议两周后复诊",
	})
	if err != nil {
		t.Fatalf("create doctor diagnosis: %v", err)
	}
	if rec.Kind != KindDoctor {
		t.Errorf("expected DOCTOR kind, got %s", rec.Kind)
	}
	if rec.Doctor == nil || rec.Doctor.DoctorID != doctorID {
		t.Errorf("unexpected doctor detail: %+v", rec.Doctor)
	}
	if got := f.visits.status(f.visitID); got != visit.StatusCompleted {
		t.Errorf("expected completed visit, got %s", got)
	}

	if _, err := f.svc.CreateDoctorDiagnosis(context.Background(), f.visitID, doctorID, DoctorInput{}); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("missing syndrome: expected ErrValidation, got %v", err)
	}
}

func TestCreateDoctorDiagnosis_RejectedWhilePipelineRuns(t *testing.T) {
	f := newFixture(t, scriptedGateway())

	f.visits.mu.Lock()
	f.visits.visits[f.visitID].Status = visit.StatusInProgress
	f.visits.mu.Unlock()

	_, err := f.svc.CreateDoctorDiagnosis(context.Background(), f.visitID, uuid.New(), DoctorInput{Syndrome: "脾虚湿阻"})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict while a pipeline holds the visit, got %v", err)
	}
	if f.records.count() != 0 {
		t.Error("no record should be stored")
	}
	if got := f.visits.status(f.visitID); got != visit.StatusInProgress {
		t.Errorf("visit should stay in progress, got %s", got)
	}
}

func TestListByVisit(t *testing.T) {
	f := newFixture(t, scriptedGateway(stageResponses...))

	if _, err := f.svc.Generate(context.Background(), f.visitID, transcript); err != nil {
		t.Fatalf("generate: %v", err)
	}
	records, err := f.svc.ListByVisit(context.Background(), f.visitID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Kind != KindAI {
		t.Errorf("unexpected records: %+v", records)
	}

	if _, err := f.svc.ListByVisit(context.Background(), uuid.New()); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("unknown visit: expected ErrNotFound, got %v", err)
	}
}
