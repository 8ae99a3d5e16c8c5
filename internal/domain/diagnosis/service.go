package diagnosis

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tcmclinic/tcmclinic/internal/domain/patient"
	"github.com/tcmclinic/tcmclinic/internal/domain/visit"
	"github.com/tcmclinic/tcmclinic/internal/errs"
	"github.com/tcmclinic/tcmclinic/internal/platform/llm"
)

// Config bounds the pipeline's execution.
type Config struct {
	StageTimeout  time.Duration // per model call
	StaleAfter    time.Duration // grace before an abandoned in_progress visit may be taken over
	MaxConcurrent int           // pipelines across visits
}

func (c *Config) defaults() {
	if c.StageTimeout <= 0 {
		c.StageTimeout = 2 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
}

// Service orchestrates the four-stage diagnosis pipeline and doctor-written
// diagnoses.
type Service struct {
	visits   visit.Repository
	patients patient.Repository
	records  Repository
	gateway  llm.Gateway
	builder  *Builder
	parser   *Parser
	locks    *lockArena
	sem      chan struct{}
	cfg      Config
	log      zerolog.Logger
}

func NewService(
	visits visit.Repository,
	patients patient.Repository,
	records Repository,
	gateway llm.Gateway,
	cfg Config,
	log zerolog.Logger,
) *Service {
	cfg.defaults()
	return &Service{
		visits:   visits,
		patients: patients,
		records:  records,
		gateway:  gateway,
		builder:  NewBuilder(nil),
		parser:   NewParser(nil),
		locks:    newLockArena(),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		cfg:      cfg,
		log:      log,
	}
}

// Generate runs the full pipeline for a visit and attaches the resulting AI
// diagnosis. A second call while one is running is a conflict. Once the
// pipeline has claimed the visit it no longer observes the caller's
// cancellation; the result is attached server-side regardless.
func (s *Service) Generate(ctx context.Context, visitID uuid.UUID, transcript string) (*DiagnosisRecord, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, errs.Validationf("asr_text is required")
	}

	v, err := s.visits.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, v.PatientID)
	if err != nil {
		return nil, err
	}

	if !s.locks.tryAcquire(visitID) {
		return nil, errs.Conflictf("a diagnosis is already in progress for visit %s", visitID)
	}
	defer s.locks.release(visitID)

	if err := s.visits.BeginPipeline(ctx, visitID, s.cfg.StaleAfter); err != nil {
		return nil, err
	}

	// The visit is claimed; detach from the caller so a dropped client
	// cannot abort a half-run pipeline.
	ctx = context.WithoutCancel(ctx)

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	start := time.Now()
	log := s.log.With().Stringer("visit_id", visitID).Logger()

	pc := PromptContext{
		Transcript: transcript,
		Sex:        p.Sex,
		Age:        p.Age(time.Now()),
	}
	if v.PreDiagnosis != nil {
		pc.Height = v.PreDiagnosis.Height
		pc.Weight = v.PreDiagnosis.Weight
	}

	fail := func(err error) (*DiagnosisRecord, error) {
		if rerr := s.visits.Release(ctx, visitID); rerr != nil {
			log.Error().Err(rerr).Msg("release visit after failed pipeline")
		}
		log.Warn().Err(err).Msg("diagnosis pipeline failed")
		return nil, err
	}

	var modelName string
	runStage := func(stage Stage) (*StageOutput, error) {
		prompt, err := s.builder.Build(stage, pc)
		if err != nil {
			return nil, stageErr(stage, err)
		}
		sctx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
		defer cancel()

		comp, err := s.gateway.Complete(sctx, prompt, stage.Temperature())
		if err != nil {
			return nil, stageErr(stage, err)
		}
		modelName = comp.Model

		out, err := s.parser.Parse(stage, comp.Text)
		if err != nil {
			return nil, stageErr(stage, err)
		}
		log.Info().
			Stringer("stage", stage).
			Dur("latency", comp.Latency).
			Msg("diagnosis stage complete")
		return out, nil
	}

	recOut, err := runStage(StageRecord)
	if err != nil {
		return fail(err)
	}
	pc.Record = recOut.Answer

	synOut, err := runStage(StageSyndrome)
	if err != nil {
		return fail(err)
	}
	pc.Syndrome = synOut.Syndrome

	presOut, err := runStage(StagePrescription)
	if err != nil {
		return fail(err)
	}

	exOut, err := runStage(StageExercise)
	if err != nil {
		return fail(err)
	}

	rec := &DiagnosisRecord{
		VisitID:      visitID,
		Kind:         KindAI,
		Record:       recOut.Answer,
		Syndrome:     synOut.Syndrome,
		Prescription: presOut.Answer,
		ExercisePlan: exOut.Answer,
		AI: &AIDetail{
			Explanation: synOut.Think,
			Elapsed:     time.Since(start).Seconds(),
			Model:       modelName,
		},
	}
	if err := s.records.Attach(ctx, rec); err != nil {
		return fail(err)
	}

	log.Info().
		Str("syndrome", rec.Syndrome).
		Float64("elapsed", rec.AI.Elapsed).
		Msg("diagnosis attached")
	return rec, nil
}

// DoctorInput is a doctor-written diagnosis.
type DoctorInput struct {
	Record       string `json:"record"`
	Syndrome     string `json:"syndrome"`
	Prescription string `json:"prescription"`
	ExercisePlan string `json:"exercise_plan"`
	Comments     string `json:"comments"`
}

// CreateDoctorDiagnosis attaches a doctor diagnosis to a visit.
func (s *Service) CreateDoctorDiagnosis(ctx context.Context, visitID, doctorID uuid.UUID, in DoctorInput) (*DiagnosisRecord, error) {
	if in.Syndrome == "" {
		return nil, errs.Validationf("syndrome is required")
	}
	v, err := s.visits.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if v.Status == visit.StatusInProgress {
		return nil, errs.Conflictf("an AI diagnosis is in progress for visit %s", visitID)
	}

	rec := &DiagnosisRecord{
		VisitID:      visitID,
		Kind:         KindDoctor,
		Record:       in.Record,
		Syndrome:     in.Syndrome,
		Prescription: in.Prescription,
		ExercisePlan: in.ExercisePlan,
		Doctor: &DoctorDetail{
			DoctorID: doctorID,
			Comments: in.Comments,
		},
	}
	if err := s.records.Attach(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByVisit returns all diagnoses attached to a visit, oldest first.
func (s *Service) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*DiagnosisRecord, error) {
	if _, err := s.visits.GetByID(ctx, visitID); err != nil {
		return nil, err
	}
	return s.records.ListByVisit(ctx, visitID)
}
