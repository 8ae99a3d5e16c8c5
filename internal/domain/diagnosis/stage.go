package diagnosis

import "fmt"

// Stage identifies one step of the diagnosis pipeline. Stages always run in
// order; each consumes the output of the previous one.
type Stage int

const (
	StageRecord       Stage = iota + 1 // transcript -> formatted clinical record
	StageSyndrome                      // record -> syndrome label
	StagePrescription                  // syndrome + record -> herbal prescription
	StageExercise                      // syndrome + BMI -> exercise plan
)

func (s Stage) String() string {
	switch s {
	case StageRecord:
		return "record"
	case StageSyndrome:
		return "syndrome"
	case StagePrescription:
		return "prescription"
	case StageExercise:
		return "exercise"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Temperature returns the sampling temperature used for the stage's model
// call.
func (s Stage) Temperature() float32 {
	switch s {
	case StageRecord:
		return 0.6
	case StageSyndrome, StagePrescription:
		return 0.3
	case StageExercise:
		return 0.5
	default:
		return 0.3
	}
}

// PipelineError tags a failure with the stage it happened in. The underlying
// error keeps its kind for errors.Is checks.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("diagnosis stage %d (%s): %v", int(e.Stage), e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &PipelineError{Stage: stage, Err: err}
}
