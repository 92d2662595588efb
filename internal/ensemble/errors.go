package ensemble

import (
	"fmt"
)

// Stage names the phase of a run that failed.
type Stage string

// Stages.
const (
	StageBuild    Stage = "build"
	StageTrain    Stage = "train"
	StageEval     Stage = "eval"
	StageEnsemble Stage = "ensemble"
	StageSubmit   Stage = "submit"
)

// StageError attributes a failure to a stage and, for per-member stages, to
// the ensemble member. Member is -1 when the failure is not tied to one.
type StageError struct {
	Stage  Stage
	Member int
	Err    error
}

func (e *StageError) Error() string {
	if e.Member >= 0 {
		return fmt.Sprintf("%s (member %d): %v", e.Stage, e.Member, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors.Cause see through the stage.
func (e *StageError) Cause() error { return e.Err }

func stageErr(stage Stage, member int, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Member: member, Err: err}
}
