package cli

import (
	"errors"

	"github.com/vykuang/mh-flight-logs/pipeline"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitGeneric = 1
	ExitFetch   = 2
	ExitStore   = 3
	ExitReport  = 4
)

// ExitCode maps a command error to an exit code. Publish failures never
// reach here because a run with a failed post still succeeds.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) {
		return ExitGeneric
	}
	switch stageErr.Stage {
	case pipeline.StageFetch:
		return ExitFetch
	case pipeline.StageArchive, pipeline.StageNormalize, pipeline.StageStore:
		return ExitStore
	case pipeline.StageReport:
		return ExitReport
	default:
		return ExitGeneric
	}
}
