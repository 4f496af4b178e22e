package cmd

import (
	"errors"

	"github.com/rzbill/lambdeploy/pkg/types"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitPrerequisite = 1
	ExitBuild        = 2
	ExitPublish      = 3
	ExitConfig       = 4
	ExitStatus       = 5
	ExitOther        = 10
)

// ExitCode maps an error to the exit code of the stage it failed in. A
// timeout takes its stage's code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var e *types.Error
	if !errors.As(err, &e) {
		return ExitOther
	}
	switch e.Kind {
	case types.KindConfigNotFound, types.KindConfigIncomplete:
		return ExitConfig
	case types.KindPrerequisiteMissing:
		return ExitPrerequisite
	case types.KindBuildFailed:
		return ExitBuild
	case types.KindAuthenticationFailed, types.KindPublishFailed, types.KindPartialPublish:
		return ExitPublish
	case types.KindStatusUnknown:
		return ExitStatus
	case types.KindTimeout:
		return stageCode(e.Stage)
	}
	return ExitOther
}

func stageCode(stage types.Stage) int {
	switch stage {
	case types.StageChecking:
		return ExitPrerequisite
	case types.StageLoading:
		return ExitConfig
	case types.StageBuilding:
		return ExitBuild
	case types.StagePublishing:
		return ExitPublish
	case types.StageReporting:
		return ExitStatus
	}
	return ExitOther
}
