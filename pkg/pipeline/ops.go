package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// Status reports the target without touching it. The error is StatusUnknown
// when the function or its health could not be determined.
func (p *Pipeline) Status(ctx context.Context) (types.DeploymentResult, error) {
	if p.Reporter == nil {
		return types.DeploymentResult{Target: p.Target.Name, Health: types.HealthUnknown},
			types.NewError(types.KindStatusUnknown, "no reporter configured")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout(types.StageReporting))
	defer cancel()

	res, err := p.Reporter.Report(log.WithLogger(ctx, p.logger()), p.Target, "")
	res.Target = p.Target.Name
	res.Stage = types.StageReporting
	if err != nil {
		res.ErrorKind = types.KindStatusUnknown
		res.Error = err.Error()
		return res, types.InStage(types.WrapError(types.KindStatusUnknown, err, "status of %s", p.Target.Name), types.StageReporting, types.KindStatusUnknown)
	}
	return res, nil
}

// Remove deletes the target's function after the prerequisites pass. It is
// recorded in the history like any other run.
func (p *Pipeline) Remove(ctx context.Context) (types.DeploymentResult, error) {
	id := uuid.NewString()
	logger := p.logger().With(log.Str(log.RunIDKey, id), log.Str(log.TargetKey, p.Target.Name))
	res := types.DeploymentResult{
		RunID:        id,
		Target:       p.Target.Name,
		FunctionName: p.Target.FunctionName,
		Stage:        types.StageChecking,
		Health:       types.HealthUnknown,
		StartedAt:    p.now(),
	}
	r := &run{id: id, stage: types.StageChecking, result: res, logger: logger}
	ctx = log.WithLogger(ctx, logger)

	if err := p.runStage(ctx, r, types.StageChecking); err != nil {
		return p.fail(ctx, r, err)
	}
	r.checked = true
	if p.Publisher == nil {
		r.stage = types.StagePublishing
		return p.fail(ctx, r, types.NewError(types.KindPublishFailed, "no publisher configured"))
	}

	r.stage = types.StagePublishing
	pctx, cancel := context.WithTimeout(ctx, p.timeout(types.StagePublishing))
	removed, err := p.Publisher.Remove(pctx, p.Target)
	cancel()
	if err != nil {
		return p.fail(ctx, r, types.InStage(err, types.StagePublishing, types.KindPublishFailed))
	}
	if removed {
		r.result.AddMessage("removed function %s", p.Target.FunctionName)
	} else {
		r.result.AddMessage("function %s did not exist", p.Target.FunctionName)
	}
	if p.History != nil {
		if err := p.History.ClearPending(ctx, p.Target.Name); err != nil {
			logger.Debug("Failed to clear pending activation", log.Err(err))
		}
	}
	r.result.Success = true
	r.result.Stage = types.StageSuccess
	r.result.FinishedAt = p.now()
	p.record(ctx, r)
	logger.Info("Remove finished", log.Bool("removed", removed))
	return r.result, nil
}
