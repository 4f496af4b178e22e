// Package pipeline runs one deployment of one target through its stages:
// check, load, build, publish and report. Each stage completes or fails
// before the next starts.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rzbill/lambdeploy/internal/config"
	"github.com/rzbill/lambdeploy/pkg/build"
	"github.com/rzbill/lambdeploy/pkg/history"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/publish"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// Checker verifies prerequisites. *preflight.Checker implements it.
type Checker interface {
	Require(ctx context.Context) error
}

// Builder produces one artifact per call. *build.Builder implements it.
type Builder interface {
	Build(ctx context.Context, req build.Request) (types.Artifact, error)
}

// Publisher delivers artifacts. *publish.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, req publish.Request) (publish.Result, error)
	Activate(ctx context.Context, req publish.Request, imageRef string) (publish.Result, error)
	Remove(ctx context.Context, target types.DeploymentTarget) (bool, error)
}

// Reporter describes a deployed target. *report.Reporter implements it.
type Reporter interface {
	Report(ctx context.Context, target types.DeploymentTarget, knownURL string) (types.DeploymentResult, error)
}

// Transition is one state change of a run.
type Transition struct {
	RunID  string
	Target string
	From   types.Stage
	To     types.Stage
	At     time.Time
	// Err is set when To is StageFailed.
	Err error
}

// Observer is told about every transition, in order, on the run's goroutine.
type Observer func(Transition)

// Mode selects which stages a run goes through.
type Mode string

const (
	ModeCheck    Mode = "check"
	ModeBuild    Mode = "build"
	ModePublish  Mode = "publish"
	ModeDeploy   Mode = "deploy"
	ModeActivate Mode = "activate"
)

func (m Mode) stages() []types.Stage {
	switch m {
	case ModeCheck:
		return []types.Stage{types.StageChecking}
	case ModeBuild:
		return []types.Stage{types.StageChecking, types.StageLoading, types.StageBuilding}
	case ModePublish, ModeActivate:
		return []types.Stage{types.StageChecking, types.StageLoading, types.StagePublishing, types.StageReporting}
	default:
		return []types.Stage{types.StageChecking, types.StageLoading, types.StageBuilding, types.StagePublishing, types.StageReporting}
	}
}

// Pipeline holds the collaborators for runs against one target. A Pipeline
// is not safe for concurrent runs; nothing coordinates two processes
// deploying the same target.
type Pipeline struct {
	Config *config.Config
	Target types.DeploymentTarget

	Checker   Checker
	Builder   Builder
	Publisher Publisher
	Reporter  Reporter
	// History is optional.
	History history.Store

	// EnvFile overrides the configured environment file.
	EnvFile string
	// Export receives every loaded pair; nil leaves the process environment
	// alone.
	Export func(key, value string) error

	Observers []Observer
	Logger    log.Logger
	Now       func() time.Time
}

// Observe adds an observer.
func (p *Pipeline) Observe(o Observer) {
	p.Observers = append(p.Observers, o)
}

// run is the state of one execution.
type run struct {
	id       string
	mode     Mode
	stage    types.Stage
	result   types.DeploymentResult
	config   *types.DeploymentConfig
	artifact types.Artifact
	logger   log.Logger
	// checked is set once the Checking stage passed.
	checked bool
}

// Run executes mode. The result is always filled in; err is the failing
// stage's error, or nil on success. A Reporting failure never fails the
// run: it is recorded on the result as StatusUnknown.
func (p *Pipeline) Run(ctx context.Context, mode Mode) (types.DeploymentResult, error) {
	r := &run{
		id:    uuid.NewString(),
		mode:  mode,
		stage: types.StageStart,
	}
	r.logger = p.logger().With(log.Str(log.RunIDKey, r.id), log.Str(log.TargetKey, p.Target.Name))
	ctx = log.WithLogger(ctx, r.logger)
	r.result = types.DeploymentResult{
		RunID:        r.id,
		Target:       p.Target.Name,
		FunctionName: p.Target.FunctionName,
		Stage:        types.StageStart,
		Health:       types.HealthUnknown,
		StartedAt:    p.now(),
	}
	r.logger.Info("Starting run", log.Str("mode", string(mode)))

	for _, stage := range mode.stages() {
		if err := ctx.Err(); err != nil {
			r.stage = stage
			return p.fail(ctx, r, types.WrapError(fallbackKind(stage), err, "cancelled before %s", stage))
		}
		p.transition(r, stage, nil)

		err := p.runStage(ctx, r, stage)
		if err == nil {
			r.checked = r.checked || stage == types.StageChecking
			continue
		}
		if stage == types.StageReporting {
			r.result.ErrorKind = types.KindOf(err)
			r.result.AddMessage("status: %v", err)
			r.logger.Warn("Status unavailable", log.Err(err))
			continue
		}
		return p.fail(ctx, r, err)
	}

	r.result.Success = true
	r.result.FinishedAt = p.now()
	p.transition(r, types.StageSuccess, nil)
	r.logger.Info("Run succeeded", log.F("health", r.result.Health), log.Duration("duration", r.result.FinishedAt.Sub(r.result.StartedAt)))
	p.record(ctx, r)
	return r.result, nil
}

func (p *Pipeline) fail(ctx context.Context, r *run, err error) (types.DeploymentResult, error) {
	failed := r.stage
	err = types.InStage(err, failed, fallbackKind(failed))
	r.result.Success = false
	r.result.ErrorKind = types.KindOf(err)
	r.result.Error = err.Error()
	r.result.FinishedAt = p.now()
	p.transition(r, types.StageFailed, err)
	r.logger.Error("Run failed", log.Str(log.StageKey, string(failed)), log.Str("kind", string(r.result.ErrorKind)), log.Err(err))
	p.record(ctx, r)
	return r.result, err
}

func (p *Pipeline) runStage(ctx context.Context, r *run, stage types.Stage) error {
	sctx, cancel := context.WithTimeout(ctx, p.timeout(stage))
	defer cancel()

	var err error
	switch stage {
	case types.StageChecking:
		err = p.check(sctx, r)
	case types.StageLoading:
		err = p.load(sctx, r)
	case types.StageBuilding:
		err = p.build(sctx, r)
	case types.StagePublishing:
		if r.mode == ModeActivate {
			err = p.activate(sctx, r)
		} else {
			err = p.publish(sctx, r)
		}
	case types.StageReporting:
		err = p.report(sctx, r)
	}
	if errors.Is(sctx.Err(), context.DeadlineExceeded) && !types.IsKind(err, types.KindPartialPublish) && !types.IsKind(err, types.KindTimeout) {
		err = types.WrapError(types.KindTimeout, sctx.Err(), "%s did not finish within %s", stage, p.timeout(stage))
	}
	return types.InStage(err, stage, fallbackKind(stage))
}

func (p *Pipeline) transition(r *run, to types.Stage, err error) {
	t := Transition{RunID: r.id, Target: p.Target.Name, From: r.stage, To: to, At: p.now(), Err: err}
	r.stage = to
	r.result.Stage = to
	r.logger.Debug("Stage transition", log.Str("from", string(t.From)), log.Str("to", string(t.To)))
	for _, o := range p.Observers {
		o(t)
	}
}

// record stores the run. Check-only runs and runs stopped by their
// prerequisites are not recorded.
func (p *Pipeline) record(ctx context.Context, r *run) {
	if p.History == nil || !r.checked || r.mode == ModeCheck {
		return
	}
	if err := p.History.Record(context.WithoutCancel(ctx), r.result); err != nil {
		r.logger.Warn("Failed to record run", log.Err(err))
	}
}

func (p *Pipeline) timeout(stage types.Stage) time.Duration {
	t := p.Config.Timeouts
	var d time.Duration
	switch stage {
	case types.StageChecking, types.StageLoading:
		d = t.Check
	case types.StageBuilding:
		d = t.Build
	case types.StagePublishing:
		d = t.Publish
	case types.StageReporting:
		d = t.Status
	}
	if d <= 0 {
		d = 10 * time.Minute
	}
	return d
}

func fallbackKind(stage types.Stage) types.ErrorKind {
	switch stage {
	case types.StageChecking:
		return types.KindPrerequisiteMissing
	case types.StageLoading:
		return types.KindConfigIncomplete
	case types.StageBuilding:
		return types.KindBuildFailed
	case types.StageReporting:
		return types.KindStatusUnknown
	default:
		return types.KindPublishFailed
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Pipeline) logger() log.Logger {
	if p.Logger == nil {
		return log.WithComponent("pipeline")
	}
	return p.Logger
}
