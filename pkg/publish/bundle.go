package publish

import (
	"context"
	"os"

	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/types"
)

func (p *Publisher) publishBundle(ctx context.Context, req Request, logger log.Logger) (Result, error) {
	zip, err := os.ReadFile(req.Artifact.Path)
	if err != nil {
		return Result{}, types.WrapError(types.KindPublishFailed, err, "read bundle %s", req.Artifact.Path)
	}

	logger.Info("Uploading bundle", log.Str("artifact", req.Artifact.Path), log.Int("bytes", len(zip)))
	res, err := p.deployFunction(ctx, req, code{zip: zip}, logger)
	if err != nil {
		return res, err
	}
	return res, p.finish(ctx, req, &res, logger)
}

// finish runs the steps shared by both transports after the code is live.
func (p *Publisher) finish(ctx context.Context, req Request, res *Result, logger log.Logger) error {
	if req.Target.Alias != "" {
		if err := p.moveAlias(ctx, req.Target.Alias, res, logger); err != nil {
			return failure(StepAlias, err)
		}
	}
	if req.Function.URL {
		url, err := p.ensureURL(ctx, res.FunctionName, req.Target.Alias)
		if err != nil {
			return failure(StepURL, err)
		}
		res.URL = url
	}
	if err := p.ensureLogRetention(ctx, res.FunctionName, req.Function.LogRetentionDays); err != nil {
		// Retention is housekeeping; the deployment itself succeeded.
		logger.Warn("Failed to apply log retention", log.Err(err))
	}
	logger.Info("Function published",
		log.Str("arn", res.FunctionARN),
		log.Bool("created", res.Created),
		log.Str("url", res.URL))
	return nil
}
