// Package report describes a deployed function and probes its health. It
// never changes remote state.
package report

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	apigw "github.com/aws/aws-sdk-go-v2/service/apigateway"
	apigwv2 "github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/rzbill/lambdeploy/pkg/awsclient"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// FunctionAPI is the read-only Lambda subset used for reporting.
type FunctionAPI interface {
	GetFunction(ctx context.Context, in *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	GetFunctionUrlConfig(ctx context.Context, in *lambda.GetFunctionUrlConfigInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionUrlConfigOutput, error)
}

// HTTPAPIs lists API Gateway v2 APIs.
type HTTPAPIs interface {
	GetApis(ctx context.Context, in *apigwv2.GetApisInput, optFns ...func(*apigwv2.Options)) (*apigwv2.GetApisOutput, error)
}

// RESTAPIs lists API Gateway v1 REST APIs.
type RESTAPIs interface {
	GetRestApis(ctx context.Context, in *apigw.GetRestApisInput, optFns ...func(*apigw.Options)) (*apigw.GetRestApisOutput, error)
}

// Reporter builds DeploymentResults for targets. HTTPAPIs and RESTAPIs are
// optional URL sources.
type Reporter struct {
	Lambda     FunctionAPI
	HTTPAPIs   HTTPAPIs
	RESTAPIs   RESTAPIs
	HTTPClient *http.Client
	HealthPath string
	Logger     log.Logger
}

// Report describes target's function and probes URL + HealthPath. knownURL,
// when set, skips URL discovery. The result is always usable; the error is
// StatusUnknown when the state or health could not be determined.
func (r *Reporter) Report(ctx context.Context, target types.DeploymentTarget, knownURL string) (types.DeploymentResult, error) {
	logger := r.logger(ctx).With(log.Str(log.TargetKey, target.Name), log.Str("function", target.FunctionName))
	res := types.DeploymentResult{
		Target:       target.Name,
		FunctionName: target.FunctionName,
		Health:       types.HealthUnknown,
	}

	qualifier := optional(target.Alias)
	out, err := r.Lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(target.FunctionName), Qualifier: qualifier})
	if err != nil {
		if awsclient.IsNotFound(err) {
			return res, unknown(err, "function %s does not exist", target.FunctionName)
		}
		return res, unknown(err, "describe function %s", target.FunctionName)
	}
	if c := out.Configuration; c != nil {
		res.FunctionARN = aws.ToString(c.FunctionArn)
		res.Version = aws.ToString(c.Version)
		res.State = string(c.State)
		res.LastModified = aws.ToString(c.LastModified)
		if c.LastUpdateStatus != "" {
			res.AddMessage("last update: %s", c.LastUpdateStatus)
		}
	}
	if out.Code != nil && out.Code.ImageUri != nil {
		res.Artifact = aws.ToString(out.Code.ImageUri)
	}

	res.URL = knownURL
	if res.URL == "" {
		res.URL = r.discoverURL(ctx, target, logger)
	}
	if res.URL == "" {
		return res, types.NewError(types.KindStatusUnknown, "no public URL found for %s", target.FunctionName)
	}

	probe := r.probe(ctx, res.URL)
	res.AddMessage("%s", probe.Message)
	logger.Debug("Health probe finished", log.Str("url", res.URL), log.Bool("healthy", probe.Healthy), log.Duration("duration", probe.Duration))
	if probe.Err != nil {
		return res, unknown(probe.Err, "health probe")
	}
	if probe.Healthy {
		res.Health = types.HealthHealthy
	} else {
		res.Health = types.HealthUnhealthy
	}
	return res, nil
}

// discoverURL tries the Function URL, then an HTTP API, then a REST API
// named after the target.
func (r *Reporter) discoverURL(ctx context.Context, target types.DeploymentTarget, logger log.Logger) string {
	furl, err := r.Lambda.GetFunctionUrlConfig(ctx, &lambda.GetFunctionUrlConfigInput{
		FunctionName: aws.String(target.FunctionName),
		Qualifier:    optional(target.Alias),
	})
	if err == nil && aws.ToString(furl.FunctionUrl) != "" {
		return aws.ToString(furl.FunctionUrl)
	}
	if err != nil && !awsclient.IsNotFound(err) {
		logger.Debug("Function URL lookup failed", log.Err(err))
	}

	if target.APIName == "" {
		return ""
	}
	if r.HTTPAPIs != nil {
		if u, err := findHTTPAPI(ctx, r.HTTPAPIs, target.APIName); err != nil {
			logger.Debug("HTTP API lookup failed", log.Err(err))
		} else if u != "" {
			return u
		}
	}
	if r.RESTAPIs != nil {
		if id, err := findRESTAPI(ctx, r.RESTAPIs, target.APIName); err != nil {
			logger.Debug("REST API lookup failed", log.Err(err))
		} else if id != "" {
			return fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s", id, target.Region, target.Name)
		}
	}
	return ""
}

func findHTTPAPI(ctx context.Context, api HTTPAPIs, name string) (string, error) {
	in := &apigwv2.GetApisInput{}
	for {
		out, err := api.GetApis(ctx, in)
		if err != nil {
			return "", err
		}
		for _, item := range out.Items {
			if aws.ToString(item.Name) == name {
				return aws.ToString(item.ApiEndpoint), nil
			}
		}
		if aws.ToString(out.NextToken) == "" {
			return "", nil
		}
		in.NextToken = out.NextToken
	}
}

func findRESTAPI(ctx context.Context, api RESTAPIs, name string) (string, error) {
	in := &apigw.GetRestApisInput{Limit: aws.Int32(500)}
	for {
		out, err := api.GetRestApis(ctx, in)
		if err != nil {
			return "", err
		}
		for _, item := range out.Items {
			if aws.ToString(item.Name) == name {
				return aws.ToString(item.Id), nil
			}
		}
		if aws.ToString(out.Position) == "" {
			return "", nil
		}
		in.Position = out.Position
	}
}

// ProbeResult is the outcome of one health request.
type ProbeResult struct {
	Healthy  bool
	Status   int
	Message  string
	Duration time.Duration
	// Err is set when no response was received.
	Err error
}

func (r *Reporter) probe(ctx context.Context, base string) ProbeResult {
	start := time.Now()
	url := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(r.HealthPath, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{Message: fmt.Sprintf("invalid health URL %s", url), Err: err, Duration: time.Since(start)}
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return ProbeResult{Message: fmt.Sprintf("health check %s failed", url), Err: err, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return ProbeResult{
			Healthy:  true,
			Status:   resp.StatusCode,
			Message:  fmt.Sprintf("health check %s returned %d", url, resp.StatusCode),
			Duration: time.Since(start),
		}
	}
	return ProbeResult{
		Status:   resp.StatusCode,
		Message:  fmt.Sprintf("health check %s returned non-success status %d", url, resp.StatusCode),
		Duration: time.Since(start),
	}
}

func (r *Reporter) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	// Redirects count as healthy, so they are not followed.
	return &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (r *Reporter) logger(ctx context.Context) log.Logger {
	if r.Logger == nil {
		return log.FromContext(ctx).WithComponent("report")
	}
	return r.Logger
}

func unknown(cause error, format string, args ...interface{}) error {
	e := types.WrapError(types.KindStatusUnknown, cause, format, args...)
	// A deadline while reporting is still only an unknown status.
	e.Kind = types.KindStatusUnknown
	return e
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
