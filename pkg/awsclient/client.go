// Package awsclient builds the AWS service clients lambdeploy talks to.
package awsclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	apigw "github.com/aws/aws-sdk-go-v2/service/apigateway"
	apigwv2 "github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	cw "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rzbill/lambdeploy/pkg/lazy"
	"github.com/rzbill/lambdeploy/pkg/version"
)

// Clients holds one region's service clients.
type Clients struct {
	Config  aws.Config
	Region  string
	Lambda  *lambda.Client
	ECR     *ecr.Client
	STS     *sts.Client
	IAM     *iam.Client
	CWLogs  *cw.Client
	APIGW   *apigw.Client   // REST API (v1)
	APIGWv2 *apigwv2.Client // HTTP API (v2)
}

// New loads the default credential chain for region and builds every client.
// It does not call AWS.
func New(ctx context.Context, region string) (*Clients, error) {
	opts := []func(*config.LoadOptions) error{config.WithAppID(version.AppID())}
	if strings.TrimSpace(region) != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &Clients{
		Config:  cfg,
		Region:  cfg.Region,
		Lambda:  lambda.NewFromConfig(cfg),
		ECR:     ecr.NewFromConfig(cfg),
		STS:     sts.NewFromConfig(cfg),
		IAM:     iam.NewFromConfig(cfg),
		CWLogs:  cw.NewFromConfig(cfg),
		APIGW:   apigw.NewFromConfig(cfg),
		APIGWv2: apigwv2.NewFromConfig(cfg),
	}, nil
}

// Lazy defers New until a command actually needs AWS.
func Lazy(region string) *lazy.Value[*Clients] {
	return lazy.New(func(ctx context.Context) (*Clients, error) {
		return New(ctx, region)
	})
}

// Identity is the caller identity returned by STS.
type Identity struct {
	Account string
	ARN     string
	UserID  string
}

// IdentityAPI is the STS subset used by the credential probe.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// CallerIdentity asks STS who the configured credentials belong to.
func CallerIdentity(ctx context.Context, api IdentityAPI) (Identity, error) {
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, fmt.Errorf("getting caller identity: %w", err)
	}
	return Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}
