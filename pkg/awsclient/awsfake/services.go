package awsfake

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	apigw "github.com/aws/aws-sdk-go-v2/service/apigateway"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigateway/types"
	apigwv2 "github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	apigwv2types "github.com/aws/aws-sdk-go-v2/service/apigatewayv2/types"
	cw "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// Registry is the fake account's ECR host.
const Registry = Account + ".dkr.ecr." + Region + ".amazonaws.com"

// ECR records repositories. Images are never deleted by anything under test,
// so the fake has no image API.
type ECR struct {
	mu           sync.Mutex
	Repositories map[string]string // name -> uri
	CreateCount  int
	Err          error
}

func NewECR() *ECR {
	return &ECR{Repositories: map[string]string{}}
}

func (e *ECR) DescribeRepositories(ctx context.Context, in *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	out := &ecr.DescribeRepositoriesOutput{}
	for _, name := range in.RepositoryNames {
		uri, ok := e.Repositories[name]
		if !ok {
			return nil, NotFound("RepositoryNotFoundException", "The repository with name '%s' does not exist in the registry with id '%s'", name, Account)
		}
		out.Repositories = append(out.Repositories, ecrtypes.Repository{RepositoryName: aws.String(name), RepositoryUri: aws.String(uri)})
	}
	return out, nil
}

func (e *ECR) CreateRepository(ctx context.Context, in *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	name := aws.ToString(in.RepositoryName)
	uri := Registry + "/" + name
	e.Repositories[name] = uri
	e.CreateCount++
	return &ecr.CreateRepositoryOutput{Repository: &ecrtypes.Repository{RepositoryName: aws.String(name), RepositoryUri: aws.String(uri)}}, nil
}

func (e *ECR) GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return &ecr.GetAuthorizationTokenOutput{AuthorizationData: []ecrtypes.AuthorizationData{{
		AuthorizationToken: aws.String(base64.StdEncoding.EncodeToString([]byte("AWS:fake-token"))),
		ProxyEndpoint:      aws.String("https://" + Registry),
	}}}, nil
}

// IAM records roles and attached policies.
type IAM struct {
	mu       sync.Mutex
	Roles    map[string]string // name -> arn
	Attached map[string][]string
}

func NewIAM() *IAM {
	return &IAM{Roles: map[string]string{}, Attached: map[string][]string{}}
}

func (f *IAM) GetRole(ctx context.Context, in *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	arn, ok := f.Roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, NotFound("NoSuchEntity", "The role with name %s cannot be found.", aws.ToString(in.RoleName))
	}
	return &iam.GetRoleOutput{Role: &iamtypes.Role{RoleName: in.RoleName, Arn: aws.String(arn)}}, nil
}

func (f *IAM) CreateRole(ctx context.Context, in *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.RoleName)
	if _, ok := f.Roles[name]; ok {
		return nil, &smithy.GenericAPIError{Code: "EntityAlreadyExists", Message: "Role with name " + name + " already exists."}
	}
	arn := fmt.Sprintf("arn:aws:iam::%s:role/%s", Account, name)
	f.Roles[name] = arn
	return &iam.CreateRoleOutput{Role: &iamtypes.Role{RoleName: in.RoleName, Arn: aws.String(arn)}}, nil
}

func (f *IAM) AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.RoleName)
	f.Attached[name] = append(f.Attached[name], aws.ToString(in.PolicyArn))
	return &iam.AttachRolePolicyOutput{}, nil
}

// Logs records log groups, retention and canned events.
type Logs struct {
	mu        sync.Mutex
	Groups    map[string]int32 // name -> retention days
	Events    map[string][]cwtypes.FilteredLogEvent
	LastQuery *cw.FilterLogEventsInput
}

func NewLogs() *Logs {
	return &Logs{Groups: map[string]int32{}, Events: map[string][]cwtypes.FilteredLogEvent{}}
}

func (f *Logs) CreateLogGroup(ctx context.Context, in *cw.CreateLogGroupInput, optFns ...func(*cw.Options)) (*cw.CreateLogGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.LogGroupName)
	if _, ok := f.Groups[name]; ok {
		return nil, &smithy.GenericAPIError{Code: "ResourceAlreadyExistsException", Message: "The specified log group already exists"}
	}
	f.Groups[name] = 0
	return &cw.CreateLogGroupOutput{}, nil
}

func (f *Logs) PutRetentionPolicy(ctx context.Context, in *cw.PutRetentionPolicyInput, optFns ...func(*cw.Options)) (*cw.PutRetentionPolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Groups[aws.ToString(in.LogGroupName)] = aws.ToInt32(in.RetentionInDays)
	return &cw.PutRetentionPolicyOutput{}, nil
}

func (f *Logs) FilterLogEvents(ctx context.Context, in *cw.FilterLogEventsInput, optFns ...func(*cw.Options)) (*cw.FilterLogEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LastQuery = in
	events, ok := f.Events[aws.ToString(in.LogGroupName)]
	if !ok {
		return nil, NotFound("ResourceNotFoundException", "The specified log group does not exist.")
	}
	var out []cwtypes.FilteredLogEvent
	for _, ev := range events {
		if in.StartTime != nil && aws.ToInt64(ev.Timestamp) < *in.StartTime {
			continue
		}
		if p := aws.ToString(in.FilterPattern); p != "" && !strings.Contains(aws.ToString(ev.Message), strings.Trim(p, `"`)) {
			continue
		}
		out = append(out, ev)
	}
	return &cw.FilterLogEventsOutput{Events: out}, nil
}

// STS answers GetCallerIdentity with the fake account.
type STS struct {
	Err   error
	Calls int
}

func (f *STS) GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(Account),
		Arn:     aws.String("arn:aws:iam::" + Account + ":user/deployer"),
		UserId:  aws.String("AIDAFAKE"),
	}, nil
}

// APIGateway holds HTTP APIs (v2) and REST APIs (v1) by name.
type APIGateway struct {
	HTTPAPIs map[string]string // name -> endpoint
	RESTAPIs map[string]string // name -> id
	Err      error
}

func NewAPIGateway() *APIGateway {
	return &APIGateway{HTTPAPIs: map[string]string{}, RESTAPIs: map[string]string{}}
}

func (f *APIGateway) GetApis(ctx context.Context, in *apigwv2.GetApisInput, optFns ...func(*apigwv2.Options)) (*apigwv2.GetApisOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := &apigwv2.GetApisOutput{}
	for _, name := range sortedKeys(f.HTTPAPIs) {
		out.Items = append(out.Items, apigwv2types.Api{
			Name:         aws.String(name),
			ApiId:        aws.String("v2" + name),
			ApiEndpoint:  aws.String(f.HTTPAPIs[name]),
			ProtocolType: apigwv2types.ProtocolTypeHttp,
		})
	}
	return out, nil
}

func (f *APIGateway) GetRestApis(ctx context.Context, in *apigw.GetRestApisInput, optFns ...func(*apigw.Options)) (*apigw.GetRestApisOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := &apigw.GetRestApisOutput{}
	for _, name := range sortedKeys(f.RESTAPIs) {
		out.Items = append(out.Items, apigwtypes.RestApi{Name: aws.String(name), Id: aws.String(f.RESTAPIs[name])})
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
