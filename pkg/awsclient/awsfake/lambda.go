// Package awsfake provides in-memory AWS service fakes for tests.
package awsfake

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/smithy-go"
)

const (
	Account = "123456789012"
	Region  = "us-east-1"
)

// NotFound returns the error AWS services use for missing resources.
func NotFound(code, format string, args ...interface{}) error {
	return &smithy.GenericAPIError{Code: code, Message: fmt.Sprintf(format, args...), Fault: smithy.FaultClient}
}

// Function is the fake's record of one function.
type Function struct {
	Config   lambdatypes.FunctionConfiguration
	Zip      []byte
	ImageURI string
	Versions int
	Aliases  map[string]string
	URLs     map[string]string // qualifier -> url
	Policies []string
}

// Lambda is an in-memory Lambda control plane.
type Lambda struct {
	mu        sync.Mutex
	Functions map[string]*Function
	Calls     []string

	CreateCount     int
	CodeUpdateCount int

	// Injected failures by operation name.
	Errors map[string]error
}

func NewLambda() *Lambda {
	return &Lambda{Functions: map[string]*Function{}, Errors: map[string]error{}}
}

func (l *Lambda) call(op string) error {
	l.Calls = append(l.Calls, op)
	return l.Errors[op]
}

func (l *Lambda) arn(name string) string {
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", Region, Account, name)
}

func (l *Lambda) lookup(name *string) (*Function, error) {
	fn, ok := l.Functions[aws.ToString(name)]
	if !ok {
		return nil, NotFound("ResourceNotFoundException", "Function not found: %s", l.arn(aws.ToString(name)))
	}
	return fn, nil
}

// Names returns the function names, sorted.
func (l *Lambda) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.Functions))
	for n := range l.Functions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (l *Lambda) GetFunction(ctx context.Context, in *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("GetFunction"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	cfg := fn.Config
	out := &lambda.GetFunctionOutput{Configuration: &cfg}
	if fn.ImageURI != "" {
		out.Code = &lambdatypes.FunctionCodeLocation{ImageUri: aws.String(fn.ImageURI), RepositoryType: aws.String("ECR")}
	}
	return out, nil
}

func (l *Lambda) GetFunctionConfiguration(ctx context.Context, in *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("GetFunctionConfiguration"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	c := fn.Config
	return &lambda.GetFunctionConfigurationOutput{
		FunctionName:           c.FunctionName,
		FunctionArn:            c.FunctionArn,
		State:                  c.State,
		LastUpdateStatus:       c.LastUpdateStatus,
		LastUpdateStatusReason: c.LastUpdateStatusReason,
		PackageType:            c.PackageType,
	}, nil
}

func (l *Lambda) CreateFunction(ctx context.Context, in *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("CreateFunction"); err != nil {
		return nil, err
	}
	name := aws.ToString(in.FunctionName)
	if _, ok := l.Functions[name]; ok {
		return nil, &smithy.GenericAPIError{Code: "ResourceConflictException", Message: "Function already exist: " + name}
	}
	l.CreateCount++
	fn := &Function{
		Config: lambdatypes.FunctionConfiguration{
			FunctionName:     aws.String(name),
			FunctionArn:      aws.String(l.arn(name)),
			Role:             in.Role,
			Runtime:          in.Runtime,
			Handler:          in.Handler,
			MemorySize:       in.MemorySize,
			Timeout:          in.Timeout,
			PackageType:      in.PackageType,
			Architectures:    in.Architectures,
			Version:          aws.String("$LATEST"),
			State:            lambdatypes.StateActive,
			LastUpdateStatus: lambdatypes.LastUpdateStatusSuccessful,
			LastModified:     aws.String("2026-01-01T00:00:00.000+0000"),
		},
		Aliases: map[string]string{},
		URLs:    map[string]string{},
	}
	if in.Environment != nil {
		fn.Config.Environment = &lambdatypes.EnvironmentResponse{Variables: in.Environment.Variables}
	}
	if in.Code != nil {
		fn.Zip = in.Code.ZipFile
		fn.ImageURI = aws.ToString(in.Code.ImageUri)
	}
	if fn.Config.PackageType == "" {
		fn.Config.PackageType = lambdatypes.PackageTypeZip
	}
	l.Functions[name] = fn
	return &lambda.CreateFunctionOutput{FunctionName: aws.String(name), FunctionArn: aws.String(l.arn(name))}, nil
}

func (l *Lambda) UpdateFunctionConfiguration(ctx context.Context, in *lambda.UpdateFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("UpdateFunctionConfiguration"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	if in.Environment != nil {
		fn.Config.Environment = &lambdatypes.EnvironmentResponse{Variables: in.Environment.Variables}
	}
	if in.MemorySize != nil {
		fn.Config.MemorySize = in.MemorySize
	}
	if in.Handler != nil {
		fn.Config.Handler = in.Handler
	}
	return &lambda.UpdateFunctionConfigurationOutput{FunctionArn: fn.Config.FunctionArn}, nil
}

func (l *Lambda) UpdateFunctionCode(ctx context.Context, in *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("UpdateFunctionCode"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	l.CodeUpdateCount++
	if in.ZipFile != nil {
		fn.Zip = in.ZipFile
	}
	if in.ImageUri != nil {
		fn.ImageURI = aws.ToString(in.ImageUri)
	}
	return &lambda.UpdateFunctionCodeOutput{FunctionArn: fn.Config.FunctionArn}, nil
}

func (l *Lambda) PublishVersion(ctx context.Context, in *lambda.PublishVersionInput, optFns ...func(*lambda.Options)) (*lambda.PublishVersionOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("PublishVersion"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	fn.Versions++
	return &lambda.PublishVersionOutput{Version: aws.String(strconv.Itoa(fn.Versions)), FunctionArn: fn.Config.FunctionArn}, nil
}

func (l *Lambda) GetAlias(ctx context.Context, in *lambda.GetAliasInput, optFns ...func(*lambda.Options)) (*lambda.GetAliasOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("GetAlias"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	v, ok := fn.Aliases[aws.ToString(in.Name)]
	if !ok {
		return nil, NotFound("ResourceNotFoundException", "Alias not found: %s", aws.ToString(in.Name))
	}
	return &lambda.GetAliasOutput{Name: in.Name, FunctionVersion: aws.String(v)}, nil
}

func (l *Lambda) CreateAlias(ctx context.Context, in *lambda.CreateAliasInput, optFns ...func(*lambda.Options)) (*lambda.CreateAliasOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("CreateAlias"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	fn.Aliases[aws.ToString(in.Name)] = aws.ToString(in.FunctionVersion)
	return &lambda.CreateAliasOutput{Name: in.Name, FunctionVersion: in.FunctionVersion}, nil
}

func (l *Lambda) UpdateAlias(ctx context.Context, in *lambda.UpdateAliasInput, optFns ...func(*lambda.Options)) (*lambda.UpdateAliasOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("UpdateAlias"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	fn.Aliases[aws.ToString(in.Name)] = aws.ToString(in.FunctionVersion)
	return &lambda.UpdateAliasOutput{Name: in.Name, FunctionVersion: in.FunctionVersion}, nil
}

func (l *Lambda) GetFunctionUrlConfig(ctx context.Context, in *lambda.GetFunctionUrlConfigInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionUrlConfigOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("GetFunctionUrlConfig"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	url, ok := fn.URLs[aws.ToString(in.Qualifier)]
	if !ok {
		return nil, NotFound("ResourceNotFoundException", "The resource you requested does not exist.")
	}
	return &lambda.GetFunctionUrlConfigOutput{FunctionUrl: aws.String(url), AuthType: lambdatypes.FunctionUrlAuthTypeNone}, nil
}

func (l *Lambda) CreateFunctionUrlConfig(ctx context.Context, in *lambda.CreateFunctionUrlConfigInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionUrlConfigOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("CreateFunctionUrlConfig"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("https://%s.lambda-url.%s.on.aws/", aws.ToString(in.FunctionName), Region)
	fn.URLs[aws.ToString(in.Qualifier)] = url
	return &lambda.CreateFunctionUrlConfigOutput{FunctionUrl: aws.String(url), AuthType: in.AuthType}, nil
}

// SetURL makes a function report url, e.g. an httptest server.
func (l *Lambda) SetURL(name, qualifier, url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fn, ok := l.Functions[name]; ok {
		fn.URLs[qualifier] = url
	}
}

func (l *Lambda) AddPermission(ctx context.Context, in *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("AddPermission"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	sid := aws.ToString(in.StatementId)
	for _, p := range fn.Policies {
		if p == sid {
			return nil, &smithy.GenericAPIError{Code: "ResourceConflictException", Message: "The statement id provided already exists."}
		}
	}
	fn.Policies = append(fn.Policies, sid)
	return &lambda.AddPermissionOutput{}, nil
}

func (l *Lambda) DeleteFunctionUrlConfig(ctx context.Context, in *lambda.DeleteFunctionUrlConfigInput, optFns ...func(*lambda.Options)) (*lambda.DeleteFunctionUrlConfigOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("DeleteFunctionUrlConfig"); err != nil {
		return nil, err
	}
	fn, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	q := aws.ToString(in.Qualifier)
	if _, ok := fn.URLs[q]; !ok {
		return nil, NotFound("ResourceNotFoundException", "The resource you requested does not exist.")
	}
	delete(fn.URLs, q)
	return &lambda.DeleteFunctionUrlConfigOutput{}, nil
}

func (l *Lambda) DeleteFunction(ctx context.Context, in *lambda.DeleteFunctionInput, optFns ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.call("DeleteFunction"); err != nil {
		return nil, err
	}
	if _, err := l.lookup(in.FunctionName); err != nil {
		return nil, err
	}
	delete(l.Functions, aws.ToString(in.FunctionName))
	return &lambda.DeleteFunctionOutput{}, nil
}
