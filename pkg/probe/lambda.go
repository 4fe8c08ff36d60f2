package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

const (
	DefaultRuntime = "python3.12"
	DefaultHandler = "lambda_function.lambda_handler"
	DefaultTimeout = 30  // seconds
	DefaultMemory  = 128 // MB

	maxDescription = 256
)

// LambdaAPI is the subset of the Lambda client the deployer and invoker use.
// *lambda.Client satisfies it.
type LambdaAPI interface {
	CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// NewLambdaClient builds a Lambda client from the default AWS credential chain.
func NewLambdaClient(ctx context.Context, region string) (*lambda.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return lambda.NewFromConfig(cfg), nil
}

type DeployConfig struct {
	Role     string
	Runtime  string
	Handler  string
	Timeout  int32 // seconds
	MemoryMB int32
	// ReadyTimeout bounds the wait for a created/updated function to become invocable.
	ReadyTimeout time.Duration
}

func (c DeployConfig) withDefaults() DeployConfig {
	if c.Runtime == "" {
		c.Runtime = DefaultRuntime
	}
	if c.Handler == "" {
		c.Handler = DefaultHandler
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MemoryMB <= 0 {
		c.MemoryMB = DefaultMemory
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 2 * time.Minute
	}
	return c
}

// Deployed describes a registered function.
type Deployed struct {
	Name       string
	ARN        string
	Created    bool // false when an existing function was updated in place
	CodeSHA256 string
	Timeout    int32
	MemoryMB   int32
}

// Deployer creates or updates one function per probe name.
type Deployer struct {
	api LambdaAPI
	cfg DeployConfig
	log *slog.Logger
}

func NewDeployer(api LambdaAPI, cfg DeployConfig, log *slog.Logger) *Deployer {
	if log == nil {
		log = slog.Default()
	}
	return &Deployer{api: api, cfg: cfg.withDefaults(), log: log}
}

// Deploy attempts creation and falls back to a code update when a function
// with that name already exists. Any other failure is returned.
func (d *Deployer) Deploy(ctx context.Context, b Bundle, description string) (Deployed, error) {
	if err := ValidateName(b.Name); err != nil {
		return Deployed{}, err
	}

	created, err := d.api.CreateFunction(ctx, &lambda.CreateFunctionInput{
		FunctionName: aws.String(b.Name),
		Runtime:      types.Runtime(d.cfg.Runtime),
		Role:         aws.String(d.cfg.Role),
		Handler:      aws.String(d.cfg.Handler),
		Code:         &types.FunctionCode{ZipFile: b.Zip},
		Description:  aws.String(truncateDescription(description)),
		Timeout:      aws.Int32(d.cfg.Timeout),
		MemorySize:   aws.Int32(d.cfg.MemoryMB),
	})
	if err == nil {
		d.log.Info("function created", "probe", b.Name)
		if err := d.waitActive(ctx, b.Name); err != nil {
			return Deployed{}, err
		}
		return Deployed{
			Name:       b.Name,
			ARN:        aws.ToString(created.FunctionArn),
			Created:    true,
			CodeSHA256: aws.ToString(created.CodeSha256),
			Timeout:    d.cfg.Timeout,
			MemoryMB:   d.cfg.MemoryMB,
		}, nil
	}

	var conflict *types.ResourceConflictException
	if !errors.As(err, &conflict) {
		return Deployed{}, fmt.Errorf("create function %s: %w", b.Name, err)
	}

	updated, err := d.api.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(b.Name),
		ZipFile:      b.Zip,
	})
	if err != nil {
		return Deployed{}, fmt.Errorf("update function code %s: %w", b.Name, err)
	}
	d.log.Info("function updated", "probe", b.Name)
	if err := d.waitUpdated(ctx, b.Name); err != nil {
		return Deployed{}, err
	}
	return Deployed{
		Name:       b.Name,
		ARN:        aws.ToString(updated.FunctionArn),
		CodeSHA256: aws.ToString(updated.CodeSha256),
		Timeout:    aws.ToInt32(updated.Timeout),
		MemoryMB:   aws.ToInt32(updated.MemorySize),
	}, nil
}

func (d *Deployer) waitActive(ctx context.Context, name string) error {
	w := lambda.NewFunctionActiveV2Waiter(d.api)
	if err := w.Wait(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)}, d.cfg.ReadyTimeout); err != nil {
		return fmt.Errorf("wait for function %s to become active: %w", name, err)
	}
	return nil
}

func (d *Deployer) waitUpdated(ctx context.Context, name string) error {
	w := lambda.NewFunctionUpdatedV2Waiter(d.api)
	if err := w.Wait(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)}, d.cfg.ReadyTimeout); err != nil {
		return fmt.Errorf("wait for function %s update: %w", name, err)
	}
	return nil
}

func truncateDescription(s string) string {
	if len(s) <= maxDescription {
		return s
	}
	cut := maxDescription - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
