// Package probetest provides an in-memory Lambda API for tests.
package probetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// Function is one registered function.
type Function struct {
	Name        string
	Runtime     string
	Role        string
	Handler     string
	Description string
	Timeout     int32
	MemoryMB    int32
	Zip         []byte
	Updates     int
}

// Call records one invocation.
type Call struct {
	Name    string
	Payload map[string]any
}

// Handler produces the payload of an invocation. A non-empty functionError
// simulates an unhandled exception inside the function.
type Handler func(name string, payload map[string]any) (out []byte, functionError string)

// FakeLambda implements probe.LambdaAPI.
type FakeLambda struct {
	mu        sync.Mutex
	functions map[string]*Function
	calls     []Call

	// Handle answers invocations; the default reports "not vulnerable".
	Handle Handler
	// CreateErr, when set, is returned by CreateFunction for every name.
	CreateErr error
	// InvokeErr, when set, is returned by Invoke for every name.
	InvokeErr error
}

func NewFakeLambda() *FakeLambda {
	return &FakeLambda{functions: make(map[string]*Function)}
}

func (f *FakeLambda) CreateFunction(_ context.Context, in *lambda.CreateFunctionInput, _ ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	name := aws.ToString(in.FunctionName)
	if _, ok := f.functions[name]; ok {
		return nil, &types.ResourceConflictException{Message: aws.String("Function already exist: " + name)}
	}
	fn := &Function{
		Name:        name,
		Runtime:     string(in.Runtime),
		Role:        aws.ToString(in.Role),
		Handler:     aws.ToString(in.Handler),
		Description: aws.ToString(in.Description),
		Timeout:     aws.ToInt32(in.Timeout),
		MemoryMB:    aws.ToInt32(in.MemorySize),
	}
	if in.Code != nil {
		fn.Zip = in.Code.ZipFile
	}
	f.functions[name] = fn
	return &lambda.CreateFunctionOutput{
		FunctionName: aws.String(name),
		FunctionArn:  aws.String(arn(name)),
		State:        types.StatePending,
	}, nil
}

func (f *FakeLambda) UpdateFunctionCode(_ context.Context, in *lambda.UpdateFunctionCodeInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.FunctionName)
	fn, ok := f.functions[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Function not found: " + name)}
	}
	fn.Zip = in.ZipFile
	fn.Updates++
	return &lambda.UpdateFunctionCodeOutput{
		FunctionName: aws.String(name),
		FunctionArn:  aws.String(arn(name)),
		Timeout:      aws.Int32(fn.Timeout),
		MemorySize:   aws.Int32(fn.MemoryMB),
	}, nil
}

func (f *FakeLambda) GetFunction(_ context.Context, in *lambda.GetFunctionInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.FunctionName)
	if _, ok := f.functions[name]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Function not found: " + name)}
	}
	return &lambda.GetFunctionOutput{
		Configuration: &types.FunctionConfiguration{
			FunctionName:     aws.String(name),
			FunctionArn:      aws.String(arn(name)),
			State:            types.StateActive,
			LastUpdateStatus: types.LastUpdateStatusSuccessful,
		},
	}, nil
}

func (f *FakeLambda) Invoke(_ context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InvokeErr != nil {
		return nil, f.InvokeErr
	}
	name := aws.ToString(in.FunctionName)
	if _, ok := f.functions[name]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Function not found: " + name)}
	}
	var payload map[string]any
	if err := json.Unmarshal(in.Payload, &payload); err != nil {
		return nil, fmt.Errorf("fake lambda: bad payload: %w", err)
	}
	f.calls = append(f.calls, Call{Name: name, Payload: payload})

	handle := f.Handle
	if handle == nil {
		handle = func(string, map[string]any) ([]byte, string) {
			return []byte(`{"verdict":"not vulnerable","description":"baseline and injected responses match"}`), ""
		}
	}
	out, fnErr := handle(name, payload)
	res := &lambda.InvokeOutput{StatusCode: 200, Payload: out, ExecutedVersion: aws.String("$LATEST")}
	if fnErr != "" {
		res.FunctionError = aws.String(fnErr)
	}
	return res, nil
}

// Function returns a copy of the registered function.
func (f *FakeLambda) Function(name string) (Function, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, ok := f.functions[name]
	if !ok {
		return Function{}, false
	}
	return *fn, true
}

// Count returns the number of registered functions.
func (f *FakeLambda) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.functions)
}

// Calls returns the invocations seen so far.
func (f *FakeLambda) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func arn(name string) string {
	return "arn:aws:lambda:us-east-1:000000000000:function:" + name
}
