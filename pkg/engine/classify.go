package engine

import (
	"context"
	"errors"
	"net"

	"github.com/user/sploitprobe/pkg/probe"
	"github.com/user/sploitprobe/pkg/sanitize"
	"github.com/user/sploitprobe/pkg/synth"
)

// ErrorKind is the failure class attached to FAILED transitions and log events.
type ErrorKind string

const (
	KindTransport       ErrorKind = "transport"
	KindMalformedOutput ErrorKind = "malformed_output"
	KindInvalidName     ErrorKind = "invalid_name"
	KindPackaging       ErrorKind = "packaging"
	KindDeployment      ErrorKind = "deployment"
	KindInvocation      ErrorKind = "invocation"
	KindUnexpected      ErrorKind = "unexpected"
)

// Classify maps an error raised at stage to its kind. Error types win over
// the stage; the stage decides only for otherwise unrecognised errors.
func Classify(stage Stage, err error) ErrorKind {
	if err == nil {
		return ""
	}

	var panicErr *PanicError
	var malformed *sanitize.MalformedError
	var invokeErr *probe.InvokeError
	var netErr net.Error
	switch {
	case errors.As(err, &panicErr):
		return KindUnexpected
	case errors.Is(err, probe.ErrInvalidName):
		return KindInvalidName
	case errors.Is(err, sanitize.ErrNoJSONObject), errors.As(err, &malformed), errors.Is(err, synth.ErrEnvelope):
		return KindMalformedOutput
	case errors.As(err, &invokeErr):
		return KindInvocation
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return KindTransport
	}

	switch stage {
	case StageFetch, StageDetail, StageSynthesize, StageTechnologies:
		return KindTransport
	case StageSanitize, StageValidate:
		return KindMalformedOutput
	case StagePackage:
		return KindPackaging
	case StageDeploy:
		return KindDeployment
	case StageInvoke, StageVerdict:
		return KindInvocation
	}
	return KindUnexpected
}
