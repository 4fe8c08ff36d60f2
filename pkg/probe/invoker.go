package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// Target is one service a remote probe runs against. Exactly one field is set.
type Target struct {
	IP     string `json:"ip,omitempty" yaml:"ip,omitempty"`
	Domain string `json:"domain,omitempty" yaml:"domain,omitempty"`
}

// Validate enforces that exactly one of IP and Domain is populated.
func (t Target) Validate() error {
	ip, domain := strings.TrimSpace(t.IP), strings.TrimSpace(t.Domain)
	switch {
	case ip == "" && domain == "":
		return errors.New("target needs an ip or a domain")
	case ip != "" && domain != "":
		return fmt.Errorf("target sets both ip %q and domain %q", ip, domain)
	}
	return nil
}

func (t Target) String() string {
	if t.IP != "" {
		return t.IP
	}
	return t.Domain
}

// Payload is the event passed to a probe.
type Payload struct {
	ExploitID string `json:"exploit_id"`
	IP        string `json:"ip,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

// NewPayload builds the event for an advisory; a nil target yields an
// event carrying only the exploit id.
func NewPayload(exploitID string, target *Target) (Payload, error) {
	p := Payload{ExploitID: exploitID}
	if target == nil {
		return p, nil
	}
	if err := target.Validate(); err != nil {
		return Payload{}, err
	}
	p.IP = strings.TrimSpace(target.IP)
	p.Domain = strings.TrimSpace(target.Domain)
	return p, nil
}

// Result is the raw, untrusted output of one invocation.
type Result struct {
	Name            string
	StatusCode      int32
	ExecutedVersion string
	Payload         []byte
}

// InvokeError reports an invocation that reached the function but did not succeed.
type InvokeError struct {
	Name          string
	StatusCode    int32
	FunctionError string
	Payload       []byte
}

func (e *InvokeError) Error() string {
	if e.FunctionError != "" {
		return fmt.Sprintf("probe %s failed (%s): %s", e.Name, e.FunctionError, truncate(string(e.Payload), 200))
	}
	return fmt.Sprintf("probe %s returned status %d", e.Name, e.StatusCode)
}

// Invoker runs deployed probes synchronously. It never retries.
type Invoker struct {
	api LambdaAPI
}

func NewInvoker(api LambdaAPI) *Invoker {
	return &Invoker{api: api}
}

func (i *Invoker) Invoke(ctx context.Context, name string, payload Payload) (Result, error) {
	if err := ValidateName(name); err != nil {
		return Result{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode payload for %s: %w", name, err)
	}

	out, err := i.api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(name),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        body,
	})
	if err != nil {
		return Result{}, fmt.Errorf("invoke %s: %w", name, err)
	}

	if fe := aws.ToString(out.FunctionError); fe != "" || out.StatusCode < 200 || out.StatusCode > 299 {
		return Result{}, &InvokeError{
			Name:          name,
			StatusCode:    out.StatusCode,
			FunctionError: fe,
			Payload:       out.Payload,
		}
	}
	return Result{
		Name:            name,
		StatusCode:      out.StatusCode,
		ExecutedVersion: aws.ToString(out.ExecutedVersion),
		Payload:         out.Payload,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
