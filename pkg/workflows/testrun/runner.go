package testrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// RunInput is the contract every backend runner receives.
type RunInput struct {
	StudentPath       string          `json:"student_path"`
	ReferencePath     string          `json:"reference_path"`
	TestFile          string          `json:"test_file,omitempty"`
	SpecFile          string          `json:"spec_file,omitempty"`
	JobConfig         json.RawMessage `json:"job_config,omitempty"`
	BackendProperties json.RawMessage `json:"backend_properties,omitempty"`
}

// Runner executes one backend's tests.
type Runner interface {
	Run(ctx context.Context, in RunInput) (*RunReport, error)
}

// ExecRunner shells out to an evaluator binary. The input is written to the
// process as JSON on stdin; the process prints a JSON report on stdout.
type ExecRunner struct {
	Command []string
}

func (r *ExecRunner) Run(ctx context.Context, in RunInput) (*RunReport, error) {
	if len(r.Command) == 0 {
		return nil, fmt.Errorf("runner has no command configured")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode runner input: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("evaluator %s failed: %w: %s", r.Command[0], err, stderr.String())
	}

	report := &RunReport{}
	if err := json.Unmarshal(stdout.Bytes(), report); err != nil {
		return nil, fmt.Errorf("evaluator %s produced invalid output: %w", r.Command[0], err)
	}
	return report, nil
}
