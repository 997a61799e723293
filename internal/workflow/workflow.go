// Package workflow runs named workflows: sequences of steps bound to
// registered step handlers, with per-step argument templating and condition
// checks against earlier step outcomes. Executions run through the job queue
// so workflow work shares the kernel's single dispatch worker.
package workflow

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"sigs.k8s.io/yaml"

	"objectos/internal/apierr"
)

// Status of an execution or of one step within it.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ArgSpec declares one workflow input argument.
type ArgSpec struct {
	Required    bool        `json:"required,omitempty"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
}

// ConditionExpect states what the referenced step's outcome must look like.
// Success compares against the step having completed; Fields compare against
// the step's stored output.
type ConditionExpect struct {
	Success *bool                  `json:"success,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// Condition gates a step on the outcome of an earlier step. A condition that
// does not hold skips the step rather than failing the workflow.
type Condition struct {
	FromStep string          `json:"fromStep"`
	Expect   ConditionExpect `json:"expect"`
}

// Step is one sequential unit of work. Args may carry {{ input.x }} and
// {{ results.stepId.y }} markers resolved before the handler runs.
type Step struct {
	// ID must be a plain identifier so step results stay addressable in
	// template paths.
	ID           string                 `json:"id"`
	Handler      string                 `json:"handler"`
	Args         map[string]interface{} `json:"args,omitempty"`
	Store        bool                   `json:"store,omitempty"`
	AllowFailure bool                   `json:"allowFailure,omitempty"`
	Condition    *Condition             `json:"condition,omitempty"`
}

// Definition is a named workflow.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Args        map[string]ArgSpec `json:"args,omitempty"`
	Steps       []Step             `json:"steps"`
}

var stepIDPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate collects every structural problem with the definition.
func (d *Definition) Validate() error {
	verr := &apierr.ValidationErrors{}

	if d.Name == "" {
		verr.Add("name", "workflow name is required")
	}
	if len(d.Steps) == 0 {
		verr.Add("steps", "workflow must declare at least one step")
	}

	seen := map[string]bool{}
	for i, step := range d.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		switch {
		case step.ID == "":
			verr.Add(field+".id", "step id is required")
		case !stepIDPattern.MatchString(step.ID):
			verr.Add(field+".id", "step id %q must match %s", step.ID, stepIDPattern.String())
		case seen[step.ID]:
			verr.Add(field+".id", "duplicate step id %q", step.ID)
		}

		if step.Handler == "" {
			verr.Add(field+".handler", "step handler is required")
		}

		if cond := step.Condition; cond != nil {
			if cond.FromStep == "" {
				verr.Add(field+".condition.fromStep", "condition must reference a step")
			} else if !seen[cond.FromStep] {
				verr.Add(field+".condition.fromStep", "condition references %q which is not an earlier step", cond.FromStep)
			}
			if cond.Expect.Success == nil && len(cond.Expect.Fields) == 0 {
				verr.Add(field+".condition.expect", "condition must expect success or at least one field")
			}
		}

		if step.ID != "" {
			seen[step.ID] = true
		}
	}

	return verr.OrNil()
}

// ParseDefinition parses a workflow definition from YAML (or JSON) and
// validates it.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// StepFunc executes one step with its resolved arguments and returns the
// step's output.
type StepFunc func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// StepResult records one step of an execution. Output is kept only for
// steps marked Store.
type StepResult struct {
	ID        string                 `json:"id"`
	Handler   string                 `json:"handler"`
	Status    Status                 `json:"status"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Condition *bool                  `json:"condition,omitempty"`
}

// Execution is one run of a workflow.
type Execution struct {
	ID          string                 `json:"id"`
	Workflow    string                 `json:"workflow"`
	Status      Status                 `json:"status"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Steps       []StepResult           `json:"steps"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt,omitzero"`
	DurationMs  int64                  `json:"durationMs"`
}

func (e *Execution) clone() *Execution {
	c := *e
	c.Steps = append([]StepResult(nil), e.Steps...)
	return &c
}
