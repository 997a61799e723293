package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"objectos/internal/apierr"
	"objectos/internal/template"
	"objectos/pkg/logging"
)

// EmitFunc publishes a workflow lifecycle event. Emission happens outside
// the engine lock.
type EmitFunc func(ctx context.Context, topic string, payload map[string]interface{}) error

// Resolver maps a step handler name to its implementation. The workflows
// plugin backs this with the job queue's handler table so every job handler
// doubles as a workflow step.
type Resolver func(name string) (StepFunc, bool)

const defaultMaxHistory = 200

// Config tunes the engine.
type Config struct {
	// MaxHistory bounds retained executions. Zero means 200.
	MaxHistory int
}

// Engine registers workflow definitions and runs them step by step on the
// caller's goroutine. Runs are synchronous; asynchronous execution comes
// from enqueueing the run as a job.
type Engine struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
	executions  map[string]*Execution
	order       []string

	resolve   Resolver
	templates *template.Engine
	emit      EmitFunc
	now       func() time.Time

	maxHistory int
}

// NewEngine creates an engine. emit may be nil to disable event publication.
func NewEngine(cfg Config, resolve Resolver, emit EmitFunc) *Engine {
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &Engine{
		definitions: make(map[string]*Definition),
		executions:  make(map[string]*Execution),
		resolve:     resolve,
		templates:   template.New(),
		emit:        emit,
		now:         time.Now,
		maxHistory:  maxHistory,
	}
}

// Register adds a validated definition. Registering a name twice is a
// conflict.
func (e *Engine) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("workflow definition must not be nil")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.definitions[def.Name]; exists {
		return apierr.NewConflictError("workflow", def.Name)
	}
	e.definitions[def.Name] = def
	return nil
}

// LoadDir parses every .yaml/.yml file under dir into a definition.
// Files that fail to parse are skipped with a warning so one bad file does
// not block the rest.
func (e *Engine) LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow directory %s: %w", dir, err)
	}

	var defs []*Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logging.Warn("Workflow", "Skipping unreadable workflow file %s: %v", path, err)
			continue
		}
		def, err := ParseDefinition(data)
		if err != nil {
			logging.Warn("Workflow", "Skipping invalid workflow file %s: %v", path, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Definitions returns registered workflows sorted by name.
func (e *Engine) Definitions() []*Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]*Definition, 0, len(e.definitions))
	for _, def := range e.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Definition returns one workflow by name.
func (e *Engine) Definition(name string) (*Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	def, ok := e.definitions[name]
	if !ok {
		return nil, apierr.NewWorkflowNotFoundError(name)
	}
	return def, nil
}

// Run executes the named workflow synchronously and returns the finished
// execution. The returned error is the step error that failed the run, so a
// workflow run enqueued as a job retries like any other failing job.
func (e *Engine) Run(ctx context.Context, name string, input map[string]interface{}) (*Execution, error) {
	def, err := e.Definition(name)
	if err != nil {
		return nil, err
	}

	input, err = applyArgSpecs(def, input)
	if err != nil {
		return nil, err
	}

	exec := &Execution{
		ID:        "exec_" + uuid.NewString(),
		Workflow:  def.Name,
		Status:    StatusRunning,
		Input:     input,
		StartedAt: e.now(),
	}
	e.track(exec)
	e.publish(ctx, "workflow.started", map[string]interface{}{
		"workflowName": def.Name,
		"executionId":  exec.ID,
		"input":        input,
	})

	results := map[string]interface{}{}
	templateCtx := map[string]interface{}{
		"input":   input,
		"results": results,
	}

	var runErr error
	for _, step := range def.Steps {
		result := e.runStep(ctx, step, exec, templateCtx, results)
		exec.Steps = append(exec.Steps, result)

		if result.Status == StatusFailed && !step.AllowFailure {
			runErr = fmt.Errorf("step %s failed: %s", step.ID, result.Error)
			break
		}
	}

	exec.CompletedAt = e.now()
	exec.DurationMs = exec.CompletedAt.Sub(exec.StartedAt).Milliseconds()
	if runErr != nil {
		exec.Status = StatusFailed
		exec.Error = runErr.Error()
	} else {
		exec.Status = StatusCompleted
	}
	e.track(exec)

	if runErr != nil {
		e.publish(ctx, "workflow.failed", map[string]interface{}{
			"workflowName": def.Name,
			"executionId":  exec.ID,
			"error":        runErr.Error(),
		})
		return exec.clone(), runErr
	}
	e.publish(ctx, "workflow.completed", map[string]interface{}{
		"workflowName": def.Name,
		"executionId":  exec.ID,
		"durationMs":   exec.DurationMs,
	})
	return exec.clone(), nil
}

// runStep evaluates the step's condition, resolves its arguments and invokes
// its handler. Stored outputs land in results for later steps.
func (e *Engine) runStep(ctx context.Context, step Step, exec *Execution, templateCtx, results map[string]interface{}) StepResult {
	result := StepResult{ID: step.ID, Handler: step.Handler}

	if step.Condition != nil {
		met := evaluateCondition(step.Condition, exec, results)
		result.Condition = &met
		if !met {
			result.Status = StatusSkipped
			logging.Debug("Workflow", "Skipping step %s of %s: condition on %s not met",
				step.ID, exec.Workflow, step.Condition.FromStep)
			return result
		}
	}

	args, err := e.resolveArgs(step.Args, templateCtx)
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		return result
	}

	fn, ok := e.resolve(step.Handler)
	if !ok {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("no handler registered for %q", step.Handler)
		return result
	}

	output, err := fn(ctx, args)
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		if step.AllowFailure && step.Store {
			// Keep the failure addressable so later conditions can
			// branch on it.
			failure := map[string]interface{}{"success": false, "error": err.Error()}
			result.Output = failure
			results[step.ID] = failure
		}
		return result
	}

	result.Status = StatusCompleted
	if step.Store {
		result.Output = output
		results[step.ID] = output
	}
	return result
}

// resolveArgs substitutes {{ input.x }} and {{ results.stepId.y }} markers.
// Unknown markers are an error: a step must not run with half-resolved
// arguments.
func (e *Engine) resolveArgs(args, templateCtx map[string]interface{}) (map[string]interface{}, error) {
	if len(args) == 0 {
		return map[string]interface{}{}, nil
	}
	resolved, err := e.templates.Replace(args, templateCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve step arguments: %w", err)
	}
	out, ok := resolved.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("resolved step arguments are not a map")
	}
	return out, nil
}

// evaluateCondition checks the referenced step's outcome. Success compares
// against completion; field expectations compare against the stored output.
func evaluateCondition(cond *Condition, exec *Execution, results map[string]interface{}) bool {
	var ref *StepResult
	for i := range exec.Steps {
		if exec.Steps[i].ID == cond.FromStep {
			ref = &exec.Steps[i]
			break
		}
	}
	if ref == nil {
		return false
	}

	if cond.Expect.Success != nil {
		succeeded := ref.Status == StatusCompleted
		if succeeded != *cond.Expect.Success {
			return false
		}
	}

	if len(cond.Expect.Fields) > 0 {
		output, ok := results[cond.FromStep].(map[string]interface{})
		if !ok {
			return false
		}
		for field, expected := range cond.Expect.Fields {
			actual, present := output[field]
			if !present || !valuesMatch(expected, actual) {
				return false
			}
		}
	}
	return true
}

// valuesMatch compares loosely enough to survive YAML/JSON numeric type
// drift (int vs float64).
func valuesMatch(expected, actual interface{}) bool {
	if reflect.DeepEqual(expected, actual) {
		return true
	}
	return fmt.Sprintf("%v", expected) == fmt.Sprintf("%v", actual)
}

// applyArgSpecs fills defaults and enforces required workflow arguments.
func applyArgSpecs(def *Definition, input map[string]interface{}) (map[string]interface{}, error) {
	merged := make(map[string]interface{}, len(input))
	for k, v := range input {
		merged[k] = v
	}

	verr := &apierr.ValidationErrors{}
	for name, spec := range def.Args {
		if _, present := merged[name]; present {
			continue
		}
		if spec.Default != nil {
			merged[name] = spec.Default
			continue
		}
		if spec.Required {
			verr.Add(name, "required workflow argument %q is missing", name)
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return merged, nil
}

// track stores a snapshot of the execution, evicting the oldest entries
// beyond the history bound.
func (e *Engine) track(exec *Execution) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, known := e.executions[exec.ID]; !known {
		e.order = append(e.order, exec.ID)
		for len(e.order) > e.maxHistory {
			delete(e.executions, e.order[0])
			e.order = e.order[1:]
		}
	}
	e.executions[exec.ID] = exec.clone()
}

// Execution returns one execution by id.
func (e *Engine) Execution(id string) (*Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	exec, ok := e.executions[id]
	if !ok {
		return nil, apierr.NewNotFoundError("workflow execution", id)
	}
	return exec.clone(), nil
}

// Executions lists retained executions, newest first, optionally filtered
// by workflow name.
func (e *Engine) Executions(workflow string) []*Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	execs := make([]*Execution, 0, len(e.order))
	for i := len(e.order) - 1; i >= 0; i-- {
		exec := e.executions[e.order[i]]
		if workflow != "" && exec.Workflow != workflow {
			continue
		}
		execs = append(execs, exec.clone())
	}
	return execs
}

func (e *Engine) publish(ctx context.Context, topic string, payload map[string]interface{}) {
	if e.emit == nil {
		return
	}
	if err := e.emit(ctx, topic, payload); err != nil {
		logging.Warn("Workflow", "Event handler error on %s: %v", topic, err)
	}
}
