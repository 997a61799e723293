package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectos/internal/apierr"
)

// stepTable is a fixed resolver plus a call log.
type stepTable struct {
	mu    sync.Mutex
	funcs map[string]StepFunc
	calls []string
	args  map[string]map[string]interface{}
}

func newStepTable() *stepTable {
	return &stepTable{
		funcs: make(map[string]StepFunc),
		args:  make(map[string]map[string]interface{}),
	}
}

func (s *stepTable) add(name string, fn StepFunc) {
	s.funcs[name] = fn
}

func (s *stepTable) resolve(name string) (StepFunc, bool) {
	fn, ok := s.funcs[name]
	if !ok {
		return nil, false
	}
	wrapped := func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		s.mu.Lock()
		s.calls = append(s.calls, name)
		s.args[name] = args
		s.mu.Unlock()
		return fn(ctx, args)
	}
	return wrapped, true
}

func (s *stepTable) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stepTable) argsFor(name string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.args[name]
}

type workflowEvents struct {
	mu     sync.Mutex
	topics []string
	last   map[string]map[string]interface{}
}

func newWorkflowEvents() *workflowEvents {
	return &workflowEvents{last: make(map[string]map[string]interface{})}
}

func (w *workflowEvents) emit(_ context.Context, topic string, payload map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.topics = append(w.topics, topic)
	w.last[topic] = payload
	return nil
}

func (w *workflowEvents) list() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.topics...)
}

func echoStep(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	out := map[string]interface{}{"success": true}
	for k, v := range args {
		out[k] = v
	}
	return out, nil
}

func boolPtr(b bool) *bool { return &b }

func TestRegisterValidatesDefinition(t *testing.T) {
	e := NewEngine(Config{}, newStepTable().resolve, nil)

	err := e.Register(&Definition{Name: "", Steps: nil})
	require.Error(t, err)
	assert.True(t, apierr.IsValidation(err))

	verr := apierr.AsValidation(err)
	require.NotNil(t, verr)
	fields := make([]string, 0, len(verr.Errors))
	for _, fe := range verr.Errors {
		fields = append(fields, fe.Field)
	}
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "steps")
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	e := NewEngine(Config{}, newStepTable().resolve, nil)
	def := &Definition{Name: "provision", Steps: []Step{{ID: "one", Handler: "noop"}}}

	require.NoError(t, e.Register(def))
	err := e.Register(def)
	assert.True(t, apierr.IsConflict(err))
}

func TestRunExecutesStepsInOrder(t *testing.T) {
	steps := newStepTable()
	steps.add("create", echoStep)
	steps.add("notify", echoStep)
	events := newWorkflowEvents()
	e := NewEngine(Config{}, steps.resolve, events.emit)

	require.NoError(t, e.Register(&Definition{
		Name: "onboard",
		Steps: []Step{
			{ID: "create", Handler: "create", Args: map[string]interface{}{"name": "{{ input.name }}"}, Store: true},
			{ID: "notify", Handler: "notify", Args: map[string]interface{}{"created": "{{ results.create.name }}"}},
		},
	}))

	exec, err := e.Run(context.Background(), "onboard", map[string]interface{}{"name": "acme"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, []string{"create", "notify"}, steps.called())
	assert.Equal(t, "acme", steps.argsFor("create")["name"])
	assert.Equal(t, "acme", steps.argsFor("notify")["created"])
	require.Len(t, exec.Steps, 2)
	assert.Equal(t, StatusCompleted, exec.Steps[0].Status)
	assert.Equal(t, "acme", exec.Steps[0].Output["name"])
	assert.Nil(t, exec.Steps[1].Output, "output kept only for stored steps")
	assert.Equal(t, []string{"workflow.started", "workflow.completed"}, events.list())
	assert.NotEmpty(t, exec.ID)
}

func TestRunUnknownWorkflow(t *testing.T) {
	e := NewEngine(Config{}, newStepTable().resolve, nil)

	_, err := e.Run(context.Background(), "ghost", nil)
	assert.True(t, apierr.IsNotFound(err))
}

func TestRunMissingRequiredArg(t *testing.T) {
	steps := newStepTable()
	steps.add("noop", echoStep)
	e := NewEngine(Config{}, steps.resolve, nil)

	require.NoError(t, e.Register(&Definition{
		Name:  "strict",
		Args:  map[string]ArgSpec{"tenant": {Required: true}},
		Steps: []Step{{ID: "one", Handler: "noop"}},
	}))

	_, err := e.Run(context.Background(), "strict", nil)
	assert.True(t, apierr.IsValidation(err))
	assert.Empty(t, steps.called(), "no step runs when input is invalid")
}

func TestRunAppliesArgDefaults(t *testing.T) {
	steps := newStepTable()
	steps.add("noop", echoStep)
	e := NewEngine(Config{}, steps.resolve, nil)

	require.NoError(t, e.Register(&Definition{
		Name:  "defaulted",
		Args:  map[string]ArgSpec{"region": {Default: "eu-west-1"}},
		Steps: []Step{{ID: "one", Handler: "noop", Args: map[string]interface{}{"region": "{{ input.region }}"}}},
	}))

	exec, err := e.Run(context.Background(), "defaulted", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, "eu-west-1", steps.argsFor("noop")["region"])
}

func TestRunStepFailureFailsWorkflow(t *testing.T) {
	steps := newStepTable()
	steps.add("explode", func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("boom")
	})
	steps.add("after", echoStep)
	events := newWorkflowEvents()
	e := NewEngine(Config{}, steps.resolve, events.emit)

	require.NoError(t, e.Register(&Definition{
		Name: "fragile",
		Steps: []Step{
			{ID: "explode", Handler: "explode"},
			{ID: "after", Handler: "after"},
		},
	}))

	exec, err := e.Run(context.Background(), "fragile", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, StatusFailed, exec.Status)
	require.Len(t, exec.Steps, 1, "later steps do not run")
	assert.Equal(t, StatusFailed, exec.Steps[0].Status)
	assert.Equal(t, []string{"workflow.started", "workflow.failed"}, events.list())
}

func TestRunAllowFailureContinues(t *testing.T) {
	steps := newStepTable()
	steps.add("explode", func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("boom")
	})
	steps.add("cleanup", echoStep)
	e := NewEngine(Config{}, steps.resolve, nil)

	require.NoError(t, e.Register(&Definition{
		Name: "tolerant",
		Steps: []Step{
			{ID: "explode", Handler: "explode", AllowFailure: true, Store: true},
			{ID: "cleanup", Handler: "cleanup", Condition: &Condition{
				FromStep: "explode",
				Expect:   ConditionExpect{Success: boolPtr(false)},
			}},
		},
	}))

	exec, err := e.Run(context.Background(), "tolerant", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)
	require.Len(t, exec.Steps, 2)
	assert.Equal(t, StatusFailed, exec.Steps[0].Status)
	assert.Equal(t, false, exec.Steps[0].Output["success"])
	assert.Equal(t, StatusCompleted, exec.Steps[1].Status, "condition on failure holds")
}

func TestRunConditionSkipsStep(t *testing.T) {
	steps := newStepTable()
	steps.add("check", func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"ready": false}, nil
	})
	steps.add("deploy", echoStep)
	e := NewEngine(Config{}, steps.resolve, nil)

	require.NoError(t, e.Register(&Definition{
		Name: "gated",
		Steps: []Step{
			{ID: "check", Handler: "check", Store: true},
			{ID: "deploy", Handler: "deploy", Condition: &Condition{
				FromStep: "check",
				Expect:   ConditionExpect{Fields: map[string]interface{}{"ready": true}},
			}},
		},
	}))

	exec, err := e.Run(context.Background(), "gated", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)
	require.Len(t, exec.Steps, 2)
	assert.Equal(t, StatusSkipped, exec.Steps[1].Status)
	require.NotNil(t, exec.Steps[1].Condition)
	assert.False(t, *exec.Steps[1].Condition)
	assert.Equal(t, []string{"check"}, steps.called())
}

func TestRunUnknownHandlerFailsStep(t *testing.T) {
	e := NewEngine(Config{}, newStepTable().resolve, nil)

	require.NoError(t, e.Register(&Definition{
		Name:  "dangling",
		Steps: []Step{{ID: "one", Handler: "nowhere"}},
	}))

	exec, err := e.Run(context.Background(), "dangling", nil)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Contains(t, exec.Steps[0].Error, "nowhere")
}

func TestExecutionHistoryBounded(t *testing.T) {
	steps := newStepTable()
	steps.add("noop", echoStep)
	e := NewEngine(Config{MaxHistory: 2}, steps.resolve, nil)

	require.NoError(t, e.Register(&Definition{
		Name:  "tiny",
		Steps: []Step{{ID: "one", Handler: "noop"}},
	}))

	var ids []string
	for i := 0; i < 3; i++ {
		exec, err := e.Run(context.Background(), "tiny", nil)
		require.NoError(t, err)
		ids = append(ids, exec.ID)
	}

	_, err := e.Execution(ids[0])
	assert.True(t, apierr.IsNotFound(err), "oldest execution evicted")

	execs := e.Executions("tiny")
	require.Len(t, execs, 2)
	assert.Equal(t, ids[2], execs[0].ID, "newest first")
	assert.Equal(t, ids[1], execs[1].ID)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	good := `
name: onboard
steps:
  - id: create
    handler: data.create
`
	bad := `name: broken` // no steps
	require.NoError(t, os.WriteFile(filepath.Join(dir, "onboard.yaml"), []byte(good), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(bad), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	e := NewEngine(Config{}, newStepTable().resolve, nil)
	defs, err := e.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "onboard", defs[0].Name)
}
