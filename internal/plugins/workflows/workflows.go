// Package workflows is the canonical plugin running named multi-step
// workflows. Steps resolve against the job queue's handler table, so every
// registered job handler is usable as a workflow step; asynchronous runs go
// through the queue as workflow.run jobs.
package workflows

import (
	"context"
	"fmt"
	"os"

	"objectos/internal/jobs"
	"objectos/internal/plugin"
	pluginjobs "objectos/internal/plugins/jobs"
	"objectos/internal/workflow"
)

const (
	// PluginID identifies the workflows plugin.
	PluginID = "objectos.workflows"
	// ServiceName is the registry name of the *workflow.Engine service.
	ServiceName = "workflows"
	// JobRunWorkflow is the job handler executing one workflow run from a
	// payload of {workflow, input}. The execution id lands back in the
	// payload under "executionId".
	JobRunWorkflow = "workflow.run"
)

// Options tunes the engine and optional definition loading.
type Options struct {
	Engine workflow.Config
	// Dir holds workflow definition YAML files loaded at Init. Empty or
	// missing directories are skipped.
	Dir string
}

// Plugin owns the engine and its queue wiring.
type Plugin struct {
	opts   Options
	engine *workflow.Engine
}

// New creates the workflows plugin.
func New(opts Options) *Plugin {
	return &Plugin{opts: opts}
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          PluginID,
		Name:        "Workflows",
		Version:     "1.0.0",
		Description: "Named multi-step workflows over job handlers",
		Author:      "ObjectOS Authors",
		License:     "Apache-2.0",
		Keywords:    []string{"workflows", "orchestration", "steps"},
		Dependencies: map[string]string{
			pluginjobs.PluginID: "^1.0.0",
		},
		Permissions: []string{"workflows.run", "workflows.manage"},
	}
}

func (p *Plugin) Init(ctx context.Context, pc *plugin.Context) error {
	svc, err := pc.GetService(pluginjobs.ServiceName)
	if err != nil {
		return err
	}
	queue, ok := svc.(*jobs.Queue)
	if !ok {
		return fmt.Errorf("jobs service has unexpected type %T", svc)
	}

	p.engine = workflow.NewEngine(p.opts.Engine, stepResolver(queue), workflow.EmitFunc(pc.Trigger))

	if err := queue.RegisterHandler(JobRunWorkflow, p.runWorkflowJob); err != nil {
		return err
	}

	if p.opts.Dir != "" {
		if _, err := os.Stat(p.opts.Dir); err == nil {
			defs, err := p.engine.LoadDir(p.opts.Dir)
			if err != nil {
				return err
			}
			for _, def := range defs {
				if err := p.engine.Register(def); err != nil {
					return err
				}
			}
			pc.Infof("Loaded %d workflow definitions from %s", len(defs), p.opts.Dir)
		}
	}

	return pc.RegisterService(ServiceName, p.engine)
}

// stepResolver adapts queue handlers into step functions: the step's
// resolved arguments become the job payload, and the handler's payload
// mutations become the step output.
func stepResolver(queue *jobs.Queue) workflow.Resolver {
	return func(name string) (workflow.StepFunc, bool) {
		handler, ok := queue.Handler(name)
		if !ok {
			return nil, false
		}
		fn := func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			job := &jobs.Job{Name: name, Payload: args}
			if err := handler(ctx, job); err != nil {
				return nil, err
			}
			return job.Payload, nil
		}
		return fn, true
	}
}

// runWorkflowJob executes one workflow run on the queue worker. A failing
// run fails the job, inheriting the queue's retry policy.
func (p *Plugin) runWorkflowJob(ctx context.Context, job *jobs.Job) error {
	name, _ := job.Payload["workflow"].(string)
	if name == "" {
		return fmt.Errorf("workflow.run payload needs a workflow name")
	}
	input, _ := job.Payload["input"].(map[string]interface{})

	exec, err := p.engine.Run(ctx, name, input)
	if exec != nil {
		job.Payload["executionId"] = exec.ID
	}
	return err
}

func (p *Plugin) Start(ctx context.Context, pc *plugin.Context) error {
	return nil
}

func (p *Plugin) Destroy(ctx context.Context) error {
	return nil
}

// HealthCheck reports definition and execution counts.
func (p *Plugin) HealthCheck(ctx context.Context) plugin.HealthResult {
	if p.engine == nil {
		return plugin.HealthResult{Status: plugin.HealthUnhealthy, Message: "engine not initialized"}
	}
	return plugin.HealthResult{
		Status: plugin.HealthHealthy,
		Metrics: map[string]interface{}{
			"definitions": len(p.engine.Definitions()),
			"executions":  len(p.engine.Executions("")),
		},
	}
}
