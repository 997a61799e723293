// Package auth is the canonical plugin for token-based authentication. It
// registers the JWT token service and an auth.issueToken job handler so
// workflows can mint service tokens as a step.
package auth

import (
	"context"
	"fmt"
	"time"

	"objectos/internal/jobs"
	"objectos/internal/plugin"
	pluginjobs "objectos/internal/plugins/jobs"
)

const (
	// PluginID identifies the auth plugin.
	PluginID = "objectos.auth"
	// ServiceName is the registry name of the *auth.Service.
	ServiceName = "auth"
	// JobIssueToken is the job handler minting tokens from a payload of
	// {userId, profiles, organizationId}. The token lands back in the
	// payload under "token".
	JobIssueToken = "auth.issueToken"
)

// Options configures token issuance.
type Options struct {
	// Enabled turns on bearer-token enforcement at the HTTP boundary.
	// Token issuance works either way as long as a secret is set.
	Enabled bool
	// Secret signs HS256 tokens.
	Secret string
	// Issuer is stamped into and required of every token.
	Issuer string
	// TokenTTL bounds token lifetime. Zero means 24h.
	TokenTTL time.Duration
}

// Plugin owns the token service.
type Plugin struct {
	opts    Options
	service *Service
}

// New creates the auth plugin.
func New(opts Options) *Plugin {
	return &Plugin{opts: opts}
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          PluginID,
		Name:        "Auth",
		Version:     "1.0.0",
		Description: "JWT issuance and verification",
		Author:      "ObjectOS Authors",
		License:     "Apache-2.0",
		Keywords:    []string{"auth", "jwt", "tokens"},
		Dependencies: map[string]string{
			pluginjobs.PluginID: "^1.0.0",
		},
		Permissions: []string{"auth.issue", "auth.verify"},
	}
}

func (p *Plugin) Init(ctx context.Context, pc *plugin.Context) error {
	service, err := NewService(p.opts)
	if err != nil {
		return err
	}
	p.service = service

	svc, err := pc.GetService(pluginjobs.ServiceName)
	if err != nil {
		return err
	}
	queue, ok := svc.(*jobs.Queue)
	if !ok {
		return fmt.Errorf("jobs service has unexpected type %T", svc)
	}
	if err := queue.RegisterHandler(JobIssueToken, p.issueTokenJob); err != nil {
		return err
	}

	return pc.RegisterService(ServiceName, service)
}

// issueTokenJob mints a token for the payload's user and writes it back
// into the payload.
func (p *Plugin) issueTokenJob(ctx context.Context, job *jobs.Job) error {
	userID, _ := job.Payload["userId"].(string)
	organizationID, _ := job.Payload["organizationId"].(string)
	profiles := stringList(job.Payload["profiles"])

	token, err := p.service.IssueToken(userID, profiles, organizationID)
	if err != nil {
		return err
	}
	job.Payload["token"] = token
	return nil
}

func stringList(value interface{}) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context, pc *plugin.Context) error {
	if p.service.Enabled() {
		pc.Infof("Bearer-token enforcement enabled, issuer %q", p.opts.Issuer)
	}
	return nil
}

func (p *Plugin) Destroy(ctx context.Context) error {
	return nil
}
