// Package notifications is the canonical plugin wiring the notification
// queue and its delivery channels. Email, SMS and push ship with logging
// handlers; real provider transports register over them by replacing this
// plugin or adding channels through the "notifications" service.
package notifications

import (
	"context"
	"net/http"
	"time"

	"objectos/internal/notify"
	"objectos/internal/plugin"
)

const (
	// PluginID identifies the notifications plugin.
	PluginID = "objectos.notifications"
	// ServiceName is the registry name of the *notify.Notifier service.
	ServiceName = "notifications"
)

// Options configures channel transports beyond the queue config.
type Options struct {
	Queue notify.Config
	// WebhookTimeout bounds outbound webhook POSTs. Zero means 10s.
	WebhookTimeout time.Duration
	// EmailFrom, EmailHost, SMSProvider and PushProvider are surfaced in
	// channel logs and health metrics until real transports exist.
	EmailFrom    string
	EmailHost    string
	SMSProvider  string
	PushProvider string
}

// Plugin owns the notifier worker lifecycle.
type Plugin struct {
	opts     Options
	notifier *notify.Notifier
}

// New creates the notifications plugin.
func New(opts Options) *Plugin {
	return &Plugin{opts: opts}
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          PluginID,
		Name:        "Notifications",
		Version:     "1.0.0",
		Description: "Queued notification delivery across email, sms, push and webhook channels",
		Author:      "ObjectOS Authors",
		License:     "Apache-2.0",
		Keywords:    []string{"notifications", "email", "webhook"},
		Permissions: []string{"notifications.send"},
	}
}

func (p *Plugin) Init(ctx context.Context, pc *plugin.Context) error {
	p.notifier = notify.New(p.opts.Queue, notify.EmitFunc(pc.Trigger))

	timeout := p.opts.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	channels := map[string]notify.Handler{
		notify.ChannelEmail:   notify.LogHandler(notify.ChannelEmail),
		notify.ChannelSMS:     notify.LogHandler(notify.ChannelSMS),
		notify.ChannelPush:    notify.LogHandler(notify.ChannelPush),
		notify.ChannelWebhook: notify.WebhookHandler(&http.Client{Timeout: timeout}),
	}
	for name, handler := range channels {
		if err := p.notifier.RegisterChannel(name, handler); err != nil {
			return err
		}
	}

	return pc.RegisterService(ServiceName, p.notifier)
}

func (p *Plugin) Start(ctx context.Context, pc *plugin.Context) error {
	p.notifier.Start()
	return nil
}

func (p *Plugin) Destroy(ctx context.Context) error {
	if p.notifier != nil {
		p.notifier.Stop()
	}
	return nil
}

// HealthCheck reports queue status plus the configured providers.
func (p *Plugin) HealthCheck(ctx context.Context) plugin.HealthResult {
	if p.notifier == nil {
		return plugin.HealthResult{Status: plugin.HealthUnhealthy, Message: "notifier not initialized"}
	}

	metrics := p.notifier.QueueStatus()
	if p.opts.EmailHost != "" {
		metrics["emailHost"] = p.opts.EmailHost
	}
	if p.opts.SMSProvider != "" {
		metrics["smsProvider"] = p.opts.SMSProvider
	}
	if p.opts.PushProvider != "" {
		metrics["pushProvider"] = p.opts.PushProvider
	}
	return plugin.HealthResult{Status: plugin.HealthHealthy, Metrics: metrics}
}
