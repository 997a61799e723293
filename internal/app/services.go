package app

import (
	"fmt"
	"path/filepath"

	"objectos/internal/audit"
	"objectos/internal/cache"
	"objectos/internal/config"
	"objectos/internal/datastore"
	"objectos/internal/jobs"
	"objectos/internal/kernel"
	"objectos/internal/metrics"
	"objectos/internal/notify"
	"objectos/internal/permission"
	pluginaudit "objectos/internal/plugins/audit"
	pluginauth "objectos/internal/plugins/auth"
	plugincache "objectos/internal/plugins/cache"
	pluginjobs "objectos/internal/plugins/jobs"
	pluginmetrics "objectos/internal/plugins/metrics"
	pluginnotify "objectos/internal/plugins/notifications"
	pluginperms "objectos/internal/plugins/permissions"
	pluginstorage "objectos/internal/plugins/storage"
	pluginworkflows "objectos/internal/plugins/workflows"
	"objectos/internal/server"
	"objectos/internal/workflow"
)

// buildKernel assembles the kernel with every canonical plugin, each
// configured from its config section. Use order is irrelevant; the kernel
// resolves the dependency order at bootstrap. The metrics plugin is returned
// separately so Run can hand it the active-plugin counter.
func buildKernel(cfg config.Config, version string) (*kernel.Kernel, *pluginmetrics.Plugin, error) {
	k := kernel.New(kernel.WithVersion(version))
	metricsPlugin := pluginmetrics.New(pluginmetrics.Options{Version: version})

	plugins := []struct {
		name string
		use  func() error
	}{
		{"storage", func() error {
			return k.Use(pluginstorage.New(pluginstorage.Options{Path: cfg.Storage.Path}))
		}},
		{"cache", func() error {
			return k.Use(plugincache.New(plugincache.Options{
				Backend: cfg.Cache.Backend,
				Redis: cache.RedisOptions{
					Addr:     cfg.Cache.Redis.Addr,
					Password: cfg.Cache.Redis.Password,
					DB:       cfg.Cache.Redis.DB,
				},
			}))
		}},
		{"permissions", func() error {
			return k.Use(pluginperms.New(pluginperms.Options{
				Engine: permission.Config{
					Enabled:          cfg.Permissions.Enabled,
					DefaultDeny:      cfg.Permissions.DefaultDeny,
					PermissionsDir:   cfg.Permissions.PermissionsDir,
					CachePermissions: cfg.Permissions.CachePermissions,
					CacheTTLSeconds:  int(cfg.Permissions.CacheTTL.Seconds()),
					TenantIsolation:  cfg.Permissions.TenantIsolation,
					TenantField:      cfg.Permissions.TenantField,
				},
				Watch:        cfg.Permissions.Watch,
				CacheBackend: cfg.Permissions.CacheBackend,
			}))
		}},
		{"audit", func() error {
			return k.Use(pluginaudit.New(pluginaudit.Options{
				Recorder: audit.Config{
					Enabled:           cfg.Audit.Enabled,
					TrackFieldChanges: cfg.Audit.TrackFieldChanges,
					RetentionDays:     cfg.Audit.RetentionDays,
					AuditedObjects:    cfg.Audit.AuditedObjects,
					ExcludedFields:    cfg.Audit.ExcludedFields,
					MaxEntries:        cfg.Audit.MaxEntries,
				},
				Store: cfg.Audit.Store,
			}))
		}},
		{"jobs", func() error {
			return k.Use(pluginjobs.New(jobs.Config{
				TickInterval:      cfg.Jobs.Interval,
				RetryDelay:        cfg.Jobs.RetryDelay,
				Backoff:           jobs.BackoffStrategy(cfg.Jobs.Backoff),
				DefaultMaxRetries: cfg.Jobs.MaxRetries,
				MaxHistory:        cfg.Jobs.HistoryLimit,
			}))
		}},
		{"notifications", func() error {
			return k.Use(pluginnotify.New(pluginnotify.Options{
				Queue: notify.Config{
					QueueEnabled: cfg.Notifications.Queue.Enabled,
					MaxRetries:   cfg.Notifications.Queue.MaxRetries,
					RetryDelay:   cfg.Notifications.Queue.RetryDelay,
					TickInterval: cfg.Notifications.Queue.Interval,
				},
				WebhookTimeout: cfg.Notifications.Webhook.Timeout,
				EmailFrom:      cfg.Notifications.Email.From,
				EmailHost:      cfg.Notifications.Email.Host,
				SMSProvider:    cfg.Notifications.SMS.Provider,
				PushProvider:   cfg.Notifications.Push.Provider,
			}))
		}},
		{"auth", func() error {
			return k.Use(pluginauth.New(pluginauth.Options{
				Enabled:  cfg.Auth.Enabled,
				Secret:   cfg.Auth.JWTSecret,
				Issuer:   cfg.Auth.Issuer,
				TokenTTL: cfg.Auth.TokenTTL,
			}))
		}},
		{"workflows", func() error {
			return k.Use(pluginworkflows.New(pluginworkflows.Options{
				Engine: workflow.Config{},
				Dir:    workflowsDir(cfg),
			}))
		}},
		{"metrics", func() error {
			return k.Use(metricsPlugin)
		}},
	}

	for _, p := range plugins {
		if err := p.use(); err != nil {
			return nil, nil, fmt.Errorf("installing %s plugin: %w", p.name, err)
		}
	}
	return k, metricsPlugin, nil
}

// workflowsDir derives the workflow definition directory from the metadata
// directory's parent, i.e. <configPath>/workflows next to
// <configPath>/metadata.
func workflowsDir(cfg config.Config) string {
	if cfg.MetadataDir == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(cfg.MetadataDir), "workflows")
}

// serverDependencies pulls every service the HTTP layer needs out of the
// registry. Called after bootstrap; a missing service is a wiring bug, not
// a runtime condition.
func serverDependencies(k *kernel.Kernel) (server.Dependencies, error) {
	deps := server.Dependencies{Kernel: k}

	var err error
	if deps.Store, err = resolve[*datastore.Store](k, pluginstorage.DatastoreServiceName); err != nil {
		return deps, err
	}
	if deps.Permissions, err = resolve[*permission.Engine](k, pluginperms.ServiceName); err != nil {
		return deps, err
	}
	if deps.Audit, err = resolve[*audit.Recorder](k, pluginaudit.ServiceName); err != nil {
		return deps, err
	}
	if deps.Jobs, err = resolve[*jobs.Queue](k, pluginjobs.ServiceName); err != nil {
		return deps, err
	}
	if deps.Notifier, err = resolve[*notify.Notifier](k, pluginnotify.ServiceName); err != nil {
		return deps, err
	}
	if deps.Metrics, err = resolve[*metrics.Metrics](k, pluginmetrics.ServiceName); err != nil {
		return deps, err
	}
	if deps.Auth, err = resolve[*pluginauth.Service](k, pluginauth.ServiceName); err != nil {
		return deps, err
	}
	return deps, nil
}

func resolve[T any](k *kernel.Kernel, name string) (T, error) {
	var zero T
	svc, err := k.Registry().Get(name)
	if err != nil {
		return zero, fmt.Errorf("resolving %s service: %w", name, err)
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("service %s has unexpected type %T", name, svc)
	}
	return typed, nil
}
