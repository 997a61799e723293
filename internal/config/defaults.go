package config

import "time"

// GetDefaultConfig returns the configuration used when no config.yaml
// exists. Every subsystem is usable out of the box: in-memory stores,
// permissive CORS, auth disabled.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			CORS:         CORSConfig{Origins: []string{"*"}},
		},
		Auth: AuthConfig{
			Enabled:  false, // Disabled by default, requires explicit enablement
			Issuer:   "objectos",
			TokenTTL: 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:           true,
			TrackFieldChanges: true,
			RetentionDays:     90,
			Store:             "memory",
			MaxEntries:        10000,
		},
		Permissions: PermissionsConfig{
			Enabled:          true,
			DefaultDeny:      true,
			PermissionsDir:   "permissions",
			CachePermissions: true,
			CacheTTL:         60 * time.Second,
			CacheBackend:     "memory",
			TenantField:      "organizationId",
		},
		Notifications: NotificationsConfig{
			Webhook: WebhookConfig{Timeout: 10 * time.Second},
			Queue: NotificationQueueConfig{
				Enabled:    true,
				MaxRetries: 3,
				RetryDelay: 5 * time.Second,
				Interval:   500 * time.Millisecond,
			},
		},
		Jobs: JobsConfig{
			Interval:     500 * time.Millisecond,
			RetryDelay:   5 * time.Second,
			MaxRetries:   3,
			Backoff:      "linear",
			HistoryLimit: 1000,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			DefaultTTL: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Path: "objectos.db",
		},
		MetadataDir: "metadata",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}
