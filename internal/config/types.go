package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration structure for objectos. Zero values
// are filled in by GetDefaultConfig; the loader unmarshals the user's
// config.yaml over the defaults so partial files stay valid.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Audit         AuditConfig         `yaml:"audit"`
	Permissions   PermissionsConfig   `yaml:"permissions"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Cache         CacheConfig         `yaml:"cache"`
	Storage       StorageConfig       `yaml:"storage"`

	// MetadataDir holds object/field definition files loaded at boot.
	MetadataDir string `yaml:"metadataDir,omitempty"`

	LogLevel  string `yaml:"logLevel,omitempty"`  // debug, info, warn, error
	LogFormat string `yaml:"logFormat,omitempty"` // text or json
}

// ServerConfig defines the HTTP API listener.
type ServerConfig struct {
	Host         string        `yaml:"host,omitempty"`
	Port         int           `yaml:"port,omitempty"`
	ReadTimeout  time.Duration `yaml:"readTimeout,omitempty"`
	WriteTimeout time.Duration `yaml:"writeTimeout,omitempty"`
	CORS         CORSConfig    `yaml:"cors,omitempty"`
}

// Address returns host:port for net/http.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CORSConfig lists the allowed origins for browser clients.
type CORSConfig struct {
	Origins []string `yaml:"origins,omitempty"`
}

// AuthConfig controls the optional JWT bearer middleware. Disabled by
// default so the API stays reachable in development.
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled,omitempty"`
	JWTSecret string        `yaml:"jwtSecret,omitempty"`
	Issuer    string        `yaml:"issuer,omitempty"`
	TokenTTL  time.Duration `yaml:"tokenTTL,omitempty"`
}

// AuditConfig controls the audit trail recorder.
type AuditConfig struct {
	Enabled           bool     `yaml:"enabled"`
	TrackFieldChanges bool     `yaml:"trackFieldChanges"`
	RetentionDays     int      `yaml:"retentionDays,omitempty"`
	AuditedObjects    []string `yaml:"auditedObjects,omitempty"`
	ExcludedFields    []string `yaml:"excludedFields,omitempty"`
	Store             string   `yaml:"store,omitempty"` // memory or bolt
	MaxEntries        int      `yaml:"maxEntries,omitempty"`
}

// PermissionsConfig controls the permission engine.
type PermissionsConfig struct {
	Enabled          bool          `yaml:"enabled"`
	DefaultDeny      bool          `yaml:"defaultDeny"`
	PermissionsDir   string        `yaml:"permissionsDir,omitempty"`
	CachePermissions bool          `yaml:"cachePermissions"`
	CacheTTL         time.Duration `yaml:"cacheTTL,omitempty"`
	CacheBackend     string        `yaml:"cacheBackend,omitempty"` // memory or redis
	TenantIsolation  bool          `yaml:"tenantIsolation,omitempty"`
	TenantField      string        `yaml:"tenantField,omitempty"`
	Watch            bool          `yaml:"watch,omitempty"`
}

// NotificationsConfig configures delivery channels and the retry queue.
type NotificationsConfig struct {
	Email   EmailConfig             `yaml:"email,omitempty"`
	SMS     ProviderConfig          `yaml:"sms,omitempty"`
	Push    ProviderConfig          `yaml:"push,omitempty"`
	Webhook WebhookConfig           `yaml:"webhook,omitempty"`
	Queue   NotificationQueueConfig `yaml:"queue,omitempty"`
}

// EmailConfig names the SMTP relay used by the email channel.
type EmailConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
	From string `yaml:"from,omitempty"`
}

// ProviderConfig names an external delivery provider (sms, push).
type ProviderConfig struct {
	Provider string `yaml:"provider,omitempty"`
}

// WebhookConfig bounds outbound webhook calls.
type WebhookConfig struct {
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// NotificationQueueConfig controls queued (asynchronous) delivery.
type NotificationQueueConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries int           `yaml:"maxRetries,omitempty"`
	RetryDelay time.Duration `yaml:"retryDelay,omitempty"`
	Interval   time.Duration `yaml:"interval,omitempty"`
}

// JobsConfig tunes the background job queue.
type JobsConfig struct {
	Interval     time.Duration `yaml:"interval,omitempty"`
	RetryDelay   time.Duration `yaml:"retryDelay,omitempty"`
	MaxRetries   int           `yaml:"maxRetries,omitempty"`
	Backoff      string        `yaml:"backoff,omitempty"` // linear or exponential
	HistoryLimit int           `yaml:"historyLimit,omitempty"`
}

// CacheConfig selects the shared cache backend.
type CacheConfig struct {
	Backend    string        `yaml:"backend,omitempty"` // memory or redis
	Redis      RedisConfig   `yaml:"redis,omitempty"`
	DefaultTTL time.Duration `yaml:"defaultTTL,omitempty"`
}

// RedisConfig points at the Redis instance backing the cache.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// StorageConfig locates the bolt database file backing persistent stores.
type StorageConfig struct {
	Path string `yaml:"path,omitempty"`
}
