// Package app bootstraps a complete objectos process: logging, config, the
// kernel with its canonical plugins, metadata, and the HTTP server. The cmd
// layer only parses flags; everything with behavior lives here so tests can
// drive a full process without a binary.
package app

import (
	"fmt"
	"io"
	"os"

	"objectos/internal/config"
	"objectos/internal/kernel"
	pluginmetrics "objectos/internal/plugins/metrics"
	"objectos/internal/server"
	"objectos/pkg/logging"
)

// Options are the process-level switches the CLI collects.
type Options struct {
	// ConfigPath is the configuration directory. Empty means ~/.objectos.
	ConfigPath string

	// Debug lowers the log threshold to debug regardless of the config.
	Debug bool

	// Silent discards all log output. Wins over Debug.
	Silent bool

	// Version is stamped into health reports and build-info metrics.
	Version string

	// OnReady runs once the HTTP listener is up. Used for sd_notify.
	OnReady func()
}

// Application is one configured objectos process.
type Application struct {
	opts    Options
	cfg     config.Config
	kernel  *kernel.Kernel
	metrics *pluginmetrics.Plugin
	server  *server.Server
}

// New loads configuration, initializes logging and assembles the kernel with
// every canonical plugin. Nothing starts running until Run.
func New(opts Options) (*Application, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	// Logging is needed before the config that tunes it is loaded; start
	// from the flags, then re-init with the config's level and format.
	initLogging(opts, "info", "text")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration from %s: %w", configPath, err)
	}
	initLogging(opts, cfg.LogLevel, cfg.LogFormat)

	k, metricsPlugin, err := buildKernel(cfg, opts.Version)
	if err != nil {
		return nil, fmt.Errorf("assembling kernel: %w", err)
	}

	return &Application{opts: opts, cfg: cfg, kernel: k, metrics: metricsPlugin}, nil
}

// Kernel exposes the assembled kernel, mainly to tests.
func (a *Application) Kernel() *kernel.Kernel { return a.kernel }

// Config returns the effective configuration.
func (a *Application) Config() config.Config { return a.cfg }

func initLogging(opts Options, level, format string) {
	if opts.Silent {
		logging.InitSilent()
		return
	}

	logLevel := logging.ParseLevel(level)
	if opts.Debug {
		logLevel = logging.LevelDebug
	}

	logFormat := logging.FormatText
	if format == string(logging.FormatJSON) {
		logFormat = logging.FormatJSON
	}

	var out io.Writer = os.Stderr
	logging.Init(logLevel, logFormat, out)
}
