package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"objectos/internal/kernel"
	"objectos/internal/metadata"
	"objectos/internal/server"
	"objectos/pkg/logging"
)

// shutdownGrace bounds how long draining the HTTP server and destroying
// plugins may take once a stop is requested.
const shutdownGrace = 15 * time.Second

// Run bootstraps the kernel, loads metadata, starts the HTTP server and
// blocks until ctx is cancelled or a SIGINT/SIGTERM arrives. Shutdown is
// graceful: the listener drains before the plugins are destroyed.
func (a *Application) Run(ctx context.Context) error {
	a.metrics.SetPluginCounter(func() int {
		active := 0
		for _, info := range a.kernel.Plugins() {
			if info.State == string(kernel.PluginStarted) {
				active++
			}
		}
		return active
	})

	if err := a.kernel.Bootstrap(ctx); err != nil {
		return err
	}

	if err := a.loadMetadata(); err != nil {
		_ = a.kernel.Shutdown(context.Background())
		return err
	}

	deps, err := serverDependencies(a.kernel)
	if err != nil {
		_ = a.kernel.Shutdown(context.Background())
		return err
	}
	a.server = server.New(a.cfg.Server, deps)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start()
	}()

	if a.opts.OnReady != nil {
		a.opts.OnReady()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logging.Info("App", "Received %s, shutting down", sig)
	case <-ctx.Done():
		logging.Info("App", "Context cancelled, shutting down")
	case err := <-serverErr:
		logging.Error("App", err, "HTTP server failed")
		_ = a.kernel.Shutdown(context.Background())
		return err
	}

	return a.stop()
}

// stop drains the HTTP server, then destroys plugins in reverse start order.
func (a *Application) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.kernel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// loadMetadata feeds the metadata directory into the kernel registry. A
// missing directory is normal on fresh installations.
func (a *Application) loadMetadata() error {
	dir := a.cfg.MetadataDir
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		logging.Info("App", "No metadata directory at %s, skipping", dir)
		return nil
	}

	count, err := metadata.RegisterDir(a.kernel.Metadata(), dir)
	if err != nil {
		return err
	}
	logging.Info("App", "Registered %d metadata entries from %s", count, dir)
	return nil
}
