package kernel

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"objectos/internal/plugin"
)

// Health is the aggregated kernel health report.
type Health struct {
	Status    plugin.HealthState             `json:"status"`
	Version   string                         `json:"version"`
	Timestamp time.Time                      `json:"timestamp"`
	State     string                         `json:"state"`
	Uptime    string                         `json:"uptime,omitempty"`
	Plugins   map[string]plugin.HealthResult `json:"plugins,omitempty"`
}

// Health fans out to every started plugin that implements HealthChecker and
// aggregates by worst status. Plugins without a health check count healthy.
func (k *Kernel) Health(ctx context.Context) Health {
	k.mu.RLock()
	state := k.state
	bootedAt := k.bootedAt
	started := make([]string, len(k.started))
	copy(started, k.started)
	k.mu.RUnlock()

	report := Health{
		Status:    plugin.HealthHealthy,
		Version:   k.version,
		Timestamp: time.Now(),
		State:     state.String(),
		Plugins:   make(map[string]plugin.HealthResult, len(started)),
	}
	if state != StateRunning {
		report.Status = plugin.HealthUnhealthy
		return report
	}
	report.Uptime = time.Since(bootedAt).Round(time.Second).String()

	var mu sync.Mutex
	group, ctx := errgroup.WithContext(ctx)
	for _, id := range started {
		checker, ok := k.plugins[id].plugin.(plugin.HealthChecker)
		if !ok {
			mu.Lock()
			report.Plugins[id] = plugin.Healthy()
			mu.Unlock()
			continue
		}

		id := id
		group.Go(func() error {
			result := checker.HealthCheck(ctx)
			if result.Status == "" {
				result.Status = plugin.HealthHealthy
			}
			mu.Lock()
			report.Plugins[id] = result
			mu.Unlock()
			return nil
		})
	}
	// Checks never return errors; the group is used for the fan-out and the
	// shared cancellation context.
	_ = group.Wait()

	for _, result := range report.Plugins {
		report.Status = plugin.WorseOf(report.Status, result.Status)
	}
	return report
}
