package daemon

import (
	"context"
	"os"
)

// HandleHealthCheck reports daemon-wide health plus, when a root path is
// given, whether that project's on-disk index is reachable (spec.md §6
// meta method "health_check"; a richer liveness probe than plain "status").
func (d *Daemon) HandleHealthCheck(ctx context.Context, params HealthCheckParams) (HealthCheckResult, error) {
	checks := make(map[string]string)
	healthy := true

	embedder := d.embedderOrFallback()
	if _, err := embedder.Embed(ctx, "health check"); err != nil {
		checks["embedder"] = err.Error()
		healthy = false
	} else {
		checks["embedder"] = "ok"
	}

	if params.RootPath != "" {
		if _, err := os.Stat(params.RootPath); err != nil {
			checks["root_path"] = err.Error()
			healthy = false
		} else {
			checks["root_path"] = "ok"
		}

		if _, err := d.loadProject(ctx, params.RootPath); err != nil {
			checks["code_index"] = err.Error()
			// A project with no code index yet is not a daemon health
			// failure - memory-only projects are a valid state.
		} else {
			checks["code_index"] = "ok"
		}

		if _, _, err := d.registry.Resolve(ctx, params.RootPath); err != nil {
			checks["memory_store"] = err.Error()
			healthy = false
		} else {
			checks["memory_store"] = "ok"
		}
	}

	return HealthCheckResult{Healthy: healthy, Checks: checks}, nil
}
