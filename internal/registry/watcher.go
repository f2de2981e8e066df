package registry

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/nexus-edge/opc-gateway/internal/domain"
)

// WatchConfig watches the configuration file for external edits (an
// operator hand-editing the file, or a GitOps sync) and re-applies it by
// calling BuildSessions with the new contents (SPEC_FULL §2/§4 supplement
// — the source only ever reads the file at startup). Runs until ctx is
// cancelled; watcher errors are traced and non-fatal.
func (r *Registry) WatchConfig(ctx context.Context, sessionTimeoutMs, defaultSamplingMs, defaultPublishingMs float64) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.configPath); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			r.reloadConfig(ctx, sessionTimeoutMs, defaultSamplingMs, defaultPublishingMs)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.trace(domain.TraceWarn, "config watcher error", map[string]any{"error": err.Error()})
		}
	}
}

func (r *Registry) reloadConfig(ctx context.Context, sessionTimeoutMs, defaultSamplingMs, defaultPublishingMs float64) {
	entries, err := ReadConfig(r.configPath)
	if err != nil {
		r.trace(domain.TraceWarn, "config reload failed, keeping live state", map[string]any{"error": err.Error()})
		return
	}
	if err := r.BuildSessions(ctx, entries, sessionTimeoutMs, defaultSamplingMs, defaultPublishingMs); err != nil {
		r.trace(domain.TraceWarn, "config reload could not apply all entries", map[string]any{"error": err.Error()})
	}
}

func (r *Registry) trace(level domain.TraceLevel, msg string, fields map[string]any) {
	if r.tracer == nil {
		return
	}
	r.tracer.Trace(level, msg, fields)
}
