// Package registry implements the process-wide set of sessions, the
// reconciliation scheduler, and the configuration-file persister (spec.md
// §4.4).
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/opcclient"
	"github.com/nexus-edge/opc-gateway/internal/session"
)

// Registry is the process-wide ordered set of sessions keyed by endpoint
// URI, compared case-insensitively (§3). One binary semaphore protects the
// list itself; it is never acquired while a session mutex is held (§5 lock
// ordering Registry → Config → Session).
type Registry struct {
	mu       *semaphore.Weighted
	order    []string // endpoint keys, insertion order, for deterministic iteration
	sessions map[string]*session.Session

	dialer opcclient.Dialer
	tracer domain.Tracer
	cfg    session.Config

	egress func(string)

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	reconcileInterval time.Duration
	configPath        string
	configMu          *semaphore.Weighted
}

// New constructs an empty Registry. dialer and egress are the external
// collaborators every session needs; cfg carries the session-level
// tunables shared by every endpoint.
func New(dialer opcclient.Dialer, tracer domain.Tracer, cfg session.Config, egress func(string), configPath string, reconcileInterval time.Duration) *Registry {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Registry{
		mu:                semaphore.NewWeighted(1),
		sessions:          make(map[string]*session.Session),
		dialer:            dialer,
		tracer:            tracer,
		cfg:               cfg,
		egress:            egress,
		baseCtx:           baseCtx,
		cancel:            cancel,
		reconcileInterval: reconcileInterval,
		configPath:        configPath,
		configMu:          semaphore.NewWeighted(1),
	}
}

func endpointKey(uri string) string { return strings.ToLower(uri) }

// sessionFor returns the session for the endpoint, creating and starting
// it if absent. Acquires the registry mutex.
func (r *Registry) sessionFor(ctx context.Context, endpointURI string, sessionTimeout time.Duration) (*session.Session, error) {
	if err := r.mu.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.mu.Release(1)

	key := endpointKey(endpointURI)
	if s, ok := r.sessions[key]; ok {
		return s, nil
	}

	s := session.New(endpointURI, sessionTimeout, r.cfg, r.dialer, r.tracer, r.egress)
	r.sessions[key] = s
	r.order = append(r.order, key)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.Run(r.baseCtx)
	}()

	return s, nil
}

// AddNodeForMonitoring routes a mutator to the session for its endpoint,
// creating the session on demand (§4.3 addNodeForMonitoring).
func (r *Registry) AddNodeForMonitoring(ctx context.Context, endpointURI string, sessionTimeout time.Duration, identity domain.NodeIdentity, requestedSamplingIntervalMs, requestedPublishingIntervalMs float64, queueSize uint32, discardOldest bool) error {
	s, err := r.sessionFor(ctx, endpointURI, sessionTimeout)
	if err != nil {
		return err
	}
	return s.AddNodeForMonitoring(ctx, identity, requestedSamplingIntervalMs, requestedPublishingIntervalMs, queueSize, discardOldest)
}

// RequestMonitorItemRemoval routes a removal mutator to the session for
// the given endpoint, if one exists.
func (r *Registry) RequestMonitorItemRemoval(ctx context.Context, endpointURI string, nodeID *domain.NodeIDForm, expandedNodeID *domain.ExpandedNodeIDForm) (int, error) {
	if err := r.mu.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	s, ok := r.sessions[endpointKey(endpointURI)]
	r.mu.Release(1)
	if !ok {
		return 0, nil
	}
	return s.RequestMonitorItemRemoval(ctx, nodeID, expandedNodeID)
}

// IsNodePublished implements the registry-level (global) variant of
// isNodePublished (§9 Open Questions): true if any session anywhere has a
// matching, non-removal-requested item.
func (r *Registry) IsNodePublished(ctx context.Context, identity domain.NodeIdentity) (bool, error) {
	if err := r.mu.Acquire(ctx, 1); err != nil {
		return false, err
	}
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, key := range r.order {
		if s, ok := r.sessions[key]; ok {
			sessions = append(sessions, s)
		}
	}
	r.mu.Release(1)

	for _, s := range sessions {
		published, err := s.IsNodePublishedInSession(ctx, identity)
		if err != nil {
			return false, err
		}
		if published {
			return true, nil
		}
	}
	return false, nil
}

// ReconcileAll fans out one reconciliation tick across every session
// concurrently (§4.3 driver operation, invoked by the registry's
// scheduler). Uses errgroup so the first session error is observable
// without stopping the others from completing their pass. If any session
// reports its configuration-relevant state changed, the configuration
// file is rewritten before returning (§4.3, §8 Scenario 6), so a crash
// between reconciliation ticks never loses more than one tick's worth of
// runtime changes.
func (r *Registry) ReconcileAll(ctx context.Context) error {
	if err := r.mu.Acquire(ctx, 1); err != nil {
		return err
	}
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, key := range r.order {
		if s, ok := r.sessions[key]; ok {
			sessions = append(sessions, s)
		}
	}
	r.mu.Release(1)

	dirty := make([]bool, len(sessions))
	var g errgroup.Group
	for i, s := range sessions {
		i, s := i, s
		g.Go(func() error {
			d, err := s.ConnectAndMonitor(ctx)
			dirty[i] = d
			return err
		})
	}
	groupErr := g.Wait()
	if groupErr == domain.ErrShutdownRequested {
		groupErr = nil
	}

	if groupErr == nil {
		r.removeUnusedSessions(ctx)
	}

	for _, d := range dirty {
		if d {
			if err := r.PersistConfig(ctx, domain.IdentityExpandedNodeID, false); err != nil {
				r.trace(domain.TraceWarn, "persisting configuration after reconciliation failed", map[string]any{"error": err.Error()})
			}
			break
		}
	}

	return groupErr
}

// removeUnusedSessions implements §4.3 phase 5 at the registry level:
// sessions left with no subscriptions are shut down and dropped from the
// registry. Acquires the registry mutex for the duration of the scan.
func (r *Registry) removeUnusedSessions(ctx context.Context) {
	if err := r.mu.Acquire(ctx, 1); err != nil {
		return
	}
	defer r.mu.Release(1)

	kept := r.order[:0]
	for _, key := range r.order {
		s, ok := r.sessions[key]
		if !ok {
			continue
		}
		if s.EmptyLocked() {
			// shutdown is itself mutex-guarded on the session; it is safe
			// to call while holding the registry mutex because it never
			// re-enters the registry (§5 lock ordering).
			_ = s.Shutdown(ctx)
			delete(r.sessions, key)
			continue
		}
		kept = append(kept, key)
	}
	r.order = kept
}

// Start launches the periodic reconciliation scheduler and returns
// immediately; call Stop to tear it down.
func (r *Registry) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.baseCtx.Done():
				return
			case <-ticker.C:
				_ = r.ReconcileAll(r.baseCtx)
			}
		}
	}()
}

// Stop cancels the scheduler and every running session loop, shuts down
// every live session, and waits for all background goroutines to exit.
func (r *Registry) Stop(ctx context.Context) {
	r.cancel()

	if err := r.mu.Acquire(ctx, 1); err == nil {
		for _, key := range r.order {
			if s, ok := r.sessions[key]; ok {
				_ = s.Shutdown(ctx)
			}
		}
		r.mu.Release(1)
	}

	r.wg.Wait()
}

// Sessions returns a snapshot of the currently registered sessions, for
// health reporting and metrics collection.
func (r *Registry) Sessions(ctx context.Context) []*session.Session {
	if err := r.mu.Acquire(ctx, 1); err != nil {
		return nil
	}
	defer r.mu.Release(1)

	out := make([]*session.Session, 0, len(r.order))
	for _, key := range r.order {
		if s, ok := r.sessions[key]; ok {
			out = append(out, s)
		}
	}
	return out
}
