package session

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/monitoreditem"
	"github.com/nexus-edge/opc-gateway/internal/opcclient"
)

// ConnectAndMonitor runs one reconciliation pass: connect (if needed),
// reconcile namespace/monitor pending nodes, drop removed nodes, and
// garbage-collect empty subscriptions (§4.3). It is the operation the
// periodic driver (Run) calls on every tick and every Kick. The returned
// bool reports whether any phase changed monitored state in a way the
// configuration file must reflect (§4.3 "any phase may return a config
// dirty flag"); callers rewrite the configuration file when it is true.
func (s *Session) ConnectAndMonitor(ctx context.Context) (dirty bool, err error) {
	if err := s.acquire(ctx); err != nil {
		return false, err
	}
	defer s.release()

	if s.Terminal() {
		return false, domain.ErrShutdownRequested
	}

	if s.State != Connected {
		if err := s.connectPhase(ctx); err != nil {
			return false, err
		}
	}

	if s.State != Connected {
		// Still not connected (backoff/breaker open): nothing else to do
		// this pass.
		return false, nil
	}

	monitored := s.monitorNodesPhase(ctx)
	removed := s.stopMonitoringPhase(ctx)
	s.removeUnusedSubscriptionsPhase(ctx)

	return monitored || removed, nil
}

// connectPhase implements §4.3 phase 1. The session mutex is released for
// the duration of the blocking dialer.CreateSession call and reacquired
// before mutating state again (§5 "Connect phase nuance"): CreateSession
// can take the full session timeout to fail against an unreachable
// endpoint, and holding the mutex across it would block every other
// session operation (including shutdown) for that long.
func (s *Session) connectPhase(ctx context.Context) error {
	s.State = Connecting
	s.trace(domain.TraceInfo, "connecting", map[string]any{"attempt": s.UnsuccessfulConnects + 1})

	s.release()
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.dialer.CreateSession(ctx, opcclient.EndpointDescriptor{EndpointURL: s.EndpointURI}, s.backoffAdjustedTimeout(), time.Duration(s.cfg.KeepAliveIntervalSec)*time.Second)
	})
	if acqErr := s.acquire(ctx); acqErr != nil {
		if err == nil {
			if client, ok := result.(opcclient.ClientSession); ok {
				_ = client.Close(context.Background())
			}
		}
		return acqErr
	}

	if s.Terminal() {
		if err == nil {
			if client, ok := result.(opcclient.ClientSession); ok {
				_ = client.Close(context.Background())
			}
		}
		return domain.ErrShutdownRequested
	}

	if err != nil {
		s.UnsuccessfulConnects++
		s.State = Disconnected
		s.trace(domain.TraceWarn, "connect failed", map[string]any{
			"error":       err.Error(),
			"unsuccessful_connects": s.UnsuccessfulConnects,
		})
		return nil
	}

	client, ok := result.(opcclient.ClientSession)
	if !ok {
		s.State = Disconnected
		return fmt.Errorf("dialer returned unexpected session type")
	}

	s.client = client
	s.UnsuccessfulConnects = 0
	s.MissedKeepAlives = 0
	s.State = Connected

	uris, err := client.ReadNamespaceArray(ctx)
	if err == nil {
		s.NamespaceTable = domain.NewNamespaceTable(uris)
	}
	if minRate, err := client.ReadMinSupportedSampleRate(ctx); err == nil {
		s.MinSupportedSamplingIntervalMs = minRate
	}

	s.trace(domain.TraceInfo, "connected", nil)
	return nil
}

// backoffAdjustedTimeout implements §4.3's linear connect-attempt backoff,
// capped at BackoffMax multiples of the configured session timeout.
func (s *Session) backoffAdjustedTimeout() time.Duration {
	mult := s.UnsuccessfulConnects + 1
	if mult > s.cfg.BackoffMax {
		mult = s.cfg.BackoffMax
	}
	return s.SessionTimeout * time.Duration(mult)
}

// monitorNodesPhase implements §4.3 phase 2: for every item not yet
// Monitored, resolve its namespace form if needed, compute the effective
// NodeId, ensure its subscription exists, and add it server-side.
// PermanentlyFailed and RemovalRequested items are skipped entirely.
// Returns whether any item newly became Monitored (config-dirty signal).
func (s *Session) monitorNodesPhase(ctx context.Context) bool {
	dirty := false
	for _, interval := range s.sortedIntervals() {
		sub := s.Subscriptions[interval]

		if err := sub.Create(ctx, s.client); err != nil {
			s.trace(domain.TraceWarn, "subscription create failed", map[string]any{
				"publishing_interval": interval,
				"error":               err.Error(),
			})
			continue
		}

		for _, item := range sub.Items {
			switch item.State {
			case monitoreditem.Monitored, monitoreditem.RemovalRequested, monitoreditem.PermanentlyFailed:
				continue
			case monitoreditem.UnmonitoredNamespaceUpdateRequested:
				if s.NamespaceTable == nil || !s.NamespaceTable.Populated() {
					continue
				}
				if !item.ReconcileNamespace(s.NamespaceTable) {
					continue
				}
			}

			nodeID, ok := item.EffectiveNodeID()
			if !ok {
				continue
			}

			if item.DisplayName == "" && s.cfg.FetchDisplayName {
				if name, err := s.client.ReadDisplayName(ctx, nodeID); err == nil {
					item.DisplayName = name
				}
			}
			if item.DisplayName == "" {
				item.DisplayName = formatNodeIDFallback(nodeID)
			}

			handle, revised, err := sub.AddItem(ctx, s.client, nodeID, item.RequestedSamplingInterval, item.QueueSize, item.DiscardOldest)
			if err != nil {
				s.handleMonitorFault(item, err)
				if s.State != Connected {
					return dirty
				}
				continue
			}
			item.MarkMonitored(handle, revised)
			dirty = true
		}

		if s.Terminal() || s.State != Connected {
			return dirty
		}
	}
	return dirty
}

// handleMonitorFault classifies a failed AddMonitoredItem call (§4.3):
// a session-invalid fault tears the session down immediately so the next
// tick reconnects from scratch; a node-unknown fault counts toward
// permanent failure on the item; anything else is logged and retried next
// tick.
func (s *Session) handleMonitorFault(item *monitoreditem.MonitoredItem, err error) {
	switch opcclient.ClassifyFault(err) {
	case domain.FaultSessionInvalid:
		s.trace(domain.TraceWarn, "session invalidated by server, disconnecting", map[string]any{"error": err.Error()})
		s.disconnectLocked()
	case domain.FaultNodeUnknown:
		item.RecordNodeFault()
	default:
		s.trace(domain.TraceWarn, "add monitored item failed", map[string]any{"error": err.Error()})
	}
}

// disconnectLocked drops the current client connection and resets state to
// Disconnected. Caller must hold the session mutex. Every item's server
// handle is cleared so the next connect phase re-adds everything from
// scratch, mirroring the "subscriptions don't outlive their session"
// invariant (§3).
func (s *Session) disconnectLocked() {
	if s.client != nil {
		_ = s.client.Close(context.Background())
		s.client = nil
	}
	s.State = Disconnected
	s.NamespaceTable = nil
	for _, sub := range s.Subscriptions {
		sub.ServerHandle = nil
		for _, item := range sub.Items {
			item.Reset()
		}
	}
}

// stopMonitoringPhase implements §4.3 phase 3: drop items tagged
// RemovalRequested from every subscription. Returns whether any
// subscription actually removed items (config-dirty signal).
func (s *Session) stopMonitoringPhase(ctx context.Context) bool {
	dirty := false
	for _, sub := range s.Subscriptions {
		if sub.RemoveItems(ctx, s.client) {
			dirty = true
		}
	}
	return dirty
}

// removeUnusedSubscriptionsPhase implements §4.3 phase 4: delete and drop
// any subscription left with no items.
func (s *Session) removeUnusedSubscriptionsPhase(ctx context.Context) {
	for interval, sub := range s.Subscriptions {
		if sub.Empty() {
			sub.Delete(ctx, s.client)
			delete(s.Subscriptions, interval)
		}
	}
}

// formatNodeIDFallback renders the default DisplayName used when
// FetchDisplayName is disabled or the read failed (§4.3).
func formatNodeIDFallback(n domain.NodeIDForm) string {
	return monitoreditem.FormatNodeID(n)
}
