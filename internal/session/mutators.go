package session

import (
	"context"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/monitoreditem"
)

// AddNodeForMonitoring implements §4.3 addNodeForMonitoring: if the node is
// already published in this session nothing is added and
// ErrDuplicatePublishing is returned, so repeated adds leave one item; an
// ExpandedNodeId whose namespace index can't yet be resolved is stored as
// UnmonitoredNamespaceUpdateRequested and picked up by the next
// reconciliation pass once the namespace table exists.
func (s *Session) AddNodeForMonitoring(ctx context.Context, identity domain.NodeIdentity, requestedSamplingIntervalMs, requestedPublishingIntervalMs float64, queueSize uint32, discardOldest bool) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.Terminal() {
		return domain.ErrShutdownRequested
	}

	if s.isNodePublishedLocked(identity) {
		return domain.ErrDuplicatePublishing
	}

	item := monitoreditem.New(identity, s.EndpointURI, requestedSamplingIntervalMs)
	item.QueueSize = queueSize
	item.DiscardOldest = discardOldest

	if identity.Kind == domain.IdentityExpandedNodeID && identity.ExpandedNodeID.NamespaceIndex == nil {
		item.State = monitoreditem.UnmonitoredNamespaceUpdateRequested
	}

	sub := s.subscriptionForInterval(requestedPublishingIntervalMs)
	sub.Items = append(sub.Items, item)

	s.Kick()
	return nil
}

// RequestMonitorItemRemoval implements §4.3 requestMonitorItemRemoval:
// every item across every subscription matching the identity query is
// tagged RemovalRequested, to be dropped on the next reconciliation pass.
// Returns the number of items tagged.
func (s *Session) RequestMonitorItemRemoval(ctx context.Context, nodeID *domain.NodeIDForm, expandedNodeID *domain.ExpandedNodeIDForm) (int, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()

	if s.Terminal() {
		return 0, domain.ErrShutdownRequested
	}

	total := 0
	for _, sub := range s.Subscriptions {
		total += sub.TagForRemoval(nodeID, expandedNodeID, s.NamespaceTable)
	}
	if total > 0 {
		s.Kick()
	}
	return total, nil
}

// IsNodePublishedInSession reports whether any non-RemovalRequested item
// in this session matches the given identity query (§4.3).
func (s *Session) IsNodePublishedInSession(ctx context.Context, identity domain.NodeIdentity) (bool, error) {
	if err := s.acquire(ctx); err != nil {
		return false, err
	}
	defer s.release()

	return s.isNodePublishedLocked(identity), nil
}

func (s *Session) isNodePublishedLocked(identity domain.NodeIdentity) bool {
	nodeID, expandedNodeID := identityQuery(identity)
	for _, sub := range s.Subscriptions {
		if sub.FindItem(nodeID, expandedNodeID, s.NamespaceTable) != nil {
			return true
		}
	}
	return false
}

// Shutdown implements §4.3 Shutdown: move to ShuttingDown so no further
// mutator is accepted, best-effort delete every server-side subscription,
// close the client connection, and finally mark Shutdown. Safe to call
// more than once.
func (s *Session) Shutdown(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.State == Shutdown {
		return nil
	}
	s.State = ShuttingDown

	for _, sub := range s.Subscriptions {
		sub.Delete(ctx, s.client)
		for _, item := range sub.Items {
			item.Reset()
		}
	}

	if s.client != nil {
		_ = s.client.Close(ctx)
		s.client = nil
	}

	s.State = Shutdown
	s.trace(domain.TraceInfo, "session shut down", nil)
	return nil
}
