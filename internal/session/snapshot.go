package session

import (
	"context"

	"github.com/nexus-edge/opc-gateway/internal/monitoreditem"
)

// ForEachItem visits every monitored item currently held by the session,
// under the session mutex, passing along the publishing interval of the
// owning subscription. Used by the registry's configuration persister to
// dump live state (§4.4 updateNodeConfigurationFile) without exposing the
// session's internals to unsynchronized access.
func (s *Session) ForEachItem(ctx context.Context, fn func(publishingIntervalMs float64, item *monitoreditem.MonitoredItem)) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	for _, sub := range s.Subscriptions {
		for _, item := range sub.Items {
			fn(sub.RequestedPublishingInterval, item)
		}
	}
	return nil
}
