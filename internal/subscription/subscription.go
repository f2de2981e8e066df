// Package subscription groups monitored items that share a publishing
// interval on one session and owns the corresponding server-side
// subscription handle (spec.md §4.2).
package subscription

import (
	"context"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/monitoreditem"
	"github.com/nexus-edge/opc-gateway/internal/opcclient"
)

// Subscription groups monitored items sharing one publishing interval
// (§3). Within a session no two subscriptions share the same
// RequestedPublishingInterval (P1); SessionRegistry/Session enforce this by
// keying subscriptions by that interval (§9 Design Notes).
type Subscription struct {
	RequestedPublishingInterval float64 // ms
	RevisedPublishingInterval   float64 // ms
	Items                       []*monitoreditem.MonitoredItem
	ServerHandle                *opcclient.SubscriptionHandle
}

// New constructs an empty subscription for the given requested publishing
// interval.
func New(requestedPublishingIntervalMs float64) *Subscription {
	return &Subscription{RequestedPublishingInterval: requestedPublishingIntervalMs}
}

// Empty reports whether the subscription has no items left, making it
// eligible for garbage collection (§3 invariant, §4.3 phase 4).
func (s *Subscription) Empty() bool { return len(s.Items) == 0 }

// Created reports whether the server-side subscription handle exists.
func (s *Subscription) Created() bool { return s.ServerHandle != nil }

// Create issues CreateSubscription against the session when no server
// handle exists yet (§4.2 Create). Failure on one pass is not retried
// within the pass; the next reconciliation tick tries again.
func (s *Subscription) Create(ctx context.Context, client opcclient.ClientSession) error {
	if s.Created() {
		return nil
	}
	handle, revised, err := client.CreateSubscription(ctx, s.RequestedPublishingInterval)
	if err != nil {
		return err
	}
	s.ServerHandle = &handle
	s.RevisedPublishingInterval = revised
	return nil
}

// AddItem adds one monitored item's node to the server-side subscription,
// bracketed by SetPublishingMode(true) and ApplyChanges as §4.2 specifies.
// Returns the new server handle and revised sampling interval.
func (s *Subscription) AddItem(ctx context.Context, client opcclient.ClientSession, nodeID domain.NodeIDForm, requestedSamplingIntervalMs float64, queueSize uint32, discardOldest bool) (opcclient.MonitoredItemHandle, float64, error) {
	if err := client.SetPublishingMode(ctx, *s.ServerHandle, true); err != nil {
		return 0, 0, err
	}
	handle, revised, err := client.AddMonitoredItem(ctx, *s.ServerHandle, nodeID, requestedSamplingIntervalMs, queueSize, discardOldest)
	if err != nil {
		return 0, 0, err
	}
	if err := client.ApplyChanges(ctx, *s.ServerHandle); err != nil {
		return 0, 0, err
	}
	return handle, revised, nil
}

// RemoveItems batch-removes the items currently tagged RemovalRequested
// from the server subscription, then drops them from the in-memory list
// (§4.2 RemoveItems, §4.3 phase 3). Server-side failures are ignored — the
// items may never have been created. Returns whether anything was removed
// (config-dirty signal).
func (s *Subscription) RemoveItems(ctx context.Context, client opcclient.ClientSession) bool {
	var toRemove []opcclient.MonitoredItemHandle
	keep := make([]*monitoreditem.MonitoredItem, 0, len(s.Items))

	for _, item := range s.Items {
		if item.State == monitoreditem.RemovalRequested {
			if item.ServerHandle != nil {
				toRemove = append(toRemove, *item.ServerHandle)
			}
			continue
		}
		keep = append(keep, item)
	}

	if len(keep) == len(s.Items) {
		return false
	}

	if len(toRemove) > 0 && s.ServerHandle != nil {
		_ = client.RemoveMonitoredItems(ctx, *s.ServerHandle, toRemove)
	}

	s.Items = keep
	return true
}

// Delete deletes the server-side subscription on session teardown (§4.2
// Delete). Failures are ignored.
func (s *Subscription) Delete(ctx context.Context, client opcclient.ClientSession) {
	if s.ServerHandle == nil {
		return
	}
	_ = client.DeleteSubscription(ctx, *s.ServerHandle)
	s.ServerHandle = nil
}

// FindItem returns the item matching the given identity query, or nil.
func (s *Subscription) FindItem(nodeID *domain.NodeIDForm, expandedNodeID *domain.ExpandedNodeIDForm, ns *domain.NamespaceTable) *monitoreditem.MonitoredItem {
	for _, item := range s.Items {
		if item.IsMonitoringThisNode(nodeID, expandedNodeID, ns) {
			return item
		}
	}
	return nil
}

// TagForRemoval marks every item matching the identity query as
// RemovalRequested (§4.3 requestMonitorItemRemoval). Returns the count
// tagged.
func (s *Subscription) TagForRemoval(nodeID *domain.NodeIDForm, expandedNodeID *domain.ExpandedNodeIDForm, ns *domain.NamespaceTable) int {
	n := 0
	for _, item := range s.Items {
		if item.IsMonitoringThisNode(nodeID, expandedNodeID, ns) {
			item.State = monitoreditem.RemovalRequested
			n++
		}
	}
	return n
}
