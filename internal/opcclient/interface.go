// Package opcclient defines the boundary between the reconciliation engine
// and the OPC UA protocol itself (§6 "OPC client contract"). Session
// establishment, subscription RPCs, and value decoding are out of scope for
// the core per spec.md §1; this package states the contract precisely and
// ships one concrete adapter over github.com/gopcua/opcua.
package opcclient

import (
	"context"
	"time"

	"github.com/nexus-edge/opc-gateway/internal/domain"
)

// SubscriptionHandle identifies a server-side subscription.
type SubscriptionHandle uint32

// MonitoredItemHandle identifies a server-side monitored item.
type MonitoredItemHandle uint32

// EndpointDescriptor is the subset of a discovered endpoint the core needs
// to pick a security-disabled, anonymous-identity endpoint (§4.3 connect
// phase 1; authenticated variants are out of scope per spec.md §1).
type EndpointDescriptor struct {
	EndpointURL     string
	SecurityPolicy  string
	SecurityMode    string
}

// NotificationEvent is one value-change delivered on a session's
// notification stream, already demultiplexed to the subscription and
// monitored item it belongs to.
type NotificationEvent struct {
	Subscription SubscriptionHandle
	Item         MonitoredItemHandle
	Value        domain.DataValue
}

// KeepAliveEvent is a liveness event from the server. Good mirrors whether
// the carried status code was good; the core must tolerate a zero-value
// event per §4.3 ("tolerant of null-looking event arguments").
type KeepAliveEvent struct {
	Good bool
}

// Discoverer selects an endpoint for a given URL (§4.3 connect phase 1).
type Discoverer interface {
	DiscoverEndpoints(ctx context.Context, endpointURL string) ([]EndpointDescriptor, error)
}

// ClientSession is one live connection to an OPC UA server. The core never
// touches the wire protocol directly; every I/O suspension point named in
// §5 goes through this interface.
type ClientSession interface {
	// Close tears down the session. Errors are logged and ignored by
	// callers per the shutdown error taxonomy (§7).
	Close(ctx context.Context) error

	// ReadNamespaceArray populates the session's namespace table, read
	// exactly once per connect (§4.3 connect phase 1).
	ReadNamespaceArray(ctx context.Context) ([]string, error)

	// ReadMinSupportedSampleRate reads MinSupportedSampleRate.
	ReadMinSupportedSampleRate(ctx context.Context) (float64, error)

	// ReadDisplayName reads a node's DisplayName attribute, used only
	// when fetchDisplayName is enabled (§4.3 monitorNodes phase).
	ReadDisplayName(ctx context.Context, id domain.NodeIDForm) (string, error)

	// ServerInfo returns identifying attributes of the connected server
	// for envelope encoding (§4.1).
	ServerInfo() domain.ServerInfo

	// CreateSubscription issues CreateSubscriptionRequest and returns the
	// server handle plus the revised publishing interval.
	CreateSubscription(ctx context.Context, requestedPublishingIntervalMs float64) (SubscriptionHandle, float64, error)

	// DeleteSubscription deletes a server-side subscription. Failures are
	// swallowed by callers (§4.2 Delete).
	DeleteSubscription(ctx context.Context, sub SubscriptionHandle) error

	// SetPublishingMode enables/disables publishing on a subscription,
	// called before every AddMonitoredItem/ApplyChanges pair (§4.2).
	SetPublishingMode(ctx context.Context, sub SubscriptionHandle, enabled bool) error

	// AddMonitoredItem adds one monitored item to a subscription and
	// returns its server handle plus the revised sampling interval.
	AddMonitoredItem(ctx context.Context, sub SubscriptionHandle, id domain.NodeIDForm, requestedSamplingIntervalMs float64, queueSize uint32, discardOldest bool) (MonitoredItemHandle, float64, error)

	// ApplyChanges commits pending monitored-item mutations to the
	// server-side subscription (§4.2 AddItem/ApplyChanges).
	ApplyChanges(ctx context.Context, sub SubscriptionHandle) error

	// RemoveMonitoredItems batch-removes items from a subscription.
	// Failures are swallowed by callers (§4.2 RemoveItems).
	RemoveMonitoredItems(ctx context.Context, sub SubscriptionHandle, items []MonitoredItemHandle) error

	// Notifications streams value-change notifications for the lifetime
	// of the session.
	Notifications() <-chan NotificationEvent

	// KeepAlives streams keep-alive liveness events at the configured
	// interval.
	KeepAlives() <-chan KeepAliveEvent
}

// Dialer creates sessions. It composes Discoverer with session creation so
// the adapter can be swapped wholesale in tests.
type Dialer interface {
	Discoverer
	// CreateSession attempts anonymous session creation against the
	// selected endpoint, bounded by timeout (§4.3 connect phase 1's
	// linear-backoff timeout).
	CreateSession(ctx context.Context, desc EndpointDescriptor, sessionTimeout time.Duration, keepAliveInterval time.Duration) (ClientSession, error)
}

// ClassifyFault extracts the ServiceFault classification from an error
// returned by a ClientSession method, defaulting to FaultOther when the
// error does not carry an explicit classification (§7 error taxonomy).
func ClassifyFault(err error) domain.ServiceFault {
	if err == nil {
		return domain.FaultNone
	}
	var svcErr *domain.ServiceError
	if se, ok := err.(*domain.ServiceError); ok {
		svcErr = se
	} else if se, ok := asServiceError(err); ok {
		svcErr = se
	}
	if svcErr != nil {
		return svcErr.Fault
	}
	return domain.FaultOther
}

func asServiceError(err error) (*domain.ServiceError, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if se, ok := err.(*domain.ServiceError); ok {
			return se, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
