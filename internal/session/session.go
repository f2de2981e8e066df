// Package session implements the per-endpoint client: connection state
// machine, subscription/item reconciliation loop, and keep-alive handling
// (spec.md §4.3). This is the core of the gateway.
package session

import (
	"context"
	"sort"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/opcclient"
	"github.com/nexus-edge/opc-gateway/internal/subscription"
)

// State is the session's connection lifecycle state (§3). ShuttingDown and
// Shutdown fold the process-wide shutdown token into the state machine
// itself (§9 redesign flag), rather than a side-channel token every
// mutator checks separately.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ShuttingDown
	Shutdown
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case ShuttingDown:
		return "ShuttingDown"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Config holds the tunables a Session needs beyond what is persisted in
// the node configuration file.
type Config struct {
	// BackoffMax caps the linear connect-timeout multiplier (§4.3 connect
	// phase 1).
	BackoffMax uint32
	// KeepAliveIntervalSec is the server-driven keep-alive cadence.
	KeepAliveIntervalSec uint32
	// KeepAliveDisconnectThreshold is how many consecutive bad keep-alives
	// trigger disconnect (§4.3 keep-alive handling).
	KeepAliveDisconnectThreshold uint32
	// FetchDisplayName enables the optional DisplayName read during
	// monitorNodes (§4.3).
	FetchDisplayName bool
	// ShopfloorDomain is appended to ApplicationUri in the envelope when
	// non-empty (§4.1).
	ShopfloorDomain string
	// ReconcileInterval is the periodic driver's tick period.
	ReconcileInterval time.Duration
}

// DefaultConfig returns the gateway's stock tunables.
func DefaultConfig() Config {
	return Config{
		BackoffMax:                   8,
		KeepAliveIntervalSec:         5,
		KeepAliveDisconnectThreshold: 3,
		FetchDisplayName:             true,
		ReconcileInterval:            2 * time.Second,
	}
}

// Session owns the connection to one endpoint, owns a set of
// subscriptions, and runs the reconciliation loop (§3, §4.3).
type Session struct {
	EndpointURI                   string
	SessionTimeout                time.Duration
	State                         State
	Subscriptions                 map[float64]*subscription.Subscription
	NamespaceTable                *domain.NamespaceTable
	MinSupportedSamplingIntervalMs float64
	UnsuccessfulConnects          uint32
	MissedKeepAlives              uint32

	client opcclient.ClientSession

	cfg      Config
	dialer   opcclient.Dialer
	tracer   domain.Tracer
	enqueue  func(string)
	breaker  *gobreaker.CircuitBreaker

	// mu is the per-session binary semaphore (§5): every public operation
	// acquires it on entry and releases on exit, and it is explicitly
	// released/reacquired around the blocking session-create call in the
	// connect phase.
	mu *semaphore.Weighted

	kick chan struct{}
}

// New constructs a Session for one endpoint. The dialer realizes the OPC
// client contract (§6); tracer realizes the logging contract; enqueue
// realizes the egress contract.
func New(endpointURI string, sessionTimeout time.Duration, cfg Config, dialer opcclient.Dialer, tracer domain.Tracer, enqueue func(string)) *Session {
	return &Session{
		EndpointURI:    endpointURI,
		SessionTimeout: sessionTimeout,
		State:          Disconnected,
		Subscriptions:  make(map[float64]*subscription.Subscription),
		cfg:            cfg,
		dialer:         dialer,
		tracer:         tracer,
		enqueue:        enqueue,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "opcua-session-" + endpointURI,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		mu:   semaphore.NewWeighted(1),
		kick: make(chan struct{}, 1),
	}
}

func (s *Session) acquire(ctx context.Context) error {
	return s.mu.Acquire(ctx, 1)
}

func (s *Session) release() {
	s.mu.Release(1)
}

// trace is a nil-safe helper so tests can omit a tracer.
func (s *Session) trace(level domain.TraceLevel, msg string, fields map[string]any) {
	if s.tracer == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["endpoint"] = s.EndpointURI
	s.tracer.Trace(level, msg, fields)
}

// Terminal reports whether the session is ShuttingDown or Shutdown: no
// operation is legal on it past that point (§9 redesign flag / Open
// Question about the source disposing its mutex on shutdown).
func (s *Session) Terminal() bool {
	return s.State == ShuttingDown || s.State == Shutdown
}

// Kick requests an out-of-band reconciliation pass without blocking the
// caller (§9 Design Notes: a single periodic loop plus a kick channel,
// replacing the source's "fire a background task per mutator").
func (s *Session) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// subscriptionForInterval returns the subscription keyed by the requested
// publishing interval, creating one if absent (§4.3 addNodeForMonitoring,
// §9 Design Notes: keying by interval makes find-or-create O(1) and
// encodes P1 structurally).
func (s *Session) subscriptionForInterval(publishingIntervalMs float64) *subscription.Subscription {
	sub, ok := s.Subscriptions[publishingIntervalMs]
	if !ok {
		sub = subscription.New(publishingIntervalMs)
		s.Subscriptions[publishingIntervalMs] = sub
	}
	return sub
}

// sortedIntervals returns the subscription keys in a deterministic order,
// so reconciliation passes are reproducible in tests.
func (s *Session) sortedIntervals() []float64 {
	keys := make([]float64, 0, len(s.Subscriptions))
	for k := range s.Subscriptions {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	return keys
}

// EmptyLocked reports whether the session has no subscriptions left,
// making it eligible for shutdown (§3 invariant, §4.3 removeUnusedSessions
// at the registry level). Caller must hold the session mutex.
func (s *Session) EmptyLocked() bool {
	return len(s.Subscriptions) == 0
}

// identityQuery splits a domain.NodeIdentity into the (nodeID,
// expandedNodeID) pointer pair the matching/removal operations expect.
func identityQuery(identity domain.NodeIdentity) (*domain.NodeIDForm, *domain.ExpandedNodeIDForm) {
	if identity.Kind == domain.IdentityExpandedNodeID {
		return nil, &identity.ExpandedNodeID
	}
	return &identity.NodeID, nil
}
