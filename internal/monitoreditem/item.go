// Package monitoreditem implements the leaf entity of the data model: a
// single observed node, its lifecycle state, and the envelope encoder for
// value-change notifications (spec.md §4.1).
package monitoreditem

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/opcclient"
)

// State is the monitored item's lifecycle state (§3).
type State int

const (
	Unmonitored State = iota
	UnmonitoredNamespaceUpdateRequested
	Monitored
	RemovalRequested
	// PermanentlyFailed is a supplemented state (§9 redesign flag /
	// SPEC_FULL §4): a node that keeps failing with BadNodeIdInvalid or
	// BadNodeIdUnknown stops being retried every tick.
	PermanentlyFailed
)

func (s State) String() string {
	switch s {
	case Unmonitored:
		return "Unmonitored"
	case UnmonitoredNamespaceUpdateRequested:
		return "UnmonitoredNamespaceUpdateRequested"
	case Monitored:
		return "Monitored"
	case RemovalRequested:
		return "RemovalRequested"
	case PermanentlyFailed:
		return "PermanentlyFailed"
	default:
		return "Unknown"
	}
}

// permanentFailureThreshold is how many consecutive BadNodeIdInvalid/
// BadNodeIdUnknown faults move an item to PermanentlyFailed, rather than
// the original source's indefinite retry (SPEC_FULL §4).
const permanentFailureThreshold = 3

// MonitoredItem is the leaf entity of the data model (§3).
type MonitoredItem struct {
	Identity domain.NodeIdentity
	State    State

	DisplayName               string
	RequestedSamplingInterval float64 // ms
	RevisedSamplingInterval   float64 // ms
	QueueSize                 uint32
	DiscardOldest             bool
	AttributeIDValue          bool // true == Value attribute (default); only attribute this core monitors
	EndpointURI               string

	ServerHandle       *opcclient.MonitoredItemHandle
	consecutiveFaults  int
}

// New constructs a MonitoredItem with the spec's defaults (§3): QueueSize 0,
// DiscardOldest true, MonitoringMode Reporting (implicit — this core only
// ever requests Reporting), AttributeId Value.
func New(identity domain.NodeIdentity, endpointURI string, requestedSamplingIntervalMs float64) *MonitoredItem {
	return &MonitoredItem{
		Identity:                  identity,
		State:                     Unmonitored,
		RequestedSamplingInterval: requestedSamplingIntervalMs,
		QueueSize:                 0,
		DiscardOldest:             true,
		AttributeIDValue:          true,
		EndpointURI:               endpointURI,
	}
}

// IsMonitoringThisNode implements §4.1's identity-matching rule: a
// RemovalRequested item never matches (so it is excluded from "already
// published" checks), and otherwise the item's configured identity is
// compared against either query form, bridging forms via the namespace
// table when required. Exactly one of nodeID/expandedNodeID must be
// non-nil; callers that have neither should not call this.
func (m *MonitoredItem) IsMonitoringThisNode(nodeID *domain.NodeIDForm, expandedNodeID *domain.ExpandedNodeIDForm, ns *domain.NamespaceTable) bool {
	if m.State == RemovalRequested {
		return false
	}

	switch {
	case nodeID != nil && m.Identity.Kind == domain.IdentityNodeID:
		return m.Identity.NodeID.NamespaceIndex == nodeID.NamespaceIndex &&
			strings.EqualFold(m.Identity.NodeID.Identifier, nodeID.Identifier)

	case nodeID != nil && m.Identity.Kind == domain.IdentityExpandedNodeID:
		// Resolve the query's namespace index via ns.indexOf(uri) is the
		// inverse direction; here the item holds ExpandedNodeId and the
		// query holds NodeId, so resolve the ITEM's namespace index via
		// the table and compare to the query's index/identifier.
		idx, ok := ns.IndexOf(m.Identity.ExpandedNodeID.NamespaceURI)
		if !ok {
			return false
		}
		return idx == nodeID.NamespaceIndex &&
			strings.EqualFold(m.Identity.ExpandedNodeID.Identifier, nodeID.Identifier)

	case expandedNodeID != nil && m.Identity.Kind == domain.IdentityNodeID:
		uri, ok := ns.URIAt(m.Identity.NodeID.NamespaceIndex)
		if !ok {
			return false
		}
		return strings.EqualFold(uri, expandedNodeID.NamespaceURI) &&
			strings.EqualFold(m.Identity.NodeID.Identifier, expandedNodeID.Identifier)

	case expandedNodeID != nil && m.Identity.Kind == domain.IdentityExpandedNodeID:
		return strings.EqualFold(m.Identity.ExpandedNodeID.NamespaceURI, expandedNodeID.NamespaceURI) &&
			strings.EqualFold(m.Identity.ExpandedNodeID.Identifier, expandedNodeID.Identifier)

	default:
		return false
	}
}

// Envelope is the JSON object shape enqueued to the egress queue (§4.1):
// field order is ApplicationUri, DisplayName, NodeId, Value.
type Envelope struct {
	ApplicationURI string          `json:"ApplicationUri"`
	DisplayName    string          `json:"DisplayName"`
	NodeID         string          `json:"NodeId"`
	Value          domain.DataValue `json:"Value"`
}

// nodeIDWireString renders whichever identity form the item currently
// holds, in the compact "ns=X;s=Y" / "nsu=uri;s=Y" notation — this is the
// only observable distinction between the two forms at the wire (§4.1, §9).
func (m *MonitoredItem) nodeIDWireString() string {
	if m.Identity.Kind == domain.IdentityExpandedNodeID {
		return domain.FormatExpandedNodeID(m.Identity.ExpandedNodeID)
	}
	return FormatNodeID(m.Identity.NodeID)
}

// FormatNodeID renders the compact "ns=X;s=Y" notation for a concrete node
// id, used both for the envelope's NodeId field (NodeId-form items) and as
// the fallback DisplayName when fetchDisplayName is disabled (§4.3).
func FormatNodeID(n domain.NodeIDForm) string {
	return domain.FormatNodeID(n)
}

// OnNotification encodes one value-change notification into the egress
// envelope and enqueues it (§4.1). Any encoding error is logged and
// swallowed — notifications are never retried (§7). A nil value is
// silently dropped.
func (m *MonitoredItem) OnNotification(value *domain.DataValue, server domain.ServerInfo, shopfloorDomain string, enqueue func(string), tracer domain.Tracer) {
	if value == nil {
		return
	}

	appURI := server.ApplicationURI
	if shopfloorDomain != "" {
		appURI = appURI + ":" + shopfloorDomain
	}

	env := Envelope{
		ApplicationURI: appURI,
		DisplayName:    m.DisplayName,
		NodeID:         m.nodeIDWireString(),
		Value:          value.WithClearedServerTimestamp(),
	}

	payload, err := json.Marshal(env)
	if err != nil {
		if tracer != nil {
			tracer.Trace(domain.TraceError, "failed to encode notification envelope", map[string]any{
				"node_id": env.NodeID,
				"error":   err.Error(),
			})
		}
		return
	}

	enqueue(string(payload))
}

// ReconcileNamespace performs the identity-form reconciliation described in
// §4.3 monitorNodes for an item in UnmonitoredNamespaceUpdateRequested:
//   - ExpandedNodeId form: resolve namespaceIndex from namespaceUri; on
//     success overwrite the stored index.
//   - NodeId form: resolve namespaceUri from namespaceIndex and upgrade the
//     item to hold the ExpandedNodeId form.
//
// On success the item is left in Unmonitored (the caller proceeds with
// monitoring in the same pass, per spec). On failure the item remains
// UnmonitoredNamespaceUpdateRequested and the caller should log+skip for
// this cycle.
func (m *MonitoredItem) ReconcileNamespace(ns *domain.NamespaceTable) bool {
	switch m.Identity.Kind {
	case domain.IdentityExpandedNodeID:
		idx, ok := ns.IndexOf(m.Identity.ExpandedNodeID.NamespaceURI)
		if !ok {
			return false
		}
		m.Identity.ExpandedNodeID.NamespaceIndex = &idx
	case domain.IdentityNodeID:
		expanded, ok := ns.ResolveToExpanded(m.Identity.NodeID)
		if !ok || expanded.NamespaceURI == "" {
			return false
		}
		m.Identity = domain.NodeIdentity{Kind: domain.IdentityExpandedNodeID, ExpandedNodeID: expanded}
	}
	m.State = Unmonitored
	return true
}

// EffectiveNodeID computes the concrete (namespaceIndex, identifier) the
// server understands, from whichever identity form the item holds (§4.3
// monitorNodes: "Compute effective NodeId for the server"). Returns false
// when the item holds the ExpandedNodeId form and its namespace index has
// not been resolved yet.
func (m *MonitoredItem) EffectiveNodeID() (domain.NodeIDForm, bool) {
	if m.Identity.Kind == domain.IdentityNodeID {
		return m.Identity.NodeID, true
	}
	idx := m.Identity.ExpandedNodeID.NamespaceIndex
	if idx == nil {
		return domain.NodeIDForm{}, false
	}
	return domain.NodeIDForm{
		NamespaceIndex: *idx,
		IdentifierType: m.Identity.ExpandedNodeID.IdentifierType,
		Identifier:     m.Identity.ExpandedNodeID.Identifier,
	}, true
}

// MarkMonitored transitions the item to Monitored after a successful
// server-side add (§4.3 monitorNodes step 2).
func (m *MonitoredItem) MarkMonitored(handle opcclient.MonitoredItemHandle, revisedSamplingInterval float64) {
	h := handle
	m.ServerHandle = &h
	m.RevisedSamplingInterval = revisedSamplingInterval
	m.State = Monitored
	m.consecutiveFaults = 0
}

// RecordNodeFault records a BadNodeIdInvalid/BadNodeIdUnknown fault and
// promotes the item to PermanentlyFailed after permanentFailureThreshold
// consecutive occurrences (SPEC_FULL §4 supplement to §7's "retries
// indefinitely").
func (m *MonitoredItem) RecordNodeFault() {
	m.consecutiveFaults++
	if m.consecutiveFaults >= permanentFailureThreshold {
		m.State = PermanentlyFailed
	}
}

// ClearPermanentFailure resets a PermanentlyFailed item back to
// Unmonitored so the next reconciliation tick retries it (operator action,
// SPEC_FULL §4).
func (m *MonitoredItem) ClearPermanentFailure() {
	if m.State == PermanentlyFailed {
		m.State = Unmonitored
		m.consecutiveFaults = 0
	}
}

// Reset marks the item Unmonitored and clears its server handle, used on
// session shutdown (§4.3 Shutdown) and when the session disconnects.
func (m *MonitoredItem) Reset() {
	m.ServerHandle = nil
	m.State = Unmonitored
	m.consecutiveFaults = 0
}
