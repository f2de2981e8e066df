package domain

import "strings"

// IdentityKind discriminates the two mutually exclusive forms a node
// identity can take (§3 MonitoredItem).
type IdentityKind int

const (
	// IdentityNodeID identifies a node by (namespaceIndex, identifier),
	// concrete to one server.
	IdentityNodeID IdentityKind = iota
	// IdentityExpandedNodeID identifies a node by (namespaceUri,
	// identifier[, namespaceIndex]), portable across servers.
	IdentityExpandedNodeID
)

// IdentifierType discriminates the OPC UA identifier encodings this core
// understands on the wire (§6's "ns=...;i=42" / "nsu=...;s=foo" notation).
// Identifier equality is always textual regardless of type (§4.1): this tag
// only affects how an identity is formatted for the wire and for the
// server, never how two identities are compared.
type IdentifierType int

const (
	// IdentifierString is the "s=" identifier encoding.
	IdentifierString IdentifierType = iota
	// IdentifierNumeric is the "i=" identifier encoding.
	IdentifierNumeric
)

// NodeIDForm is the concrete (namespaceIndex, identifier) identity form.
type NodeIDForm struct {
	NamespaceIndex uint16
	IdentifierType IdentifierType
	Identifier     string
}

// ExpandedNodeIDForm is the portable (namespaceUri, identifier) identity
// form. NamespaceIndex is nil until reconciliation resolves it against a
// session's namespace table.
type ExpandedNodeIDForm struct {
	NamespaceURI   string
	IdentifierType IdentifierType
	Identifier     string
	NamespaceIndex *uint16
}

// NodeIdentity is the tagged variant the data model calls for in place of
// two nullable fields (§9 Design Notes): exactly one of NodeID /
// ExpandedNodeID is meaningful, selected by Kind.
type NodeIdentity struct {
	Kind           IdentityKind
	NodeID         NodeIDForm
	ExpandedNodeID ExpandedNodeIDForm
}

// NewNodeIdentity builds the NodeId-form identity.
func NewNodeIdentity(namespaceIndex uint16, identifierType IdentifierType, identifier string) NodeIdentity {
	return NodeIdentity{
		Kind:   IdentityNodeID,
		NodeID: NodeIDForm{NamespaceIndex: namespaceIndex, IdentifierType: identifierType, Identifier: identifier},
	}
}

// NewExpandedNodeIdentity builds the ExpandedNodeId-form identity. index may
// be nil when the namespace index is not yet known.
func NewExpandedNodeIdentity(namespaceURI string, identifierType IdentifierType, identifier string, index *uint16) NodeIdentity {
	return NodeIdentity{
		Kind: IdentityExpandedNodeID,
		ExpandedNodeID: ExpandedNodeIDForm{
			NamespaceURI:   namespaceURI,
			IdentifierType: identifierType,
			Identifier:     identifier,
			NamespaceIndex: index,
		},
	}
}

// IsExpanded reports whether this identity currently holds the
// ExpandedNodeId form.
func (n NodeIdentity) IsExpanded() bool { return n.Kind == IdentityExpandedNodeID }

// IdentifierString returns the textual identifier regardless of form, for
// the string-equality comparisons §4.1 mandates (never typed-identifier
// equality).
func (n NodeIdentity) IdentifierString() string {
	if n.Kind == IdentityExpandedNodeID {
		return n.ExpandedNodeID.Identifier
	}
	return n.NodeID.Identifier
}

// NamespaceTable caches one session's server-supplied namespace URI array
// and translates between namespace index and namespace URI (§4.1
// NamespaceTable). It is populated exactly once per Connecting->Connected
// transition and is stable for the session's lifetime thereafter.
type NamespaceTable struct {
	uris []string
}

// NewNamespaceTable builds a table from the server's NamespaceArray read.
func NewNamespaceTable(uris []string) *NamespaceTable {
	cp := make([]string, len(uris))
	copy(cp, uris)
	return &NamespaceTable{uris: cp}
}

// URIAt returns the URI at the given namespace index.
func (t *NamespaceTable) URIAt(index uint16) (string, bool) {
	if t == nil || int(index) >= len(t.uris) {
		return "", false
	}
	return t.uris[index], true
}

// IndexOf returns the namespace index for a URI, matched case-insensitively
// per §4.1.
func (t *NamespaceTable) IndexOf(uri string) (uint16, bool) {
	if t == nil {
		return 0, false
	}
	for i, u := range t.uris {
		if strings.EqualFold(u, uri) {
			return uint16(i), true
		}
	}
	return 0, false
}

// Populated reports whether the table has been filled in yet.
func (t *NamespaceTable) Populated() bool { return t != nil && len(t.uris) > 0 }

// ResolveToExpanded converts a NodeId-form identity to the ExpandedNodeId
// form by resolving namespaceIndex -> uri. Returns false when the uri is
// empty (index out of range, or an empty entry in the table).
func (t *NamespaceTable) ResolveToExpanded(n NodeIDForm) (ExpandedNodeIDForm, bool) {
	uri, ok := t.URIAt(n.NamespaceIndex)
	if !ok || uri == "" {
		return ExpandedNodeIDForm{}, false
	}
	idx := n.NamespaceIndex
	return ExpandedNodeIDForm{NamespaceURI: uri, IdentifierType: n.IdentifierType, Identifier: n.Identifier, NamespaceIndex: &idx}, true
}

// ResolveToNodeID converts an ExpandedNodeId-form identity to the concrete
// NodeId form by resolving uri -> namespaceIndex. Returns false when the
// uri is not present in the table.
func (t *NamespaceTable) ResolveToNodeID(e ExpandedNodeIDForm) (NodeIDForm, bool) {
	idx, ok := t.IndexOf(e.NamespaceURI)
	if !ok {
		return NodeIDForm{}, false
	}
	return NodeIDForm{NamespaceIndex: idx, IdentifierType: e.IdentifierType, Identifier: e.Identifier}, true
}
