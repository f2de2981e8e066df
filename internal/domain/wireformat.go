package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// identifierWire renders the "i=<identifier>" / "s=<identifier>" fragment
// for the given identifier encoding (§6).
func identifierWire(t IdentifierType, identifier string) string {
	if t == IdentifierNumeric {
		return "i=" + identifier
	}
	return "s=" + identifier
}

// cutIdentifier splits the part of a node id string following "ns="/"nsu="
// into its prefix and its "i="/"s="-tagged identifier, detecting which
// encoding was used. Only the numeric and string encodings are supported;
// the guid/opaque encodings gopcua also accepts ("g=", "b=") never appear
// in this system's configuration file or envelope (§6).
func cutIdentifier(rest string) (prefix string, idType IdentifierType, identifier string, err error) {
	if prefix, identifier, ok := strings.Cut(rest, ";i="); ok {
		return prefix, IdentifierNumeric, identifier, nil
	}
	if prefix, identifier, ok := strings.Cut(rest, ";s="); ok {
		return prefix, IdentifierString, identifier, nil
	}
	return "", 0, "", fmt.Errorf("missing ;i= or ;s= identifier in %q", rest)
}

// FormatNodeID renders the compact "ns=<index>;i=<identifier>" /
// "ns=<index>;s=<identifier>" notation used both in the configuration file
// and, for NodeId-form items, in the notification envelope (§4.1, §6).
func FormatNodeID(n NodeIDForm) string {
	return "ns=" + strconv.Itoa(int(n.NamespaceIndex)) + ";" + identifierWire(n.IdentifierType, n.Identifier)
}

// ParseNodeID parses the "ns=<index>;i=<identifier>" / "ns=<index>;s=<identifier>"
// notation emitted by FormatNodeID, as read from the legacy top-level
// "NodeId" field of a configuration entry (§6).
func ParseNodeID(s string) (NodeIDForm, error) {
	rest, ok := strings.CutPrefix(s, "ns=")
	if !ok {
		return NodeIDForm{}, fmt.Errorf("node id %q missing ns= prefix", s)
	}
	idxStr, idType, identifier, err := cutIdentifier(rest)
	if err != nil {
		return NodeIDForm{}, fmt.Errorf("node id %q: %w", s, err)
	}
	idx, err := strconv.ParseUint(idxStr, 10, 16)
	if err != nil {
		return NodeIDForm{}, fmt.Errorf("node id %q has invalid namespace index: %w", s, err)
	}
	return NodeIDForm{NamespaceIndex: uint16(idx), IdentifierType: idType, Identifier: identifier}, nil
}

// FormatExpandedNodeID renders the "nsu=<uri>;i=<identifier>" /
// "nsu=<uri>;s=<identifier>" notation used for the preferred
// "ExpandedNodeId" configuration field (§6).
func FormatExpandedNodeID(e ExpandedNodeIDForm) string {
	return "nsu=" + e.NamespaceURI + ";" + identifierWire(e.IdentifierType, e.Identifier)
}

// ParseExpandedNodeID parses the "nsu=<uri>;i=<identifier>" /
// "nsu=<uri>;s=<identifier>" notation.
func ParseExpandedNodeID(s string) (ExpandedNodeIDForm, error) {
	rest, ok := strings.CutPrefix(s, "nsu=")
	if !ok {
		return ExpandedNodeIDForm{}, fmt.Errorf("expanded node id %q missing nsu= prefix", s)
	}
	uri, idType, identifier, err := cutIdentifier(rest)
	if err != nil {
		return ExpandedNodeIDForm{}, fmt.Errorf("expanded node id %q: %w", s, err)
	}
	return ExpandedNodeIDForm{NamespaceURI: uri, IdentifierType: idType, Identifier: identifier}, nil
}
