package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpandedNodeID_NumericIdentifier(t *testing.T) {
	e, err := ParseExpandedNodeID("nsu=urn:x;i=7")
	require.NoError(t, err)
	assert.Equal(t, "urn:x", e.NamespaceURI)
	assert.Equal(t, IdentifierNumeric, e.IdentifierType)
	assert.Equal(t, "7", e.Identifier)
	assert.Equal(t, "nsu=urn:x;i=7", FormatExpandedNodeID(e))
}

func TestParseExpandedNodeID_StringIdentifier(t *testing.T) {
	e, err := ParseExpandedNodeID("nsu=urn:x;s=tag.one")
	require.NoError(t, err)
	assert.Equal(t, IdentifierString, e.IdentifierType)
	assert.Equal(t, "tag.one", e.Identifier)
	assert.Equal(t, "nsu=urn:x;s=tag.one", FormatExpandedNodeID(e))
}

func TestParseNodeID_NumericIdentifier(t *testing.T) {
	n, err := ParseNodeID("ns=2;i=42")
	require.NoError(t, err)
	assert.Equal(t, uint16(2), n.NamespaceIndex)
	assert.Equal(t, IdentifierNumeric, n.IdentifierType)
	assert.Equal(t, "42", n.Identifier)
	assert.Equal(t, "ns=2;i=42", FormatNodeID(n))
}

func TestParseNodeID_MissingIdentifierTag(t *testing.T) {
	_, err := ParseNodeID("ns=2;42")
	assert.Error(t, err)
}
