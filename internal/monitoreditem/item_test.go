package monitoreditem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/opc-gateway/internal/domain"
)

func TestIsMonitoringThisNode_RemovalRequestedNeverMatches(t *testing.T) {
	item := New(domain.NewNodeIdentity(2, domain.IdentifierString, "foo"), "opc.tcp://a", 1000)
	item.State = RemovalRequested

	nodeID := domain.NodeIDForm{NamespaceIndex: 2, Identifier: "foo"}
	assert.False(t, item.IsMonitoringThisNode(&nodeID, nil, nil))
}

func TestIsMonitoringThisNode_SymmetricAcrossForms(t *testing.T) {
	ns := domain.NewNamespaceTable([]string{"urn:a", "urn:b", "urn:x"})

	nodeItem := New(domain.NewNodeIdentity(2, domain.IdentifierString, "widget"), "opc.tcp://a", 1000)
	expandedItem := New(domain.NewExpandedNodeIdentity("urn:x", domain.IdentifierString, "widget", nil), "opc.tcp://a", 1000)

	expQuery := domain.ExpandedNodeIDForm{NamespaceURI: "URN:X", Identifier: "WIDGET"}
	nodeQuery := domain.NodeIDForm{NamespaceIndex: 2, Identifier: "WIDGET"}

	assert.True(t, nodeItem.IsMonitoringThisNode(nil, &expQuery, ns), "NodeId item should match ExpandedNodeId query via namespace table")
	assert.True(t, expandedItem.IsMonitoringThisNode(&nodeQuery, nil, ns), "ExpandedNodeId item should match NodeId query via namespace table")
	assert.True(t, nodeItem.IsMonitoringThisNode(nil, &domain.ExpandedNodeIDForm{NamespaceURI: "urn:x", Identifier: "widget"}, ns))
}

func TestIsMonitoringThisNode_CaseInsensitiveIdentifierAndURI(t *testing.T) {
	ns := domain.NewNamespaceTable([]string{"urn:a"})
	item := New(domain.NewExpandedNodeIdentity("urn:a", domain.IdentifierString, "Tag1", nil), "opc.tcp://a", 1000)

	query := domain.ExpandedNodeIDForm{NamespaceURI: "URN:A", Identifier: "tag1"}
	assert.True(t, item.IsMonitoringThisNode(nil, &query, ns))
}

func TestReconcileNamespace_ExpandedForm(t *testing.T) {
	ns := domain.NewNamespaceTable([]string{"urn:a", "urn:b"})
	item := New(domain.NewExpandedNodeIdentity("urn:b", domain.IdentifierString, "tag", nil), "opc.tcp://a", 1000)
	item.State = UnmonitoredNamespaceUpdateRequested

	ok := item.ReconcileNamespace(ns)
	require.True(t, ok)
	require.NotNil(t, item.Identity.ExpandedNodeID.NamespaceIndex)
	assert.Equal(t, uint16(1), *item.Identity.ExpandedNodeID.NamespaceIndex)
	assert.Equal(t, Unmonitored, item.State)
}

func TestReconcileNamespace_ExpandedForm_URINotFound(t *testing.T) {
	ns := domain.NewNamespaceTable([]string{"urn:a"})
	item := New(domain.NewExpandedNodeIdentity("urn:missing", domain.IdentifierString, "tag", nil), "opc.tcp://a", 1000)
	item.State = UnmonitoredNamespaceUpdateRequested

	ok := item.ReconcileNamespace(ns)
	assert.False(t, ok)
	assert.Equal(t, UnmonitoredNamespaceUpdateRequested, item.State)
}

func TestReconcileNamespace_NodeIDFormUpgradesToExpanded(t *testing.T) {
	ns := domain.NewNamespaceTable([]string{"urn:a", "urn:b"})
	item := New(domain.NewNodeIdentity(1, domain.IdentifierString, "tag"), "opc.tcp://a", 1000)
	item.State = UnmonitoredNamespaceUpdateRequested

	ok := item.ReconcileNamespace(ns)
	require.True(t, ok)
	assert.Equal(t, domain.IdentityExpandedNodeID, item.Identity.Kind)
	assert.Equal(t, "urn:b", item.Identity.ExpandedNodeID.NamespaceURI)
	assert.Equal(t, Unmonitored, item.State)
}

func TestOnNotification_ClearsServerTimestampAndAppendsShopfloorDomain(t *testing.T) {
	item := New(domain.NewNodeIdentity(3, domain.IdentifierString, "i=42"), "opc.tcp://a", 1000)
	item.DisplayName = "Tag1"

	var got string
	value := &domain.DataValue{Value: 3.14, ServerTimestamp: domain.EpochSentinel.AddDate(1, 0, 0)}

	item.OnNotification(value, domain.ServerInfo{ApplicationURI: "urn:server"}, "line1", func(payload string) {
		got = payload
	}, nil)

	require.NotEmpty(t, got)
	assert.Contains(t, got, `"ApplicationUri":"urn:server:line1"`)
	assert.Contains(t, got, `"ServerTimestamp":"1970-01-01T00:00:00Z"`)
}

func TestOnNotification_NilValueDropped(t *testing.T) {
	item := New(domain.NewNodeIdentity(3, domain.IdentifierString, "i=42"), "opc.tcp://a", 1000)
	called := false
	item.OnNotification(nil, domain.ServerInfo{}, "", func(string) { called = true }, nil)
	assert.False(t, called)
}

func TestRecordNodeFault_PermanentlyFailsAfterThreshold(t *testing.T) {
	item := New(domain.NewNodeIdentity(1, domain.IdentifierString, "bad"), "opc.tcp://a", 1000)
	for i := 0; i < permanentFailureThreshold-1; i++ {
		item.RecordNodeFault()
		assert.NotEqual(t, PermanentlyFailed, item.State)
	}
	item.RecordNodeFault()
	assert.Equal(t, PermanentlyFailed, item.State)

	item.ClearPermanentFailure()
	assert.Equal(t, Unmonitored, item.State)
}
