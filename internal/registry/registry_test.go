package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/opcclient"
	"github.com/nexus-edge/opc-gateway/internal/session"
)

type fakeClient struct {
	mu            sync.Mutex
	namespaces    []string
	nextSub       opcclient.SubscriptionHandle
	nextItem      opcclient.MonitoredItemHandle
	notifications chan opcclient.NotificationEvent
	keepAlives    chan opcclient.KeepAliveEvent
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		namespaces:    []string{"urn:a"},
		nextSub:       1,
		notifications: make(chan opcclient.NotificationEvent, 1),
		keepAlives:    make(chan opcclient.KeepAliveEvent, 1),
	}
}

func (f *fakeClient) Close(context.Context) error                        { return nil }
func (f *fakeClient) ReadNamespaceArray(context.Context) ([]string, error) { return f.namespaces, nil }
func (f *fakeClient) ReadMinSupportedSampleRate(context.Context) (float64, error) {
	return 0, nil
}
func (f *fakeClient) ReadDisplayName(context.Context, domain.NodeIDForm) (string, error) {
	return "Tag", nil
}
func (f *fakeClient) ServerInfo() domain.ServerInfo {
	return domain.ServerInfo{ApplicationURI: "urn:server"}
}
func (f *fakeClient) CreateSubscription(context.Context, float64) (opcclient.SubscriptionHandle, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.nextSub
	f.nextSub++
	return h, 1000, nil
}
func (f *fakeClient) DeleteSubscription(context.Context, opcclient.SubscriptionHandle) error {
	return nil
}
func (f *fakeClient) SetPublishingMode(context.Context, opcclient.SubscriptionHandle, bool) error {
	return nil
}
func (f *fakeClient) AddMonitoredItem(context.Context, opcclient.SubscriptionHandle, domain.NodeIDForm, float64, uint32, bool) (opcclient.MonitoredItemHandle, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextItem++
	return f.nextItem, 500, nil
}
func (f *fakeClient) ApplyChanges(context.Context, opcclient.SubscriptionHandle) error { return nil }
func (f *fakeClient) RemoveMonitoredItems(context.Context, opcclient.SubscriptionHandle, []opcclient.MonitoredItemHandle) error {
	return nil
}
func (f *fakeClient) Notifications() <-chan opcclient.NotificationEvent { return f.notifications }
func (f *fakeClient) KeepAlives() <-chan opcclient.KeepAliveEvent       { return f.keepAlives }

type fakeDialer struct {
	client *fakeClient
}

func (d *fakeDialer) DiscoverEndpoints(context.Context, string) ([]opcclient.EndpointDescriptor, error) {
	return []opcclient.EndpointDescriptor{{EndpointURL: "opc.tcp://fake"}}, nil
}
func (d *fakeDialer) CreateSession(context.Context, opcclient.EndpointDescriptor, time.Duration, time.Duration) (opcclient.ClientSession, error) {
	return d.client, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dialer := &fakeDialer{client: newFakeClient()}
	cfg := session.DefaultConfig()
	cfg.ReconcileInterval = 10 * time.Millisecond
	configPath := t.TempDir() + "/nodes.json"
	return New(dialer, nil, cfg, func(string) {}, configPath, cfg.ReconcileInterval)
}

func TestBuildSessions_ParsesLegacyAndOpcNodesForms(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	entries := []ConfigEntry{
		{EndpointURL: "opc.tcp://fake", NodeID: "ns=2;s=legacy.tag"},
		{EndpointURL: "opc.tcp://fake", OpcNodes: []OpcNodeEntry{
			{ExpandedNodeID: "nsu=urn:a;s=tag.one"},
		}},
	}

	require.NoError(t, reg.BuildSessions(ctx, entries, 5000, 1000, 1000))

	sessions := reg.Sessions(ctx)
	require.Len(t, sessions, 1)

	published, err := reg.IsNodePublished(ctx, domain.NewNodeIdentity(2, domain.IdentifierString, "legacy.tag"))
	require.NoError(t, err)
	assert.True(t, published)
}

func TestBuildSessions_IsIdempotentAgainstDuplicates(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	entries := []ConfigEntry{
		{EndpointURL: "opc.tcp://fake", NodeID: "ns=2;s=legacy.tag"},
	}
	require.NoError(t, reg.BuildSessions(ctx, entries, 5000, 1000, 1000))
	require.NoError(t, reg.BuildSessions(ctx, entries, 5000, 1000, 1000))

	sessions := reg.Sessions(ctx)
	require.Len(t, sessions, 1)
}

func TestPersistConfig_RoundTripsLiveState(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	entries := []ConfigEntry{
		{EndpointURL: "opc.tcp://fake", OpcNodes: []OpcNodeEntry{
			{ExpandedNodeID: "nsu=urn:a;s=tag.one"},
		}},
	}
	require.NoError(t, reg.BuildSessions(ctx, entries, 5000, 1000, 1000))
	require.NoError(t, reg.ReconcileAll(ctx))

	require.NoError(t, reg.PersistConfig(ctx, domain.IdentityExpandedNodeID, false))

	reread, err := ReadConfig(reg.configPath)
	require.NoError(t, err)
	require.Len(t, reread, 1)
	require.Len(t, reread[0].OpcNodes, 1)
	assert.Equal(t, "nsu=urn:a;s=tag.one", reread[0].OpcNodes[0].ExpandedNodeID)
}

func TestRemoveUnusedSessions_DropsEmptySessionAfterRemoval(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	identity := domain.NewNodeIdentity(2, domain.IdentifierString, "legacy.tag")
	require.NoError(t, reg.AddNodeForMonitoring(ctx, "opc.tcp://fake", 5*time.Second, identity, 1000, 1000, 0, true))

	nodeID := domain.NodeIDForm{NamespaceIndex: 2, Identifier: "legacy.tag"}
	n, err := reg.RequestMonitorItemRemoval(ctx, "opc.tcp://fake", &nodeID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, reg.ReconcileAll(ctx))
	assert.Empty(t, reg.Sessions(ctx))
}
