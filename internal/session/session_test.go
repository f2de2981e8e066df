package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/opcclient"
)

type fakeClient struct {
	mu              sync.Mutex
	namespaces      []string
	minRate         float64
	nextSubHandle   opcclient.SubscriptionHandle
	nextItemHandle  opcclient.MonitoredItemHandle
	addItemErr      error
	closed          bool
	notifications   chan opcclient.NotificationEvent
	keepAlives      chan opcclient.KeepAliveEvent
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		namespaces:    []string{"urn:a", "urn:b"},
		nextSubHandle: 1,
		notifications: make(chan opcclient.NotificationEvent, 4),
		keepAlives:    make(chan opcclient.KeepAliveEvent, 4),
	}
}

func (f *fakeClient) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeClient) ReadNamespaceArray(context.Context) ([]string, error) { return f.namespaces, nil }
func (f *fakeClient) ReadMinSupportedSampleRate(context.Context) (float64, error) {
	return f.minRate, nil
}
func (f *fakeClient) ReadDisplayName(context.Context, domain.NodeIDForm) (string, error) {
	return "Fetched", nil
}
func (f *fakeClient) ServerInfo() domain.ServerInfo {
	return domain.ServerInfo{ApplicationURI: "urn:server"}
}
func (f *fakeClient) CreateSubscription(context.Context, float64) (opcclient.SubscriptionHandle, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.nextSubHandle
	f.nextSubHandle++
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
	if f.addItemErr != nil {
		return 0, 0, f.addItemErr
	}
	f.nextItemHandle++
	return f.nextItemHandle, 500, nil
}
func (f *fakeClient) ApplyChanges(context.Context, opcclient.SubscriptionHandle) error { return nil }
func (f *fakeClient) RemoveMonitoredItems(context.Context, opcclient.SubscriptionHandle, []opcclient.MonitoredItemHandle) error {
	return nil
}
func (f *fakeClient) Notifications() <-chan opcclient.NotificationEvent { return f.notifications }
func (f *fakeClient) KeepAlives() <-chan opcclient.KeepAliveEvent       { return f.keepAlives }

type fakeDialer struct {
	client  *fakeClient
	dialErr error
	dials   int
}

func (d *fakeDialer) DiscoverEndpoints(context.Context, string) ([]opcclient.EndpointDescriptor, error) {
	return []opcclient.EndpointDescriptor{{EndpointURL: "opc.tcp://fake"}}, nil
}
func (d *fakeDialer) CreateSession(context.Context, opcclient.EndpointDescriptor, time.Duration, time.Duration) (opcclient.ClientSession, error) {
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.client, nil
}

func newTestSession(dialer *fakeDialer) *Session {
	cfg := DefaultConfig()
	cfg.ReconcileInterval = 10 * time.Millisecond
	return New("opc.tcp://fake", 2*time.Second, cfg, dialer, nil, func(string) {})
}

func TestConnectAndMonitor_ConnectsAndMonitorsNewItem(t *testing.T) {
	client := newFakeClient()
	dialer := &fakeDialer{client: client}
	s := newTestSession(dialer)

	ctx := context.Background()
	identity := domain.NewNodeIdentity(0, domain.IdentifierString, "i=1")
	require.NoError(t, s.AddNodeForMonitoring(ctx, identity, 1000, 1000, 0, true))

	dirty, err := s.ConnectAndMonitor(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)

	assert.Equal(t, Connected, s.State)
	require.Len(t, s.Subscriptions, 1)
	sub := s.Subscriptions[1000]
	require.Len(t, sub.Items, 1)
	assert.Equal(t, "Fetched", sub.Items[0].DisplayName)
}

func TestAddNodeForMonitoring_RejectsDuplicate(t *testing.T) {
	client := newFakeClient()
	dialer := &fakeDialer{client: client}
	s := newTestSession(dialer)
	ctx := context.Background()

	identity := domain.NewNodeIdentity(0, domain.IdentifierString, "i=1")
	require.NoError(t, s.AddNodeForMonitoring(ctx, identity, 1000, 1000, 0, true))
	err := s.AddNodeForMonitoring(ctx, identity, 1000, 1000, 0, true)
	assert.ErrorIs(t, err, domain.ErrDuplicatePublishing)
}

func TestRequestMonitorItemRemoval_TagsAndReconcileDrops(t *testing.T) {
	client := newFakeClient()
	dialer := &fakeDialer{client: client}
	s := newTestSession(dialer)
	ctx := context.Background()

	identity := domain.NewNodeIdentity(0, domain.IdentifierString, "i=1")
	require.NoError(t, s.AddNodeForMonitoring(ctx, identity, 1000, 1000, 0, true))
	_, err := s.ConnectAndMonitor(ctx)
	require.NoError(t, err)

	nodeID := domain.NodeIDForm{NamespaceIndex: 0, Identifier: "i=1"}
	n, err := s.RequestMonitorItemRemoval(ctx, &nodeID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dirty, err := s.ConnectAndMonitor(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)
	assert.Empty(t, s.Subscriptions)
}

func TestConnectAndMonitor_ConnectFailureIncrementsBackoff(t *testing.T) {
	dialer := &fakeDialer{dialErr: assertError{}}
	s := newTestSession(dialer)
	ctx := context.Background()

	dirty, err := s.ConnectAndMonitor(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, Disconnected, s.State)
	assert.Equal(t, uint32(1), s.UnsuccessfulConnects)
}

func TestShutdown_IsIdempotentAndRejectsFurtherMutation(t *testing.T) {
	client := newFakeClient()
	dialer := &fakeDialer{client: client}
	s := newTestSession(dialer)
	ctx := context.Background()

	_, err := s.ConnectAndMonitor(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, Shutdown, s.State)

	err = s.AddNodeForMonitoring(ctx, domain.NewNodeIdentity(0, domain.IdentifierString, "i=1"), 1000, 1000, 0, true)
	assert.ErrorIs(t, err, domain.ErrShutdownRequested)
}

type assertError struct{}

func (assertError) Error() string { return "dial failed" }
