package subscription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/monitoreditem"
	"github.com/nexus-edge/opc-gateway/internal/opcclient"
)

type fakeRemover struct {
	removed []opcclient.MonitoredItemHandle
}

func (f *fakeRemover) Close(context.Context) error                                     { return nil }
func (f *fakeRemover) ReadNamespaceArray(context.Context) ([]string, error)             { return nil, nil }
func (f *fakeRemover) ReadMinSupportedSampleRate(context.Context) (float64, error)      { return 0, nil }
func (f *fakeRemover) ReadDisplayName(context.Context, domain.NodeIDForm) (string, error) { return "", nil }
func (f *fakeRemover) ServerInfo() domain.ServerInfo                                    { return domain.ServerInfo{} }
func (f *fakeRemover) CreateSubscription(context.Context, float64) (opcclient.SubscriptionHandle, float64, error) {
	return 1, 0, nil
}
func (f *fakeRemover) DeleteSubscription(context.Context, opcclient.SubscriptionHandle) error { return nil }
func (f *fakeRemover) SetPublishingMode(context.Context, opcclient.SubscriptionHandle, bool) error {
	return nil
}
func (f *fakeRemover) AddMonitoredItem(context.Context, opcclient.SubscriptionHandle, domain.NodeIDForm, float64, uint32, bool) (opcclient.MonitoredItemHandle, float64, error) {
	return 0, 0, nil
}
func (f *fakeRemover) ApplyChanges(context.Context, opcclient.SubscriptionHandle) error { return nil }
func (f *fakeRemover) RemoveMonitoredItems(_ context.Context, _ opcclient.SubscriptionHandle, items []opcclient.MonitoredItemHandle) error {
	f.removed = append(f.removed, items...)
	return nil
}
func (f *fakeRemover) Notifications() <-chan opcclient.NotificationEvent { return nil }
func (f *fakeRemover) KeepAlives() <-chan opcclient.KeepAliveEvent       { return nil }

func TestRemoveItems_DropsTaggedItemsAndBatchesServerRemoval(t *testing.T) {
	sub := New(1000)
	handle := opcclient.MonitoredItemHandle(7)
	item := monitoreditem.New(domain.NewNodeIdentity(1, domain.IdentifierString, "a"), "opc.tcp://x", 1000)
	item.ServerHandle = &handle
	item.State = monitoreditem.RemovalRequested

	keepItem := monitoreditem.New(domain.NewNodeIdentity(1, domain.IdentifierString, "b"), "opc.tcp://x", 1000)
	sub.Items = []*monitoreditem.MonitoredItem{item, keepItem}
	subHandle := opcclient.SubscriptionHandle(1)
	sub.ServerHandle = &subHandle

	client := &fakeRemover{}
	dirty := sub.RemoveItems(context.Background(), client)

	require.True(t, dirty)
	assert.Len(t, sub.Items, 1)
	assert.Same(t, keepItem, sub.Items[0])
	assert.Equal(t, []opcclient.MonitoredItemHandle{7}, client.removed)
}

func TestRemoveItems_NoOpWhenNothingTagged(t *testing.T) {
	sub := New(1000)
	sub.Items = []*monitoreditem.MonitoredItem{monitoreditem.New(domain.NewNodeIdentity(1, domain.IdentifierString, "a"), "opc.tcp://x", 1000)}

	dirty := sub.RemoveItems(context.Background(), &fakeRemover{})
	assert.False(t, dirty)
	assert.Len(t, sub.Items, 1)
}

func TestEmpty(t *testing.T) {
	sub := New(1000)
	assert.True(t, sub.Empty())
	sub.Items = append(sub.Items, monitoreditem.New(domain.NewNodeIdentity(1, domain.IdentifierString, "a"), "opc.tcp://x", 1000))
	assert.False(t, sub.Empty())
}

func TestTagForRemoval(t *testing.T) {
	sub := New(1000)
	item := monitoreditem.New(domain.NewNodeIdentity(1, domain.IdentifierString, "a"), "opc.tcp://x", 1000)
	sub.Items = []*monitoreditem.MonitoredItem{item}

	nodeID := domain.NodeIDForm{NamespaceIndex: 1, Identifier: "a"}
	n := sub.TagForRemoval(&nodeID, nil, nil)
	assert.Equal(t, 1, n)
	assert.Equal(t, monitoreditem.RemovalRequested, item.State)
}
