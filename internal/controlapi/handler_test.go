package controlapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/opcclient"
	"github.com/nexus-edge/opc-gateway/internal/registry"
	"github.com/nexus-edge/opc-gateway/internal/session"
)

type noopClient struct{}

func (noopClient) Close(context.Context) error                          { return nil }
func (noopClient) ReadNamespaceArray(context.Context) ([]string, error) { return nil, nil }
func (noopClient) ReadMinSupportedSampleRate(context.Context) (float64, error) {
	return 0, nil
}
func (noopClient) ReadDisplayName(context.Context, domain.NodeIDForm) (string, error) {
	return "", nil
}
func (noopClient) ServerInfo() domain.ServerInfo { return domain.ServerInfo{} }
func (noopClient) CreateSubscription(context.Context, float64) (opcclient.SubscriptionHandle, float64, error) {
	return 1, 1000, nil
}
func (noopClient) DeleteSubscription(context.Context, opcclient.SubscriptionHandle) error { return nil }
func (noopClient) SetPublishingMode(context.Context, opcclient.SubscriptionHandle, bool) error {
	return nil
}
func (noopClient) AddMonitoredItem(context.Context, opcclient.SubscriptionHandle, domain.NodeIDForm, float64, uint32, bool) (opcclient.MonitoredItemHandle, float64, error) {
	return 1, 500, nil
}
func (noopClient) ApplyChanges(context.Context, opcclient.SubscriptionHandle) error { return nil }
func (noopClient) RemoveMonitoredItems(context.Context, opcclient.SubscriptionHandle, []opcclient.MonitoredItemHandle) error {
	return nil
}
func (noopClient) Notifications() <-chan opcclient.NotificationEvent { return nil }
func (noopClient) KeepAlives() <-chan opcclient.KeepAliveEvent       { return nil }

type noopDialer struct{}

func (noopDialer) DiscoverEndpoints(context.Context, string) ([]opcclient.EndpointDescriptor, error) {
	return nil, nil
}
func (noopDialer) CreateSession(context.Context, opcclient.EndpointDescriptor, time.Duration, time.Duration) (opcclient.ClientSession, error) {
	return noopClient{}, nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	cfg := session.DefaultConfig()
	reg := registry.New(noopDialer{}, nil, cfg, func(string) {}, t.TempDir()+"/nodes.json", cfg.ReconcileInterval)
	return NewHandler(reg, zerolog.Nop())
}

func TestHandleAddNode_AcceptsExpandedNodeIDRequest(t *testing.T) {
	h := newTestHandler(t)

	body := `{"endpoint_url":"opc.tcp://fake","session_timeout_ms":5000,"expanded_node_id":"nsu=urn:a;s=tag.one","sampling_interval_ms":1000,"publishing_interval_ms":1000}`
	req := httptest.NewRequest(http.MethodPost, "/nodes", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.HandleAddNode(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleAddNode_RejectsMissingIdentity(t *testing.T) {
	h := newTestHandler(t)

	body := `{"endpoint_url":"opc.tcp://fake","session_timeout_ms":5000}`
	req := httptest.NewRequest(http.MethodPost, "/nodes", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.HandleAddNode(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRemoveNode_WrongMethodRejected(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	rec := httptest.NewRecorder()

	h.HandleRemoveNode(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
