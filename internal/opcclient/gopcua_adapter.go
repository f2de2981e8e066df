package opcclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/nexus-edge/opc-gateway/internal/domain"
)

// GopcuaDialer is the concrete OPC client contract implementation over
// github.com/gopcua/opcua (§6). Session establishment, subscription RPCs,
// and value decoding live here precisely because the specification calls
// them out as external collaborators, not core logic.
type GopcuaDialer struct{}

// NewGopcuaDialer constructs the default Dialer.
func NewGopcuaDialer() *GopcuaDialer { return &GopcuaDialer{} }

// DiscoverEndpoints implements Discoverer by asking the target server for
// its endpoint descriptions and converting them to the core's descriptor
// shape (§4.3 connect phase 1).
func (d *GopcuaDialer) DiscoverEndpoints(ctx context.Context, endpointURL string) ([]EndpointDescriptor, error) {
	endpoints, err := opcua.GetEndpoints(ctx, endpointURL)
	if err != nil {
		return nil, fmt.Errorf("discover endpoints: %w", err)
	}
	out := make([]EndpointDescriptor, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, EndpointDescriptor{
			EndpointURL:    ep.EndpointURL,
			SecurityPolicy: ep.SecurityPolicyURI,
			SecurityMode:   ep.SecurityMode.String(),
		})
	}
	return out, nil
}

// CreateSession selects a security-disabled, anonymous-identity endpoint
// and connects (§1 Non-goals: no authenticated identities), bounded by
// sessionTimeout.
func (d *GopcuaDialer) CreateSession(ctx context.Context, desc EndpointDescriptor, sessionTimeout, keepAliveInterval time.Duration) (ClientSession, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	endpoints, err := opcua.GetEndpoints(ctx, desc.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("discover endpoints: %w", err)
	}
	endpoint := opcua.SelectEndpoint(endpoints, "", ua.MessageSecurityModeNone)
	if endpoint == nil && len(endpoints) > 0 {
		endpoint = endpoints[0]
	}
	if endpoint == nil {
		return nil, fmt.Errorf("no usable endpoint at %s", desc.EndpointURL)
	}

	opts := []opcua.Option{
		opcua.SecurityFromEndpoint(endpoint, ua.UserTokenTypeAnonymous),
		opcua.SessionTimeout(sessionTimeout),
	}

	client, err := opcua.NewClient(endpoint.EndpointURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("build client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	session := &gopcuaSession{
		client:            client,
		endpoint:          endpoint,
		notifyCh:          make(chan *opcua.PublishNotificationData, 256),
		notifications:     make(chan NotificationEvent, 256),
		keepAlives:        make(chan KeepAliveEvent, 16),
		subscriptions:     make(map[SubscriptionHandle]*opcua.Subscription),
		itemsBySub:        make(map[SubscriptionHandle]map[MonitoredItemHandle]uint32),
		keepAliveInterval: keepAliveInterval,
	}
	// ctx is cancelled when this call returns; the pump runs until Close.
	session.startPump(context.Background())
	return session, nil
}

// gopcuaSession is the live-connection adapter satisfying ClientSession.
type gopcuaSession struct {
	client   *opcua.Client
	endpoint *ua.EndpointDescription

	mu                sync.Mutex
	nextClientHandle  uint32
	subscriptions     map[SubscriptionHandle]*opcua.Subscription
	itemsBySub        map[SubscriptionHandle]map[MonitoredItemHandle]uint32 // item handle -> client handle
	keepAliveInterval time.Duration

	notifyCh      chan *opcua.PublishNotificationData
	notifications chan NotificationEvent
	keepAlives    chan KeepAliveEvent

	pumpCancel context.CancelFunc
}

func (s *gopcuaSession) startPump(ctx context.Context) {
	pumpCtx, cancel := context.WithCancel(ctx)
	s.pumpCancel = cancel

	go func() {
		ticker := time.NewTicker(s.keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pumpCtx.Done():
				return
			case data, ok := <-s.notifyCh:
				if !ok {
					return
				}
				s.dispatchNotification(data)
			case <-ticker.C:
				good := s.client.State() == opcua.Connected
				select {
				case s.keepAlives <- KeepAliveEvent{Good: good}:
				default:
				}
			}
		}
	}()
}

func (s *gopcuaSession) dispatchNotification(data *opcua.PublishNotificationData) {
	if data.Error != nil {
		return
	}
	change, ok := data.Value.(*ua.DataChangeNotification)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range change.MonitoredItems {
		itemHandle, subHandle, ok := s.resolveHandlesLocked(item.ClientHandle)
		if !ok {
			continue
		}
		ev := NotificationEvent{
			Subscription: subHandle,
			Item:         itemHandle,
			Value:        decodeDataValue(item.Value),
		}
		select {
		case s.notifications <- ev:
		default:
		}
	}
}

func (s *gopcuaSession) resolveHandlesLocked(clientHandle uint32) (MonitoredItemHandle, SubscriptionHandle, bool) {
	for subHandle, items := range s.itemsBySub {
		for itemHandle, ch := range items {
			if ch == clientHandle {
				return itemHandle, subHandle, true
			}
		}
	}
	return 0, 0, false
}

func decodeDataValue(v *ua.DataValue) domain.DataValue {
	if v == nil {
		return domain.DataValue{}
	}
	dv := domain.DataValue{
		StatusCode:      uint32(v.Status),
		SourceTimestamp: v.SourceTimestamp,
		ServerTimestamp: v.ServerTimestamp,
	}
	if v.Value != nil {
		dv.Value = v.Value.Value()
	}
	return dv
}

func (s *gopcuaSession) Close(ctx context.Context) error {
	if s.pumpCancel != nil {
		s.pumpCancel()
	}
	return s.client.Close(ctx)
}

func (s *gopcuaSession) ReadNamespaceArray(ctx context.Context) ([]string, error) {
	return s.client.NamespaceArray(ctx)
}

func (s *gopcuaSession) ReadMinSupportedSampleRate(ctx context.Context) (float64, error) {
	nodeID := ua.NewNumericNodeID(0, 2272) // Server_ServerCapabilities_MinSupportedSampleRate
	resp, err := s.client.Read(ctx, &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{{NodeID: nodeID, AttributeID: ua.AttributeIDValue}},
	})
	if err != nil || len(resp.Results) == 0 || resp.Results[0].Value == nil {
		return 0, err
	}
	rate, _ := resp.Results[0].Value.Value().(float64)
	return rate, nil
}

func (s *gopcuaSession) ReadDisplayName(ctx context.Context, id domain.NodeIDForm) (string, error) {
	nodeID, err := ua.ParseNodeID(domain.FormatNodeID(id))
	if err != nil {
		return "", err
	}
	resp, err := s.client.Read(ctx, &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{{NodeID: nodeID, AttributeID: ua.AttributeIDDisplayName}},
	})
	if err != nil || len(resp.Results) == 0 || resp.Results[0].Value == nil {
		return "", err
	}
	if ln, ok := resp.Results[0].Value.Value().(*ua.LocalizedText); ok {
		return ln.Text, nil
	}
	return "", nil
}

func (s *gopcuaSession) ServerInfo() domain.ServerInfo {
	if s.endpoint == nil || s.endpoint.Server == nil {
		return domain.ServerInfo{}
	}
	return domain.ServerInfo{ApplicationURI: s.endpoint.Server.ApplicationURI}
}

func (s *gopcuaSession) CreateSubscription(ctx context.Context, requestedPublishingIntervalMs float64) (SubscriptionHandle, float64, error) {
	sub, err := s.client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: time.Duration(requestedPublishingIntervalMs) * time.Millisecond,
	}, s.notifyCh)
	if err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	handle := SubscriptionHandle(sub.SubscriptionID)
	s.subscriptions[handle] = sub
	s.itemsBySub[handle] = make(map[MonitoredItemHandle]uint32)
	s.mu.Unlock()

	return handle, float64(sub.Interval.Milliseconds()), nil
}

func (s *gopcuaSession) DeleteSubscription(ctx context.Context, sub SubscriptionHandle) error {
	s.mu.Lock()
	handle, ok := s.subscriptions[sub]
	delete(s.subscriptions, sub)
	delete(s.itemsBySub, sub)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return handle.Cancel(ctx)
}

func (s *gopcuaSession) SetPublishingMode(ctx context.Context, sub SubscriptionHandle, enabled bool) error {
	s.mu.Lock()
	handle, ok := s.subscriptions[sub]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown subscription %d", sub)
	}
	return handle.SetPublishingMode(ctx, enabled)
}

func (s *gopcuaSession) AddMonitoredItem(ctx context.Context, sub SubscriptionHandle, id domain.NodeIDForm, requestedSamplingIntervalMs float64, queueSize uint32, discardOldest bool) (MonitoredItemHandle, float64, error) {
	s.mu.Lock()
	handle, ok := s.subscriptions[sub]
	if !ok {
		s.mu.Unlock()
		return 0, 0, fmt.Errorf("unknown subscription %d", sub)
	}
	s.nextClientHandle++
	clientHandle := s.nextClientHandle
	s.mu.Unlock()

	nodeID, err := ua.ParseNodeID(domain.FormatNodeID(id))
	if err != nil {
		return 0, 0, err
	}

	req := &ua.MonitoredItemCreateRequest{
		ItemToMonitor: &ua.ReadValueID{
			NodeID:       nodeID,
			AttributeID:  ua.AttributeIDValue,
			DataEncoding: &ua.QualifiedName{},
		},
		MonitoringMode: ua.MonitoringModeReporting,
		RequestedParameters: &ua.MonitoringParameters{
			ClientHandle:     clientHandle,
			SamplingInterval: requestedSamplingIntervalMs,
			QueueSize:        queueSize,
			DiscardOldest:    discardOldest,
		},
	}

	resp, err := handle.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		return 0, 0, err
	}
	if len(resp.Results) == 0 {
		return 0, 0, fmt.Errorf("monitored item create returned no results")
	}
	result := resp.Results[0]
	if err := classifyStatusCode(result.StatusCode); err != nil {
		return 0, 0, err
	}

	itemHandle := MonitoredItemHandle(result.MonitoredItemID)

	s.mu.Lock()
	s.itemsBySub[sub][itemHandle] = clientHandle
	s.mu.Unlock()

	return itemHandle, result.RevisedSamplingInterval, nil
}

func (s *gopcuaSession) ApplyChanges(ctx context.Context, sub SubscriptionHandle) error {
	// gopcua applies monitored item changes synchronously within Monitor;
	// there is no separate commit RPC to issue here.
	return nil
}

func (s *gopcuaSession) RemoveMonitoredItems(ctx context.Context, sub SubscriptionHandle, items []MonitoredItemHandle) error {
	s.mu.Lock()
	handle, ok := s.subscriptions[sub]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	ids := make([]uint32, 0, len(items))
	for _, item := range items {
		ids = append(ids, uint32(item))
		delete(s.itemsBySub[sub], item)
	}
	s.mu.Unlock()

	_, err := handle.Unmonitor(ctx, ids...)
	return err
}

func (s *gopcuaSession) Notifications() <-chan NotificationEvent { return s.notifications }
func (s *gopcuaSession) KeepAlives() <-chan KeepAliveEvent       { return s.keepAlives }

// classifyStatusCode wraps a bad OPC UA status code into a
// domain.ServiceError carrying the core's fault classification (§7 error
// taxonomy, §6 "service-result error codes").
func classifyStatusCode(code ua.StatusCode) error {
	switch code {
	case ua.StatusOK:
		return nil
	case ua.StatusBadSessionIDInvalid:
		return &domain.ServiceError{Fault: domain.FaultSessionInvalid, Err: fmt.Errorf("status %s", code)}
	case ua.StatusBadNodeIDInvalid, ua.StatusBadNodeIDUnknown:
		return &domain.ServiceError{Fault: domain.FaultNodeUnknown, Err: fmt.Errorf("status %s", code)}
	default:
		return &domain.ServiceError{Fault: domain.FaultOther, Err: fmt.Errorf("status %s", code)}
	}
}
