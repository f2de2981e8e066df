package session

import (
	"context"
	"time"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/monitoreditem"
	"github.com/nexus-edge/opc-gateway/internal/opcclient"
)

// Run is the periodic driver (§9 Design Notes): a single loop per session
// that reconciles on a fixed tick and on every Kick, rather than the
// source's pattern of spawning a goroutine per mutating call. It also
// drains the client's keep-alive and notification channels while
// connected. Run returns when ctx is cancelled or the session reaches
// Shutdown.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		if _, err := s.ConnectAndMonitor(ctx); err != nil {
			if err == domain.ErrShutdownRequested {
				return
			}
		}
		s.drainEvents(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}

		if s.State == Shutdown {
			return
		}
	}
}

// drainEvents pumps whatever notification/keep-alive events are
// immediately available off the connected client without blocking the
// reconciliation tick (§4.3 keep-alive handling, §4.1 notifications).
func (s *Session) drainEvents(ctx context.Context) {
	if err := s.acquire(ctx); err != nil {
		return
	}
	client := s.client
	connected := s.State == Connected
	s.release()

	if !connected || client == nil {
		return
	}

	notifications := client.Notifications()
	keepAlives := client.KeepAlives()

	for {
		select {
		case ev, ok := <-notifications:
			if !ok {
				return
			}
			s.handleNotification(ctx, ev)
		case ka, ok := <-keepAlives:
			if !ok {
				return
			}
			s.handleKeepAlive(ctx, ka.Good)
		default:
			return
		}
	}
}

// handleNotification routes one value-change event to the monitored item
// it belongs to and encodes/enqueues it (§4.1).
func (s *Session) handleNotification(ctx context.Context, ev opcclient.NotificationEvent) {
	if err := s.acquire(ctx); err != nil {
		return
	}
	var server domain.ServerInfo
	if s.client != nil {
		server = s.client.ServerInfo()
	}
	shopfloorDomain := s.cfg.ShopfloorDomain
	found := s.findItemByHandles(ev.Subscription, ev.Item)
	s.release()

	if found == nil {
		return
	}
	value := ev.Value
	found.OnNotification(&value, server, shopfloorDomain, s.enqueue, s.tracer)
}

// findItemByHandles locates the monitored item owning the given server
// handles. Caller must hold the session mutex.
func (s *Session) findItemByHandles(subHandle opcclient.SubscriptionHandle, itemHandle opcclient.MonitoredItemHandle) *monitoreditem.MonitoredItem {
	for _, sub := range s.Subscriptions {
		if sub.ServerHandle == nil || *sub.ServerHandle != subHandle {
			continue
		}
		for _, item := range sub.Items {
			if item.ServerHandle != nil && *item.ServerHandle == itemHandle {
				return item
			}
		}
	}
	return nil
}

// handleKeepAlive implements §4.3's keep-alive handling: a bad keep-alive
// increments the miss counter; KeepAliveDisconnectThreshold consecutive
// misses tear the session down so the periodic loop reconnects. A good
// keep-alive resets the counter.
func (s *Session) handleKeepAlive(ctx context.Context, good bool) {
	if err := s.acquire(ctx); err != nil {
		return
	}
	defer s.release()

	if good {
		s.MissedKeepAlives = 0
		return
	}

	s.MissedKeepAlives++
	if s.MissedKeepAlives >= s.cfg.KeepAliveDisconnectThreshold {
		s.trace(domain.TraceWarn, "keep-alive threshold exceeded, disconnecting", map[string]any{
			"missed_keep_alives": s.MissedKeepAlives,
		})
		s.disconnectLocked()
	}
}
