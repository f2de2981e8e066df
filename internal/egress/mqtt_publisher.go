package egress

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nexus-edge/opc-gateway/internal/domain"
)

// PublisherConfig configures the MQTT-backed Queue adapter, grounded on
// the teacher's MQTT subscriber configuration shape adapted for
// publishing rather than subscribing.
type PublisherConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	KeepAlive      time.Duration
	ReconnectDelay time.Duration
	BufferSize     int
}

// MQTTPublisher publishes envelopes to a single MQTT topic. Enqueue never
// blocks: when the internal buffer is full the oldest pending message is
// dropped and a counter is incremented, keeping the notification path
// synchronous and non-blocking per §5's ordering guarantee ("encoding and
// enqueue happen synchronously on the notification thread").
type MQTTPublisher struct {
	cfg    PublisherConfig
	client paho.Client
	tracer domain.Tracer

	buffer      chan string
	connected   atomic.Bool
	published   atomic.Uint64
	dropped     atomic.Uint64
	done        chan struct{}
}

// NewMQTTPublisher constructs a publisher and wires its paho client
// options the way the teacher's subscriber does (auto-reconnect, retry
// interval, connection lifecycle callbacks).
func NewMQTTPublisher(cfg PublisherConfig, tracer domain.Tracer) *MQTTPublisher {
	p := &MQTTPublisher{
		cfg:    cfg,
		tracer: tracer,
		buffer: make(chan string, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.ReconnectDelay).
		SetConnectionLostHandler(p.onConnectionLost).
		SetOnConnectHandler(p.onConnect)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	p.client = paho.NewClient(opts)
	return p
}

// Connect establishes the broker connection and starts the publish loop.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect failed: %w", err)
	}

	go p.publishLoop(ctx)
	return nil
}

// Disconnect cleanly tears down the publish loop and the broker
// connection.
func (p *MQTTPublisher) Disconnect() {
	close(p.done)
	p.client.Disconnect(250)
	p.connected.Store(false)
}

// Enqueue implements Queue. Never blocks.
func (p *MQTTPublisher) Enqueue(payload string) {
	select {
	case p.buffer <- payload:
	default:
		select {
		case <-p.buffer:
		default:
		}
		p.dropped.Add(1)
		select {
		case p.buffer <- payload:
		default:
		}
	}
}

// Connected implements Queue.
func (p *MQTTPublisher) Connected() bool {
	return p.connected.Load() && p.client.IsConnected()
}

func (p *MQTTPublisher) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case payload := <-p.buffer:
			token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
			token.Wait()
			if err := token.Error(); err != nil {
				p.trace(domain.TraceWarn, "mqtt publish failed", map[string]any{"error": err.Error()})
				continue
			}
			p.published.Add(1)
		}
	}
}

func (p *MQTTPublisher) onConnect(paho.Client) {
	p.connected.Store(true)
	p.trace(domain.TraceInfo, "connected to egress broker", nil)
}

func (p *MQTTPublisher) onConnectionLost(_ paho.Client, err error) {
	p.connected.Store(false)
	p.trace(domain.TraceWarn, "lost connection to egress broker", map[string]any{"error": err.Error()})
}

func (p *MQTTPublisher) trace(level domain.TraceLevel, msg string, fields map[string]any) {
	if p.tracer == nil {
		return
	}
	p.tracer.Trace(level, msg, fields)
}

// Stats returns counters for health/metrics reporting.
func (p *MQTTPublisher) Stats() (published, dropped uint64) {
	return p.published.Load(), p.dropped.Load()
}
