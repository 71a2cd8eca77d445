// Package gateway consumes the source broker's multicast addresses through
// durable shared subscriptions and lands every message in the raw-event
// table before forwarding it to the stream store.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tfplatform/eventfabric/pkg/config"
	"github.com/tfplatform/eventfabric/pkg/logger"
	"github.com/tfplatform/eventfabric/pkg/metrics"
	"github.com/tfplatform/eventfabric/pkg/retry"
)

// Manager owns the broker connection and one listener per configured
// address. Start, Stop and Reconfigure are serialized; Status is lock-free.
type Manager struct {
	rawEvents RawEventStore
	publisher StreamPublisher

	mu        sync.Mutex // serializes lifecycle transitions
	cfg       config.GatewayConfig
	nc        *nats.Conn
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
	listeners atomic.Pointer[map[string]*listener]
}

// NewManager builds a gateway manager; Start connects it
func NewManager(cfg config.GatewayConfig, rawEvents RawEventStore, publisher StreamPublisher) *Manager {
	m := &Manager{
		cfg:       cfg,
		rawEvents: rawEvents,
		publisher: publisher,
	}
	empty := map[string]*listener{}
	m.listeners.Store(&empty)
	return m
}

// Start connects to the broker and brings up every address listener. A
// failure here is fatal to the component.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	if m.started {
		return fmt.Errorf("gateway already started")
	}
	if len(m.cfg.Addresses) == 0 {
		return fmt.Errorf("gateway has no addresses configured")
	}
	minReceivers, maxReceivers, err := m.cfg.ConcurrencyBand()
	if err != nil {
		return err
	}

	nc, err := m.connect()
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := m.ensureStream(ctx, js)
	if err != nil {
		nc.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	retryDelay := m.cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}
	retryCount := m.cfg.RetryAttempts
	if retryCount == 0 {
		retryCount = 3
	}

	listeners := make(map[string]*listener, len(m.cfg.Addresses))
	for _, address := range m.cfg.Addresses {
		l := &listener{
			address:      address,
			destination:  m.cfg.StreamMapping[address],
			rawEvents:    m.rawEvents,
			publisher:    m.publisher,
			retrier:      retry.NewCoordinator(retryDelay),
			retryCount:   retryCount,
			ackMessages:  m.cfg.IsAcknowledgeMessages(),
			minReceivers: minReceivers,
			maxReceivers: maxReceivers,
			ctx:          runCtx,
			wg:           &m.wg,
		}
		l.state.Set(StateStarting)

		consumer, err := m.createConsumer(ctx, stream, address)
		if err != nil {
			cancel()
			m.wg.Wait()
			nc.Close()
			return fmt.Errorf("failed to create consumer for %s: %w", address, err)
		}
		l.consumer = consumer
		l.start()
		listeners[address] = l
		metrics.GetProvider().UpdateActiveConsumers(address, minReceivers)
	}

	m.nc = nc
	m.cancel = cancel
	m.started = true
	m.listeners.Store(&listeners)

	logger.Info("Gateway started (%d addresses, receivers %d-%d, subscriber: %s)",
		len(listeners), minReceivers, maxReceivers, m.cfg.SubscriberName)
	return nil
}

// Stop drains the receiver pools and closes the broker connection
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if !m.started {
		return
	}

	current := *m.listeners.Load()
	for _, l := range current {
		l.state.Set(StateStopping)
	}

	m.cancel()
	m.wg.Wait()
	m.nc.Close()

	for address, l := range current {
		l.state.Set(StateStopped)
		metrics.GetProvider().UpdateActiveConsumers(address, 0)
	}
	m.started = false
	logger.Info("Gateway stopped")
}

// Reconfigure tears the gateway down and brings it back with the new
// configuration
func (m *Manager) Reconfigure(ctx context.Context, cfg config.GatewayConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()
	m.cfg = cfg
	return m.startLocked(ctx)
}

// Status snapshots every listener without touching the lifecycle mutex
func (m *Manager) Status() Status {
	current := *m.listeners.Load()
	listeners := make(map[string]ListenerStatus, len(current))
	for address, l := range current {
		listeners[address] = ListenerStatus{
			State:           l.state.Get().String(),
			Destination:     l.destination,
			ActiveReceivers: int(l.active.Load()),
			TotalReceivers:  int(l.total.Load()),
		}
	}
	return aggregate(listeners)
}

func (m *Manager) connect() (*nats.Conn, error) {
	rc := m.cfg.Reconnection

	reconnectWait := rc.RetryInterval
	if reconnectWait == 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := rc.Attempts
	if maxReconnects == 0 {
		maxReconnects = -1 // reconnect forever by default
	}

	opts := []nats.Option{
		nats.Name("eventfabric-gateway"),
		nats.Timeout(5 * time.Second),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("Broker connection lost: %v", err)
			m.setAllStates(StateDegraded)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Broker connection restored to %s", nc.ConnectedUrl())
			m.setAllStates(StateRunning)
		}),
	}
	if rc.Multiplier > 1 && rc.MaxRetryInterval > 0 {
		opts = append(opts, nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return backoffDelay(reconnectWait, rc.Multiplier, rc.MaxRetryInterval, attempts)
		}))
	}
	if m.cfg.User != "" {
		opts = append(opts, nats.UserInfo(m.cfg.User, m.cfg.Password))
	}

	return nats.Connect(m.cfg.BrokerURL, opts...)
}

// backoffDelay grows the reconnect interval by the configured multiplier,
// capped at the maximum
func backoffDelay(base time.Duration, multiplier float64, maxDelay time.Duration, attempts int) time.Duration {
	delay := float64(base)
	for i := 1; i < attempts; i++ {
		delay *= multiplier
		if time.Duration(delay) >= maxDelay {
			return maxDelay
		}
	}
	if d := time.Duration(delay); d < maxDelay {
		return d
	}
	return maxDelay
}

func (m *Manager) ensureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	streamName := m.cfg.StreamName
	if streamName == "" {
		streamName = "EVENTFABRIC"
	}

	streamConfig := jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  m.cfg.Addresses,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardOld,
	}

	stream, err := js.CreateStream(ctx, streamConfig)
	if err != nil {
		// Already exists with different settings; take it as is
		stream, err = js.Stream(ctx, streamName)
		if err != nil {
			return nil, fmt.Errorf("failed to create or look up stream %s: %w", streamName, err)
		}
	}
	return stream, nil
}

func (m *Manager) createConsumer(ctx context.Context, stream jetstream.Stream, address string) (jetstream.Consumer, error) {
	cfg := jetstream.ConsumerConfig{
		FilterSubject: address,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       30 * time.Second,
	}
	if durable := DurableName(m.cfg.SubscriberName, address); durable != "" {
		cfg.Durable = durable
	}
	return stream.CreateOrUpdateConsumer(ctx, cfg)
}

func (m *Manager) setAllStates(state ListenerState) {
	for _, l := range *m.listeners.Load() {
		// Stopping listeners keep their terminal state
		if s := l.state.Get(); s == StateStopping || s == StateStopped {
			continue
		}
		l.state.Set(state)
	}
}
