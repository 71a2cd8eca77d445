package gateway

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tfplatform/eventfabric/pkg/idempotency"
	"github.com/tfplatform/eventfabric/pkg/logger"
	"github.com/tfplatform/eventfabric/pkg/metrics"
	"github.com/tfplatform/eventfabric/pkg/payload"
	"github.com/tfplatform/eventfabric/pkg/retry"
	"github.com/tfplatform/eventfabric/pkg/store"
)

const (
	fetchWait = 5 * time.Second

	// Receivers above the band minimum exit after this many empty polls
	idlePollsBeforeShrink = 3
)

// RawEventStore is the slice of the raw-event repository the listener writes
// through
type RawEventStore interface {
	Upsert(ctx context.Context, ev *store.RawEvent) error
}

// StreamPublisher forwards persisted raw events onto their mapped stream
type StreamPublisher interface {
	Publish(ctx context.Context, ev *store.RawEvent, metadata string)
}

// listener consumes one address through a durable shared subscription with
// an auto-scaling pool of receivers bounded by the concurrency band
type listener struct {
	address string
	// destination is the stream key this address is mapped to, empty when
	// the address is persisted but not forwarded
	destination string
	consumer    jetstream.Consumer
	state       stateValue

	rawEvents   RawEventStore
	publisher   StreamPublisher
	retrier     *retry.Coordinator
	retryCount  int
	ackMessages bool

	minReceivers int
	maxReceivers int

	ctx    context.Context
	wg     *sync.WaitGroup
	total  atomic.Int32
	active atomic.Int32
}

// DurableName builds the shared subscription identity for an address.
// JetStream consumer names cannot carry dots or wildcards, so the logical
// subscriberName.address form is sanitized.
func DurableName(subscriberName, address string) string {
	if subscriberName == "" {
		return ""
	}
	name := subscriberName + "." + address
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', '/', '\\', ' ':
			return '-'
		}
		return r
	}, name)
}

func (l *listener) start() {
	l.state.Set(StateRunning)
	for i := 0; i < l.minReceivers; i++ {
		l.spawnReceiver()
	}
}

func (l *listener) spawnReceiver() {
	l.total.Add(1)
	l.wg.Add(1)
	go l.receive()
}

// maybeGrow adds a receiver when every current one is mid-message and the
// band allows more
func (l *listener) maybeGrow() {
	if l.active.Load() == l.total.Load() && int(l.total.Load()) < l.maxReceivers {
		logger.Debug("Scaling up receivers for %s (%d -> %d)", l.address, l.total.Load(), l.total.Load()+1)
		l.spawnReceiver()
	}
}

func (l *listener) receive() {
	defer l.wg.Done()
	defer l.total.Add(-1)
	defer logger.CatchPanic("gateway.receive:" + l.address)

	idlePolls := 0
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		batch, err := l.consumer.Fetch(1, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			logger.Warn("Fetch on %s failed: %v", l.address, err)
			select {
			case <-time.After(time.Second):
			case <-l.ctx.Done():
				return
			}
			continue
		}

		received := false
		for msg := range batch.Messages() {
			received = true
			l.active.Add(1)
			l.maybeGrow()
			l.handle(msg)
			l.active.Add(-1)
		}
		if err := batch.Error(); err != nil && l.ctx.Err() == nil {
			logger.Warn("Batch error on %s: %v", l.address, err)
		}

		if received {
			idlePolls = 0
			continue
		}
		idlePolls++
		if idlePolls >= idlePollsBeforeShrink && int(l.total.Load()) > l.minReceivers {
			logger.Debug("Scaling down receivers for %s (%d -> %d)", l.address, l.total.Load(), l.total.Load()-1)
			return
		}
	}
}

// handle persists one broker message and forwards it to the stream store.
// Failures leave the message unacknowledged so the broker redelivers.
func (l *listener) handle(msg jetstream.Msg) {
	start := time.Now()
	body := string(msg.Data())

	messageID := msg.Headers().Get(nats.MsgIdHdr)
	if messageID == "" {
		// No broker id; the payload fingerprint keeps redeliveries
		// idempotent
		messageID = idempotency.Fingerprint(l.address, body)
	}

	ev := &store.RawEvent{
		MessageID:   messageID,
		EventType:   l.address,
		EventTime:   payload.ParseTimestamp(payload.GetString(body, "eventTime")),
		Payload:     body,
		Checksum:    idempotency.Checksum(body),
		ProcessedAt: time.Now().UTC(),
	}

	err := l.retrier.ExecuteWithRetry(l.ctx, func() error {
		return l.rawEvents.Upsert(l.ctx, ev)
	}, l.retryCount)
	if err != nil {
		metrics.GetProvider().RecordBrokerMessage(l.address, "error", time.Since(start))
		logger.Error("Persisting message %s on %s failed, leaving unacknowledged: %v", messageID, l.address, err)
		if nakErr := msg.Nak(); nakErr != nil {
			logger.Warn("Failed to NAK message %s: %v", messageID, nakErr)
		}
		return
	}

	// The raw event is durable from here on; publishing is fire-and-forget
	l.publisher.Publish(l.ctx, ev, "")

	if !l.ackMessages {
		logger.Warn("Acknowledgement disabled, forcing redelivery of %s on %s", messageID, l.address)
		if err := msg.Nak(); err != nil {
			logger.Warn("Failed to NAK message %s: %v", messageID, err)
		}
		metrics.GetProvider().RecordBrokerMessage(l.address, "nak", time.Since(start))
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Warn("Failed to ack message %s on %s: %v", messageID, l.address, err)
	}
	metrics.GetProvider().RecordBrokerMessage(l.address, "ok", time.Since(start))
}
