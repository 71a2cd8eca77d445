package streams

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tfplatform/eventfabric/pkg/logger"
	"github.com/tfplatform/eventfabric/pkg/metrics"
	"github.com/tfplatform/eventfabric/pkg/store"
)

// Orchestrator runs one consumer loop per registered processor. Each loop
// pulls serially from its consumer group, so a message is fully handled
// before the next is claimed; unacknowledged messages stay in the group's
// pending list as the retry queue.
type Orchestrator struct {
	client       *redis.Client
	errors       *store.ErrorIngestionRepository
	consumerName string
	pollTimeout  time.Duration

	mu         sync.Mutex // serializes Start/Stop
	processors []Processor
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  atomic.Bool
}

// OrchestratorConfig configures the stream listener orchestrator
type OrchestratorConfig struct {
	Client       *redis.Client
	Errors       *store.ErrorIngestionRepository
	ConsumerName string
	PollTimeout  time.Duration
}

// NewOrchestrator creates an orchestrator; processors are registered before
// Start
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	name := cfg.ConsumerName
	if name == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			name = host
		} else {
			name = "consumer-" + uuid.NewString()
		}
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = 5 * time.Second
	}

	return &Orchestrator{
		client:       cfg.Client,
		errors:       cfg.Errors,
		consumerName: name,
		pollTimeout:  pollTimeout,
	}
}

// Register adds a processor. Must be called before Start.
func (o *Orchestrator) Register(p Processor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processors = append(o.processors, p)
	logger.Info("Registered processor %s (stream: %s, group: %s)",
		p.ProcessorName(), p.StreamKey(), p.ConsumerGroup())
}

// Start ensures every consumer group exists and spawns the consumer loops
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.isRunning.Load() {
		return fmt.Errorf("orchestrator already running")
	}
	if len(o.processors) == 0 {
		return fmt.Errorf("no processors registered")
	}

	for _, p := range o.processors {
		if err := o.ensureGroup(ctx, p.StreamKey(), p.ConsumerGroup()); err != nil {
			return fmt.Errorf("failed to create consumer group %s on %s: %w",
				p.ConsumerGroup(), p.StreamKey(), err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.isRunning.Store(true)

	for _, p := range o.processors {
		o.wg.Add(1)
		go o.consumeLoop(loopCtx, p)
	}

	logger.Info("Stream orchestrator started (%d processors, consumer: %s)",
		len(o.processors), o.consumerName)
	return nil
}

// Stop cancels the consumer loops and waits for in-flight messages
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.isRunning.Load() {
		return
	}
	o.isRunning.Store(false)
	o.cancel()
	o.wg.Wait()
	logger.Info("Stream orchestrator stopped")
}

// IsRunning reports whether the consumer loops are active
func (o *Orchestrator) IsRunning() bool {
	return o.isRunning.Load()
}

func (o *Orchestrator) ensureGroup(ctx context.Context, stream, group string) error {
	err := o.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (o *Orchestrator) consumeLoop(ctx context.Context, p Processor) {
	defer o.wg.Done()
	defer logger.CatchPanic("streams.consumeLoop:" + p.ProcessorName())

	logger.Debug("Consumer loop started for %s", p.ProcessorName())

	// Entries left unacknowledged by a previous run of this consumer sit in
	// the group's pending list; drain them before reading new entries. The
	// cursor advances past every delivered entry, so an entry that rolls
	// back again stays pending for the next restart instead of wedging the
	// loop.
	cursor := "0"

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Consumer loop stopped for %s", p.ProcessorName())
			return
		default:
		}

		draining := cursor != ">"
		args := &redis.XReadGroupArgs{
			Group:    p.ConsumerGroup(),
			Consumer: o.consumerName,
			Streams:  []string{p.StreamKey(), cursor},
			Count:    1,
			Block:    -1, // history reads return immediately
		}
		if !draining {
			args.Block = o.pollTimeout
		}

		streams, err := o.client.XReadGroup(ctx, args).Result()
		if err == redis.Nil {
			if draining {
				cursor = ">"
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Failed to read from group %s on %s: %v",
				p.ConsumerGroup(), p.StreamKey(), err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		delivered := 0
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				delivered++
				o.handleMessage(ctx, p, msg)
				if draining {
					cursor = msg.ID
				}
			}
		}
		if draining && delivered == 0 {
			cursor = ">"
		}
	}
}

func (o *Orchestrator) handleMessage(ctx context.Context, p Processor, msg redis.XMessage) {
	fields := DecodeFields(msg.Values)
	messageID := fields[FieldMessageID]

	start := time.Now()
	res := p.Process(ctx, fields)
	metrics.GetProvider().RecordProcessorResult(p.ProcessorName(), res.Outcome.String(), time.Since(start))

	switch res.Outcome {
	case OutcomeAcked:
		o.ack(ctx, p, msg.ID)

	case OutcomeRejected:
		logger.Warn("Processor %s rejected message %s (entry %s): %v",
			p.ProcessorName(), messageID, msg.ID, res.Err)
		o.ack(ctx, p, msg.ID)

	case OutcomeRollbackForRedelivery:
		logger.Error("Processor %s failed on message %s (entry %s), leaving pending: %v",
			p.ProcessorName(), messageID, msg.ID, res.Err)
		// Best effort: an error recording failure must never mask the
		// original processing error. A rollback without an error carries
		// nothing worth recording.
		if o.errors != nil && messageID != "" && res.Err != nil {
			if err := o.errors.Record(ctx, messageID, res.Err); err != nil {
				logger.Warn("Failed to record ingestion error for %s: %v", messageID, err)
			}
		}
	}
}

func (o *Orchestrator) ack(ctx context.Context, p Processor, entryID string) {
	if err := o.client.XAck(ctx, p.StreamKey(), p.ConsumerGroup(), entryID).Err(); err != nil {
		logger.Warn("Failed to ack entry %s on %s: %v", entryID, p.StreamKey(), err)
	}
}
