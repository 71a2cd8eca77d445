package streams

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfplatform/eventfabric/pkg/database"
	"github.com/tfplatform/eventfabric/pkg/store"
)

// queueProcessor returns its scripted results in order, then acks everything.
// Each handled field set is pushed onto the handled channel.
type queueProcessor struct {
	stream  string
	group   string
	handled chan map[string]string

	mu      sync.Mutex
	results []Result
}

func (p *queueProcessor) StreamKey() string     { return p.stream }
func (p *queueProcessor) ConsumerGroup() string { return p.group }
func (p *queueProcessor) ProcessorName() string { return "test-" + p.group }

func (p *queueProcessor) Process(_ context.Context, fields map[string]string) Result {
	p.mu.Lock()
	res := Acked()
	if len(p.results) > 0 {
		res = p.results[0]
		p.results = p.results[1:]
	}
	p.mu.Unlock()
	p.handled <- fields
	return res
}

func waitHandled(t *testing.T, p *queueProcessor) map[string]string {
	t.Helper()
	select {
	case fields := <-p.handled:
		return fields
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for processor")
		return nil
	}
}

func newStreamClient(t *testing.T, addr string) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestOrchestratorAcksProcessedEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newStreamClient(t, mr.Addr())
	ctx := context.Background()

	proc := &queueProcessor{stream: "s", group: "g", handled: make(chan map[string]string, 4)}
	o := NewOrchestrator(OrchestratorConfig{
		Client:       client,
		ConsumerName: "worker-1",
		PollTimeout:  50 * time.Millisecond,
	})
	o.Register(proc)
	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	rec := &Record{MessageID: "msg-1", EventType: "unit.events", Payload: `{"a":1}`}
	_, err := client.XAdd(ctx, &redis.XAddArgs{Stream: "s", Values: rec.Values()}).Result()
	require.NoError(t, err)

	fields := waitHandled(t, proc)
	assert.Equal(t, "msg-1", fields[FieldMessageID])

	require.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, "s", "g").Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOrchestratorRedeliversPendingOnRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newStreamClient(t, mr.Addr())
	ctx := context.Background()

	// First run rolls the entry back, leaving it in the pending list
	proc := &queueProcessor{
		stream:  "s",
		group:   "g",
		handled: make(chan map[string]string, 4),
		results: []Result{Rollback(errors.New("downstream unavailable"))},
	}
	o := NewOrchestrator(OrchestratorConfig{
		Client:       client,
		ConsumerName: "worker-1",
		PollTimeout:  50 * time.Millisecond,
	})
	o.Register(proc)
	require.NoError(t, o.Start(ctx))

	rec := &Record{MessageID: "msg-1", EventType: "unit.events", Payload: `{"a":1}`}
	_, err := client.XAdd(ctx, &redis.XAddArgs{Stream: "s", Values: rec.Values()}).Result()
	require.NoError(t, err)

	first := waitHandled(t, proc)
	assert.Equal(t, "msg-1", first[FieldMessageID])
	o.Stop()

	pending, err := client.XPending(ctx, "s", "g").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, pending.Count)

	// The same consumer restarting must retry its pending entry before
	// reading new ones
	retryProc := &queueProcessor{stream: "s", group: "g", handled: make(chan map[string]string, 4)}
	restarted := NewOrchestrator(OrchestratorConfig{
		Client:       client,
		ConsumerName: "worker-1",
		PollTimeout:  50 * time.Millisecond,
	})
	restarted.Register(retryProc)
	require.NoError(t, restarted.Start(ctx))
	defer restarted.Stop()

	second := waitHandled(t, retryProc)
	assert.Equal(t, "msg-1", second[FieldMessageID])

	require.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, "s", "g").Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRollbackWithoutErrorRecordsNothing(t *testing.T) {
	db, err := database.OpenSQLite("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	_, err = db.NewCreateTable().Model((*store.ErrorIngestion)(nil)).IfNotExists().Exec(ctx)
	require.NoError(t, err)

	errRepo := store.NewErrorIngestionRepository(db)
	o := NewOrchestrator(OrchestratorConfig{Errors: errRepo, ConsumerName: "worker-1"})

	proc := &queueProcessor{
		stream:  "s",
		group:   "g",
		handled: make(chan map[string]string, 1),
		results: []Result{Rollback(nil)},
	}
	o.handleMessage(ctx, proc, redis.XMessage{
		ID:     "1-0",
		Values: map[string]interface{}{FieldMessageID: "msg-9"},
	})
	waitHandled(t, proc)

	rows, err := errRepo.FindByMessageID(ctx, "msg-9")
	require.NoError(t, err)
	assert.Empty(t, rows)

	// A rollback carrying an error still gets its row
	failing := &queueProcessor{
		stream:  "s",
		group:   "g",
		handled: make(chan map[string]string, 1),
		results: []Result{Rollback(errors.New("enrichment timeout"))},
	}
	o.handleMessage(ctx, failing, redis.XMessage{
		ID:     "2-0",
		Values: map[string]interface{}{FieldMessageID: "msg-10"},
	})
	waitHandled(t, failing)

	rows, err = errRepo.FindByMessageID(ctx, "msg-10")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "enrichment timeout", rows[0].ErrorMessage)
}
