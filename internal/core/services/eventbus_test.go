package services

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PubSub(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bus := NewEventBus(logger)

	batchID := "batch-123"

	// 1. Subscribe
	ch, unsub := bus.Subscribe(batchID)
	defer unsub()

	// 2. Publish
	event := Event{
		BatchID:   batchID,
		JobID:     "job-1",
		Type:      EventJobRunning,
		Data:      `{"status":"RUNNING"}`,
		Timestamp: time.Now().UnixMilli(),
	}
	bus.Publish(event)

	// 3. Verify
	select {
	case received := <-ch:
		assert.Equal(t, event, received)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_OtherBatchNotDelivered(t *testing.T) {
	bus := NewEventBus(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ch, unsub := bus.Subscribe("batch-a")
	defer unsub()

	bus.Publish(Event{BatchID: "batch-b", Type: EventJobQueued})

	select {
	case e := <-ch:
		t.Fatalf("received event of another batch: %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ch, unsub := bus.Subscribe("batch-456")
	unsub()
	unsub() // second call is a no-op

	bus.Publish(Event{BatchID: "batch-456", Type: EventJobFailed})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	batchID := "batch-multi"

	ch1, unsub1 := bus.Subscribe(batchID)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe(batchID)
	defer unsub2()

	bus.Publish(Event{BatchID: batchID, Type: EventBatchCompleted})

	timeout := time.After(1 * time.Second)
	got1, got2 := false, false
	for i := 0; i < 2; i++ {
		select {
		case <-ch1:
			got1 = true
		case <-ch2:
			got2 = true
		case <-timeout:
			t.Fatal("timeout")
		}
	}

	assert.True(t, got1)
	assert.True(t, got2)
}

func TestEventBus_GlobalSubscriber(t *testing.T) {
	bus := NewEventBus(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	globalCh, unsub := bus.SubscribeGlobal()
	defer unsub()

	bus.Publish(Event{BatchID: "batch-abc", Type: EventJobCompleted})

	select {
	case evt := <-globalCh:
		assert.Equal(t, "batch-abc", evt.BatchID)
		assert.Equal(t, EventJobCompleted, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for global event")
	}

	unsub()
	_, ok := <-globalCh
	assert.False(t, ok)
}

func TestEventBus_FullBufferDrops(t *testing.T) {
	bus := NewEventBus(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ch, unsub := bus.Subscribe("batch-slow")
	defer unsub()

	// Nobody reads: publishing past the buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 150; i++ {
			bus.Publish(Event{BatchID: "batch-slow", Type: EventJobRunning})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	require.Len(t, ch, 100)
}
