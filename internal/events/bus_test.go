package events

import (
	"testing"
	"time"
)

func TestSubscribePublish(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(EventExecutionFinished, 1)
	defer cancel()

	bus.Publish(EventExecutionFinished, ExecutionEvent{AccountID: "acct-1"})

	select {
	case msg := <-ch:
		evt, ok := msg.(ExecutionEvent)
		if !ok || evt.AccountID != "acct-1" {
			t.Errorf("unexpected payload: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestPublishSkipsOtherTopics(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(EventItemDropped, 1)
	defer cancel()

	bus.Publish(EventExecutionFinished, ExecutionEvent{})

	select {
	case msg := <-ch:
		t.Errorf("wrong-topic delivery: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishNeverBlocksOnFullBuffer(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(EventSignalAccepted, 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		bus.Publish(EventSignalAccepted, SignalEvent{Ticker: "BTCUSDT"})
		bus.Publish(EventSignalAccepted, SignalEvent{Ticker: "ETHUSDT"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	evt := (<-ch).(SignalEvent)
	if evt.Ticker != "BTCUSDT" {
		t.Errorf("kept event = %s, want the first published", evt.Ticker)
	}
}

func TestCancelClosesAndDetaches(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(EventCredentialQuarantine, 1)

	cancel()
	cancel() // second call must be a no-op

	if _, open := <-ch; open {
		t.Error("cancel must close the subscriber channel")
	}
	bus.Publish(EventCredentialQuarantine, QuarantineEvent{})
}
