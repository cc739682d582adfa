package bus

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testLogger())

	var received int32
	eb.On("message.received", func(_ context.Context, e Event) error {
		atomic.AddInt32(&received, 1)
		return nil
	})

	if err := eb.Emit(context.Background(), Event{Type: "message.received", TenantID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testLogger())

	var count int32
	eb.On("*", func(context.Context, Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	eb.Emit(context.Background(), Event{Type: "a"})
	eb.Emit(context.Background(), Event{Type: "b"})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
	if eb.HandlerCount("anything") != 1 {
		t.Errorf("expected wildcard to count, got %d", eb.HandlerCount("anything"))
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testLogger())

	var count int32
	id := eb.On("x", func(context.Context, Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	eb.Emit(context.Background(), Event{Type: "x"})
	eb.Off("x", id)
	eb.Emit(context.Background(), Event{Type: "x"})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_UniqueIDsAfterOff(t *testing.T) {
	eb := NewEventBus(testLogger())
	a := eb.On("x", func(context.Context, Event) error { return nil })
	eb.Off("x", a)
	b := eb.On("x", func(context.Context, Event) error { return nil })
	if a == b {
		t.Errorf("handler ids must not be reused: %s", a)
	}
}

func TestEventBus_ErrorsJoined(t *testing.T) {
	eb := NewEventBus(testLogger())

	var called int32
	eb.On("x", func(context.Context, Event) error { return errors.New("sink a down") })
	eb.On("x", func(context.Context, Event) error {
		atomic.AddInt32(&called, 1)
		return nil
	})
	eb.On("*", func(context.Context, Event) error { return errors.New("sink b down") })

	err := eb.Emit(context.Background(), Event{Type: "x"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !strings.Contains(err.Error(), "sink a down") || !strings.Contains(err.Error(), "sink b down") {
		t.Errorf("expected both failures, got %v", err)
	}
	if called != 1 {
		t.Error("a failing handler must not stop the others")
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testLogger())
	eb.On("panic", func(context.Context, Event) error {
		panic("test panic")
	})

	err := eb.Emit(context.Background(), Event{Type: "panic"})
	if err == nil || !strings.Contains(err.Error(), "test panic") {
		t.Errorf("expected panic to surface as error, got %v", err)
	}
}

func TestEventBus_TimestampAutoSet(t *testing.T) {
	eb := NewEventBus(testLogger())
	var got Event
	eb.On("x", func(_ context.Context, e Event) error {
		got = e
		return nil
	})
	eb.Emit(context.Background(), Event{Type: "x"})
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be auto-set")
	}
}
