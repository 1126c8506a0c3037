package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEmitSyncRunsInSubscriptionOrder(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var got []string
	for _, name := range []string{"first", "second", "third"} {
		bus.Subscribe(EventTurnCompleted, name, func(ctx context.Context, e Event) error {
			got = append(got, name+":"+e.Source)
			return nil
		})
	}

	for _, src := range []string{"a", "b"} {
		if err := bus.EmitSync(context.Background(), Event{Type: EventTurnCompleted, Source: src}); err != nil {
			t.Fatalf("EmitSync() error = %v", err)
		}
	}

	want := []string{"first:a", "second:a", "third:a", "first:b", "second:b", "third:b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestEmitSyncReturnsFirstErrorAndRunsAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	errBoom := errors.New("boom")
	calls := 0
	bus.Subscribe(EventGameEnded, "fails", func(ctx context.Context, e Event) error {
		calls++
		return errBoom
	})
	bus.Subscribe(EventGameEnded, "panics", func(ctx context.Context, e Event) error {
		calls++
		panic("handler bug")
	})
	bus.Subscribe(EventGameEnded, "ok", func(ctx context.Context, e Event) error {
		calls++
		return nil
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventGameEnded})
	if !errors.Is(err, errBoom) {
		t.Errorf("EmitSync() error = %v, want %v", err, errBoom)
	}
	if calls != 3 {
		t.Errorf("handlers called = %d, want 3", calls)
	}
}

func TestEmitAsync(t *testing.T) {
	bus := NewEventBus()

	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe(EventSessionStarted, "waiter", func(ctx context.Context, e Event) error {
		defer wg.Done()
		if e.Source != "listener" {
			t.Errorf("Source = %q, want listener", e.Source)
		}
		return nil
	})
	bus.Emit(context.Background(), Event{Type: EventSessionStarted, Source: "listener"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handler did not run")
	}
	bus.Stop()
}

func TestStoppedBusDropsEvents(t *testing.T) {
	bus := NewEventBus()
	called := false
	bus.Subscribe(EventShutdown, "late", func(ctx context.Context, e Event) error {
		called = true
		return nil
	})
	bus.Stop()

	bus.Emit(context.Background(), Event{Type: EventShutdown})
	bus.EmitSync(context.Background(), Event{Type: EventShutdown})
	if called {
		t.Error("handler ran after Stop")
	}
}

func TestSubscribeCancel(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var got []string
	record := func(name string) HandlerFunc {
		return func(ctx context.Context, e Event) error {
			got = append(got, name)
			return nil
		}
	}
	// Two registrations share a name; cancelling one must leave the other.
	cancelA := bus.Subscribe(EventGameStarted, "dup", record("a"))
	bus.Subscribe(EventGameStarted, "dup", record("b"))
	cancelA()
	cancelA()

	if err := bus.EmitSync(context.Background(), Event{Type: EventGameStarted}); err != nil {
		t.Fatalf("EmitSync() error = %v", err)
	}
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("handlers run = %v, want [b]", got)
	}
}
