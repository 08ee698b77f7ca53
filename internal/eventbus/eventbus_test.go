package eventbus

import "testing"

func TestBusPublishSubscribe(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Publish("hello")
	v := <-ch
	if v != "hello" {
		t.Fatalf("expected hello got %v", v)
	}
	bus.Unsubscribe(ch)
}

func TestBusPublishAfterClose(t *testing.T) {
	bus := New()
	bus.Close()
	// Must not panic or deliver.
	bus.Publish("late")
	ch := bus.Subscribe()
	if _, ok := <-ch; ok {
		t.Fatalf("subscribe after close should return a closed channel")
	}
}

func TestBusClose(t *testing.T) {
	bus := New()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
}

func TestBusUnsubscribeAfterClose(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch)
}

func TestBusFullBufferDoesNotBlock(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	for i := 0; i < 40; i++ {
		bus.Publish(i)
	}
	// Buffer holds 16; publishing past it drops instead of blocking.
	if v := <-ch; v != 0 {
		t.Fatalf("expected first event, got %v", v)
	}
	bus.Close()
}
