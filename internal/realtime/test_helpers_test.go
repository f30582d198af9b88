package realtime

import (
	"testing"
	"time"
)

func mustReceive[T any](t *testing.T, sub Subscription[T]) T {
	t.Helper()

	select {
	case v := <-sub.Events():
		return v
	case <-sub.Done():
		t.Fatalf("subscription ended: %v", sub.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("expected event not received")
	}
	var zero T
	return zero
}

func mustEnd[T any](t *testing.T, sub Subscription[T]) error {
	t.Helper()

	select {
	case <-sub.Done():
		return sub.Err()
	case <-time.After(2 * time.Second):
		t.Fatal("expected subscription to end")
	}
	return nil
}

func expectNoEvent[T any](t *testing.T, sub Subscription[T]) {
	t.Helper()

	select {
	case v := <-sub.Events():
		t.Fatalf("unexpected event %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}
