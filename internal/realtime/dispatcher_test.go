package realtime

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	dispatcher.Publish(Message{
		UserID:    "user-1",
		EventType: EventProfileChanged,
		Level:     2,
		XP:        505,
	})

	select {
	case received := <-stream:
		if received.EventType != EventProfileChanged {
			t.Fatalf("expected event type %s, got %s", EventProfileChanged, received.EventType)
		}
		if received.XP != 505 || received.Level != 2 {
			t.Fatalf("unexpected payload %+v", received)
		}
		if received.Timestamp.IsZero() {
			t.Fatal("expected publish to stamp the message")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestDispatcherIsolatedByUser(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, "user-2")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "user-3")
	defer otherCleanup()

	dispatcher.Publish(Message{UserID: "user-3", EventType: EventProfileChanged, XP: 10})

	select {
	case <-userStream:
		t.Fatal("did not expect realtime message for unrelated user")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.UserID != "user-3" {
			t.Fatalf("expected user-3, received %s", msg.UserID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed user")
	}
}

func TestDispatcherClosesStreamOnCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	stream, _ := dispatcher.Subscribe(ctx, "user-4")
	if count := dispatcher.SubscriberCount("user-4"); count != 1 {
		t.Fatalf("expected 1 subscriber, got %d", count)
	}
	cancel()

	select {
	case _, ok := <-stream:
		if ok {
			t.Fatal("expected closed stream after cancel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected stream to close after cancel")
	}
	if count := dispatcher.SubscriberCount("user-4"); count != 0 {
		t.Fatalf("expected subscriber removed, got %d", count)
	}
}

func TestDispatcherCleanupIsIdempotent(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cleanup := dispatcher.Subscribe(ctx, "user-5")
	cleanup()
	cleanup()
	dispatcher.Publish(Message{UserID: "user-5", EventType: EventProfileChanged})
}

func TestDispatcherIgnoresIncompleteMessages(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-6")
	defer cleanup()

	dispatcher.Publish(Message{UserID: "user-6"})
	dispatcher.Publish(Message{EventType: EventProfileChanged})

	select {
	case msg := <-stream:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcherEmptyUserReturnsClosedStream(t *testing.T) {
	dispatcher := NewDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()
	if _, ok := <-stream; ok {
		t.Fatal("expected closed stream for empty user")
	}
}
