package events

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/documents"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	dispatcher.DocumentChanged(documents.Change{
		UserID:     "user-1",
		Collection: documents.CollectionIntention,
		DocumentID: "intention-a",
		Operation:  documents.OperationPut,
	})

	select {
	case received := <-stream:
		if received.Kind != KindCollectionChanged {
			t.Fatalf("expected kind %s, got %s", KindCollectionChanged, received.Kind)
		}
		if received.Collection != "intention" || len(received.DocumentIDs) != 1 {
			t.Fatalf("unexpected message %+v", received)
		}
		if received.Timestamp.IsZero() {
			t.Fatalf("expected timestamp to be stamped")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected message within deadline")
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

	dispatcher.PublishTierChanged("user-3", "premium")

	select {
	case <-userStream:
		t.Fatal("did not expect message for unrelated user")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.Tier != "premium" {
			t.Fatalf("expected premium tier, received %s", msg.Tier)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected message for subscribed user")
	}
}

func TestDispatcherListenersRunSynchronously(t *testing.T) {
	dispatcher := NewDispatcher()
	var received []Kind
	stop := dispatcher.Listen("user-1", func(message Message) {
		received = append(received, message.Kind)
	})

	dispatcher.PublishSignedOut("user-1")
	if len(received) != 1 || received[0] != KindSignedOut {
		t.Fatalf("expected synchronous sign-out delivery, got %v", received)
	}

	stop()
	dispatcher.PublishSignedOut("user-1")
	if len(received) != 1 {
		t.Fatalf("expected no delivery after stop, got %v", received)
	}
}

func TestDispatcherDropsWhenStreamIsFull(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	for index := 0; index < dispatcher.bufferSize*2; index++ {
		dispatcher.PublishTierChanged("user-1", "basic")
	}
	if len(stream) != dispatcher.bufferSize {
		t.Fatalf("expected buffer to saturate at %d, got %d", dispatcher.bufferSize, len(stream))
	}
}

func TestDispatcherEmptyUserReturnsClosedStream(t *testing.T) {
	dispatcher := NewDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()
	if _, ok := <-stream; ok {
		t.Fatalf("expected closed stream for empty user")
	}
}
