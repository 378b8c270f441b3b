package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestEmit_DeliversAsync(t *testing.T) {
	sink := &recordingSink{}
	Emit(zerolog.Nop(), sink, Event{Type: TypeAppointmentCreated, Topic: "appointments", EntityID: "a1"})

	deadline := time.Now().Add(time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event was not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEmit_SinkFailureDoesNotPanic(t *testing.T) {
	sink := &recordingSink{err: errors.New("delivery down")}
	Emit(zerolog.Nop(), sink, Event{Type: TypeAppointmentUpdated, EntityID: "a1"})

	deadline := time.Now().Add(time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("publish was never attempted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEmit_NilSinkIsNoop(t *testing.T) {
	Emit(zerolog.Nop(), nil, Event{Type: TypeAppointmentCreated})
}

func TestMultiSink_AllSinksAttempted(t *testing.T) {
	failing := &recordingSink{err: errors.New("boom")}
	ok := &recordingSink{}
	m := MultiSink{failing, ok}

	err := m.Publish(context.Background(), Event{Type: TypePaymentCaptured})
	if err == nil {
		t.Error("expected first error to surface")
	}
	if ok.count() != 1 {
		t.Error("second sink should still receive the event")
	}
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "c1", Topics: []string{"appointments"}, Send: make(chan []byte, 4)}
	other := &Client{ID: "c2", Topics: []string{"billing"}, Send: make(chan []byte, 4)}
	hub.Register(client)
	hub.Register(other)

	err := hub.Publish(context.Background(), Event{Type: TypeAppointmentCreated, Topic: "appointments", EntityID: "a1"})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	select {
	case raw := <-client.Send:
		var got Event
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.EntityID != "a1" {
			t.Errorf("EntityID = %q, want a1", got.EntityID)
		}
	default:
		t.Fatal("subscribed client received nothing")
	}

	select {
	case <-other.Send:
		t.Fatal("client on another topic should receive nothing")
	default:
	}
}

func TestHub_UnregisterStopsDelivery(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "c1", Topics: []string{"appointments"}, Send: make(chan []byte, 4)}
	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", hub.ClientCount())
	}
	if hub.TopicCount("appointments") != 0 {
		t.Errorf("TopicCount = %d, want 0", hub.TopicCount("appointments"))
	}
	// Double unregister must not panic on the closed channel.
	hub.Unregister(client)
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "c1", Send: make(chan []byte, 4)}
	hub.Register(client)

	hub.Subscribe(client, []string{"appointments", "billing"})
	if hub.TopicCount("appointments") != 1 || hub.TopicCount("billing") != 1 {
		t.Fatal("subscribe did not take effect")
	}

	hub.Unsubscribe(client, []string{"appointments"})
	if hub.TopicCount("appointments") != 0 {
		t.Error("unsubscribe did not remove topic")
	}
	if hub.TopicCount("billing") != 1 {
		t.Error("unrelated topic subscription lost")
	}
}

func TestHub_SkipsFullClientBuffers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "c1", Topics: []string{"appointments"}, Send: make(chan []byte)}
	hub.Register(client)

	// Unbuffered channel with no reader: Publish must not block.
	done := make(chan struct{})
	go func() {
		hub.Publish(context.Background(), Event{Topic: "appointments"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full client buffer")
	}
}
