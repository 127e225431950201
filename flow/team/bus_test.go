package team

import (
	"context"
	"testing"
	"time"
)

func TestMessageBusTargetedSend(t *testing.T) {
	ctx := context.Background()
	bus := NewMessageBus(0, nil)
	bus.Register("alice")
	bus.Register("bob")

	if err := bus.Send(ctx, Message{From: "alice", To: "bob", Content: "hi bob"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	msg, err := bus.Receive(ctx, "bob", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive() error: %v", err)
	}
	if msg.Content != "hi bob" || msg.From != "alice" {
		t.Errorf("message = %+v", msg)
	}
	if msg.ID == "" || msg.Timestamp.IsZero() {
		t.Error("message not stamped with ID and timestamp")
	}

	// Alice got nothing.
	if _, err := bus.Receive(ctx, "alice", 20*time.Millisecond); err == nil {
		t.Error("Receive(alice) = nil error, want timeout")
	}
}

func TestMessageBusBroadcastExcludesSender(t *testing.T) {
	ctx := context.Background()
	bus := NewMessageBus(0, nil)
	for _, a := range []string{"alice", "bob", "carol"} {
		bus.Register(a)
	}

	if err := bus.Send(ctx, Message{From: "alice", Content: "all hands"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	for _, recipient := range []string{"bob", "carol"} {
		msg, err := bus.Receive(ctx, recipient, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("Receive(%s) error: %v", recipient, err)
		}
		if msg.Content != "all hands" {
			t.Errorf("Receive(%s) = %+v", recipient, msg)
		}
	}
	if _, err := bus.Receive(ctx, "alice", 20*time.Millisecond); err == nil {
		t.Error("broadcast delivered to its sender")
	}
}

func TestMessageBusUnknownRecipient(t *testing.T) {
	bus := NewMessageBus(0, nil)
	bus.Register("alice")
	if err := bus.Send(context.Background(), Message{From: "alice", To: "ghost"}); err == nil {
		t.Error("Send() = nil error for unregistered recipient")
	}
	if _, err := bus.Receive(context.Background(), "ghost", time.Millisecond); err == nil {
		t.Error("Receive() = nil error for unregistered agent")
	}
}

func TestMessageBusHistory(t *testing.T) {
	ctx := context.Background()
	bus := NewMessageBus(3, nil)
	bus.Register("a")
	bus.Register("b")

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		if err := bus.Send(ctx, Message{From: "a", To: "b", Content: content}); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
	}

	hist := bus.History()
	if len(hist) != 3 {
		t.Fatalf("history = %d entries, want cap of 3", len(hist))
	}
	want := []string{"three", "four", "five"}
	for i, m := range hist {
		if m.Content != want[i] {
			t.Errorf("history[%d] = %q, want %q (most recent retained, in order)", i, m.Content, want[i])
		}
	}
}

func TestMessageBusDrain(t *testing.T) {
	ctx := context.Background()
	bus := NewMessageBus(0, nil)
	bus.Register("a")
	bus.Register("b")

	for _, content := range []string{"first", "second"} {
		if err := bus.Send(ctx, Message{From: "a", To: "b", Content: content}); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
	}

	got := bus.Drain("b")
	if len(got) != 2 || got[0].Content != "first" || got[1].Content != "second" {
		t.Errorf("Drain() = %+v, want both messages in order", got)
	}
	if again := bus.Drain("b"); len(again) != 0 {
		t.Errorf("second Drain() = %+v, want empty mailbox", again)
	}
	if ghost := bus.Drain("ghost"); ghost != nil {
		t.Errorf("Drain(unregistered) = %+v, want nil", ghost)
	}
}

func TestMessageBusOnSendHook(t *testing.T) {
	var seen []string
	bus := NewMessageBus(0, func(m Message) { seen = append(seen, m.Content) })
	bus.Register("a")
	bus.Register("b")
	bus.Send(context.Background(), Message{From: "a", To: "b", Content: "observed"})
	if len(seen) != 1 || seen[0] != "observed" {
		t.Errorf("hook saw %v", seen)
	}
}
