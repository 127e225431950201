// Package team implements multi-agent orchestration: a per-team message
// bus and shared context, and the coordinator, round-robin, debate, and
// map-reduce strategies that drive a team of LLM agents.
package team

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMailboxSize    = 100
	defaultReceiveTimeout = 30 * time.Second
	defaultMaxHistory     = 10_000
)

// Message is one bus delivery. An empty To means broadcast to every agent
// except the sender.
type Message struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MessageBus routes messages between a team's agents. Each registered
// agent owns a bounded ordered mailbox; a ring buffer retains recent
// history and an optional hook observes every send.
type MessageBus struct {
	mu         sync.Mutex
	mailboxes  map[string]chan Message
	history    []Message
	maxHistory int
	onSend     func(Message)
}

// NewMessageBus creates a bus retaining up to maxHistory messages.
// Zero or negative means unlimited retention.
func NewMessageBus(maxHistory int, onSend func(Message)) *MessageBus {
	return &MessageBus{
		mailboxes:  make(map[string]chan Message),
		maxHistory: maxHistory,
		onSend:     onSend,
	}
}

// Register assigns the agent a mailbox. Registering twice is a no-op.
func (b *MessageBus) Register(agent string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.mailboxes[agent]; !ok {
		b.mailboxes[agent] = make(chan Message, defaultMailboxSize)
	}
}

// Send delivers a message: to the named recipient's mailbox, or to every
// agent except the sender when To is empty. Blocks while a recipient's
// mailbox is full, honoring ctx.
func (b *MessageBus) Send(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	var targets []chan Message
	if msg.To != "" {
		box, ok := b.mailboxes[msg.To]
		if !ok {
			b.mu.Unlock()
			return fmt.Errorf("agent %q is not registered", msg.To)
		}
		targets = append(targets, box)
	} else {
		for agent, box := range b.mailboxes {
			if agent != msg.From {
				targets = append(targets, box)
			}
		}
	}
	b.history = append(b.history, msg)
	if b.maxHistory > 0 && len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
	hook := b.onSend
	b.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	for _, box := range targets {
		select {
		case box <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Receive pops the agent's next message, waiting up to timeout (default
// 30 s when zero).
func (b *MessageBus) Receive(ctx context.Context, agent string, timeout time.Duration) (Message, error) {
	b.mu.Lock()
	box, ok := b.mailboxes[agent]
	b.mu.Unlock()
	if !ok {
		return Message{}, fmt.Errorf("agent %q is not registered", agent)
	}
	if timeout <= 0 {
		timeout = defaultReceiveTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-box:
		return msg, nil
	case <-timer.C:
		return Message{}, fmt.Errorf("receive for %q timed out after %s", agent, timeout)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Drain pops every message currently queued for the agent without
// waiting.
func (b *MessageBus) Drain(agent string) []Message {
	b.mu.Lock()
	box, ok := b.mailboxes[agent]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	var out []Message
	for {
		select {
		case msg := <-box:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// History returns a copy of the retained messages in send order.
func (b *MessageBus) History() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.history))
	copy(out, b.history)
	return out
}
