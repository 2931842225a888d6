// Package memory provides an in-process implementation of messaging.Client.
// Delivery is synchronous, which keeps tests and single-node deployments
// deterministic.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i3lani/paywatch/common/messaging"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("memory bus closed")

// Bus implements messaging.Client and messaging.Responder in memory.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int64]*subscription
	nextID  atomic.Int64
	inboxes map[string]chan []byte
	closed  bool
	rr      map[string]int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[int64]*subscription),
		inboxes: make(map[string]chan []byte),
		rr:      make(map[string]int),
	}
}

// Publish delivers data to every matching subscriber.
func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	return b.PublishMsg(ctx, &messaging.Message{Subject: subject, Data: data})
}

// PublishMsg delivers msg to every fan-out subscriber and to one member of
// each matching queue group.
func (b *Bus) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ch, ok := b.takeInbox(msg.Subject); ok {
		ch <- msg.Data
		return nil
	}

	targets, err := b.targets(msg.Subject)
	if err != nil {
		return err
	}

	delivered := *msg
	if delivered.Timestamp.IsZero() {
		delivered.Timestamp = time.Now()
	}
	for _, s := range targets {
		m := delivered
		_ = s.handler(ctx, &m)
	}
	return nil
}

// Request publishes data with a reply inbox and waits for the first response.
func (b *Bus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*messaging.Message, error) {
	targets, err := b.targets(subject)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, messaging.ErrNoResponders
	}

	inbox := fmt.Sprintf("_INBOX.%d", b.nextID.Add(1))
	ch := make(chan []byte, 1)
	b.mu.Lock()
	b.inboxes[inbox] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.inboxes, inbox)
		b.mu.Unlock()
	}()

	req := messaging.Message{Subject: subject, Data: data, Reply: inbox, Timestamp: time.Now()}
	go func() {
		for _, s := range targets {
			m := req
			_ = s.handler(context.WithoutCancel(ctx), &m)
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return &messaging.Message{Subject: inbox, Data: resp, Timestamp: time.Now()}, nil
	case <-timer.C:
		return nil, fmt.Errorf("request %s: timeout after %s", subject, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Respond answers a request message.
func (b *Bus) Respond(ctx context.Context, msg *messaging.Message, data []byte) error {
	if msg.Reply == "" {
		return errors.New("message has no reply subject")
	}
	return b.Publish(ctx, msg.Reply, data)
}

// Subscribe registers a fan-out handler.
func (b *Bus) Subscribe(subject string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	return b.add(subject, "", handler)
}

// QueueSubscribe registers a handler in a queue group.
func (b *Bus) QueueSubscribe(subject, queue string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	return b.add(subject, queue, handler)
}

// Close removes every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, s := range b.subs {
		s.valid.Store(false)
		delete(b.subs, id)
	}
	return nil
}

// Drain is equivalent to Close; delivery is synchronous so nothing is in flight.
func (b *Bus) Drain() error { return b.Close() }

// IsConnected reports whether the bus is open.
func (b *Bus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func (b *Bus) add(subject, queue string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &subscription{bus: b, id: b.nextID.Add(1), subject: subject, queue: queue, handler: handler}
	s.valid.Store(true)
	b.subs[s.id] = s
	return s, nil
}

func (b *Bus) takeInbox(subject string) (chan []byte, bool) {
	if !strings.HasPrefix(subject, "_INBOX.") {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.inboxes[subject]
	if ok {
		delete(b.inboxes, subject)
	}
	return ch, ok
}

func (b *Bus) targets(subject string) ([]*subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	var out []*subscription
	groups := make(map[string][]*subscription)
	for _, s := range b.subs {
		if !Match(s.subject, subject) {
			continue
		}
		if s.queue == "" {
			out = append(out, s)
			continue
		}
		groups[s.queue] = append(groups[s.queue], s)
	}
	for queue, members := range groups {
		i := b.rr[queue] % len(members)
		b.rr[queue]++
		out = append(out, members[i])
	}
	return out, nil
}

// Match reports whether subject matches a NATS-style pattern with "*" and
// trailing ">" wildcards.
func Match(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

type subscription struct {
	bus     *Bus
	id      int64
	subject string
	queue   string
	handler messaging.MessageHandler
	valid   atomic.Bool
}

func (s *subscription) Unsubscribe() error {
	s.valid.Store(false)
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return nil
}

func (s *subscription) Subject() string { return s.subject }

func (s *subscription) IsValid() bool { return s.valid.Load() }
