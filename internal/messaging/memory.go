package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Memory is an in-process topic exchange. Publish dispatches synchronously to
// every bound queue, so a whole choreography runs inside the publishing call.
// Messages for a declared queue without a consumer are buffered until one
// subscribes. Nothing survives the process; it is meant for tests and local
// runs.
type Memory struct {
	mu        sync.Mutex
	queues    map[string]*memoryQueue
	published []Message
	dead      map[string][]Message
	requeued  map[string][]Message

	retain  int
	retries int
}

type memoryQueue struct {
	sub     Subscription
	handler Handler
	pending []Message
}

func NewMemory(topology ...Subscription) *Memory {
	m := &Memory{
		queues:   make(map[string]*memoryQueue),
		dead:     make(map[string][]Message),
		requeued: make(map[string][]Message),
	}
	for _, sub := range topology {
		m.queues[sub.Queue] = &memoryQueue{sub: sub}
	}
	return m
}

// Retain caps every history list and every per-queue buffer at the n most
// recent messages. Zero keeps everything.
func (m *Memory) Retain(n int) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retain = n
	return m
}

// Retry redelivers a message failing with a retryable error up to n more
// times before it is parked with the requeued messages.
func (m *Memory) Retry(n int) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries = n
	return m
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	m.mu.Lock()
	m.published = m.keep(append(m.published, msg))

	type target struct {
		queue   string
		handler Handler
	}
	var targets []target
	for name, q := range m.queues {
		if !q.binds(msg.RoutingKey) {
			continue
		}
		if q.handler == nil {
			q.pending = m.keep(append(q.pending, msg))
			continue
		}
		targets = append(targets, target{queue: name, handler: q.handler})
	}
	m.mu.Unlock()

	for _, t := range targets {
		m.deliver(ctx, t.queue, t.handler, msg)
	}
	return nil
}

// Subscribe binds h to sub and drains anything buffered for the queue.
func (m *Memory) Subscribe(ctx context.Context, sub Subscription, h Handler) {
	m.mu.Lock()
	q, ok := m.queues[sub.Queue]
	if !ok {
		q = &memoryQueue{}
		m.queues[sub.Queue] = q
	}
	q.sub = sub
	q.handler = h
	pending := q.pending
	q.pending = nil
	m.mu.Unlock()

	for _, msg := range pending {
		m.deliver(ctx, sub.Queue, h, msg)
	}
}

func (m *Memory) Consume(ctx context.Context, sub Subscription, h Handler) error {
	m.Subscribe(ctx, sub, h)
	<-ctx.Done()
	return nil
}

func (m *Memory) deliver(ctx context.Context, queue string, h Handler, msg Message) {
	m.mu.Lock()
	retries := m.retries
	m.mu.Unlock()

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			msg.Redelivered = true
		}
		err = h(ctx, msg)
		if err == nil || errors.Is(err, ErrPermanent) || ctx.Err() != nil {
			break
		}
	}
	if err == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if errors.Is(err, ErrPermanent) {
		m.dead[queue] = m.keep(append(m.dead[queue], msg))
		return
	}
	m.requeued[queue] = m.keep(append(m.requeued[queue], msg))
}

// keep trims msgs to the retention limit. Callers hold m.mu.
func (m *Memory) keep(msgs []Message) []Message {
	if m.retain <= 0 || len(msgs) <= m.retain {
		return msgs
	}
	return append([]Message(nil), msgs[len(msgs)-m.retain:]...)
}

// Redeliver hands msg to the queue's consumer again with the redelivered flag set.
func (m *Memory) Redeliver(ctx context.Context, queue string, msg Message) {
	m.mu.Lock()
	q, ok := m.queues[queue]
	m.mu.Unlock()
	if !ok || q.handler == nil {
		return
	}
	msg.Redelivered = true
	m.deliver(ctx, queue, q.handler, msg)
}

func (m *Memory) Published(routingKey string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.published {
		if routingKey == "" || msg.RoutingKey == routingKey {
			out = append(out, msg)
		}
	}
	return out
}

func (m *Memory) DeadLetters(queue string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.dead[queue]...)
}

func (m *Memory) Requeued(queue string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.requeued[queue]...)
}

func (m *Memory) Close() error {
	return nil
}

func (q *memoryQueue) binds(routingKey string) bool {
	for _, pattern := range q.sub.RoutingKeys {
		if MatchTopic(pattern, routingKey) {
			return true
		}
	}
	return false
}

// MatchTopic reports whether routingKey matches an AMQP topic binding
// pattern, where "*" matches one word and "#" matches zero or more.
func MatchTopic(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
