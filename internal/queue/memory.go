package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/joshu-sajeev/resumeflow/internal/dto"
)

// Memory is an in-process queue with the same ack semantics as RabbitMQ. It
// backs local runs and end-to-end tests.
type Memory struct {
	mu        sync.Mutex
	pending   []dto.JobMessage
	published []dto.JobMessage
	failures  int
	notify    chan struct{}
}

func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

// FailNext makes the next n Publish calls fail with ErrUnavailable.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

func (m *Memory) Publish(ctx context.Context, msg dto.JobMessage) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish: %w: %w", ErrUnavailable, err)
	}

	m.mu.Lock()
	if m.failures > 0 {
		m.failures--
		m.mu.Unlock()
		return fmt.Errorf("publish: %w: injected failure", ErrUnavailable)
	}
	m.published = append(m.published, msg)
	m.pending = append(m.pending, msg)
	m.mu.Unlock()

	m.wake()
	return nil
}

// Published returns every message accepted so far, in order.
func (m *Memory) Published() []dto.JobMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dto.JobMessage(nil), m.published...)
}

// Pending reports how many messages wait for a consumer.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Drain delivers pending messages to h on the calling goroutine until the
// queue is empty. A message whose handler fails is put back once and the
// drain stops, so a broken handler cannot spin forever.
func (m *Memory) Drain(ctx context.Context, h Handler) error {
	for {
		msg, ok := m.pop()
		if !ok {
			return nil
		}
		if err := h(ctx, msg); err != nil {
			m.requeue(msg)
			return err
		}
	}
}

func (m *Memory) Consume(ctx context.Context, h Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, ok := m.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-m.notify:
				continue
			}
		}
		if err := h(ctx, msg); err != nil {
			m.requeue(msg)
		}
	}
}

func (m *Memory) pop() (dto.JobMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return dto.JobMessage{}, false
	}
	msg := m.pending[0]
	m.pending = m.pending[1:]
	return msg, true
}

func (m *Memory) requeue(msg dto.JobMessage) {
	m.mu.Lock()
	m.pending = append(m.pending, msg)
	m.mu.Unlock()
	m.wake()
}

func (m *Memory) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
