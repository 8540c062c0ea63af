// Package mailbox provides the cooperative executor that owns the single
// execution thread. All continuations and control actions run as mails on
// that thread; other goroutines may only enqueue.
package mailbox

import (
	"log/slog"
	"sync"
)

// Executor schedules callbacks onto the execution thread.
type Executor interface {
	// Execute enqueues a callback for later execution on the execution
	// thread. Safe to call from any goroutine.
	Execute(name string, fn func())

	// TryYield runs exactly one pending callback if any is ready and
	// reports whether it did. Must only be called from the execution
	// thread itself.
	TryYield() bool
}

type mail struct {
	name string
	fn   func()
}

// Mailbox is the default Executor implementation: a FIFO of mails drained
// by whichever goroutine plays the execution thread.
type Mailbox struct {
	mu     sync.Mutex
	queue  []mail
	closed bool

	wake   chan struct{}
	logger *slog.Logger
}

func New(logger *slog.Logger) *Mailbox {
	return &Mailbox{
		wake:   make(chan struct{}, 1),
		logger: logger.With("module", "mailbox"),
	}
}

func (m *Mailbox) Execute(name string, fn func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Debug("Dropping mail enqueued after close", "mail", name)

		return
	}

	m.queue = append(m.queue, mail{name: name, fn: fn})
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Mailbox) TryYield() bool {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()

		return false
	}

	next := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()

	next.fn()

	return true
}

// HasMail reports whether at least one mail is pending.
func (m *Mailbox) HasMail() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queue) > 0
}

// Wake returns a channel that receives a signal whenever a mail is
// enqueued. Used by run loops that multiplex mails with record input.
func (m *Mailbox) Wake() <-chan struct{} {
	return m.wake
}

// Close discards pending mails and rejects new ones. In-flight work is
// abandoned, not retried.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.queue = nil
}
