// Package streaming fans terminal events out to live observers.
package streaming

import (
	"sync"
	"sync/atomic"

	"github.com/rama-kairi/go-shell/internal/logger"
)

// Client is one registered observer. Its queue is bounded; events that do
// not fit are dropped for that client only.
type Client struct {
	id      uint64
	events  chan Event
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// ID returns the client's registration id
func (c *Client) ID() uint64 {
	return c.id
}

// Events returns the channel the client reads from. It is closed when the
// client is unregistered or the bus shuts down.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Dropped returns how many events were skipped because the queue was full
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// offer delivers without blocking
func (c *Client) offer(e Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.events <- e:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

// EventBus broadcasts events to every registered client. A single dispatch
// goroutine drains a FIFO intake queue, so events are delivered in publish
// order.
type EventBus struct {
	intake       chan Event
	clientBuffer int
	logger       *logger.Logger

	mu      sync.RWMutex
	clients map[uint64]*Client
	nextID  uint64

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewEventBus creates the bus and starts its dispatch loop
func NewEventBus(bufferSize, clientBuffer int, log *logger.Logger) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if clientBuffer <= 0 {
		clientBuffer = 64
	}
	if log == nil {
		log = logger.Nop()
	}

	b := &EventBus{
		intake:       make(chan Event, bufferSize),
		clientBuffer: clientBuffer,
		logger:       log.WithComponent("event_bus"),
		clients:      make(map[uint64]*Client),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	go b.dispatch()
	return b
}

// RegisterClient adds an observer. After Close the returned client is
// already closed.
func (b *EventBus) RegisterClient() *Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	c := &Client{id: b.nextID, events: make(chan Event, b.clientBuffer)}

	select {
	case <-b.done:
		c.close()
		return c
	default:
	}

	b.clients[c.id] = c
	b.logger.Debug("Client registered", map[string]interface{}{
		"client_id": c.id,
		"clients":   len(b.clients),
	})
	return c
}

// UnregisterClient removes an observer and closes its channel. It is safe to
// call more than once.
func (b *EventBus) UnregisterClient(c *Client) {
	if c == nil {
		return
	}

	b.mu.Lock()
	_, ok := b.clients[c.id]
	delete(b.clients, c.id)
	remaining := len(b.clients)
	b.mu.Unlock()

	c.close()

	if ok {
		b.logger.Debug("Client unregistered", map[string]interface{}{
			"client_id": c.id,
			"clients":   remaining,
			"dropped":   c.Dropped(),
		})
	}
}

// ClientCount returns the number of registered clients
func (b *EventBus) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish enqueues an event and returns. It waits only while the intake
// queue is full and reports false once the bus is closed.
func (b *EventBus) Publish(e Event) bool {
	select {
	case <-b.done:
		return false
	default:
	}

	select {
	case b.intake <- e:
		return true
	case <-b.done:
		return false
	}
}

// Close stops the dispatch loop after delivering already queued events and
// closes every client channel.
func (b *EventBus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		<-b.stopped

		b.mu.Lock()
		clients := b.clients
		b.clients = make(map[uint64]*Client)
		b.mu.Unlock()

		for _, c := range clients {
			c.close()
		}
		b.logger.Info("Event bus stopped", map[string]interface{}{"clients": len(clients)})
	})
}

func (b *EventBus) dispatch() {
	defer close(b.stopped)

	for {
		select {
		case e := <-b.intake:
			b.fanOut(e)
		case <-b.done:
			for {
				select {
				case e := <-b.intake:
					b.fanOut(e)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBus) fanOut(e Event) {
	b.mu.RLock()
	snapshot := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		snapshot = append(snapshot, c)
	}
	b.mu.RUnlock()

	for _, c := range snapshot {
		if !c.offer(e) {
			b.logger.Debug("Event skipped for client", map[string]interface{}{
				"client_id":  c.id,
				"event_type": string(e.Type),
				"command_id": e.CommandID,
			})
		}
	}
}
