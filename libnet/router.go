package libnet

import (
	"sync"

	"github.com/sasha-s/go-deadlock"
)

// mailbox is an unbounded queue drained into out by a pump goroutine, so
// a slow subscriber never blocks the connection that delivers to it.
type mailbox struct {
	mu    deadlock.Mutex
	queue []Inbound
	wake  chan struct{}
	out   chan Inbound
}

func newMailbox() *mailbox {
	return &mailbox{
		wake: make(chan struct{}, 1),
		out:  make(chan Inbound),
	}
}

func (m *mailbox) push(in Inbound) {
	m.mu.Lock()
	m.queue = append(m.queue, in)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) pump(done <-chan struct{}) {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-done:
				return
			}
		}
		head := m.queue[0]
		m.queue[0] = Inbound{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- head:
		case <-done:
			return
		}
	}
}

// Router fans inbound messages out to per-topic mailboxes. Messages for a
// topic nobody subscribed to yet are kept until someone does.
type Router struct {
	mu     deadlock.Mutex
	boxes  map[string]*mailbox
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewRouter() *Router {
	return &Router{
		boxes: make(map[string]*mailbox),
		done:  make(chan struct{}),
	}
}

// box returns the mailbox of topic, nil once the router is closed.
func (r *Router) box(topic string) *mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	b, ok := r.boxes[topic]
	if !ok {
		b = newMailbox()
		r.boxes[topic] = b
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			b.pump(r.done)
		}()
	}
	return b
}

// Deliver queues a message on topic. Dropped after Close.
func (r *Router) Deliver(topic string, in Inbound) {
	if b := r.box(topic); b != nil {
		b.push(in)
	}
}

// Subscribe returns the stream of topic.
func (r *Router) Subscribe(topic string) <-chan Inbound {
	if b := r.box(topic); b != nil {
		return b.out
	}
	ch := make(chan Inbound)
	close(ch)
	return ch
}

// Close stops every pump and closes every subscribed stream.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()
	r.wg.Wait()
}
