package libnet

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/sasha-s/go-deadlock"
	"github.com/zhazhalaila/AsyncDKG/party"
	"golang.org/x/xerrors"
)

// Filter decides what happens to a message in flight. It returns the
// payload to deliver (possibly rewritten) and false to drop the message.
type Filter func(from, to party.ID, topic string, payload []byte) ([]byte, bool)

// MemNetwork connects n in-process endpoints. Delivery never blocks and
// preserves per-sender order.
type MemNetwork struct {
	mu      deadlock.RWMutex
	routers map[party.ID]*Router
	filter  Filter
	crashed map[party.ID]bool
}

// ErrUnreachable is returned for deliveries to a crashed party.
var ErrUnreachable = xerrors.New("party unreachable")

func NewMemNetwork(n int) *MemNetwork {
	m := &MemNetwork{routers: make(map[party.ID]*Router, n), crashed: make(map[party.ID]bool)}
	for i := 0; i < n; i++ {
		m.routers[party.FromIndex(i)] = NewRouter()
	}
	return m
}

// SetFilter installs f for all subsequent messages; nil removes it.
func (m *MemNetwork) SetFilter(f Filter) {
	m.mu.Lock()
	m.filter = f
	m.mu.Unlock()
}

// Crash makes every later delivery to id fail, as a peer refusing
// connections would.
func (m *MemNetwork) Crash(id party.ID) {
	m.mu.Lock()
	m.crashed[id] = true
	m.mu.Unlock()
}

// Inject delivers payload to "to" as if "from" had sent it, bypassing the
// filter.
func (m *MemNetwork) Inject(from, to party.ID, topic string, payload []byte) {
	m.mu.RLock()
	r := m.routers[to]
	m.mu.RUnlock()
	if r != nil {
		r.Deliver(topic, Inbound{Sender: from, Payload: payload})
	}
}

func (m *MemNetwork) deliver(from, to party.ID, topic string, payload []byte) error {
	m.mu.RLock()
	r, ok := m.routers[to]
	filter := m.filter
	crashed := m.crashed[to]
	m.mu.RUnlock()
	if !ok {
		return xerrors.Errorf("unknown party %d", to)
	}
	if crashed {
		return xerrors.Errorf("party %d: %w", to, ErrUnreachable)
	}
	buf := append([]byte(nil), payload...)
	if filter != nil {
		var keep bool
		if buf, keep = filter(from, to, topic, buf); !keep {
			return nil
		}
	}
	r.Deliver(topic, Inbound{Sender: from, Payload: buf})
	return nil
}

// Endpoint returns the transport of party id.
func (m *MemNetwork) Endpoint(id party.ID) Transport {
	return &memEndpoint{net: m, id: id}
}

// Close shuts every endpoint down and closes their streams.
func (m *MemNetwork) Close() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.routers {
		r.Close()
	}
}

type memEndpoint struct {
	net *MemNetwork
	id  party.ID
}

func (e *memEndpoint) Broadcast(ctx context.Context, topic string, payload []byte) error {
	e.net.mu.RLock()
	n := len(e.net.routers)
	e.net.mu.RUnlock()
	var result *multierror.Error
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		to := party.FromIndex(i)
		if err := e.net.deliver(e.id, to, topic, payload); err != nil {
			result = multierror.Append(result, &PeerError{Peer: to, Err: err})
		}
	}
	return result.ErrorOrNil()
}

func (e *memEndpoint) Send(ctx context.Context, to party.ID, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.net.deliver(e.id, to, topic, payload)
}

func (e *memEndpoint) Subscribe(topic string) <-chan Inbound {
	e.net.mu.RLock()
	r := e.net.routers[e.id]
	e.net.mu.RUnlock()
	return r.Subscribe(topic)
}
