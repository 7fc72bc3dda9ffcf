package libnet

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sasha-s/go-deadlock"
	"github.com/zhazhalaila/AsyncDKG/log"
	"github.com/zhazhalaila/AsyncDKG/message"
	"github.com/zhazhalaila/AsyncDKG/party"
	"golang.org/x/xerrors"
)

const (
	maxFrameSize = 16 << 20
	dialTimeout  = 3 * time.Second
)

// Peer is a remote party and the address it listens on.
type Peer struct {
	ID   party.ID
	Addr string
}

type peerConn struct {
	mu   deadlock.Mutex
	conn net.Conn
	w    *bufio.Writer
}

// Network is the TCP transport. Every frame is a uvarint length followed
// by an encoded message.Packet. Messages to self skip the socket.
type Network struct {
	logger   log.Logger       // Global log.
	mu       deadlock.RWMutex // Guards peers, conns and inbound.
	id       party.ID         // Local party.
	addr     string           // Listen address.
	peers    map[party.ID]string
	listener net.Listener
	router   *Router
	conns    map[party.ID]*peerConn // Outbound connections, dialed lazily.
	inbound  map[string]net.Conn    // Accepted connections by remote address.
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// MakeNetwork creates a network for party id listening on addr.
func MakeNetwork(logger log.Logger, id party.ID, addr string, peers []Peer) *Network {
	rn := &Network{}
	rn.logger = logger.Named("net")
	rn.id = id
	rn.addr = addr
	rn.peers = make(map[party.ID]string, len(peers))
	for _, p := range peers {
		rn.peers[p.ID] = p.Addr
	}
	rn.router = NewRouter()
	rn.conns = make(map[party.ID]*peerConn)
	rn.inbound = make(map[string]net.Conn)
	rn.stopCh = make(chan struct{})
	return rn
}

// Start listens and accepts connections in the background.
func (rn *Network) Start() error {
	l, err := net.Listen("tcp", rn.addr)
	if err != nil {
		return xerrors.Errorf("listen %s: %w", rn.addr, err)
	}
	rn.listener = l
	rn.logger.Infow("network listening", "addr", l.Addr().String())

	rn.wg.Add(1)
	go rn.acceptLoop()
	return nil
}

// Addr returns the bound listen address.
func (rn *Network) Addr() string {
	if rn.listener == nil {
		return rn.addr
	}
	return rn.listener.Addr().String()
}

func (rn *Network) acceptLoop() {
	defer rn.wg.Done()
	for {
		conn, err := rn.listener.Accept()
		if err != nil {
			select {
			case <-rn.stopCh:
				return
			default:
				rn.logger.Errorw("accept failed", "err", err)
				return
			}
		}
		rn.mu.Lock()
		rn.inbound[conn.RemoteAddr().String()] = conn
		rn.mu.Unlock()

		rn.wg.Add(1)
		go rn.handleConn(conn)
	}
}

// Shutdown closes the listener and every connection, then the streams.
func (rn *Network) Shutdown() error {
	close(rn.stopCh)
	var result *multierror.Error
	if rn.listener != nil {
		if err := rn.listener.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	rn.mu.Lock()
	for id, pc := range rn.conns {
		if err := pc.conn.Close(); err != nil {
			result = multierror.Append(result, xerrors.Errorf("peer %d: %w", id, err))
		}
	}
	rn.conns = make(map[party.ID]*peerConn)
	for _, conn := range rn.inbound {
		conn.Close()
	}
	rn.mu.Unlock()

	rn.wg.Wait()
	rn.router.Close()
	return result.ErrorOrNil()
}

// Handle connection
func (rn *Network) handleConn(conn net.Conn) {
	defer func() {
		rn.logger.Debugw("remote closed connection", "remote", conn.RemoteAddr().String())
		rn.mu.Lock()
		delete(rn.inbound, conn.RemoteAddr().String())
		rn.mu.Unlock()
		conn.Close()
		rn.wg.Done()
	}()

	r := bufio.NewReader(conn)
	for {
		size, err := binary.ReadUvarint(r)
		if err == io.EOF {
			return
		} else if err != nil {
			rn.logger.Debugw("read frame length", "err", err)
			return
		}
		if size > maxFrameSize {
			rn.logger.Warnw("frame too large, closing connection", "size", size)
			return
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			rn.logger.Debugw("read frame", "err", err)
			return
		}
		pkt, err := message.Decode[message.Packet](buf)
		if err != nil {
			rn.logger.Warnw("undecodable packet", "remote", conn.RemoteAddr().String(), "err", err)
			continue
		}
		rn.router.Deliver(pkt.Topic, Inbound{Sender: party.ID(pkt.Sender), Payload: pkt.Payload})
	}
}

func (rn *Network) conn(ctx context.Context, to party.ID) (*peerConn, error) {
	rn.mu.RLock()
	pc, ok := rn.conns[to]
	rn.mu.RUnlock()
	if ok {
		return pc, nil
	}

	rn.mu.RLock()
	addr, ok := rn.peers[to]
	rn.mu.RUnlock()
	if !ok {
		return nil, xerrors.Errorf("unknown peer %d", to)
	}
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Errorf("dial peer %d: %w", to, err)
	}

	rn.mu.Lock()
	defer rn.mu.Unlock()
	if existing, ok := rn.conns[to]; ok {
		conn.Close()
		return existing, nil
	}
	pc = &peerConn{conn: conn, w: bufio.NewWriter(conn)}
	rn.conns[to] = pc
	return pc, nil
}

func (rn *Network) dropConn(to party.ID, pc *peerConn) {
	rn.mu.Lock()
	if rn.conns[to] == pc {
		delete(rn.conns, to)
	}
	rn.mu.Unlock()
	pc.conn.Close()
}

// Send writes one packet to a peer, dialing it if needed.
func (rn *Network) Send(ctx context.Context, to party.ID, topic string, payload []byte) error {
	if to == rn.id {
		rn.router.Deliver(topic, Inbound{Sender: rn.id, Payload: append([]byte(nil), payload...)})
		return nil
	}
	frame, err := message.Encode(&message.Packet{Topic: topic, Sender: uint32(rn.id), Payload: payload})
	if err != nil {
		return err
	}
	pc, err := rn.conn(ctx, to)
	if err != nil {
		return err
	}

	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(frame)))

	pc.mu.Lock()
	_, err = pc.w.Write(hdr[:n])
	if err == nil {
		_, err = pc.w.Write(frame)
	}
	if err == nil {
		err = pc.w.Flush()
	}
	pc.mu.Unlock()

	if err != nil {
		rn.dropConn(to, pc)
		return xerrors.Errorf("write to peer %d: %w", to, err)
	}
	return nil
}

// Broadcast sends to every peer and self. Peers are written concurrently,
// so a peer that is slow to dial does not hold up the others. Each failed
// peer is reported with a PeerError.
func (rn *Network) Broadcast(ctx context.Context, topic string, payload []byte) error {
	var result *multierror.Error
	if err := rn.Send(ctx, rn.id, topic, payload); err != nil {
		result = multierror.Append(result, &PeerError{Peer: rn.id, Err: err})
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range rn.peerIDs() {
		wg.Add(1)
		go func(id party.ID) {
			defer wg.Done()
			if err := rn.Send(ctx, id, topic, payload); err != nil {
				mu.Lock()
				result = multierror.Append(result, &PeerError{Peer: id, Err: err})
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return result.ErrorOrNil()
}

func (rn *Network) peerIDs() []party.ID {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	ids := make([]party.ID, 0, len(rn.peers))
	for id := range rn.peers {
		if id != rn.id {
			ids = append(ids, id)
		}
	}
	return ids
}

// AddPeer registers or updates the address of a peer.
func (rn *Network) AddPeer(p Peer) {
	rn.mu.Lock()
	rn.peers[p.ID] = p.Addr
	rn.mu.Unlock()
}

// Subscribe returns the stream of topic.
func (rn *Network) Subscribe(topic string) <-chan Inbound {
	return rn.router.Subscribe(topic)
}
