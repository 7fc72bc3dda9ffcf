package consensus

import (
	"bytes"
	"context"

	"github.com/sasha-s/go-deadlock"
	"github.com/zhazhalaila/AsyncDKG/libnet"
	"github.com/zhazhalaila/AsyncDKG/log"
	merkletree "github.com/zhazhalaila/AsyncDKG/merkleTree"
	"github.com/zhazhalaila/AsyncDKG/message"
	"github.com/zhazhalaila/AsyncDKG/metrics"
	"github.com/zhazhalaila/AsyncDKG/party"
	"github.com/zhazhalaila/AsyncDKG/storage"
	"golang.org/x/xerrors"
)

// ReliableBroadcast delivers one payload from a dealer to every correct
// party. Listen only delivers payloads accepted by predicate.
type ReliableBroadcast interface {
	Broadcast(ctx context.Context, payload []byte) ([]byte, error)
	Listen(ctx context.Context, predicate func([]byte) bool) ([]byte, error)
}

// RBC is an erasure coded Bracha broadcast. The dealer sends each party
// its shard with a merkle branch, parties echo their shard, and deliver
// after 2t+1 READY and t+1 ECHO shards for the same root.
type RBC struct {
	// Global log
	logger log.Logger
	params party.Params
	sid    party.SessionID
	dealer party.ID
	topic  string
	sender *libnet.Sender
	inbox  <-chan libnet.Inbound
	// Erasure code threshold = t+1, parity shards = n-(t+1)
	dataShards   int
	parityShards int

	// Guards the flags below
	mu          deadlock.Mutex
	valReceived bool
	readySent   bool
	rejected    map[string]bool

	// First root each party echoed or readied, then the shards per root
	echoFrom  *storage.PerParty[struct{}, string]
	readyFrom *storage.PerParty[struct{}, string]
	shards    *storage.PerParty[string, []byte]
}

// MakeRBC creates the broadcast of dealer for session sid.
func MakeRBC(logger log.Logger, params party.Params, sid party.SessionID, dealer party.ID,
	topic string, sender *libnet.Sender) *RBC {
	rbc := &RBC{}
	rbc.logger = logger
	rbc.params = params
	rbc.sid = sid
	rbc.dealer = dealer
	rbc.topic = topic
	rbc.sender = sender
	rbc.inbox = sender.Subscribe(topic)
	rbc.dataShards = params.T + 1
	rbc.parityShards = params.N - rbc.dataShards
	rbc.rejected = make(map[string]bool)
	rbc.echoFrom = storage.NewPerParty[struct{}, string]()
	rbc.readyFrom = storage.NewPerParty[struct{}, string]()
	rbc.shards = storage.NewPerParty[string, []byte]()
	return rbc
}

// Broadcast disperses payload as the dealer and returns what the
// broadcast delivered locally.
func (rbc *RBC) Broadcast(ctx context.Context, payload []byte) ([]byte, error) {
	if rbc.params.ID != rbc.dealer {
		return nil, ErrNotDealer
	}
	shards, err := ECEncode(rbc.dataShards, rbc.parityShards, payload)
	if err != nil {
		return nil, xerrors.Errorf("encoding payload: %w", err)
	}
	mt, err := merkletree.MakeMerkleTree(shards)
	if err != nil {
		return nil, err
	}
	root := merkletree.Root(mt)
	for i, shard := range shards {
		val := &message.RBCMsg{VALField: &message.VAL{
			RootHash: root,
			Branch:   merkletree.GetMerkleBranch(i, mt),
			Shard:    shard,
		}}
		to := party.FromIndex(i)
		if err := rbc.sender.Send(ctx, to, rbc.topic, message.MustEncode(val)); err != nil && ctx.Err() == nil {
			rbc.logger.Warnw("sending VAL failed", "to", to, "err", err)
		}
	}
	return rbc.Listen(ctx, func([]byte) bool { return true })
}

// Listen waits for the dealer's payload. A payload rejected by predicate
// is never delivered. Returns ctx.Err() when cancelled first.
func (rbc *RBC) Listen(ctx context.Context, predicate func([]byte) bool) ([]byte, error) {
	var out []byte
	err := runTask(rbc.logger, "rbc", func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case in, ok := <-rbc.inbox:
				if !ok {
					return ErrStreamClosed
				}
				if in.Err != nil || !rbc.params.Contains(in.Sender) {
					rbc.drop("transport", "sender", in.Sender, "err", in.Err)
					continue
				}
				msg, err := message.Decode[message.RBCMsg](in.Payload)
				if err != nil {
					rbc.drop("decode", "sender", in.Sender, "err", err)
					continue
				}
				metrics.MessagesReceived.WithLabelValues("rbc").Inc()
				if payload, done := rbc.handleMsg(ctx, in.Sender, msg, predicate); done {
					out = payload
					return nil
				}
			}
		}
	})
	return out, err
}

func (rbc *RBC) drop(reason string, keyvals ...interface{}) {
	metrics.MessagesDropped.WithLabelValues("rbc", reason).Inc()
	rbc.logger.Debugw("dropping message", append([]interface{}{"reason", reason}, keyvals...)...)
}

func (rbc *RBC) handleMsg(ctx context.Context, sender party.ID, msg *message.RBCMsg,
	predicate func([]byte) bool) ([]byte, bool) {
	switch {
	case msg.VALField != nil:
		rbc.handleVAL(ctx, sender, msg.VALField)
		return nil, false
	case msg.ECHOField != nil:
		return rbc.handleECHO(ctx, sender, msg.ECHOField, predicate)
	case msg.READYField != nil:
		return rbc.handleREADY(ctx, sender, msg.READYField, predicate)
	}
	rbc.drop("empty", "sender", sender)
	return nil, false
}

// Check VAL send from dealer, echo the first valid one.
func (rbc *RBC) handleVAL(ctx context.Context, sender party.ID, val *message.VAL) {
	if sender != rbc.dealer {
		rbc.drop("not_dealer", "sender", sender)
		return
	}
	if !merkletree.MerkleTreeVerify(val.Shard, val.RootHash, val.Branch, rbc.params.ID.Index()) {
		rbc.drop("bad_branch", "sender", sender, "kind", "val")
		return
	}
	rbc.mu.Lock()
	first := !rbc.valReceived
	rbc.valReceived = true
	rbc.mu.Unlock()
	if !first {
		return
	}
	rbc.broadcast(ctx, &message.RBCMsg{ECHOField: &message.ECHO{
		RootHash: val.RootHash,
		Branch:   val.Branch,
		Shard:    val.Shard,
	}})
}

// Keep the first echo of every party. Send READY on n-t echoes.
func (rbc *RBC) handleECHO(ctx context.Context, sender party.ID, echo *message.ECHO,
	predicate func([]byte) bool) ([]byte, bool) {
	if !merkletree.MerkleTreeVerify(echo.Shard, echo.RootHash, echo.Branch, sender.Index()) {
		rbc.drop("bad_branch", "sender", sender, "kind", "echo")
		return nil, false
	}
	root := string(echo.RootHash)
	if !rbc.echoFrom.InsertOnce(struct{}{}, sender, root) {
		return nil, false
	}
	rbc.shards.InsertOnce(root, sender, echo.Shard)

	if rbc.shards.Count(root) >= rbc.params.Quorum() {
		rbc.sendReady(ctx, echo.RootHash)
	}
	return rbc.tryDeliver(root, predicate)
}

// Keep the first ready of every party. Amplify on t+1.
func (rbc *RBC) handleREADY(ctx context.Context, sender party.ID, ready *message.READY,
	predicate func([]byte) bool) ([]byte, bool) {
	root := string(ready.RootHash)
	if !rbc.readyFrom.InsertOnce(struct{}{}, sender, root) {
		return nil, false
	}
	if rbc.readyCount(root) >= rbc.params.Relay() {
		rbc.sendReady(ctx, ready.RootHash)
	}
	return rbc.tryDeliver(root, predicate)
}

func (rbc *RBC) readyCount(root string) int {
	count := 0
	for _, item := range rbc.readyFrom.GetAll(struct{}{}) {
		if item.Value == root {
			count++
		}
	}
	return count
}

func (rbc *RBC) sendReady(ctx context.Context, root []byte) {
	rbc.mu.Lock()
	sent := rbc.readySent
	rbc.readySent = true
	rbc.mu.Unlock()
	if sent {
		return
	}
	rbc.broadcast(ctx, &message.RBCMsg{READYField: &message.READY{RootHash: root}})
}

// tryDeliver decodes once 2t+1 READY and t+1 shards agree on root. The
// decoded payload must re-encode to root and pass predicate.
func (rbc *RBC) tryDeliver(root string, predicate func([]byte) bool) ([]byte, bool) {
	if rbc.readyCount(root) < rbc.params.Strong() || rbc.shards.Count(root) < rbc.dataShards {
		return nil, false
	}
	rbc.mu.Lock()
	rejected := rbc.rejected[root]
	rbc.mu.Unlock()
	if rejected {
		return nil, false
	}

	payload, err := rbc.decode(root)
	if err == nil && !predicate(payload) {
		err = xerrors.New("payload rejected by predicate")
	}
	if err != nil {
		rbc.logger.Warnw("refusing to deliver", "err", err)
		rbc.mu.Lock()
		rbc.rejected[root] = true
		rbc.mu.Unlock()
		return nil, false
	}
	metrics.RBCDeliveries.Inc()
	rbc.logger.Debugw("delivered", "size", len(payload))
	return payload, true
}

func (rbc *RBC) decode(root string) ([]byte, error) {
	shards := make([][]byte, rbc.params.N)
	for _, item := range rbc.shards.GetAll(root) {
		shards[item.Party.Index()] = item.Value
	}
	payload, err := ECDecode(rbc.dataShards, rbc.parityShards, shards)
	if err != nil {
		return nil, xerrors.Errorf("decoding shards: %w", err)
	}
	reencoded, err := ECEncode(rbc.dataShards, rbc.parityShards, payload)
	if err != nil {
		return nil, err
	}
	mt, err := merkletree.MakeMerkleTree(reencoded)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(merkletree.Root(mt), []byte(root)) {
		return nil, xerrors.New("shards are not a codeword of the dealer root")
	}
	return payload, nil
}

func (rbc *RBC) broadcast(ctx context.Context, msg *message.RBCMsg) {
	if err := rbc.sender.Broadcast(ctx, rbc.topic, message.MustEncode(msg)); err != nil && ctx.Err() == nil {
		rbc.logger.Warnw("broadcast failed", "kind", msg.Kind(), "err", err)
	}
}
