package consensus

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"

	"github.com/zhazhalaila/AsyncDKG/libnet"
	"github.com/zhazhalaila/AsyncDKG/log"
	"github.com/zhazhalaila/AsyncDKG/message"
	"github.com/zhazhalaila/AsyncDKG/metrics"
	"github.com/zhazhalaila/AsyncDKG/party"
	"github.com/zhazhalaila/AsyncDKG/storage"
	"github.com/zhazhalaila/AsyncDKG/verify"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// Output is the result of an ACSS session at one party.
type Output struct {
	Index      party.ID
	Share      kyber.Scalar
	PublicPoly []kyber.Point
	// Recovered is set when the share was rebuilt from disclosed keys.
	Recovered bool
}

type acssStatus int

const (
	statusNew acssStatus = iota
	statusWaitingForOks
	statusShareRecovery
	statusComplete
)

func (s acssStatus) String() string {
	switch s {
	case statusNew:
		return "new"
	case statusWaitingForOks:
		return "waiting_for_oks"
	case statusShareRecovery:
		return "share_recovery"
	case statusComplete:
		return "complete"
	}
	return "unknown"
}

// dealing is a parsed message.Dealing.
type dealing struct {
	raw         *message.Dealing
	ephemeral   kyber.Point
	commits     []kyber.Point
	ciphertexts [][]byte
	digest      []byte
}

// ACSS is one hbACSS0 session. The dealer shares a secret with a degree t
// polynomial, encrypts share i under r*PK_i and disperses the dealing with
// reliable broadcast. Parties then vote OK/READY on the commitments, or
// implicate the dealer and recover their share from disclosed keys.
type ACSS struct {
	// Global log
	logger  log.Logger
	params  party.Params
	suite   verify.Suite
	sid     party.SessionID
	dealer  party.ID
	topic   string
	sender  *libnet.Sender
	inbox   <-chan libnet.Inbound
	rbc     ReliableBroadcast
	secret  kyber.Scalar
	publics []kyber.Point

	// Session state, owned by the loop in participate
	status      acssStatus
	dealing     *dealing
	share       kyber.Scalar
	recovered   bool
	okSent      bool
	readySent   bool
	disclosed   bool
	outputSent  bool
	oks         *storage.PerParty[string, struct{}]
	readies     *storage.PerParty[string, struct{}]
	implicators *storage.PerParty[struct{}, struct{}]
	disclosures *storage.PerParty[struct{}, kyber.Scalar]
}

// MakeACSS creates an ACSS session and subscribes to its topic.
func MakeACSS(logger log.Logger, params party.Params, suite verify.Suite, sid party.SessionID, dealer party.ID,
	topic string, sender *libnet.Sender, rbc ReliableBroadcast, secret kyber.Scalar, publics []kyber.Point) *ACSS {
	a := &ACSS{}
	a.logger = logger
	a.params = params
	a.suite = suite
	a.sid = sid
	a.dealer = dealer
	a.topic = topic
	a.sender = sender
	a.inbox = sender.Subscribe(topic)
	a.rbc = rbc
	a.secret = secret
	a.publics = publics
	a.status = statusNew
	a.oks = storage.NewPerParty[string, struct{}]()
	a.readies = storage.NewPerParty[string, struct{}]()
	a.implicators = storage.NewPerParty[struct{}, struct{}]()
	a.disclosures = storage.NewPerParty[struct{}, kyber.Scalar]()
	return a
}

// Deal reads the secret, disperses it and then takes part as an ordinary
// party. The output is sent once on out. Deal keeps answering implicate
// messages until ctx is cancelled, then returns nil.
func (a *ACSS) Deal(ctx context.Context, secret <-chan kyber.Scalar, out chan<- *Output) error {
	if a.params.ID != a.dealer {
		return ErrNotDealer
	}
	var s kyber.Scalar
	select {
	case <-ctx.Done():
		return nil
	case v, ok := <-secret:
		if !ok || v == nil {
			return ErrInputClosed
		}
		s = v
	}
	d, err := a.newDealing(s)
	if err != nil {
		return err
	}
	return a.runDealer(ctx, d, out)
}

func (a *ACSS) runDealer(ctx context.Context, d *message.Dealing, out chan<- *Output) error {
	return a.ignoreCancel(ctx, runTask(a.logger, "deal", func() error {
		payload, err := message.Encode(d)
		if err != nil {
			return err
		}
		delivered, err := a.rbc.Broadcast(ctx, payload)
		if err != nil {
			return err
		}
		if !bytes.Equal(delivered, payload) {
			a.logger.Errorw("reliable broadcast delivered another dealing", "sent", len(payload), "delivered", len(delivered))
			return ErrRBCInconsistent
		}
		parsed, err := a.parseDealing(delivered)
		if err != nil {
			return xerrors.Errorf("own dealing: %v: %w", err, ErrRBCInconsistent)
		}
		return a.participate(ctx, parsed, out)
	}))
}

// GetShare waits for the dealer's payload and runs the session. The output
// is sent once on out. It keeps answering implicate messages until ctx is
// cancelled, then returns nil.
func (a *ACSS) GetShare(ctx context.Context, out chan<- *Output) error {
	return a.ignoreCancel(ctx, runTask(a.logger, "get_share", func() error {
		payload, err := a.rbc.Listen(ctx, func(p []byte) bool {
			_, err := a.parseDealing(p)
			return err == nil
		})
		if err != nil {
			return err
		}
		d, err := a.parseDealing(payload)
		if err != nil {
			return err
		}
		return a.participate(ctx, d, out)
	}))
}

func (a *ACSS) ignoreCancel(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && xerrors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// newDealing shares s with a fresh degree t polynomial and encrypts share i
// under r*PK_i.
func (a *ACSS) newDealing(s kyber.Scalar) (*message.Dealing, error) {
	stream := a.suite.RandomStream()
	shares, commits := verify.FeldmanDeal(a.suite, a.params.N, a.params.T, s, stream)
	r := a.suite.Scalar().Pick(stream)
	ephemeral := a.suite.Point().Mul(r, nil)

	d := &message.Dealing{}
	var err error
	if d.Ephemeral, err = ephemeral.MarshalBinary(); err != nil {
		return nil, err
	}
	if d.Commits, err = verify.MarshalPoints(commits); err != nil {
		return nil, err
	}
	d.Ciphertexts = make([][]byte, a.params.N)
	for i, sh := range shares {
		id := party.FromIndex(i)
		plain, err := sh.MarshalBinary()
		if err != nil {
			return nil, err
		}
		key := a.suite.Point().Mul(r, a.publics[i])
		if d.Ciphertexts[i], err = verify.Seal(key, plain, a.aad(id), rand.Reader); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// aad binds a ciphertext to its session, dealer and recipient.
func (a *ACSS) aad(to party.ID) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, uint64(a.sid))
	binary.BigEndian.PutUint32(buf[8:], uint32(a.dealer))
	binary.BigEndian.PutUint32(buf[12:], uint32(to))
	return buf
}

// parseDealing checks the structure of a dealing. It is what reliable
// broadcast is gated on, so it must give the same answer at every party.
func (a *ACSS) parseDealing(payload []byte) (*dealing, error) {
	raw, err := message.Decode[message.Dealing](payload)
	if err != nil {
		return nil, err
	}
	if len(raw.Commits) != a.params.T+1 || len(raw.Ciphertexts) != a.params.N {
		return nil, xerrors.Errorf("dealing has %d commits and %d ciphertexts", len(raw.Commits), len(raw.Ciphertexts))
	}
	ephemeral, err := verify.UnmarshalPoint(a.suite, raw.Ephemeral)
	if err != nil {
		return nil, err
	}
	commits, err := verify.UnmarshalPoints(a.suite, raw.Commits)
	if err != nil {
		return nil, err
	}
	return &dealing{
		raw:         raw,
		ephemeral:   ephemeral,
		commits:     commits,
		ciphertexts: raw.Ciphertexts,
		digest:      verify.Digest(raw.Commits),
	}, nil
}

// openShare decrypts the share of id with key and checks it against the
// commitments.
func (a *ACSS) openShare(id party.ID, key kyber.Point) (kyber.Scalar, error) {
	plain, err := verify.Open(key, a.dealing.ciphertexts[id.Index()], a.aad(id))
	if err != nil {
		return nil, err
	}
	s, err := verify.UnmarshalScalar(a.suite, plain)
	if err != nil {
		return nil, err
	}
	if err := verify.FeldmanVerify(a.suite, a.dealing.commits, id, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *ACSS) participate(ctx context.Context, d *dealing, out chan<- *Output) error {
	a.dealing = d
	self := a.params.ID

	key := a.suite.Point().Mul(a.secret, d.ephemeral)
	s, err := a.openShare(self, key)
	if err == nil {
		a.share = s
		a.setStatus(statusWaitingForOks)
		a.sendOk(ctx)
	} else {
		a.logger.Warnw("invalid share from dealer, implicating", "err", err)
		a.setStatus(statusShareRecovery)
		sharedKey, proof, err := verify.SharedKey(a.suite, a.secret, d.ephemeral)
		if err != nil {
			return err
		}
		keyBuf, err := sharedKey.MarshalBinary()
		if err != nil {
			return err
		}
		a.broadcast(ctx, &message.ACSSMsg{IMPLICATEField: &message.Implicate{SharedKey: keyBuf, Proof: proof}})
	}

	for {
		if err := a.maybeComplete(ctx, out); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-a.inbox:
			if !ok {
				return ErrStreamClosed
			}
			if in.Err != nil || !a.params.Contains(in.Sender) {
				a.drop("transport", "sender", in.Sender, "err", in.Err)
				continue
			}
			msg, err := message.Decode[message.ACSSMsg](in.Payload)
			if err != nil {
				a.drop("decode", "sender", in.Sender, "err", err)
				continue
			}
			metrics.MessagesReceived.WithLabelValues("acss").Inc()
			a.handleMsg(ctx, in.Sender, msg)
		}
	}
}

func (a *ACSS) setStatus(s acssStatus) {
	a.logger.Debugw("status", "from", a.status, "to", s)
	a.status = s
}

func (a *ACSS) drop(reason string, keyvals ...interface{}) {
	metrics.MessagesDropped.WithLabelValues("acss", reason).Inc()
	a.logger.Debugw("dropping message", append([]interface{}{"reason", reason}, keyvals...)...)
}

func (a *ACSS) handleMsg(ctx context.Context, sender party.ID, msg *message.ACSSMsg) {
	switch {
	case msg.OKField != nil:
		a.handleOK(ctx, sender, msg.OKField)
	case msg.READYField != nil:
		a.handleREADY(ctx, sender, msg.READYField)
	case msg.IMPLICATEField != nil:
		a.handleIMPLICATE(ctx, sender, msg.IMPLICATEField)
	case msg.RECOVERYField != nil:
		a.handleRECOVERY(ctx, sender, msg.RECOVERYField)
	default:
		a.drop("empty", "sender", sender)
	}
}

// 2t+1 OK send READY.
func (a *ACSS) handleOK(ctx context.Context, sender party.ID, ok *message.Ok) {
	if !bytes.Equal(ok.Digest, a.dealing.digest) {
		a.drop("digest", "sender", sender, "kind", "ok")
		return
	}
	if !a.oks.InsertOnce(string(ok.Digest), sender, struct{}{}) {
		return
	}
	if a.oks.Count(string(ok.Digest)) >= a.params.Strong() {
		a.sendReady(ctx)
	}
}

// t+1 READY amplify, 2t+1 READY complete (see maybeComplete).
func (a *ACSS) handleREADY(ctx context.Context, sender party.ID, ready *message.Ready) {
	if !bytes.Equal(ready.Digest, a.dealing.digest) {
		a.drop("digest", "sender", sender, "kind", "ready")
		return
	}
	if !a.readies.InsertOnce(string(ready.Digest), sender, struct{}{}) {
		return
	}
	if a.readies.Count(string(ready.Digest)) >= a.params.Relay() {
		a.sendReady(ctx)
	}
}

// A valid implicate proves the dealer cheated the sender: disclose our own
// key once so the sender can rebuild its share.
func (a *ACSS) handleIMPLICATE(ctx context.Context, sender party.ID, imp *message.Implicate) {
	if _, seen := a.implicators.Lookup(struct{}{}, sender); seen {
		return
	}
	key, err := verify.UnmarshalPoint(a.suite, imp.SharedKey)
	if err != nil {
		a.drop("malformed", "sender", sender, "kind", "implicate")
		return
	}
	if err := verify.VerifySharedKey(a.suite, a.publics[sender.Index()], a.dealing.ephemeral, key, imp.Proof); err != nil {
		a.logger.Warnw("implicate with invalid proof", "sender", sender, "err", err)
		return
	}
	a.implicators.InsertOnce(struct{}{}, sender, struct{}{})
	if _, err := a.openShare(sender, key); err == nil {
		a.logger.Warnw("implicate against a valid share", "sender", sender)
		return
	}
	metrics.ACSSImplicates.Inc()
	a.logger.Infow("dealer implicated", "by", sender)
	if a.disclosed {
		return
	}
	a.disclosed = true
	own, _, err := verify.SharedKey(a.suite, a.secret, a.dealing.ephemeral)
	if err != nil {
		a.logger.Errorw("computing shared key", "err", err)
		return
	}
	buf, err := own.MarshalBinary()
	if err != nil {
		a.logger.Errorw("encoding shared key", "err", err)
		return
	}
	a.broadcast(ctx, &message.ACSSMsg{RECOVERYField: &message.ShareRecovery{SharedKey: buf}})
}

// Collect shares opened with disclosed keys, interpolate ours from t+1.
func (a *ACSS) handleRECOVERY(ctx context.Context, sender party.ID, rec *message.ShareRecovery) {
	key, err := verify.UnmarshalPoint(a.suite, rec.SharedKey)
	if err != nil {
		a.drop("malformed", "sender", sender, "kind", "recovery")
		return
	}
	s, err := a.openShare(sender, key)
	if err != nil {
		a.logger.Debugw("disclosed key does not open a valid share", "sender", sender, "err", err)
		return
	}
	if !a.disclosures.InsertOnce(struct{}{}, sender, s) {
		return
	}
	if a.status != statusShareRecovery || a.disclosures.Count(struct{}{}) < a.params.Relay() {
		return
	}

	items := a.disclosures.GetAll(struct{}{})[:a.params.Relay()]
	xs := make([]int64, len(items))
	ys := make([]kyber.Scalar, len(items))
	for i, item := range items {
		xs[i] = int64(item.Party)
		ys[i] = item.Value
	}
	own, err := verify.InterpolateScalarAt(a.suite, xs, ys, int64(a.params.ID))
	if err != nil {
		a.logger.Errorw("interpolating share", "err", err)
		return
	}
	if err := verify.FeldmanVerify(a.suite, a.dealing.commits, a.params.ID, own); err != nil {
		a.logger.Errorw("recovered share does not match commitments", "err", err)
		return
	}
	a.logger.Infow("share recovered", "from", xs)
	a.share = own
	a.recovered = true
	a.setStatus(statusWaitingForOks)
	a.sendOk(ctx)
}

// maybeComplete outputs once 2t+1 READY are in and the share is known.
func (a *ACSS) maybeComplete(ctx context.Context, out chan<- *Output) error {
	if a.status != statusWaitingForOks || a.readies.Count(string(a.dealing.digest)) < a.params.Strong() {
		return nil
	}
	a.setStatus(statusComplete)
	if a.outputSent {
		return nil
	}
	a.outputSent = true
	path := "direct"
	if a.recovered {
		path = "recovered"
	}
	metrics.ACSSOutputs.WithLabelValues(path).Inc()
	a.logger.Infow("complete", "path", path)
	select {
	case out <- &Output{Index: a.params.ID, Share: a.share, PublicPoly: a.dealing.commits, Recovered: a.recovered}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *ACSS) sendOk(ctx context.Context) {
	if a.okSent {
		return
	}
	a.okSent = true
	a.broadcast(ctx, &message.ACSSMsg{OKField: &message.Ok{Digest: a.dealing.digest}})
}

func (a *ACSS) sendReady(ctx context.Context) {
	if a.readySent {
		return
	}
	a.readySent = true
	a.broadcast(ctx, &message.ACSSMsg{READYField: &message.Ready{Digest: a.dealing.digest}})
}

func (a *ACSS) broadcast(ctx context.Context, msg *message.ACSSMsg) {
	if err := a.sender.Broadcast(ctx, a.topic, message.MustEncode(msg)); err != nil && ctx.Err() == nil {
		a.logger.Warnw("broadcast failed", "kind", msg.Kind(), "err", err)
	}
}
