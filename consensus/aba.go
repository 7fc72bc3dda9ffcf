package consensus

import (
	"context"

	"github.com/sasha-s/go-deadlock"
	"github.com/zhazhalaila/AsyncDKG/libnet"
	"github.com/zhazhalaila/AsyncDKG/log"
	"github.com/zhazhalaila/AsyncDKG/message"
	"github.com/zhazhalaila/AsyncDKG/metrics"
	"github.com/zhazhalaila/AsyncDKG/notify"
	"github.com/zhazhalaila/AsyncDKG/party"
	"github.com/zhazhalaila/AsyncDKG/storage"
	"github.com/zhazhalaila/AsyncDKG/verify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// stageKey names one SBV-broadcast.
type stageKey struct {
	round uint32
	stage Stage
}

// estKey names the senders of one estimate value.
type estKey struct {
	round uint32
	stage Stage
	value Estimate
}

// ABA is one binary agreement session (Crain20, two SBV-broadcasts per
// round, coin only when the second view is {bot}).
//
// The receive loop is the only writer of the per-party stores and of
// binValues; the main loop reads them and waits on the notify maps.
// Lock order: a storage lock is never taken while mu is held.
type ABA struct {
	// Global log
	logger log.Logger
	// N(total peers number) T(byzantine peers number) ID(peer identify)
	params party.Params
	suite  verify.Suite
	sid    party.SessionID
	topic  string
	sender *libnet.Sender
	inbox  <-chan libnet.Inbound

	// Estimate senders per (round, stage, value)
	estimates *storage.PerParty[estKey, struct{}]
	// Union of the Auxiliary values each party reported
	auxViews *storage.PerParty[stageKey, View]
	// First AuxiliarySet view of each party
	auxSets   *storage.PerParty[uint32, View]
	coinEvals *storage.PerParty[uint32, verify.CoinShare]

	// Guards binValues and estSent
	mu        deadlock.Mutex
	binValues map[stageKey]View
	estSent   map[estKey]bool

	binNotify    *notify.Map[stageKey]
	auxNotify    *notify.Map[stageKey]
	auxSetNotify *notify.Map[uint32]
	coinNotify   *notify.Map[uint32]

	// Main loop only
	coinKeys *verify.CoinKeys
	decision *Estimate
}

// MakeABA creates an ABA session and subscribes to its topic.
func MakeABA(logger log.Logger, params party.Params, suite verify.Suite, sid party.SessionID,
	topic string, sender *libnet.Sender) *ABA {
	aba := &ABA{}
	aba.logger = logger
	aba.params = params
	aba.suite = suite
	aba.sid = sid
	aba.topic = topic
	aba.sender = sender
	aba.inbox = sender.Subscribe(topic)
	aba.estimates = storage.NewPerParty[estKey, struct{}]()
	aba.auxViews = storage.NewPerParty[stageKey, View]()
	aba.auxSets = storage.NewPerParty[uint32, View]()
	aba.coinEvals = storage.NewPerParty[uint32, verify.CoinShare]()
	aba.binValues = make(map[stageKey]View)
	aba.estSent = make(map[estKey]bool)
	aba.binNotify = notify.NewMap[stageKey]()
	aba.auxNotify = notify.NewMap[stageKey]()
	aba.auxSetNotify = notify.NewMap[uint32]()
	aba.coinNotify = notify.NewMap[uint32]()
	return aba
}

// Propose runs the session. The initial estimate is read from input, coin
// keys are read from coinKeys the first time a round needs the coin. The
// decision is sent once on decided, which should be buffered; the session
// then keeps helping the others until ctx is cancelled, at which point
// Propose returns nil.
func (aba *ABA) Propose(ctx context.Context, input <-chan Estimate, coinKeys <-chan *verify.CoinKeys,
	decided chan<- Estimate) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runTask(aba.logger, "receive", func() error { return aba.receive(gctx) })
	})
	g.Go(func() error {
		return runTask(aba.logger, "main", func() error { return aba.run(gctx, input, coinKeys, decided) })
	})
	err := g.Wait()
	if err != nil && ctx.Err() != nil && xerrors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func (aba *ABA) run(ctx context.Context, input <-chan Estimate, coinKeys <-chan *verify.CoinKeys,
	decided chan<- Estimate) error {
	var est Estimate
	select {
	case <-ctx.Done():
		return nil
	case v, ok := <-input:
		if !ok {
			return ErrInputClosed
		}
		if !v.Binary() {
			return xerrors.Errorf("initial estimate %s: %w", v, ErrInvalidParams)
		}
		est = v
	}
	aba.logger.Infow("proposing", "estimate", est)

	for round := uint32(1); ; round++ {
		metrics.ABARounds.Inc()

		view1, err := aba.sbvBroadcast(ctx, round, Stage1, est)
		if err != nil {
			return err
		}
		aba.broadcast(ctx, &message.ABAMsg{AUXSETField: &message.AuxiliarySet{Round: round, View: uint32(view1)}})

		view2, err := aba.waitView(ctx, stageKey{round, Stage1},
			func() <-chan struct{} { return aba.auxSetNotify.Notified(round) },
			func() []View { return aba.auxSets.Get(round) })
		if err != nil {
			return err
		}
		est2 := Bot
		if v, ok := view2.Single(); ok {
			est2 = v
		}

		view3, err := aba.sbvBroadcast(ctx, round, Stage2, est2)
		if err != nil {
			return err
		}
		aba.logger.Debugw("round views", "round", round, "view1", view1, "view2", view2, "view3", view3)

		if v, ok := view3.Single(); ok && v != Bot {
			if err := aba.decide(ctx, round, v, decided); err != nil {
				return err
			}
			est = v
			continue
		}

		if err := aba.sendCoin(ctx, round, coinKeys); err != nil {
			return err
		}
		switch view3 {
		case ViewOf(Bot, Zero):
			est = Zero
		case ViewOf(Bot, One):
			est = One
		case ViewOf(Bot):
			coin, err := aba.getCoin(ctx, round)
			if err != nil {
				return err
			}
			aba.logger.Debugw("coin", "round", round, "value", coin)
			est = coin
		default:
			// second stage values are all in {v, bot}
			panic("stage 2 view " + view3.String() + " holds both binary values")
		}
	}
}

func (aba *ABA) decide(ctx context.Context, round uint32, v Estimate, decided chan<- Estimate) error {
	if aba.decision != nil {
		if *aba.decision != v {
			panic("decided " + aba.decision.String() + " then " + v.String())
		}
		return nil
	}
	aba.decision = &v
	aba.logger.Infow("decided", "round", round, "value", v)
	metrics.ABADecisions.WithLabelValues(v.String()).Inc()
	select {
	case decided <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sbvBroadcast runs one synchronized binary-value broadcast and returns
// the view it certifies.
func (aba *ABA) sbvBroadcast(ctx context.Context, round uint32, stage Stage, v Estimate) (View, error) {
	aba.sendEstimate(ctx, estKey{round, stage, v})

	key := stageKey{round, stage}
	for {
		binCh := aba.binNotify.Notified(key)
		if !aba.bin(key).Empty() {
			break
		}
		select {
		case <-binCh:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	for _, w := range aba.bin(key).Values() {
		aba.broadcast(ctx, &message.ABAMsg{AUXField: &message.Auxiliary{Round: round, Stage: int32(stage), Value: int32(w)}})
	}

	return aba.waitView(ctx, key,
		func() <-chan struct{} { return aba.auxNotify.Notified(key) },
		func() []View { return aba.auxViews.Get(key) })
}

// waitView blocks until constructView succeeds over the views returned by
// reported, re-checking on bin_values growth or on a new report.
func (aba *ABA) waitView(ctx context.Context, binKey stageKey, notified func() <-chan struct{},
	reported func() []View) (View, error) {
	for {
		binCh := aba.binNotify.Notified(binKey)
		repCh := notified()
		bin := aba.bin(binKey)
		if view, ok := constructView(bin, reported(), aba.params.Quorum()); ok {
			return view, nil
		}
		select {
		case <-binCh:
		case <-repCh:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (aba *ABA) bin(key stageKey) View {
	aba.mu.Lock()
	defer aba.mu.Unlock()
	return aba.binValues[key]
}

// sendEstimate broadcasts an Estimate unless this party already did.
func (aba *ABA) sendEstimate(ctx context.Context, key estKey) {
	aba.mu.Lock()
	sent := aba.estSent[key]
	aba.estSent[key] = true
	aba.mu.Unlock()
	if sent {
		return
	}
	aba.broadcast(ctx, &message.ABAMsg{ESTField: &message.Estimate{
		Round: key.round,
		Stage: int32(key.stage),
		Value: int32(key.value),
	}})
}

func (aba *ABA) broadcast(ctx context.Context, msg *message.ABAMsg) {
	buf := message.MustEncode(msg)
	if err := aba.sender.Broadcast(ctx, aba.topic, buf); err != nil && ctx.Err() == nil {
		aba.logger.Warnw("broadcast failed", "kind", msg.Kind(), "err", err)
	}
}

// sendCoin broadcasts this party's coin evaluation for round, fetching the
// coin keys the first time.
func (aba *ABA) sendCoin(ctx context.Context, round uint32, coinKeys <-chan *verify.CoinKeys) error {
	if aba.coinKeys == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case keys, ok := <-coinKeys:
			if !ok || keys == nil {
				return ErrCoinKeysClosed
			}
			aba.coinKeys = keys
		}
	}
	eval, proof, err := verify.EvalCoin(aba.suite, aba.coinKeys, aba.sid, round)
	if err != nil {
		aba.logger.Errorw("coin evaluation failed", "round", round, "err", err)
		return nil
	}
	evalBuf, err := eval.MarshalBinary()
	if err != nil {
		aba.logger.Errorw("coin evaluation encoding failed", "round", round, "err", err)
		return nil
	}
	metrics.CoinEvalsSent.Inc()
	aba.broadcast(ctx, &message.ABAMsg{COINField: &message.CoinEval{Round: round, Eval: evalBuf, Proof: proof}})
	return nil
}

// getCoin waits for t+1 valid evaluations of round and combines them.
func (aba *ABA) getCoin(ctx context.Context, round uint32) (Estimate, error) {
	for {
		ch := aba.coinNotify.Notified(round)
		shares := aba.coinEvals.Get(round)
		if len(shares) >= aba.params.Relay() {
			coin, err := verify.CombineCoin(aba.suite, aba.coinKeys, aba.sid, round, aba.params.T, shares)
			if err == nil {
				return EstimateFromBool(coin), nil
			}
			if len(shares) >= aba.params.N {
				aba.logger.Errorw("coin unrecoverable", "round", round, "evals", len(shares), "err", err)
				return 0, xerrors.Errorf("round %d: %v: %w", round, err, ErrCoinExhausted)
			}
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (aba *ABA) receive(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-aba.inbox:
			if !ok {
				return ErrStreamClosed
			}
			if in.Err != nil {
				aba.drop("transport", "sender", in.Sender, "err", in.Err)
				continue
			}
			if !aba.params.Contains(in.Sender) {
				aba.drop("unknown_sender", "sender", in.Sender)
				continue
			}
			msg, err := message.Decode[message.ABAMsg](in.Payload)
			if err != nil {
				aba.drop("decode", "sender", in.Sender, "err", err)
				continue
			}
			metrics.MessagesReceived.WithLabelValues("aba").Inc()
			aba.handleMsg(ctx, in.Sender, msg)
		}
	}
}

func (aba *ABA) drop(reason string, keyvals ...interface{}) {
	metrics.MessagesDropped.WithLabelValues("aba", reason).Inc()
	aba.logger.Debugw("dropping message", append([]interface{}{"reason", reason}, keyvals...)...)
}

func (aba *ABA) handleMsg(ctx context.Context, sender party.ID, msg *message.ABAMsg) {
	switch {
	case msg.ESTField != nil:
		aba.handleEST(ctx, sender, msg.ESTField)
	case msg.AUXField != nil:
		aba.handleAUX(sender, msg.AUXField)
	case msg.AUXSETField != nil:
		aba.handleAUXSET(sender, msg.AUXSETField)
	case msg.COINField != nil:
		aba.handleCOIN(sender, msg.COINField)
	default:
		aba.drop("empty", "sender", sender)
	}
}

// On t+1 matching estimates relay the value once, on 2t+1 add it to
// bin_values.
func (aba *ABA) handleEST(ctx context.Context, sender party.ID, est *message.Estimate) {
	stage, value := Stage(est.Stage), Estimate(est.Value)
	if est.Round == 0 || !stage.Valid() || !value.Valid() || (stage == Stage1 && value == Bot) {
		aba.drop("malformed", "sender", sender, "kind", "est")
		return
	}
	key := estKey{est.Round, stage, value}
	if !aba.estimates.InsertOnce(key, sender, struct{}{}) {
		return
	}
	count := aba.estimates.Count(key)

	if count >= aba.params.Relay() {
		aba.sendEstimate(ctx, key)
	}

	if count >= aba.params.Strong() {
		sk := stageKey{est.Round, stage}
		aba.mu.Lock()
		bin := aba.binValues[sk]
		added := !bin.Contains(value)
		if added {
			aba.binValues[sk] = bin.Add(value)
		}
		aba.mu.Unlock()
		if added {
			aba.logger.Debugw("bin_values grew", "round", est.Round, "stage", stage, "value", value)
			aba.binNotify.Notify(sk)
		}
	}
}

func (aba *ABA) handleAUX(sender party.ID, aux *message.Auxiliary) {
	stage, value := Stage(aux.Stage), Estimate(aux.Value)
	if aux.Round == 0 || !stage.Valid() || !value.Valid() {
		aba.drop("malformed", "sender", sender, "kind", "aux")
		return
	}
	key := stageKey{aux.Round, stage}
	changed := false
	aba.auxViews.Entry(key, sender, func(cur View, _ bool) View {
		changed = !cur.Contains(value)
		return cur.Add(value)
	})
	if changed {
		aba.auxNotify.Notify(key)
	}
}

func (aba *ABA) handleAUXSET(sender party.ID, set *message.AuxiliarySet) {
	view := View(set.View)
	if set.Round == 0 || view.Empty() || !view.Wellformed() {
		aba.drop("malformed", "sender", sender, "kind", "auxset")
		return
	}
	if aba.auxSets.InsertOnce(set.Round, sender, view) {
		aba.auxSetNotify.Notify(set.Round)
	}
}

func (aba *ABA) handleCOIN(sender party.ID, coin *message.CoinEval) {
	eval, err := verify.UnmarshalPoint(aba.suite, coin.Eval)
	if coin.Round == 0 || err != nil {
		aba.drop("malformed", "sender", sender, "kind", "coin")
		return
	}
	share := verify.CoinShare{Party: sender, Eval: eval, Proof: coin.Proof}
	if aba.coinEvals.InsertOnce(coin.Round, sender, share) {
		aba.coinNotify.Notify(coin.Round)
	}
}
