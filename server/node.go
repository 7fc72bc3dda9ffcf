package main

import (
	"context"
	"net"
	"os"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/zhazhalaila/AsyncDKG/config"
	"github.com/zhazhalaila/AsyncDKG/consensus"
	"github.com/zhazhalaila/AsyncDKG/keygen/keys"
	"github.com/zhazhalaila/AsyncDKG/libnet"
	"github.com/zhazhalaila/AsyncDKG/log"
	"github.com/zhazhalaila/AsyncDKG/message"
	"github.com/zhazhalaila/AsyncDKG/metrics"
	"github.com/zhazhalaila/AsyncDKG/party"
	"github.com/zhazhalaila/AsyncDKG/store"
	"github.com/zhazhalaila/AsyncDKG/verify"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/random"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// node wires one party: TCP network, protocol module, store and metrics.
type node struct {
	logger  log.Logger
	cfg     *config.Node
	keys    *keys.Party
	net     *libnet.Network
	module  *consensus.Module
	store   *store.Store
	metrics net.Listener

	// Closed once every configured session has persisted its output
	completed chan struct{}
	remaining int32
}

func newNode(cfg *config.Node, k *keys.Party, logger log.Logger) (*node, error) {
	if k.ID != party.ID(cfg.ID) || len(k.Publics) != cfg.N {
		return nil, xerrors.Errorf("key file is for party %d of %d, config for party %d of %d", k.ID, len(k.Publics), cfg.ID, cfg.N)
	}
	if err := os.MkdirAll(cfg.DataDir, 0740); err != nil {
		return nil, err
	}

	nd := &node{logger: logger, cfg: cfg, keys: k, completed: make(chan struct{})}
	nd.remaining = int32(len(cfg.Sessions))
	if nd.remaining == 0 {
		close(nd.completed)
	}

	var err error
	if nd.store, err = store.Open(cfg.DataDir, logger.Named("store"), nil); err != nil {
		return nil, err
	}
	nd.net = libnet.MakeNetwork(logger, cfg.Params().ID, cfg.Listen, cfg.NetworkPeers())
	if err := nd.net.Start(); err != nil {
		nd.store.Close()
		return nil, err
	}
	if cfg.MetricsBind != "" {
		if nd.metrics, err = metrics.Start(cfg.MetricsBind, logger); err != nil {
			nd.close()
			return nil, err
		}
	}
	nd.module, err = consensus.NewModule(consensus.ModuleConfig{
		Logger:          logger,
		Params:          cfg.Params(),
		Suite:           verify.DefaultSuite(),
		Transport:       nd.net,
		TopicPrefix:     cfg.TopicPrefix,
		Retry:           cfg.RetryStrategy(),
		LongTermSecret:  k.Secret,
		LongTermPublics: k.Publics,
	})
	if err != nil {
		nd.close()
		return nil, err
	}
	return nd, nil
}

// run drives every configured session until ctx is cancelled. Sessions
// stay alive after their output so slower parties can still finish.
func (nd *node) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range nd.cfg.Sessions {
		s := s
		switch s.Kind {
		case config.KindABA:
			g.Go(func() error { return nd.runABA(gctx, s) })
		case config.KindACSS:
			g.Go(func() error { return nd.runACSS(gctx, s) })
		}
	}
	return g.Wait()
}

func (nd *node) sessionDone() {
	if atomic.AddInt32(&nd.remaining, -1) == 0 {
		close(nd.completed)
	}
}

func (nd *node) runABA(ctx context.Context, s config.Session) error {
	sid := party.SessionID(s.ID)
	aba := nd.module.NewABA(sid)

	input := make(chan consensus.Estimate, 1)
	input <- consensus.Estimate(s.Estimate)
	coinKeys := make(chan *verify.CoinKeys, 1)
	coinKeys <- nd.keys.Coin
	decided := make(chan consensus.Estimate, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return aba.Propose(gctx, input, coinKeys, decided)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case v := <-decided:
			if err := nd.store.SaveDecision(&message.DecisionRecord{Session: uint64(sid), Value: int32(v)}); err != nil {
				return xerrors.Errorf("saving decision of session %d: %w", sid, err)
			}
			nd.logger.Infow("aba decided", "session", sid, "value", v)
			nd.sessionDone()
			return nil
		}
	})
	return g.Wait()
}

func (nd *node) runACSS(ctx context.Context, s config.Session) error {
	sid := party.SessionID(s.ID)
	dealer := party.ID(s.Dealer)
	acss, err := nd.module.NewACSS(sid, dealer, nd.module.NewRBC(sid, dealer))
	if err != nil {
		return err
	}

	out := make(chan *consensus.Output, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if dealer != nd.module.ID() {
			return acss.GetShare(gctx, out)
		}
		secret := make(chan kyber.Scalar, 1)
		secret <- verify.DefaultSuite().Scalar().Pick(random.New())
		return acss.Deal(gctx, secret, out)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case o := <-out:
			rec, err := shareRecord(sid, dealer, o)
			if err != nil {
				return err
			}
			if err := nd.store.SaveShare(rec); err != nil {
				return xerrors.Errorf("saving share of session %d: %w", sid, err)
			}
			nd.logger.Infow("acss complete", "session", sid, "dealer", dealer, "path", rec.Path)
			nd.sessionDone()
			return nil
		}
	})
	return g.Wait()
}

func shareRecord(sid party.SessionID, dealer party.ID, o *consensus.Output) (*message.ShareRecord, error) {
	share, err := o.Share.MarshalBinary()
	if err != nil {
		return nil, err
	}
	commits, err := verify.MarshalPoints(o.PublicPoly)
	if err != nil {
		return nil, err
	}
	path := "direct"
	if o.Recovered {
		path = "recovered"
	}
	return &message.ShareRecord{
		Session: uint64(sid),
		Dealer:  uint32(dealer),
		Index:   uint32(o.Index),
		Share:   share,
		Commits: commits,
		Path:    path,
	}, nil
}

func (nd *node) close() error {
	var result *multierror.Error
	if nd.metrics != nil {
		if err := nd.metrics.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if nd.net != nil {
		if err := nd.net.Shutdown(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := nd.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
