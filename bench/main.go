package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v2"
	"github.com/zhazhalaila/AsyncDKG/consensus"
	"github.com/zhazhalaila/AsyncDKG/keygen/keys"
	"github.com/zhazhalaila/AsyncDKG/libnet"
	"github.com/zhazhalaila/AsyncDKG/log"
	"github.com/zhazhalaila/AsyncDKG/party"
	"github.com/zhazhalaila/AsyncDKG/verify"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/random"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

var (
	nFlag        = &cli.IntFlag{Name: "n", Value: 4, Usage: "total node number"}
	tFlag        = &cli.IntFlag{Name: "t", Value: 1, Usage: "byzantine node number"}
	sessionsFlag = &cli.IntFlag{Name: "sessions", Value: 4, Usage: "sessions per protocol"}
	levelFlag    = &cli.StringFlag{Name: "log-level", Value: "warn", Usage: "debug, info, warn or error"}
	timeoutFlag  = &cli.DurationFlag{Name: "timeout", Value: time.Minute, Usage: "give up after this long"}
)

func main() {
	app := &cli.App{
		Name:   "adkg-bench",
		Usage:  "run ABA and ACSS sessions between in-process parties and report latency",
		Flags:  []cli.Flag{nFlag, tFlag, sessionsFlag, levelFlag, timeoutFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Printf("error: %+v\n", err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	n, t := cctx.Int(nFlag.Name), cctx.Int(tFlag.Name)
	level, err := log.ParseLevel(cctx.String(levelFlag.Name))
	if err != nil {
		return err
	}
	logger := log.New(nil, level, false)
	report := log.New(nil, log.InfoLevel, false).Named("bench")

	suite := verify.DefaultSuite()
	parties := keys.Generate(suite, n, t)
	net := libnet.NewMemNetwork(n)
	defer net.Close()

	modules := make([]*consensus.Module, n)
	for i := range modules {
		id := party.FromIndex(i)
		modules[i], err = consensus.NewModule(consensus.ModuleConfig{
			Logger:          logger,
			Params:          party.Params{N: n, T: t, ID: id},
			Suite:           suite,
			Transport:       net.Endpoint(id),
			TopicPrefix:     "bench",
			LongTermSecret:  parties[i].Secret,
			LongTermPublics: parties[i].Publics,
		})
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cctx.Duration(timeoutFlag.Name))
	defer cancel()
	for s := 0; s < cctx.Int(sessionsFlag.Name); s++ {
		sid := party.SessionID(2 * s)
		start := time.Now()
		v, err := benchABA(ctx, modules, parties, sid)
		if err != nil {
			return xerrors.Errorf("aba session %d: %w", sid, err)
		}
		report.Infow("aba", "session", sid, "value", v, "latency", time.Since(start))

		sid++
		dealer := party.FromIndex(s % n)
		start = time.Now()
		if err := benchACSS(ctx, modules, sid, dealer); err != nil {
			return xerrors.Errorf("acss session %d: %w", sid, err)
		}
		report.Infow("acss", "session", sid, "dealer", dealer, "latency", time.Since(start))
	}
	return nil
}

// benchABA runs one ABA session with alternating inputs and returns the
// decision once every party has decided.
func benchABA(ctx context.Context, modules []*consensus.Module, parties []*keys.Party, sid party.SessionID) (consensus.Estimate, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	decided := make(chan consensus.Estimate, len(modules))
	for i, m := range modules {
		input := make(chan consensus.Estimate, 1)
		input <- consensus.Estimate(i % 2)
		coinKeys := make(chan *verify.CoinKeys, 1)
		coinKeys <- parties[i].Coin
		aba := m.NewABA(sid)
		g.Go(func() error { return aba.Propose(gctx, input, coinKeys, decided) })
	}

	var value consensus.Estimate
	for i := range modules {
		select {
		case v := <-decided:
			if i > 0 && v != value {
				return v, xerrors.Errorf("disagreement: %s and %s", value, v)
			}
			value = v
		case <-gctx.Done():
			if err := g.Wait(); err != nil {
				return value, err
			}
			return value, gctx.Err()
		}
	}
	cancel()
	return value, g.Wait()
}

// benchACSS runs one ACSS session and checks that t+1 outputs interpolate
// to the dealt secret.
func benchACSS(ctx context.Context, modules []*consensus.Module, sid party.SessionID, dealer party.ID) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	suite := verify.DefaultSuite()
	s := suite.Scalar().Pick(random.New())
	out := make(chan *consensus.Output, len(modules))
	for i, m := range modules {
		acss, err := m.NewACSS(sid, dealer, m.NewRBC(sid, dealer))
		if err != nil {
			return err
		}
		if party.FromIndex(i) != dealer {
			g.Go(func() error { return acss.GetShare(gctx, out) })
			continue
		}
		secret := make(chan kyber.Scalar, 1)
		secret <- s
		g.Go(func() error { return acss.Deal(gctx, secret, out) })
	}

	var xs []int64
	var ys []kyber.Scalar
	for range modules {
		select {
		case o := <-out:
			xs = append(xs, int64(o.Index))
			ys = append(ys, o.Share)
		case <-gctx.Done():
			if err := g.Wait(); err != nil {
				return err
			}
			return gctx.Err()
		}
	}
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	threshold := modules[0].Params().Relay()
	got, err := verify.InterpolateScalarAt(suite, xs[:threshold], ys[:threshold], 0)
	if err != nil {
		return err
	}
	if !got.Equal(s) {
		return xerrors.New("outputs do not interpolate to the dealt secret")
	}
	return nil
}
