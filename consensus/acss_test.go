package consensus

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
	"github.com/zhazhalaila/AsyncDKG/libnet"
	"github.com/zhazhalaila/AsyncDKG/message"
	"github.com/zhazhalaila/AsyncDKG/party"
	"github.com/zhazhalaila/AsyncDKG/verify"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/random"
)

// corruptedDealing shares s like newDealing, except that victim receives a
// well encrypted share that does not match the commitments.
func corruptedDealing(a *ACSS, s kyber.Scalar, victim party.ID) (*message.Dealing, error) {
	stream := a.suite.RandomStream()
	shares, commits := verify.FeldmanDeal(a.suite, a.params.N, a.params.T, s, stream)
	r := a.suite.Scalar().Pick(stream)

	d := &message.Dealing{Ciphertexts: make([][]byte, a.params.N)}
	var err error
	if d.Ephemeral, err = a.suite.Point().Mul(r, nil).MarshalBinary(); err != nil {
		return nil, err
	}
	if d.Commits, err = verify.MarshalPoints(commits); err != nil {
		return nil, err
	}
	for i, sh := range shares {
		id := party.FromIndex(i)
		if id == victim {
			sh = a.suite.Scalar().Add(sh, a.suite.Scalar().One())
		}
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

// runACSS runs one session with party 1 dealing secret. A non-zero victim
// gets a share that does not match the commitments.
func runACSS(t *testing.T, n, th int, secret kyber.Scalar, victim party.ID) map[party.ID]*Output {
	net := libnet.NewMemNetwork(n)
	defer net.Close()
	modules := newTestModules(t, net, n, th)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outputs := make(chan *Output, n)
	errs := make(chan error, n)
	for i, m := range modules {
		id := party.FromIndex(i)
		acss, err := m.NewACSS(7, 1, m.NewRBC(7, 1))
		require.NoError(t, err)

		if id != 1 {
			go func() { errs <- acss.GetShare(ctx, outputs) }()
			continue
		}
		if victim == 0 {
			in := make(chan kyber.Scalar, 1)
			in <- secret
			go func() { errs <- acss.Deal(ctx, in, outputs) }()
			continue
		}
		d, err := corruptedDealing(acss, secret, victim)
		require.NoError(t, err)
		go func() { errs <- acss.runDealer(ctx, d, outputs) }()
	}

	got := make(map[party.ID]*Output, n)
	for len(got) < n {
		select {
		case out := <-outputs:
			got[out.Index] = out
		case err := <-errs:
			t.Fatalf("acss returned before completing: %v", err)
		case <-time.After(testTimeout):
			t.Fatalf("only %d of %d parties completed", len(got), n)
		}
	}
	cancel()
	waitErr(t, errs, n)
	return got
}

func interpolate(t *testing.T, outputs map[party.ID]*Output, ids ...party.ID) kyber.Scalar {
	xs := make([]int64, len(ids))
	ys := make([]kyber.Scalar, len(ids))
	for i, id := range ids {
		xs[i] = int64(id)
		ys[i] = outputs[id].Share
	}
	s, err := verify.InterpolateScalarAt(verify.DefaultSuite(), xs, ys, 0)
	require.NoError(t, err)
	return s
}

func TestACSSCompleteness(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	suite := verify.DefaultSuite()
	secret := suite.Scalar().Pick(random.New())
	outputs := runACSS(t, 7, 2, secret, 0)

	for id, out := range outputs {
		require.False(t, out.Recovered, "party %d", id)
		require.Len(t, out.PublicPoly, 3)
		require.True(t, out.PublicPoly[0].Equal(suite.Point().Mul(secret, nil)))
		require.NoError(t, verify.FeldmanVerify(suite, out.PublicPoly, id, out.Share))
	}

	a := interpolate(t, outputs, 1, 2, 3)
	b := interpolate(t, outputs, 4, 5, 6)
	require.True(t, a.Equal(b), "disjoint quorums agree")
	require.True(t, a.Equal(secret))
	require.True(t, interpolate(t, outputs, 2, 5, 7).Equal(secret))
}

func TestACSSRecoversCorruptedShare(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	suite := verify.DefaultSuite()
	secret := suite.Scalar().Pick(random.New())
	outputs := runACSS(t, 4, 1, secret, 3)

	require.True(t, outputs[3].Recovered)
	require.NoError(t, verify.FeldmanVerify(suite, outputs[3].PublicPoly, 3, outputs[3].Share))
	for _, id := range []party.ID{1, 2, 4} {
		require.False(t, outputs[id].Recovered)
	}
	require.True(t, interpolate(t, outputs, 3, 4).Equal(secret))
	require.True(t, interpolate(t, outputs, 1, 2).Equal(secret))
}

func TestACSSDealerErrors(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	net := libnet.NewMemNetwork(4)
	defer net.Close()
	modules := newTestModules(t, net, 4, 1)

	notDealer, err := modules[1].NewACSS(1, 1, modules[1].NewRBC(1, 1))
	require.NoError(t, err)
	require.ErrorIs(t, notDealer.Deal(context.Background(), nil, nil), ErrNotDealer)

	dealer, err := modules[0].NewACSS(1, 1, modules[0].NewRBC(1, 1))
	require.NoError(t, err)
	closed := make(chan kyber.Scalar)
	close(closed)
	require.ErrorIs(t, dealer.Deal(context.Background(), closed, nil), ErrInputClosed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, dealer.Deal(ctx, make(chan kyber.Scalar), nil))

	_, err = modules[0].NewACSS(1, 9, modules[0].NewRBC(1, 1))
	require.ErrorIs(t, err, ErrInvalidParams)
}

// echoRBC delivers a fixed payload, whatever is broadcast.
type echoRBC struct {
	payload []byte
}

func (e echoRBC) Broadcast(context.Context, []byte) ([]byte, error) { return e.payload, nil }

func (e echoRBC) Listen(context.Context, func([]byte) bool) ([]byte, error) { return e.payload, nil }

func TestACSSDealerDetectsInconsistentBroadcast(t *testing.T) {
	net := libnet.NewMemNetwork(4)
	defer net.Close()
	m := newTestModules(t, net, 4, 1)[0]

	acss, err := m.NewACSS(1, 1, echoRBC{payload: []byte("something else")})
	require.NoError(t, err)
	in := make(chan kyber.Scalar, 1)
	in <- verify.DefaultSuite().Scalar().One()
	require.ErrorIs(t, acss.Deal(context.Background(), in, make(chan *Output, 1)), ErrRBCInconsistent)
}

func TestACSSIgnoresFalseImplicate(t *testing.T) {
	net := libnet.NewMemNetwork(4)
	defer net.Close()
	modules := newTestModules(t, net, 4, 1)
	suite := verify.DefaultSuite()

	dealer, err := modules[0].NewACSS(1, 1, nil)
	require.NoError(t, err)
	d, err := dealer.newDealing(suite.Scalar().Pick(random.New()))
	require.NoError(t, err)

	acss, err := modules[1].NewACSS(1, 1, nil)
	require.NoError(t, err)
	acss.dealing, err = acss.parseDealing(message.MustEncode(d))
	require.NoError(t, err)

	// party 3 holds a valid share, so even a correctly proven key does
	// not implicate the dealer
	key, proof, err := verify.SharedKey(suite, modules[2].cfg.LongTermSecret, acss.dealing.ephemeral)
	require.NoError(t, err)
	keyBuf, err := key.MarshalBinary()
	require.NoError(t, err)
	acss.handleIMPLICATE(context.Background(), 3, &message.Implicate{SharedKey: keyBuf, Proof: proof})
	require.False(t, acss.disclosed)

	// a key that does not match the sender's public key is rejected
	acss.handleIMPLICATE(context.Background(), 4, &message.Implicate{SharedKey: keyBuf, Proof: proof})
	require.False(t, acss.disclosed)
}

func TestACSSMalformedImplicateDoesNotHideValidOne(t *testing.T) {
	net := libnet.NewMemNetwork(4)
	defer net.Close()
	modules := newTestModules(t, net, 4, 1)
	suite := verify.DefaultSuite()

	dealer, err := modules[0].NewACSS(1, 1, nil)
	require.NoError(t, err)
	d, err := corruptedDealing(dealer, suite.Scalar().Pick(random.New()), 3)
	require.NoError(t, err)

	acss, err := modules[1].NewACSS(1, 1, nil)
	require.NoError(t, err)
	acss.dealing, err = acss.parseDealing(message.MustEncode(d))
	require.NoError(t, err)

	acss.handleIMPLICATE(context.Background(), 3, &message.Implicate{SharedKey: []byte("garbage")})
	require.False(t, acss.disclosed)

	key, proof, err := verify.SharedKey(suite, modules[2].cfg.LongTermSecret, acss.dealing.ephemeral)
	require.NoError(t, err)
	keyBuf, err := key.MarshalBinary()
	require.NoError(t, err)
	acss.handleIMPLICATE(context.Background(), 3, &message.Implicate{SharedKey: keyBuf, Proof: proof})
	require.True(t, acss.disclosed, "a valid implicate after a malformed one still triggers disclosure")
}
