package consensus

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
	"github.com/zhazhalaila/AsyncDKG/libnet"
	"github.com/zhazhalaila/AsyncDKG/party"
)

func TestRBCDeliversToAll(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	net := libnet.NewMemNetwork(4)
	defer net.Close()
	modules := newTestModules(t, net, 4, 1)
	payload := bytes.Repeat([]byte("dealing"), 100)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	type result struct {
		id  party.ID
		out []byte
		err error
	}
	results := make(chan result, 4)
	for i, m := range modules {
		id := party.FromIndex(i)
		rbc := m.NewRBC(5, 1)
		go func() {
			var out []byte
			var err error
			if id == 1 {
				out, err = rbc.Broadcast(ctx, payload)
			} else {
				out, err = rbc.Listen(ctx, func(p []byte) bool { return len(p) > 0 })
			}
			results <- result{id, out, err}
		}()
	}
	for i := 0; i < 4; i++ {
		r := <-results
		require.NoError(t, r.err, "party %d", r.id)
		require.Equal(t, payload, r.out, "party %d", r.id)
	}
}

func TestRBCToleratesSilentParty(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	net := libnet.NewMemNetwork(4)
	defer net.Close()
	net.SetFilter(func(from, to party.ID, topic string, payload []byte) ([]byte, bool) {
		return payload, from != 4
	})
	modules := newTestModules(t, net, 4, 1)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		id := party.FromIndex(i)
		rbc := modules[i].NewRBC(1, 1)
		go func() {
			var out []byte
			var err error
			if id == 1 {
				out, err = rbc.Broadcast(ctx, []byte("x"))
			} else {
				out, err = rbc.Listen(ctx, func([]byte) bool { return true })
			}
			if err == nil && !bytes.Equal(out, []byte("x")) {
				err = ErrRBCInconsistent
			}
			errs <- err
		}()
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, <-errs)
	}
}

func TestRBCPredicateRejects(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	net := libnet.NewMemNetwork(4)
	defer net.Close()
	modules := newTestModules(t, net, 4, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	errs := make(chan error, 4)
	for i, m := range modules {
		id := party.FromIndex(i)
		rbc := m.NewRBC(1, 1)
		go func() {
			var err error
			if id == 1 {
				_, err = rbc.Broadcast(ctx, []byte("bad"))
			} else {
				_, err = rbc.Listen(ctx, func(p []byte) bool { return !bytes.Equal(p, []byte("bad")) })
			}
			errs <- err
		}()
	}
	delivered := 0
	for i := 0; i < 4; i++ {
		if err := <-errs; err == nil {
			delivered++
		} else {
			require.ErrorIs(t, err, context.DeadlineExceeded)
		}
	}
	require.Equal(t, 1, delivered, "only the dealer, whose predicate accepts everything, delivers")
}

func TestRBCOnlyDealerBroadcasts(t *testing.T) {
	net := libnet.NewMemNetwork(4)
	defer net.Close()
	rbc := newTestModules(t, net, 4, 1)[1].NewRBC(1, 1)
	_, err := rbc.Broadcast(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrNotDealer)
}
