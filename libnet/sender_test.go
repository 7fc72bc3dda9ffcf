package libnet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/sasha-s/go-deadlock"
	"github.com/stretchr/testify/require"
	"github.com/zhazhalaila/AsyncDKG/log/testlogger"
	"github.com/zhazhalaila/AsyncDKG/party"
)

// flakyTransport reaches parties 1..n, failing the first failures[id]
// attempts toward id.
type flakyTransport struct {
	Transport
	n        int
	mu       deadlock.Mutex
	failures map[party.ID]int
	attempts map[party.ID]int
}

func newFlaky(n int, failures map[party.ID]int) *flakyTransport {
	return &flakyTransport{n: n, failures: failures, attempts: make(map[party.ID]int)}
}

func (f *flakyTransport) Send(ctx context.Context, to party.ID, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[to]++
	if f.attempts[to] <= f.failures[to] {
		return errors.New("connection refused")
	}
	return nil
}

func (f *flakyTransport) Broadcast(ctx context.Context, topic string, payload []byte) error {
	var result *multierror.Error
	for i := 0; i < f.n; i++ {
		to := party.FromIndex(i)
		if err := f.Send(ctx, to, topic, payload); err != nil {
			result = multierror.Append(result, &PeerError{Peer: to, Err: err})
		}
	}
	return result.ErrorOrNil()
}

func (f *flakyTransport) count(id party.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[id]
}

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff{Attempts: 2, Step: time.Second}
	d, ok := b.Next(1)
	require.True(t, ok)
	require.Equal(t, time.Second, d)
	d, ok = b.Next(2)
	require.True(t, ok)
	require.Equal(t, 2*time.Second, d)
	_, ok = b.Next(3)
	require.False(t, ok)
}

func TestFailedPeers(t *testing.T) {
	var merr *multierror.Error
	merr = multierror.Append(merr, &PeerError{Peer: 2, Err: errors.New("x")}, errors.New("other"))
	merr = multierror.Append(merr, &PeerError{Peer: 4, Err: errors.New("y")})
	require.Equal(t, []party.ID{2, 4}, FailedPeers(merr))
	require.Equal(t, []party.ID{3}, FailedPeers(&PeerError{Peer: 3}))
	require.Empty(t, FailedPeers(nil))
}

func TestSenderRetriesOnlyFailedPeers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := newFlaky(3, map[party.ID]int{3: 2})
	s := NewSender(tr, LinearBackoff{Attempts: 3, Step: time.Second}, clock, testlogger.New(t))

	// returns before any backoff elapses
	require.NoError(t, s.Broadcast(context.Background(), "t", nil))

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	s.Wait()

	require.Equal(t, 1, tr.count(1))
	require.Equal(t, 1, tr.count(2))
	require.Equal(t, 3, tr.count(3))
}

func TestSenderGivesUp(t *testing.T) {
	tr := newFlaky(1, map[party.ID]int{1: 10})
	s := NewSender(tr, LinearBackoff{Attempts: 0}, clockwork.NewFakeClock(), testlogger.New(t))
	require.Error(t, s.Send(context.Background(), 1, "t", nil))
	require.Error(t, s.Broadcast(context.Background(), "t", nil))
	s.Wait()
	require.Equal(t, 2, tr.count(1))

	clock := clockwork.NewFakeClock()
	s = NewSender(tr, LinearBackoff{Attempts: 1, Step: time.Second}, clock, testlogger.New(t))
	require.NoError(t, s.Send(context.Background(), 1, "t", nil))
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	s.Wait()
	require.Equal(t, 4, tr.count(1))
}

func TestSenderStopsOnCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := newFlaky(2, map[party.ID]int{2: 10})
	s := NewSender(tr, LinearBackoff{Attempts: 5, Step: time.Hour}, clock, testlogger.New(t))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Broadcast(ctx, "t", nil))
	clock.BlockUntil(1)
	cancel()
	s.Wait()
	require.Equal(t, 1, tr.count(2))
}
