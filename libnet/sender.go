package libnet

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/zhazhalaila/AsyncDKG/log"
	"github.com/zhazhalaila/AsyncDKG/metrics"
	"github.com/zhazhalaila/AsyncDKG/party"
)

// RetryStrategy tells how long to wait before retry number attempt
// (starting at 1), and whether to retry at all.
type RetryStrategy interface {
	Next(attempt int) (time.Duration, bool)
}

// LinearBackoff waits attempt*Step, giving up after Attempts retries.
type LinearBackoff struct {
	Attempts int
	Step     time.Duration
}

func (b LinearBackoff) Next(attempt int) (time.Duration, bool) {
	if attempt > b.Attempts {
		return 0, false
	}
	return time.Duration(attempt) * b.Step, true
}

// DefaultRetry is used when no strategy is configured.
var DefaultRetry RetryStrategy = LinearBackoff{Attempts: 5, Step: 200 * time.Millisecond}

// Sender wraps a transport with a retry strategy. Only the parties a send
// failed to reach are retried, in the background, so callers never wait
// on a backoff.
type Sender struct {
	transport Transport
	retry     RetryStrategy
	clock     clockwork.Clock
	logger    log.Logger
	// Background retries in flight
	wg sync.WaitGroup
}

func NewSender(t Transport, retry RetryStrategy, clock clockwork.Clock, logger log.Logger) *Sender {
	if retry == nil {
		retry = DefaultRetry
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sender{transport: t, retry: retry, clock: clock, logger: logger}
}

// Broadcast sends payload to every party, including self. Parties that
// could not be reached are retried until ctx is done or the strategy gives
// up. The returned error only reports failures that will not be retried.
func (s *Sender) Broadcast(ctx context.Context, topic string, payload []byte) error {
	err := s.transport.Broadcast(ctx, topic, payload)
	if err == nil || ctx.Err() != nil || !s.retries() {
		return err
	}
	failed := FailedPeers(err)
	if len(failed) == 0 {
		return err
	}
	for _, to := range failed {
		s.retrySend(ctx, to, topic, payload, err)
	}
	return nil
}

// Send sends payload to one party, retrying in the background on failure.
func (s *Sender) Send(ctx context.Context, to party.ID, topic string, payload []byte) error {
	err := s.transport.Send(ctx, to, topic, payload)
	if err == nil || ctx.Err() != nil || !s.retries() {
		return err
	}
	s.retrySend(ctx, to, topic, payload, err)
	return nil
}

// Subscribe forwards to the transport.
func (s *Sender) Subscribe(topic string) <-chan Inbound {
	return s.transport.Subscribe(topic)
}

// Wait blocks until every background retry has finished.
func (s *Sender) Wait() {
	s.wg.Wait()
}

func (s *Sender) retries() bool {
	_, ok := s.retry.Next(1)
	return ok
}

func (s *Sender) retrySend(ctx context.Context, to party.ID, topic string, payload []byte, err error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for attempt := 1; ; attempt++ {
			delay, ok := s.retry.Next(attempt)
			if !ok {
				s.logger.Warnw("giving up sending", "to", to, "topic", topic, "attempts", attempt, "err", err)
				return
			}
			metrics.BroadcastRetries.Inc()
			s.logger.Debugw("send failed, retrying", "to", to, "topic", topic, "attempt", attempt, "delay", delay, "err", err)
			select {
			case <-s.clock.After(delay):
			case <-ctx.Done():
				return
			}
			if err = s.transport.Send(ctx, to, topic, payload); err == nil || ctx.Err() != nil {
				return
			}
		}
	}()
}
