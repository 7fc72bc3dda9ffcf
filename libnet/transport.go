package libnet

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/zhazhalaila/AsyncDKG/party"
	"golang.org/x/xerrors"
)

// Inbound is one message received on a topic. A non-nil Err reports a
// message that could not be delivered intact; the stream goes on.
type Inbound struct {
	Sender  party.ID
	Payload []byte
	Err     error
}

// Transport moves opaque payloads between parties, scoped by topic.
// Broadcast includes the local party and reports every party it failed to
// reach with a PeerError. Each topic has a single subscriber,
// its channel is closed when the transport shuts down.
type Transport interface {
	Broadcast(ctx context.Context, topic string, payload []byte) error
	Send(ctx context.Context, to party.ID, topic string, payload []byte) error
	Subscribe(topic string) <-chan Inbound
}

// PeerError is a failed delivery to one party. Broadcast implementations
// return one per failed party, aggregated in a multierror.
type PeerError struct {
	Peer party.ID
	Err  error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("party %d: %v", e.Peer, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

// FailedPeers returns the parties named by the PeerErrors in err.
func FailedPeers(err error) []party.ID {
	var errs []error
	if merr, ok := err.(*multierror.Error); ok {
		errs = merr.Errors
	} else if err != nil {
		errs = []error{err}
	}
	var peers []party.ID
	for _, e := range errs {
		var pe *PeerError
		if xerrors.As(e, &pe) {
			peers = append(peers, pe.Peer)
		}
	}
	return peers
}
