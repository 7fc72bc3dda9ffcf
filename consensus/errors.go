package consensus

import (
	"github.com/zhazhalaila/AsyncDKG/log"
	"golang.org/x/xerrors"
)

var (
	// ErrInputClosed is returned when the initial estimate or secret
	// channel is closed before yielding a value.
	ErrInputClosed = xerrors.New("input channel closed")
	// ErrCoinKeysClosed is returned when coin keys are needed but their
	// channel was closed.
	ErrCoinKeysClosed = xerrors.New("coin keys channel closed")
	// ErrStreamClosed is returned when the inbound stream of an instance
	// ends.
	ErrStreamClosed = xerrors.New("inbound stream closed")
	// ErrCoinExhausted is returned when all n coin evaluations are in and
	// still no t+1 of them combine.
	ErrCoinExhausted = xerrors.New("common coin cannot be recovered")
	// ErrRBCInconsistent is returned to a dealer when reliable broadcast
	// delivers something other than what it sent.
	ErrRBCInconsistent = xerrors.New("reliable broadcast delivered a different payload")
	// ErrTaskPanicked wraps a panic recovered from a protocol task.
	ErrTaskPanicked  = xerrors.New("protocol task panicked")
	ErrInvalidParams = xerrors.New("invalid parameters")
	ErrNotDealer     = xerrors.New("local party is not the dealer")
)

// runTask runs f, turning a panic into ErrTaskPanicked.
func runTask(logger log.Logger, name string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("task panicked", "task", name, "panic", r)
			err = xerrors.Errorf("%s: %v: %w", name, r, ErrTaskPanicked)
		}
	}()
	return f()
}
