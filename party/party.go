package party

import (
	"golang.org/x/xerrors"
)

// ID identifies a participant. Valid ids are 1..n; Index converts to the
// 0-based position used by peer-keyed slices.
type ID uint32

// Index returns the 0-based slice position of the party.
func (id ID) Index() int {
	return int(id) - 1
}

// FromIndex converts a 0-based slice position to a party id.
func FromIndex(i int) ID {
	return ID(i + 1)
}

// SessionID names one protocol run (one ABA or one ACSS instance).
type SessionID uint64

// ErrInvalidParams is returned by Validate.
var ErrInvalidParams = xerrors.New("invalid party parameters")

// Params carries the fixed size of the committee, the fault bound and the
// local party id.
type Params struct {
	N  int
	T  int
	ID ID
}

// Validate checks n >= 3t+1 and that the local id is in range.
func (p Params) Validate() error {
	if p.T < 0 || p.N < 3*p.T+1 {
		return xerrors.Errorf("n=%d t=%d: %w", p.N, p.T, ErrInvalidParams)
	}
	if !p.Contains(p.ID) {
		return xerrors.Errorf("id=%d out of [1,%d]: %w", p.ID, p.N, ErrInvalidParams)
	}
	return nil
}

// Contains reports whether id is a member of the committee.
func (p Params) Contains(id ID) bool {
	return id >= 1 && int(id) <= p.N
}

// Relay is the t+1 threshold: at least one honest party vouches.
func (p Params) Relay() int {
	return p.T + 1
}

// Strong is the 2t+1 threshold.
func (p Params) Strong() int {
	return 2*p.T + 1
}

// Quorum is the n-t threshold.
func (p Params) Quorum() int {
	return p.N - p.T
}

// Parties lists 1..n in order.
func (p Params) Parties() []ID {
	ids := make([]ID, p.N)
	for i := range ids {
		ids[i] = FromIndex(i)
	}
	return ids
}
