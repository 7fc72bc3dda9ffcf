// Package verify holds the cryptographic building blocks of the protocols:
// Feldman sharing, DLEQ proofs, hybrid share encryption, the common coin and
// Lagrange interpolation, all over a kyber group.
package verify

import (
	"crypto/sha256"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"golang.org/x/xerrors"
)

// Suite is the capability set the protocols need from a group.
type Suite interface {
	kyber.Group
	kyber.HashFactory
	kyber.XOFFactory
	kyber.Random
}

// DefaultSuite is Ed25519 with SHA256 and Blake2 XOF.
func DefaultSuite() Suite {
	return edwards25519.NewBlakeSHA256Ed25519()
}

var (
	ErrInvalidProof  = xerrors.New("invalid proof")
	ErrInvalidShare  = xerrors.New("share does not match commitments")
	ErrDecrypt       = xerrors.New("decryption failed")
	ErrNotEnough     = xerrors.New("not enough valid shares")
	ErrDuplicateX    = xerrors.New("duplicate interpolation point")
	ErrMalformedData = xerrors.New("malformed encoding")
)

// HashToPoint maps domain-separated data to a point nobody knows the
// discrete log of.
func HashToPoint(suite Suite, domain string, data ...[]byte) kyber.Point {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, d := range data {
		h.Write(d)
	}
	return suite.Point().Pick(suite.XOF(h.Sum(nil)))
}

// MarshalPoints encodes a vector of points.
func MarshalPoints(points []kyber.Point) ([][]byte, error) {
	out := make([][]byte, len(points))
	for i, p := range points {
		buf, err := p.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out[i] = buf
	}
	return out, nil
}

// UnmarshalPoints decodes a vector of points.
func UnmarshalPoints(g kyber.Group, bufs [][]byte) ([]kyber.Point, error) {
	out := make([]kyber.Point, len(bufs))
	for i, buf := range bufs {
		p := g.Point()
		if err := p.UnmarshalBinary(buf); err != nil {
			return nil, xerrors.Errorf("point %d: %w", i, ErrMalformedData)
		}
		out[i] = p
	}
	return out, nil
}

// UnmarshalPoint decodes one point.
func UnmarshalPoint(g kyber.Group, buf []byte) (kyber.Point, error) {
	p := g.Point()
	if err := p.UnmarshalBinary(buf); err != nil {
		return nil, xerrors.Errorf("point: %w", ErrMalformedData)
	}
	return p, nil
}

// UnmarshalScalar decodes one scalar.
func UnmarshalScalar(g kyber.Group, buf []byte) (kyber.Scalar, error) {
	s := g.Scalar()
	if err := s.UnmarshalBinary(buf); err != nil {
		return nil, xerrors.Errorf("scalar: %w", ErrMalformedData)
	}
	return s, nil
}

// Digest hashes encoded commitments. Votes in ACSS name the polynomial they
// are for by this digest.
func Digest(encoded [][]byte) []byte {
	h := sha256.New()
	for _, b := range encoded {
		h.Write(b)
	}
	return h.Sum(nil)
}
