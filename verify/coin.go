package verify

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"

	"github.com/zhazhalaila/AsyncDKG/party"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
	"golang.org/x/xerrors"
)

// CoinKeys is one party's view of the threshold coin key: its own secret
// share, every party's verification key and the combined public key.
type CoinKeys struct {
	Secret       kyber.Scalar
	Verification []kyber.Point
	Combined     kyber.Point
}

// NewCoinKeys deals coin keys for n parties with threshold t+1. Used by
// keygen and tests; in a deployment the keys come out of a previous DKG.
func NewCoinKeys(suite Suite, n, t int, rand cipher.Stream) []*CoinKeys {
	secret := suite.Scalar().Pick(rand)
	shares, commits := FeldmanDeal(suite, n, t, secret, rand)

	vks := make([]kyber.Point, n)
	for i := range vks {
		vks[i] = FeldmanEval(suite, commits, party.FromIndex(i))
	}
	keys := make([]*CoinKeys, n)
	for i := range keys {
		keys[i] = &CoinKeys{
			Secret:       shares[i],
			Verification: vks,
			Combined:     commits[0],
		}
	}
	return keys
}

// CoinShare is a partial coin evaluation received from a party.
type CoinShare struct {
	Party party.ID
	Eval  kyber.Point
	Proof []byte
}

// CoinBase is the point every party multiplies with its share for a round.
func CoinBase(suite Suite, sid party.SessionID, combined kyber.Point, round uint32) kyber.Point {
	var hdr [12]byte
	binary.BigEndian.PutUint64(hdr[:8], uint64(sid))
	binary.BigEndian.PutUint32(hdr[8:], round)
	ck, _ := combined.MarshalBinary()
	return HashToPoint(suite, "adkg-coin", hdr[:8], ck, hdr[8:])
}

// EvalCoin computes this party's partial evaluation and its proof.
func EvalCoin(suite Suite, keys *CoinKeys, sid party.SessionID, round uint32) (kyber.Point, []byte, error) {
	base := CoinBase(suite, sid, keys.Combined, round)
	proof, _, eval, err := ProveDLEQ(suite, base, keys.Secret)
	if err != nil {
		return nil, nil, err
	}
	return eval, proof, nil
}

// VerifyCoinShare checks a partial evaluation against the sender's
// verification key.
func VerifyCoinShare(suite Suite, keys *CoinKeys, sid party.SessionID, round uint32, s CoinShare) error {
	idx := s.Party.Index()
	if idx < 0 || idx >= len(keys.Verification) {
		return xerrors.Errorf("party %d: %w", s.Party, ErrInvalidProof)
	}
	base := CoinBase(suite, sid, keys.Combined, round)
	return VerifyDLEQ(suite, base, keys.Verification[idx], s.Eval, s.Proof)
}

// CombineCoin verifies the shares, recombines t+1 valid ones and returns
// the coin bit. ErrNotEnough means fewer than t+1 shares were valid.
func CombineCoin(suite Suite, keys *CoinKeys, sid party.SessionID, round uint32, t int, shares []CoinShare) (bool, error) {
	n := len(keys.Verification)
	valid := make([]*share.PubShare, 0, len(shares))
	for _, s := range shares {
		if err := VerifyCoinShare(suite, keys, sid, round, s); err != nil {
			continue
		}
		valid = append(valid, &share.PubShare{I: s.Party.Index(), V: s.Eval})
	}
	if len(valid) < t+1 {
		return false, xerrors.Errorf("%d valid of %d: %w", len(valid), len(shares), ErrNotEnough)
	}
	point, err := share.RecoverCommit(suite, valid, t+1, n)
	if err != nil {
		return false, err
	}
	buf, err := point.MarshalBinary()
	if err != nil {
		return false, err
	}
	h := sha256.Sum256(buf)
	return h[0]&1 == 1, nil
}
