package verify

import (
	"crypto/cipher"

	"github.com/zhazhalaila/AsyncDKG/party"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
)

// FeldmanDeal shares secret with a degree t polynomial. shares[i] belongs
// to party i+1, commits holds t+1 points.
func FeldmanDeal(suite Suite, n, t int, secret kyber.Scalar, rand cipher.Stream) ([]kyber.Scalar, []kyber.Point) {
	poly := share.NewPriPoly(suite, t+1, secret, rand)
	shares := make([]kyber.Scalar, n)
	for _, s := range poly.Shares(n) {
		shares[s.I] = s.V
	}
	_, commits := poly.Commit(nil).Info()
	return shares, commits
}

// FeldmanVerify checks s*G == sum_k commits[k] * id^k.
func FeldmanVerify(suite Suite, commits []kyber.Point, id party.ID, s kyber.Scalar) error {
	if len(commits) == 0 {
		return ErrInvalidShare
	}
	expected := FeldmanEval(suite, commits, id)
	if !expected.Equal(suite.Point().Mul(s, nil)) {
		return ErrInvalidShare
	}
	return nil
}

// FeldmanEval returns the public commitment to the share of id.
func FeldmanEval(suite Suite, commits []kyber.Point, id party.ID) kyber.Point {
	return share.NewPubPoly(suite, nil, commits).Eval(id.Index()).V
}
