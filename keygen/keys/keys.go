// Package keys reads and writes the per-party key files of a committee.
package keys

import (
	"bytes"
	"encoding/hex"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/zhazhalaila/AsyncDKG/party"
	"github.com/zhazhalaila/AsyncDKG/verify"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// Party holds everything one party needs to run ABA and ACSS sessions.
type Party struct {
	ID party.ID
	// Long-term ACSS encryption keys. Publics[i] belongs to party i+1.
	Secret  kyber.Scalar
	Publics []kyber.Point
	Coin    *verify.CoinKeys
}

// PartyTOML is the on-disk form of Party.
type PartyTOML struct {
	ID      uint32
	Secret  string
	Publics []string
	Coin    CoinTOML
}

// CoinTOML is the on-disk form of verify.CoinKeys.
type CoinTOML struct {
	Secret       string
	Verification []string
	Combined     string
}

// Generate creates fresh long-term and coin keys for n parties.
func Generate(suite verify.Suite, n, t int) []*Party {
	stream := suite.RandomStream()
	coins := verify.NewCoinKeys(suite, n, t, stream)
	secrets := make([]kyber.Scalar, n)
	publics := make([]kyber.Point, n)
	for i := range secrets {
		secrets[i] = suite.Scalar().Pick(stream)
		publics[i] = suite.Point().Mul(secrets[i], nil)
	}
	parties := make([]*Party, n)
	for i := range parties {
		parties[i] = &Party{
			ID:      party.FromIndex(i),
			Secret:  secrets[i],
			Publics: publics,
			Coin:    coins[i],
		}
	}
	return parties
}

// TOML returns a TOML-compatible version of p.
func (p *Party) TOML() *PartyTOML {
	return &PartyTOML{
		ID:      uint32(p.ID),
		Secret:  ScalarToString(p.Secret),
		Publics: pointsToStrings(p.Publics),
		Coin: CoinTOML{
			Secret:       ScalarToString(p.Coin.Secret),
			Verification: pointsToStrings(p.Coin.Verification),
			Combined:     PointToString(p.Coin.Combined),
		},
	}
}

// FromTOML decodes t in the group of suite.
func FromTOML(g kyber.Group, t *PartyTOML) (*Party, error) {
	p := &Party{ID: party.ID(t.ID), Coin: &verify.CoinKeys{}}
	var err error
	if p.Secret, err = StringToScalar(g, t.Secret); err != nil {
		return nil, xerrors.Errorf("secret corrupted: %w", err)
	}
	if p.Publics, err = stringsToPoints(g, t.Publics); err != nil {
		return nil, xerrors.Errorf("publics corrupted: %w", err)
	}
	if p.Coin.Secret, err = StringToScalar(g, t.Coin.Secret); err != nil {
		return nil, xerrors.Errorf("coin secret corrupted: %w", err)
	}
	if p.Coin.Verification, err = stringsToPoints(g, t.Coin.Verification); err != nil {
		return nil, xerrors.Errorf("coin verification keys corrupted: %w", err)
	}
	if p.Coin.Combined, err = StringToPoint(g, t.Coin.Combined); err != nil {
		return nil, xerrors.Errorf("coin combined key corrupted: %w", err)
	}
	if len(p.Publics) != len(p.Coin.Verification) {
		return nil, xerrors.Errorf("%d publics but %d coin verification keys", len(p.Publics), len(p.Coin.Verification))
	}
	if !(party.Params{N: len(p.Publics)}).Contains(p.ID) {
		return nil, xerrors.Errorf("id %d out of range", p.ID)
	}
	return p, nil
}

// Save writes p to path, readable only by the owner.
func Save(path string, p *Party) error {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(p.TOML()); err != nil {
		return err
	}
	return os.WriteFile(path, b.Bytes(), 0600)
}

// Load reads a key file written by Save.
func Load(path string, g kyber.Group) (*Party, error) {
	t := &PartyTOML{}
	if _, err := toml.DecodeFile(path, t); err != nil {
		return nil, xerrors.Errorf("reading %s: %w", path, err)
	}
	return FromTOML(g, t)
}

// PointToString returns a hex-encoded string representation of the given point.
func PointToString(p kyber.Point) string {
	buff, _ := p.MarshalBinary()
	return hex.EncodeToString(buff)
}

// ScalarToString returns a hex-encoded string representation of the given scalar.
func ScalarToString(s kyber.Scalar) string {
	buff, _ := s.MarshalBinary()
	return hex.EncodeToString(buff)
}

// StringToPoint unmarshals a point in the given group from the given string.
func StringToPoint(g kyber.Group, s string) (kyber.Point, error) {
	buff, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return verify.UnmarshalPoint(g, buff)
}

// StringToScalar unmarshals a scalar in the given group from the given string.
func StringToScalar(g kyber.Group, s string) (kyber.Scalar, error) {
	buff, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return verify.UnmarshalScalar(g, buff)
}

func pointsToStrings(points []kyber.Point) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = PointToString(p)
	}
	return out
}

func stringsToPoints(g kyber.Group, strs []string) ([]kyber.Point, error) {
	out := make([]kyber.Point, len(strs))
	for i, s := range strs {
		p, err := StringToPoint(g, s)
		if err != nil {
			return nil, xerrors.Errorf("[%d]: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}
