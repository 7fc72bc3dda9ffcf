package consensus

import (
	"bytes"

	"github.com/klauspost/reedsolomon"
	"golang.org/x/xerrors"
)

// ECEncode splits data into K data shards and N parity shards. The last
// data shard is padded, each pad byte holding the pad length.
func ECEncode(K, N int, data []byte) ([][]byte, error) {
	padlen := K - (len(data) % K)
	if padlen > 255 {
		return nil, xerrors.Errorf("K=%d too large for byte padding", K)
	}
	padded := make([]byte, len(data), len(data)+padlen)
	copy(padded, data)
	for i := 0; i < padlen; i++ {
		padded = append(padded, byte(padlen))
	}

	step := len(padded) / K
	shards := make([][]byte, K+N)
	for i := 0; i < K; i++ {
		shards[i] = padded[i*step : (i+1)*step]
	}
	for i := K; i < K+N; i++ {
		shards[i] = make([]byte, step)
	}

	enc, err := reedsolomon.New(K, N)
	if err != nil {
		return nil, err
	}
	if err := enc.Encode(shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// ECDecode rebuilds the payload from at least K shards. Shards must be
// indexed by position, missing ones nil.
func ECDecode(K, N int, shards [][]byte) ([]byte, error) {
	if len(shards) != K+N {
		return nil, xerrors.Errorf("got %d shards, want %d", len(shards), K+N)
	}
	dec, err := reedsolomon.New(K, N)
	if err != nil {
		return nil, err
	}
	if err := dec.ReconstructData(shards); err != nil {
		return nil, err
	}

	result := bytes.Join(shards[:K], nil)
	if len(result) == 0 {
		return nil, xerrors.New("empty payload")
	}
	padlen := int(result[len(result)-1])
	if padlen == 0 || padlen > len(result) {
		return nil, xerrors.Errorf("bad padding %d", padlen)
	}
	return result[:len(result)-padlen], nil
}
