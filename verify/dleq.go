package verify

import (
	"bytes"
	"encoding"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/proof/dleq"
	"golang.org/x/xerrors"
)

// ProveDLEQ proves log_G(x*G) == log_H(x*H) and returns the encoded proof
// together with x*G and x*H.
func ProveDLEQ(suite Suite, h kyber.Point, x kyber.Scalar) ([]byte, kyber.Point, kyber.Point, error) {
	proof, xG, xH, err := dleq.NewDLEQProof(suite, suite.Point().Base(), h, x)
	if err != nil {
		return nil, nil, nil, err
	}
	buf, err := marshalProof(proof)
	if err != nil {
		return nil, nil, nil, err
	}
	return buf, xG, xH, nil
}

// VerifyDLEQ checks an encoded proof that log_G(xG) == log_H(xH).
func VerifyDLEQ(suite Suite, h, xG, xH kyber.Point, buf []byte) error {
	proof, err := unmarshalProof(suite, buf)
	if err != nil {
		return err
	}
	if err := proof.Verify(suite, suite.Point().Base(), h, xG, xH); err != nil {
		return xerrors.Errorf("%v: %w", err, ErrInvalidProof)
	}
	return nil
}

// SharedKey returns sk * ephemeral, the key a dealer used toward the owner
// of sk, with a proof that it matches the owner's public key.
func SharedKey(suite Suite, sk kyber.Scalar, ephemeral kyber.Point) (kyber.Point, []byte, error) {
	proof, _, key, err := ProveDLEQ(suite, ephemeral, sk)
	if err != nil {
		return nil, nil, err
	}
	return key, proof, nil
}

// VerifySharedKey checks that key == sk * ephemeral where pk == sk * G.
func VerifySharedKey(suite Suite, pk, ephemeral, key kyber.Point, proof []byte) error {
	return VerifyDLEQ(suite, ephemeral, pk, key, proof)
}

func marshalProof(p *dleq.Proof) ([]byte, error) {
	var b bytes.Buffer
	for _, m := range []encoding.BinaryMarshaler{p.C, p.R, p.VG, p.VH} {
		buf, err := m.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b.Write(buf)
	}
	return b.Bytes(), nil
}

func unmarshalProof(suite Suite, buf []byte) (*dleq.Proof, error) {
	sl, pl := suite.ScalarLen(), suite.PointLen()
	if len(buf) != 2*sl+2*pl {
		return nil, xerrors.Errorf("proof length %d: %w", len(buf), ErrMalformedData)
	}
	p := &dleq.Proof{
		C:  suite.Scalar(),
		R:  suite.Scalar(),
		VG: suite.Point(),
		VH: suite.Point(),
	}
	if err := p.C.UnmarshalBinary(buf[:sl]); err != nil {
		return nil, xerrors.Errorf("proof C: %w", ErrMalformedData)
	}
	if err := p.R.UnmarshalBinary(buf[sl : 2*sl]); err != nil {
		return nil, xerrors.Errorf("proof R: %w", ErrMalformedData)
	}
	if err := p.VG.UnmarshalBinary(buf[2*sl : 2*sl+pl]); err != nil {
		return nil, xerrors.Errorf("proof VG: %w", ErrMalformedData)
	}
	if err := p.VH.UnmarshalBinary(buf[2*sl+pl:]); err != nil {
		return nil, xerrors.Errorf("proof VH: %w", ErrMalformedData)
	}
	return p, nil
}
