package verify

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"io"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/xerrors"
)

const (
	symKeyLen = 32
	kdfInfo   = "adkg-acss-share"
)

// Seal encrypts msg under a symmetric key derived from the DH point key.
// The nonce is drawn from rand and prepended to the ciphertext.
func Seal(key kyber.Point, msg, aad []byte, rand io.Reader) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, msg, aad), nil
}

// Open reverses Seal. Any failure is reported as ErrDecrypt.
func Open(key kyber.Point, ciphertext, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	msg, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return msg, nil
}

func newAEAD(key kyber.Point) (cipher.AEAD, error) {
	dh, err := key.MarshalBinary()
	if err != nil {
		return nil, err
	}
	sym := make([]byte, symKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, dh, nil, []byte(kdfInfo)), sym); err != nil {
		return nil, xerrors.Errorf("deriving key: %w", err)
	}
	block, err := aes.NewCipher(sym)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
