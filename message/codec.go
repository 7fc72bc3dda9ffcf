package message

import (
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// Encode serializes a wire struct.
func Encode(msg interface{}) ([]byte, error) {
	buf, err := protobuf.Encode(msg)
	if err != nil {
		return nil, xerrors.Errorf("encoding %T: %w", msg, err)
	}
	return buf, nil
}

// MustEncode is Encode for structs built locally, where failure is a bug.
func MustEncode(msg interface{}) []byte {
	buf, err := Encode(msg)
	if err != nil {
		panic(err)
	}
	return buf
}

// Decode parses buf into a fresh T.
func Decode[T any](buf []byte) (*T, error) {
	msg := new(T)
	if err := protobuf.Decode(buf, msg); err != nil {
		return nil, xerrors.Errorf("decoding %T: %w", msg, err)
	}
	return msg, nil
}
