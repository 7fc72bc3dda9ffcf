package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeKeepsTaggedField(t *testing.T) {
	buf, err := Encode(&ABAMsg{AUXSETField: &AuxiliarySet{Round: 9, View: 3}})
	require.NoError(t, err)

	msg, err := Decode[ABAMsg](buf)
	require.NoError(t, err)
	require.Equal(t, "auxset", msg.Kind())
	require.Nil(t, msg.ESTField)
	require.Equal(t, uint32(9), msg.AUXSETField.Round)
	require.Equal(t, uint32(3), msg.AUXSETField.View)
}

func TestDealingEncodingIsDeterministic(t *testing.T) {
	d := &Dealing{
		Ephemeral:   []byte{1, 2, 3},
		Commits:     [][]byte{{4}, {5, 6}},
		Ciphertexts: [][]byte{{7}, {8}, {9, 10}},
	}
	a := MustEncode(d)
	b := MustEncode(d)
	require.Equal(t, a, b)

	back, err := Decode[Dealing](a)
	require.NoError(t, err)
	require.Equal(t, d, back)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode[ACSSMsg]([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}
