package store

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zhazhalaila/AsyncDKG/log/testlogger"
	"github.com/zhazhalaila/AsyncDKG/message"
	"golang.org/x/xerrors"
)

func TestStoreRecords(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testlogger.New(t), nil)
	require.NoError(t, err)

	_, err = s.Decision(3)
	require.True(t, xerrors.Is(err, ErrNotFound))

	require.NoError(t, s.SaveDecision(&message.DecisionRecord{Session: 3, Value: 1}))
	require.NoError(t, s.SaveShare(&message.ShareRecord{Session: 9, Dealer: 2, Index: 4, Share: []byte{1}, Path: "recovered"}))
	require.NoError(t, s.SaveShare(&message.ShareRecord{Session: 7, Dealer: 1, Index: 4, Share: []byte{2}, Path: "direct"}))
	require.NoError(t, s.Close())

	// records survive a reopen
	s, err = Open(dir, testlogger.New(t), nil)
	require.NoError(t, err)
	defer s.Close()

	d, err := s.Decision(3)
	require.NoError(t, err)
	require.Equal(t, int32(1), d.Value)

	sh, err := s.Share(9)
	require.NoError(t, err)
	require.Equal(t, "recovered", sh.Path)
	require.Equal(t, uint32(2), sh.Dealer)

	all, err := s.Shares()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, uint64(7), all[0].Session)
	require.Equal(t, uint64(9), all[1].Session)
}
