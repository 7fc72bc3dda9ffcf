package libnet

import (
	"context"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
	"github.com/zhazhalaila/AsyncDKG/log/testlogger"
	"github.com/zhazhalaila/AsyncDKG/party"
)

func TestNetworkRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()

	logger := testlogger.New(t)
	nodes := make([]*Network, 3)
	for i := range nodes {
		nodes[i] = MakeNetwork(logger, party.FromIndex(i), "127.0.0.1:0", nil)
		require.NoError(t, nodes[i].Start())
	}
	for _, a := range nodes {
		for j, b := range nodes {
			a.AddPeer(Peer{ID: party.FromIndex(j), Addr: b.Addr()})
		}
	}

	ctx := context.Background()
	require.NoError(t, nodes[0].Broadcast(ctx, "aba/1", []byte("est")))
	require.NoError(t, nodes[2].Send(ctx, 2, "acss/1", []byte("ok")))

	for _, n := range nodes {
		in := recv(t, n.Subscribe("aba/1"))
		require.Equal(t, party.ID(1), in.Sender)
		require.Equal(t, []byte("est"), in.Payload)
	}
	in := recv(t, nodes[1].Subscribe("acss/1"))
	require.Equal(t, party.ID(3), in.Sender)

	for _, n := range nodes {
		require.NoError(t, n.Shutdown())
	}
}

func TestNetworkBroadcastReportsDeadPeer(t *testing.T) {
	logger := testlogger.New(t)
	dead := MakeNetwork(logger, 2, "127.0.0.1:0", nil)
	require.NoError(t, dead.Start())
	deadAddr := dead.Addr()
	require.NoError(t, dead.Shutdown())

	live := MakeNetwork(logger, 3, "127.0.0.1:0", nil)
	require.NoError(t, live.Start())
	n := MakeNetwork(logger, 1, "127.0.0.1:0", []Peer{{ID: 2, Addr: deadAddr}, {ID: 3, Addr: live.Addr()}})
	require.NoError(t, n.Start())

	err := n.Broadcast(context.Background(), "aba/1", []byte("est"))
	require.Equal(t, []party.ID{2}, FailedPeers(err))
	require.Equal(t, []byte("est"), recv(t, live.Subscribe("aba/1")).Payload)
	require.Equal(t, []byte("est"), recv(t, n.Subscribe("aba/1")).Payload)

	require.NoError(t, n.Shutdown())
	require.NoError(t, live.Shutdown())
}
