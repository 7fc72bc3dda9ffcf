package libnet

import (
	"context"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
	"github.com/zhazhalaila/AsyncDKG/party"
)

func TestMemNetworkBroadcastIncludesSelf(t *testing.T) {
	defer leaktest.Check(t)()

	net := NewMemNetwork(4)
	defer net.Close()
	ctx := context.Background()

	require.NoError(t, net.Endpoint(2).Broadcast(ctx, "t", []byte("hi")))
	for i := 1; i <= 4; i++ {
		in := recv(t, net.Endpoint(party.ID(i)).Subscribe("t"))
		require.Equal(t, party.ID(2), in.Sender)
		require.Equal(t, []byte("hi"), in.Payload)
	}
}

func TestMemNetworkFilterAndInject(t *testing.T) {
	defer leaktest.Check(t)()

	net := NewMemNetwork(3)
	defer net.Close()
	ctx := context.Background()

	net.SetFilter(func(from, to party.ID, topic string, payload []byte) ([]byte, bool) {
		if to == 3 {
			return nil, false
		}
		if to == 2 {
			return []byte("rewritten"), true
		}
		return payload, true
	})
	require.NoError(t, net.Endpoint(1).Broadcast(ctx, "t", []byte("orig")))
	require.Equal(t, []byte("orig"), recv(t, net.Endpoint(1).Subscribe("t")).Payload)
	require.Equal(t, []byte("rewritten"), recv(t, net.Endpoint(2).Subscribe("t")).Payload)

	net.Inject(1, 3, "t", []byte("injected"))
	in := recv(t, net.Endpoint(3).Subscribe("t"))
	require.Equal(t, []byte("injected"), in.Payload, "filtered broadcast never reached party 3")

	require.Error(t, net.Endpoint(1).Send(ctx, 9, "t", nil))
}

func TestMemNetworkCrashedPartyReported(t *testing.T) {
	defer leaktest.Check(t)()

	net := NewMemNetwork(3)
	defer net.Close()
	net.Crash(3)

	err := net.Endpoint(1).Broadcast(context.Background(), "t", []byte("hi"))
	require.ErrorIs(t, err, ErrUnreachable)
	require.Equal(t, []party.ID{3}, FailedPeers(err))
	require.Equal(t, []byte("hi"), recv(t, net.Endpoint(2).Subscribe("t")).Payload, "others still reached")
}
