package libnet

import (
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Inbound) Inbound {
	t.Helper()
	select {
	case in, ok := <-ch:
		require.True(t, ok, "stream closed")
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	return Inbound{}
}

func TestRouterBuffersBeforeSubscribe(t *testing.T) {
	defer leaktest.Check(t)()

	r := NewRouter()
	for i := 0; i < 100; i++ {
		r.Deliver("a", Inbound{Sender: 1, Payload: []byte{byte(i)}})
	}
	r.Deliver("b", Inbound{Sender: 2, Payload: []byte("b")})

	a := r.Subscribe("a")
	for i := 0; i < 100; i++ {
		require.Equal(t, []byte{byte(i)}, recv(t, a).Payload)
	}
	require.Equal(t, []byte("b"), recv(t, r.Subscribe("b")).Payload)

	r.Close()
	_, ok := <-a
	require.False(t, ok)
	_, ok = <-r.Subscribe("late")
	require.False(t, ok)
}
