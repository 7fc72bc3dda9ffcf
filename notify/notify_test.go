package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func TestNotifyWakesAllWaiters(t *testing.T) {
	defer leaktest.Check(t)()

	m := NewMap[int]()
	var wg sync.WaitGroup
	started := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := m.Notified(1)
			started <- struct{}{}
			<-ch
		}()
	}
	for i := 0; i < 3; i++ {
		<-started
	}

	m.Notify(1)
	wg.Wait()
}

func TestNotifyIsPerKey(t *testing.T) {
	m := NewMap[string]()
	a := m.Notified("a")
	b := m.Notified("b")

	m.Notify("b")

	select {
	case <-b:
	case <-time.After(time.Second):
		t.Fatal("waiter on b not released")
	}
	select {
	case <-a:
		t.Fatal("waiter on a released by notify on b")
	default:
	}
}

func TestLateWaiterGetsFreshChannel(t *testing.T) {
	m := NewMap[int]()
	first := m.Notified(7)
	m.Notify(7)
	<-first

	second := m.Notified(7)
	select {
	case <-second:
		t.Fatal("a waiter arriving after the signal must not be released by it")
	default:
	}

	// notify without waiters is a no-op
	m.Notify(8)
	require.NotNil(t, m.Notified(8))
}
