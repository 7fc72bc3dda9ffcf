package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zhazhalaila/AsyncDKG/libnet"
	"github.com/zhazhalaila/AsyncDKG/log"
	"github.com/zhazhalaila/AsyncDKG/log/testlogger"
	"github.com/zhazhalaila/AsyncDKG/party"
	"github.com/zhazhalaila/AsyncDKG/verify"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/random"
)

const testTimeout = 30 * time.Second

func testLogger(t *testing.T) log.Logger {
	return testlogger.New(t)
}

// newTestModules builds one Module per party over net, with fresh
// long-term keys and no send retries.
func newTestModules(t *testing.T, net *libnet.MemNetwork, n, th int) []*Module {
	return newRetryingModules(t, net, n, th, libnet.LinearBackoff{})
}

func newRetryingModules(t *testing.T, net *libnet.MemNetwork, n, th int, retry libnet.RetryStrategy) []*Module {
	suite := verify.DefaultSuite()
	secrets := make([]kyber.Scalar, n)
	publics := make([]kyber.Point, n)
	for i := range secrets {
		secrets[i] = suite.Scalar().Pick(random.New())
		publics[i] = suite.Point().Mul(secrets[i], nil)
	}

	modules := make([]*Module, n)
	for i := range modules {
		id := party.FromIndex(i)
		m, err := NewModule(ModuleConfig{
			Logger:          testLogger(t),
			Params:          party.Params{N: n, T: th, ID: id},
			Suite:           suite,
			Transport:       net.Endpoint(id),
			TopicPrefix:     "test",
			Retry:           retry,
			LongTermSecret:  secrets[i],
			LongTermPublics: publics,
		})
		require.NoError(t, err)
		modules[i] = m
	}
	return modules
}

func waitErr(t *testing.T, errs <-chan error, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(testTimeout):
			t.Fatal("protocol did not return after cancellation")
		}
	}
}
