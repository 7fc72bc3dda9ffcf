package metrics

import (
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/zhazhalaila/AsyncDKG/log/testlogger"
)

func TestStartServesCounters(t *testing.T) {
	l, err := Start("127.0.0.1:0", testlogger.New(t))
	require.NoError(t, err)
	defer l.Close()

	before := testutil.ToFloat64(ABADecisions.WithLabelValues("one"))
	ABADecisions.WithLabelValues("one").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(ABADecisions.WithLabelValues("one")))

	resp, err := http.Get("http://" + l.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `adkg_aba_decisions_total{value="one"}`)
}
