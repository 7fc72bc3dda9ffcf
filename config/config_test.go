package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zhazhalaila/AsyncDKG/libnet"
	"github.com/zhazhalaila/AsyncDKG/party"
)

const sample = `
id = 2
n = 4
t = 1
listen = "127.0.0.1:9002"
metrics_bind = "127.0.0.1:9102"

[log]
level = "debug"
json = true

[retry]
attempts = 3
backoff = "150ms"

[[peers]]
id = 1
addr = "127.0.0.1:9001"
[[peers]]
id = 2
addr = "127.0.0.1:9002"
[[peers]]
id = 3
addr = "127.0.0.1:9003"

[[sessions]]
kind = "aba"
id = 1
estimate = 1

[[sessions]]
kind = "acss"
id = 2
dealer = 3
`

func write(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	n, err := Load(write(t, sample))
	require.NoError(t, err)

	require.Equal(t, party.Params{N: 4, T: 1, ID: 2}, n.Params())
	require.Equal(t, DefaultTopicPrefix, n.TopicPrefix)
	require.Equal(t, DefaultDataDir, n.DataDir)
	require.Equal(t, "127.0.0.1:9102", n.MetricsBind)
	require.True(t, n.Log.JSON)
	require.Equal(t, libnet.LinearBackoff{Attempts: 3, Step: 150 * time.Millisecond}, n.RetryStrategy())

	peers := n.NetworkPeers()
	require.Len(t, peers, 2)
	require.Equal(t, party.ID(1), peers[0].ID)
	require.Equal(t, party.ID(3), peers[1].ID)

	require.Len(t, n.Sessions, 2)
	require.Equal(t, KindACSS, n.Sessions[1].Kind)
	require.Equal(t, uint32(3), n.Sessions[1].Dealer)
}

func TestValidateRejects(t *testing.T) {
	base := "id = 1\nn = 4\nt = 1\nlisten = \":9000\"\n"
	tests := map[string]string{
		"too many faults": "id = 1\nn = 3\nt = 1\nlisten = \":9000\"\n",
		"no listen":       "id = 1\nn = 4\nt = 1\n",
		"bad level":       base + "[log]\nlevel = \"loud\"\n",
		"bad estimate":    base + "[[sessions]]\nkind = \"aba\"\nid = 1\nestimate = 2\n",
		"bad dealer":      base + "[[sessions]]\nkind = \"acss\"\nid = 1\ndealer = 5\n",
		"unknown kind":    base + "[[sessions]]\nkind = \"acs\"\nid = 1\n",
		"dup session":     base + "[[sessions]]\nkind = \"aba\"\nid = 1\n[[sessions]]\nkind = \"aba\"\nid = 1\n",
		"dup peer":        base + "[[peers]]\nid = 2\naddr = \"a\"\n[[peers]]\nid = 2\naddr = \"b\"\n",
		"bad backoff":     base + "[retry]\nbackoff = \"soon\"\n",
	}
	for name, content := range tests {
		_, err := Load(write(t, content))
		require.Error(t, err, name)
	}
}

func TestDefaultRetry(t *testing.T) {
	n, err := Load(write(t, "id = 1\nn = 4\nt = 1\nlisten = \":9000\"\n"))
	require.NoError(t, err)
	require.Equal(t, libnet.DefaultRetry, n.RetryStrategy())
}
