// Package config reads the TOML configuration of a node.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/zhazhalaila/AsyncDKG/libnet"
	"github.com/zhazhalaila/AsyncDKG/log"
	"github.com/zhazhalaila/AsyncDKG/party"
	"golang.org/x/xerrors"
)

// Session kinds.
const (
	KindABA  = "aba"
	KindACSS = "acss"
)

const (
	DefaultTopicPrefix = "adkg"
	DefaultDataDir     = "./data"
)

// Node is the configuration of one party.
type Node struct {
	ID          uint32
	N           int
	T           int
	Listen      string
	TopicPrefix string `toml:"topic_prefix"`
	DataDir     string `toml:"data_dir"`
	MetricsBind string `toml:"metrics_bind"`
	Log         Log
	Retry       Retry
	Peers       []Peer
	Sessions    []Session
}

type Log struct {
	Level string
	JSON  bool
}

// Retry is the send retry policy: Attempts retries, waiting attempt*Backoff.
type Retry struct {
	Attempts int
	Backoff  duration
}

type Peer struct {
	ID   uint32
	Addr string
}

// Session is one protocol run the node takes part in. Estimate is the ABA
// input (0 or 1). Dealer is the ACSS dealer; the dealer shares a fresh
// random secret.
type Session struct {
	Kind     string
	ID       uint64
	Estimate int
	Dealer   uint32
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads and validates the file at path.
func Load(path string) (*Node, error) {
	n := &Node{}
	if _, err := toml.DecodeFile(path, n); err != nil {
		return nil, xerrors.Errorf("reading %s: %w", path, err)
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Validate fills defaults and checks the configuration is usable.
func (n *Node) Validate() error {
	if n.TopicPrefix == "" {
		n.TopicPrefix = DefaultTopicPrefix
	}
	if n.DataDir == "" {
		n.DataDir = DefaultDataDir
	}
	if err := n.Params().Validate(); err != nil {
		return err
	}
	if n.Listen == "" {
		return xerrors.New("listen address is required")
	}
	if _, err := log.ParseLevel(n.Log.Level); err != nil {
		return err
	}
	if n.Retry.Attempts < 0 || n.Retry.Backoff.Duration < 0 {
		return xerrors.New("retry attempts and backoff must not be negative")
	}

	seen := make(map[uint32]bool, len(n.Peers))
	for _, p := range n.Peers {
		if !n.Params().Contains(party.ID(p.ID)) || seen[p.ID] || p.Addr == "" {
			return xerrors.Errorf("invalid or duplicate peer %d %q", p.ID, p.Addr)
		}
		seen[p.ID] = true
	}

	sessions := make(map[uint64]bool, len(n.Sessions))
	for _, s := range n.Sessions {
		if sessions[s.ID] {
			return xerrors.Errorf("duplicate session %d", s.ID)
		}
		sessions[s.ID] = true
		switch s.Kind {
		case KindABA:
			if s.Estimate != 0 && s.Estimate != 1 {
				return xerrors.Errorf("session %d: estimate must be 0 or 1", s.ID)
			}
		case KindACSS:
			if !n.Params().Contains(party.ID(s.Dealer)) {
				return xerrors.Errorf("session %d: dealer %d out of range", s.ID, s.Dealer)
			}
		default:
			return xerrors.Errorf("session %d: unknown kind %q", s.ID, s.Kind)
		}
	}
	return nil
}

func (n *Node) Params() party.Params {
	return party.Params{N: n.N, T: n.T, ID: party.ID(n.ID)}
}

// RetryStrategy returns the configured policy, or the default one when no
// attempts are configured.
func (n *Node) RetryStrategy() libnet.RetryStrategy {
	if n.Retry.Attempts == 0 {
		return libnet.DefaultRetry
	}
	return libnet.LinearBackoff{Attempts: n.Retry.Attempts, Step: n.Retry.Backoff.Duration}
}

// NetworkPeers converts the peer list, leaving out the local party.
func (n *Node) NetworkPeers() []libnet.Peer {
	peers := make([]libnet.Peer, 0, len(n.Peers))
	for _, p := range n.Peers {
		if p.ID == n.ID {
			continue
		}
		peers = append(peers, libnet.Peer{ID: party.ID(p.ID), Addr: p.Addr})
	}
	return peers
}
