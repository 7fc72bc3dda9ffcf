package consensus

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/zhazhalaila/AsyncDKG/libnet"
	"github.com/zhazhalaila/AsyncDKG/log"
	"github.com/zhazhalaila/AsyncDKG/party"
	"github.com/zhazhalaila/AsyncDKG/verify"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// ModuleConfig is what every protocol instance of a node shares.
type ModuleConfig struct {
	Logger      log.Logger
	Params      party.Params
	Suite       verify.Suite
	Transport   libnet.Transport
	TopicPrefix string
	Retry       libnet.RetryStrategy
	Clock       clockwork.Clock
	// Long-term keys used by ACSS to encrypt shares. LongTermPublics[i]
	// belongs to party i+1.
	LongTermSecret  kyber.Scalar
	LongTermPublics []kyber.Point
}

// Module creates protocol instances bound to session ids.
type Module struct {
	logger log.Logger
	cfg    ModuleConfig
	sender *libnet.Sender
}

// NewModule validates cfg and returns a Module.
func NewModule(cfg ModuleConfig) (*Module, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrInvalidParams)
	}
	if cfg.Transport == nil {
		return nil, xerrors.Errorf("nil transport: %w", ErrInvalidParams)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.DefaultLogger()
	}
	if cfg.Suite == nil {
		cfg.Suite = verify.DefaultSuite()
	}
	if cfg.LongTermPublics != nil && len(cfg.LongTermPublics) != cfg.Params.N {
		return nil, xerrors.Errorf("%d long-term publics for n=%d: %w", len(cfg.LongTermPublics), cfg.Params.N, ErrInvalidParams)
	}
	logger := cfg.Logger.With("party", cfg.Params.ID)
	return &Module{
		logger: logger,
		cfg:    cfg,
		sender: libnet.NewSender(cfg.Transport, cfg.Retry, cfg.Clock, logger),
	}, nil
}

// ID is the local party.
func (m *Module) ID() party.ID {
	return m.cfg.Params.ID
}

// Params returns the committee parameters.
func (m *Module) Params() party.Params {
	return m.cfg.Params
}

func (m *Module) topic(kind string, sid party.SessionID) string {
	return fmt.Sprintf("%s/%s/%d", m.cfg.TopicPrefix, kind, sid)
}

// NewABA returns the ABA instance of session sid. Its inbound stream is
// subscribed right away so no message is lost before Propose.
func (m *Module) NewABA(sid party.SessionID) *ABA {
	return MakeABA(m.logger.Named("aba").With("session", sid), m.cfg.Params, m.cfg.Suite, sid,
		m.topic("aba", sid), m.sender)
}

// NewRBC returns the reliable broadcast serving the ACSS of session sid.
func (m *Module) NewRBC(sid party.SessionID, dealer party.ID) *RBC {
	return MakeRBC(m.logger.Named("rbc").With("session", sid, "dealer", dealer), m.cfg.Params, sid, dealer,
		m.topic("acss", sid)+"/rbc", m.sender)
}

// NewACSS returns the ACSS instance of session sid, dispersing through rbc.
func (m *Module) NewACSS(sid party.SessionID, dealer party.ID, rbc ReliableBroadcast) (*ACSS, error) {
	if !m.cfg.Params.Contains(dealer) {
		return nil, xerrors.Errorf("dealer %d: %w", dealer, ErrInvalidParams)
	}
	if m.cfg.LongTermSecret == nil || len(m.cfg.LongTermPublics) != m.cfg.Params.N {
		return nil, xerrors.Errorf("acss needs long-term keys: %w", ErrInvalidParams)
	}
	return MakeACSS(m.logger.Named("acss").With("session", sid, "dealer", dealer), m.cfg.Params, m.cfg.Suite, sid,
		dealer, m.topic("acss", sid), m.sender, rbc, m.cfg.LongTermSecret, m.cfg.LongTermPublics), nil
}
