package message

type Ok struct {
	// Digest of the dealing commitments the vote is for
	Digest []byte
}

type Ready struct {
	Digest []byte
}

type Implicate struct {
	// SharedKey is the ECDH key between the dealer ephemeral and the
	// implicator, Proof shows it is consistent with the implicator's
	// long-term public key
	SharedKey []byte
	Proof     []byte
}

type ShareRecovery struct {
	SharedKey []byte
}

type ACSSMsg struct {
	OKField        *Ok
	READYField     *Ready
	IMPLICATEField *Implicate
	RECOVERYField  *ShareRecovery
}

// Kind names the set field.
func (m *ACSSMsg) Kind() string {
	switch {
	case m.OKField != nil:
		return "ok"
	case m.READYField != nil:
		return "ready"
	case m.IMPLICATEField != nil:
		return "implicate"
	case m.RECOVERYField != nil:
		return "recovery"
	}
	return "empty"
}

// Dealing is the payload the dealer pushes through reliable broadcast.
type Dealing struct {
	// Ephemeral is R = r*G, Commits are the Feldman commitments of the
	// degree t polynomial and Ciphertexts[i] is the share of party i+1
	// sealed under r*PK_{i+1}
	Ephemeral   []byte
	Commits     [][]byte
	Ciphertexts [][]byte
}

// ShareRecord is what a node persists once an ACSS session completes.
type ShareRecord struct {
	Session uint64
	Dealer  uint32
	Index   uint32
	Share   []byte
	Commits [][]byte
	// Path is "direct" or "recovered"
	Path string
}

// DecisionRecord is what a node persists once an ABA session decides.
type DecisionRecord struct {
	Session uint64
	Value   int32
}
