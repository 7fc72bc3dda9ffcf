package message

type Estimate struct {
	// Stage is 1 or 2, Value is 0 (zero), 1 (one) or 2 (bot)
	Round uint32
	Stage int32
	Value int32
}

type Auxiliary struct {
	// Value seen in bin_values of (Round, Stage)
	Round uint32
	Stage int32
	Value int32
}

type AuxiliarySet struct {
	// View bit set, bit i set means estimate value i is in the view
	Round uint32
	View  uint32
}

type CoinEval struct {
	// Eval = sk_i * H(session, combined key, round), Proof is a DLEQ proof
	// against the sender's verification key
	Round uint32
	Eval  []byte
	Proof []byte
}

type ABAMsg struct {
	// Exactly one field is set
	ESTField    *Estimate
	AUXField    *Auxiliary
	AUXSETField *AuxiliarySet
	COINField   *CoinEval
}

// Kind names the set field, used for metrics labels and logs.
func (m *ABAMsg) Kind() string {
	switch {
	case m.ESTField != nil:
		return "est"
	case m.AUXField != nil:
		return "aux"
	case m.AUXSETField != nil:
		return "auxset"
	case m.COINField != nil:
		return "coin"
	}
	return "empty"
}
