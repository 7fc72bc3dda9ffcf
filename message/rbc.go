package message

type VAL struct {
	// Merkle root hash, branch to verify shard belong to merkle tree
	RootHash []byte
	Branch   [][]byte
	Shard    []byte
}

type ECHO struct {
	RootHash []byte
	Branch   [][]byte
	Shard    []byte
}

type READY struct {
	RootHash []byte
}

type RBCMsg struct {
	// Only the dealer sends VAL
	VALField   *VAL
	ECHOField  *ECHO
	READYField *READY
}

// Kind names the set field.
func (m *RBCMsg) Kind() string {
	switch {
	case m.VALField != nil:
		return "val"
	case m.ECHOField != nil:
		return "echo"
	case m.READYField != nil:
		return "ready"
	}
	return "empty"
}
