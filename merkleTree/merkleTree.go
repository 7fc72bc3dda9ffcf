package merkletree

import (
	"bytes"
	"crypto/sha256"
	"errors"
)

var (
	leafPrefix = []byte{0}
	nodePrefix = []byte{1}
)

func hashLeaf(val []byte) []byte {
	h := sha256.New()
	h.Write(leafPrefix)
	h.Write(val)
	return h.Sum(nil)
}

func hashNode(left, right []byte) []byte {
	h := sha256.New()
	h.Write(nodePrefix)
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// MakeMerkleTree builds a complete binary tree over the shards. mt[1] is the
// root, leaves start at len(mt)/2. Missing leaves hash the empty shard.
func MakeMerkleTree(shards [][]byte) ([][]byte, error) {
	n := len(shards)
	if n < 1 {
		return nil, errors.New("too few shards")
	}
	bottomrow := 1
	for bottomrow < n {
		bottomrow <<= 1
	}
	mt := make([][]byte, 2*bottomrow)
	for i := 0; i < bottomrow; i++ {
		if i < n {
			mt[bottomrow+i] = hashLeaf(shards[i])
		} else {
			mt[bottomrow+i] = hashLeaf(nil)
		}
	}

	for i := bottomrow - 1; i > 0; i-- {
		mt[i] = hashNode(mt[i*2], mt[i*2+1])
	}
	return mt, nil
}

// Root returns the root hash of a tree built by MakeMerkleTree.
func Root(mt [][]byte) []byte {
	return mt[1]
}

func GetMerkleBranch(index int, mt [][]byte) [][]byte {
	var res [][]byte
	t := index + (len(mt) >> 1)
	for t > 1 {
		res = append(res, mt[t^1])
		t /= 2
	}
	return res
}

// MerkleTreeVerify checks that val is the index-th leaf under rootHash.
func MerkleTreeVerify(val []byte, rootHash []byte, branch [][]byte, index int) bool {
	if index < 0 || index >= 1<<len(branch) {
		return false
	}
	tmp := hashLeaf(val)
	tIndex := index

	for _, br := range branch {
		if tIndex&1 == 1 {
			tmp = hashNode(br, tmp)
		} else {
			tmp = hashNode(tmp, br)
		}
		tIndex >>= 1
	}
	return bytes.Equal(tmp, rootHash)
}
