// Package merkle implements the RFC 6962 / RFC 9162 Merkle tree hashing used
// by the certificate ledger: leaf and node hashing, tree heads, and
// inclusion and consistency proofs over a list of leaf hashes.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
)

const HashSize = sha256.Size

var (
	ErrEmptyTree      = errors.New("empty merkle tree")
	ErrInvalidHashLen = errors.New("invalid hash length")
	ErrInvalidIndex   = errors.New("invalid leaf index")
	ErrInvalidSize    = errors.New("invalid tree size")
)

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// LeafHash hashes raw leaf data with the RFC 6962 leaf prefix.
func LeafHash(data []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(data)
	return h.Sum(nil)
}

func NodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// Root returns the Merkle tree hash of the given leaf hashes.
func Root(leaves [][]byte) ([]byte, error) {
	if err := validateLeaves(leaves); err != nil {
		return nil, err
	}
	return subtreeHash(leaves), nil
}

// InclusionProof returns the audit path for leaves[index] in the tree made of
// all given leaves.
func InclusionProof(leaves [][]byte, index int) ([][]byte, error) {
	if err := validateLeaves(leaves); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(leaves) {
		return nil, ErrInvalidIndex
	}
	return auditPath(leaves, index), nil
}

// ConsistencyProof proves that the tree of the first fromSize leaves is a
// prefix of the tree of the first toSize leaves.
func ConsistencyProof(leaves [][]byte, fromSize, toSize int) ([][]byte, error) {
	if fromSize <= 0 || fromSize > toSize || toSize > len(leaves) {
		return nil, ErrInvalidSize
	}
	if err := validateLeaves(leaves[:toSize]); err != nil {
		return nil, err
	}
	if fromSize == toSize {
		return [][]byte{}, nil
	}
	return subproof(fromSize, leaves[:toSize], true), nil
}

// VerifyInclusion checks an audit path against a tree head.
func VerifyInclusion(leafHash []byte, index, treeSize int, path [][]byte, root []byte) (bool, error) {
	if treeSize <= 0 {
		return false, ErrInvalidSize
	}
	if index < 0 || index >= treeSize {
		return false, ErrInvalidIndex
	}
	if err := validateHashes(append([][]byte{leafHash, root}, path...)); err != nil {
		return false, err
	}

	fn, sn := index, treeSize-1
	r := leafHash
	for _, p := range path {
		if sn == 0 {
			return false, nil
		}
		if fn&1 == 1 || fn == sn {
			r = NodeHash(p, r)
			for fn&1 == 0 && fn != 0 {
				fn >>= 1
				sn >>= 1
			}
		} else {
			r = NodeHash(r, p)
		}
		fn >>= 1
		sn >>= 1
	}
	return sn == 0 && bytes.Equal(r, root), nil
}

// VerifyConsistency checks that oldRoot (fromSize leaves) is a prefix of
// newRoot (toSize leaves).
func VerifyConsistency(oldRoot, newRoot []byte, fromSize, toSize int, path [][]byte) (bool, error) {
	if fromSize <= 0 || fromSize > toSize {
		return false, ErrInvalidSize
	}
	if err := validateHashes(append([][]byte{oldRoot, newRoot}, path...)); err != nil {
		return false, err
	}
	if fromSize == toSize {
		return len(path) == 0 && bytes.Equal(oldRoot, newRoot), nil
	}
	if len(path) == 0 {
		return false, nil
	}
	if isPowerOfTwo(fromSize) {
		path = append([][]byte{oldRoot}, path...)
	}

	fn, sn := fromSize-1, toSize-1
	for fn&1 == 1 {
		fn >>= 1
		sn >>= 1
	}
	fr, sr := path[0], path[0]
	for _, c := range path[1:] {
		if sn == 0 {
			return false, nil
		}
		if fn&1 == 1 || fn == sn {
			fr = NodeHash(c, fr)
			sr = NodeHash(c, sr)
			for fn&1 == 0 && fn != 0 {
				fn >>= 1
				sn >>= 1
			}
		} else {
			sr = NodeHash(sr, c)
		}
		fn >>= 1
		sn >>= 1
	}
	return sn == 0 && bytes.Equal(fr, oldRoot) && bytes.Equal(sr, newRoot), nil
}

func subtreeHash(leaves [][]byte) []byte {
	if len(leaves) == 1 {
		return clone(leaves[0])
	}
	k := splitPoint(len(leaves))
	return NodeHash(subtreeHash(leaves[:k]), subtreeHash(leaves[k:]))
}

func auditPath(leaves [][]byte, index int) [][]byte {
	if len(leaves) == 1 {
		return [][]byte{}
	}
	k := splitPoint(len(leaves))
	if index < k {
		return append(auditPath(leaves[:k], index), subtreeHash(leaves[k:]))
	}
	return append(auditPath(leaves[k:], index-k), subtreeHash(leaves[:k]))
}

func subproof(m int, leaves [][]byte, complete bool) [][]byte {
	n := len(leaves)
	if m == n {
		if complete {
			return [][]byte{}
		}
		return [][]byte{subtreeHash(leaves)}
	}
	k := splitPoint(n)
	if m <= k {
		return append(subproof(m, leaves[:k], complete), subtreeHash(leaves[k:]))
	}
	return append(subproof(m-k, leaves[k:], false), subtreeHash(leaves[:k]))
}

// splitPoint is the largest power of two strictly less than n (n > 1).
func splitPoint(n int) int {
	k := 1
	for k<<1 < n {
		k <<= 1
	}
	return k
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func validateLeaves(leaves [][]byte) error {
	if len(leaves) == 0 {
		return ErrEmptyTree
	}
	for i, leaf := range leaves {
		if len(leaf) != HashSize {
			return fmt.Errorf("leaf %d: %w", i, ErrInvalidHashLen)
		}
	}
	return nil
}

func validateHashes(hashes [][]byte) error {
	for _, h := range hashes {
		if len(h) != HashSize {
			return ErrInvalidHashLen
		}
	}
	return nil
}

func clone(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
