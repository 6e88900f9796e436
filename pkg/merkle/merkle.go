// Package merkle builds the voter-set commitment published to the ledger.
//
// Leaves are keccak256 hashes of the canonical identifier set (trimmed,
// de-duplicated, sorted). Each parent is keccak256 of its two children in
// ascending byte order, so proofs carry no left/right flags. A node without a
// sibling at the end of a level is promoted unchanged.
package merkle

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrEmptyVoterSet is returned when no identifier survives canonicalization
var ErrEmptyVoterSet = errors.New("empty voter set")

// Tree is a fully materialized commitment tree
type Tree struct {
	levels [][][]byte
	index  map[string]int
}

// Proof is the list of sibling hashes from a leaf up to the root
type Proof struct {
	Leaf     []byte
	Siblings [][]byte
}

// Keccak256 hashes the concatenation of data
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// LeafHash returns the leaf hash of one identifier
func LeafHash(identifier string) []byte {
	return Keccak256([]byte(identifier))
}

// Canonicalize trims, drops empty entries, de-duplicates and sorts identifiers
func Canonicalize(identifiers []string) []string {
	seen := make(map[string]struct{}, len(identifiers))
	out := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Build constructs the tree over the canonical form of identifiers
func Build(identifiers []string) (*Tree, error) {
	ids := Canonicalize(identifiers)
	if len(ids) == 0 {
		return nil, ErrEmptyVoterSet
	}

	t := &Tree{index: make(map[string]int, len(ids))}
	leaves := make([][]byte, len(ids))
	for i, id := range ids {
		leaves[i] = LeafHash(id)
		t.index[id] = i
	}
	t.levels = append(t.levels, leaves)

	for level := leaves; len(level) > 1; {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t, nil
}

// Root returns the raw root hash
func (t *Tree) Root() []byte {
	top := t.levels[len(t.levels)-1]
	return append([]byte(nil), top[0]...)
}

// RootHex returns the root as 0x-prefixed lowercase hex
func (t *Tree) RootHex() string {
	return EncodeHex(t.Root())
}

// Size returns the number of leaves
func (t *Tree) Size() int {
	return len(t.levels[0])
}

// Proof returns the inclusion proof of identifier, or false if it is not a member
func (t *Tree) Proof(identifier string) (*Proof, bool) {
	index, ok := t.index[strings.TrimSpace(identifier)]
	if !ok {
		return nil, false
	}

	proof := &Proof{Leaf: t.levels[0][index]}
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		if sibling < len(level) {
			proof.Siblings = append(proof.Siblings, level[sibling])
		}
		index /= 2
	}
	return proof, true
}

// Verify checks that identifier is committed to by root
func Verify(identifier string, proof *Proof, root []byte) bool {
	if proof == nil {
		return false
	}
	h := LeafHash(strings.TrimSpace(identifier))
	if !bytes.Equal(h, proof.Leaf) {
		return false
	}
	for _, sibling := range proof.Siblings {
		h = hashPair(h, sibling)
	}
	return bytes.Equal(h, root)
}

// ComputeRoot is Build followed by RootHex
func ComputeRoot(identifiers []string) (string, error) {
	t, err := Build(identifiers)
	if err != nil {
		return "", err
	}
	return t.RootHex(), nil
}

// EncodeHex renders b as 0x-prefixed lowercase hex
func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// DecodeHex parses a 0x-prefixed 32-byte hash
func DecodeHex(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decoding hash %q: %w", s, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("decoding hash %q: want 32 bytes, got %d", s, len(raw))
	}
	return raw, nil
}

func hashPair(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	return Keccak256(a, b)
}
