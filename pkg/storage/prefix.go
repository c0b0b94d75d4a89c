// Every logical table lives under a fixed-length prefix in the backing store, so the composed key
// `prefix || encodedKey` of one table can never collide with a key of another table.

package storage

import (
	"errors"
	"fmt"
	"slices"
)

// Prefix identifies a logical table in the backing store and routes undo operations to their cache.
type Prefix string

// PrefixLen is the fixed byte length of every prefix.
const PrefixLen = 4

const (
	SysGovern      Prefix = "sgov" // sgov -> list of governer regids
	GovernProposal Prefix = "pgvn" // pgvn{txid} -> proposal
	GovernSecond   Prefix = "sgvn" // sgvn{txid} -> list of assenting governer regids
)

var ErrUnknownPrefix = errors.New("unknown key prefix")

var knownPrefixes = []Prefix{SysGovern, GovernProposal, GovernSecond}

// KnownPrefixes returns every prefix used by this module.
func KnownPrefixes() []Prefix {
	return slices.Clone(knownPrefixes)
}

// Validate returns ErrUnknownPrefix if the prefix isn't one of the known tables.
func (p Prefix) Validate() error {
	if len(p) != PrefixLen || !slices.Contains(knownPrefixes, p) {
		return fmt.Errorf("%w: %q", ErrUnknownPrefix, string(p))
	}
	return nil
}

// Key composes the backing store key of `key` inside this table.
func (p Prefix) Key(key []byte) []byte {
	composed := make([]byte, 0, len(p)+len(key))
	composed = append(composed, p...)
	return append(composed, key...)
}

// SplitKey breaks a composed store key into its prefix and table key.
func SplitKey(composed []byte) (Prefix, []byte, error) {
	if len(composed) < PrefixLen {
		return "", nil, fmt.Errorf("%w: key %x is shorter than a prefix", ErrUnknownPrefix, composed)
	}
	prefix := Prefix(composed[:PrefixLen])
	if err := prefix.Validate(); err != nil {
		return "", nil, err
	}
	return prefix, composed[PrefixLen:], nil
}
