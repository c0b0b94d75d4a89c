package governance

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// TxID is the 256-bit id of the transaction that submitted a proposal; proposals and their assents are keyed by it.
type TxID = uint256.Int

// RegID identifies a registered chain account by the block height it registered at and its index in that block.
type RegID struct {
	Height uint32
	Index  uint16
}

func NewRegID(height uint32, index uint16) RegID {
	return RegID{Height: height, Index: index}
}

// String formats the id as `height-index`.
func (r RegID) String() string {
	return fmt.Sprintf("%d-%d", r.Height, r.Index)
}

// ParseRegID parses the `height-index` form produced by String.
func ParseRegID(s string) (RegID, error) {
	heightStr, indexStr, ok := strings.Cut(s, "-")
	if !ok {
		return RegID{}, fmt.Errorf("malformed regid %q: expected height-index", s)
	}
	height, err := strconv.ParseUint(heightStr, 10, 32)
	if err != nil {
		return RegID{}, fmt.Errorf("malformed regid height %q: %w", heightStr, err)
	}
	index, err := strconv.ParseUint(indexStr, 10, 16)
	if err != nil {
		return RegID{}, fmt.Errorf("malformed regid index %q: %w", indexStr, err)
	}
	return NewRegID(uint32(height), uint16(index)), nil
}
