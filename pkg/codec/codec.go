// Cache layers hold encoded bytes and only decode at the typed edges, so every key and value type needs a
// deterministic, round-trippable encoding. Values are RLP encoded, the way chain state is persisted elsewhere.

package codec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Codec encodes and decodes values of type T.
type Codec[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// RLP encodes values with go-ethereum's RLP. T must be RLP-encodable (unsigned integers, strings, byte slices,
// big.Int pointers, and slices / structs of those).
type RLP[T any] struct{}

var _ Codec[[]uint64] = RLP[[]uint64]{}

func (RLP[T]) Encode(value T) ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return nil, fmt.Errorf("failed to rlp encode %T: %w", value, err)
	}
	return encoded, nil
}

func (RLP[T]) Decode(data []byte) (T, error) {
	var value T
	if err := rlp.DecodeBytes(data, &value); err != nil {
		return *new(T), fmt.Errorf("failed to rlp decode %T: %w", value, err)
	}
	return value, nil
}

// Uint256Key encodes 256-bit ids (transaction ids) as their fixed 32 byte big-endian form, so keys sort by value
// in the backing store.
type Uint256Key struct{}

var _ Codec[uint256.Int] = Uint256Key{}

func (Uint256Key) Encode(value uint256.Int) ([]byte, error) {
	encoded := value.Bytes32()
	return encoded[:], nil
}

func (Uint256Key) Decode(data []byte) (uint256.Int, error) {
	if len(data) != 32 {
		return uint256.Int{}, fmt.Errorf("expected a 32 byte key, got %d bytes", len(data))
	}
	var value uint256.Int
	value.SetBytes32(data)
	return value, nil
}
