package common

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Hash is a 32 byte commitment (state root, header root or committee hash).
type Hash = ethcommon.Hash

// Position is the backend-agnostic block height or slot number.
type Position uint64

func (p Position) Uint64() uint64 { return uint64(p) }

// Distance returns other - p as a signed value.
func (p Position) Distance(other Position) int64 {
	return int64(other) - int64(p)
}

// HexToHash parses a 0x-prefixed (or bare) hex string into a Hash.
// It rejects anything that is not exactly 32 bytes.
func HexToHash(s string) (Hash, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Hash{}, err
	}
	if len(b) != ethcommon.HashLength {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", ethcommon.HashLength, len(b))
	}
	return ethcommon.BytesToHash(b), nil
}

// BytesToHash left-pads b to 32 bytes, keeping the last 32 when longer.
func BytesToHash(b []byte) Hash {
	return ethcommon.BytesToHash(b)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// Checkpoint is an immutable trust anchor: the committed root at a position.
type Checkpoint struct {
	Root     Hash     `json:"root"`
	Position Position `json:"position"`
}

func NewCheckpoint(root Hash, position Position) Checkpoint {
	return Checkpoint{Root: root, Position: position}
}

func (c Checkpoint) IsEmpty() bool {
	return c.Position == 0 && c.Root == (Hash{})
}

func (c Checkpoint) Equals(other Checkpoint) bool {
	return c.Root == other.Root && c.Position == other.Position
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("%d@%s", c.Position, c.Root.Hex())
}
