package config

import "github.com/btcq-org/lightproof/common"

// Compiled-in trusted checkpoints. Changing them is only safe before the
// first use of a state store.
const (
	HeliosTrustedSlot       = 11715392
	TendermintTrustedHeight = 31134400
)

// The Helios root must be supplied through GENESIS_ROOT; the beacon block
// root at HeliosTrustedSlot is deployment specific.
var TendermintTrustedRoot = common.Hash{
	133, 197, 217, 208, 182, 161, 40, 102, 214, 74, 216, 44, 87, 164, 134, 95,
	150, 222, 115, 170, 222, 9, 183, 138, 57, 107, 86, 21, 40, 96, 131, 113,
}

func DefaultGenesis(kind common.BackendKind) common.Checkpoint {
	switch kind {
	case common.HeliosBackend:
		return common.NewCheckpoint(common.Hash{}, HeliosTrustedSlot)
	case common.TendermintBackend:
		return common.NewCheckpoint(TendermintTrustedRoot, TendermintTrustedHeight)
	}
	return common.Checkpoint{}
}
