package common

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ProofOutputs are the public outputs of one light-client transition proof.
type ProofOutputs struct {
	PrevRoot          Hash     `json:"prev_root"`
	PrevPosition      Position `json:"prev_position"`
	PrevCommitteeHash Hash     `json:"prev_committee_hash"`
	NewPosition       Position `json:"new_position"`
	NewRoot           Hash     `json:"new_root"`
	CommitteeHash     Hash     `json:"committee_hash"`
	NextCommitteeHash Hash     `json:"next_committee_hash"`
	// ActiveCommitteeHash is the committee the next transition must start
	// from. Backends derive it from CommitteeHash and NextCommitteeHash.
	ActiveCommitteeHash Hash `json:"active_committee_hash"`
}

// Prev is the checkpoint the transition starts from.
func (o ProofOutputs) Prev() Checkpoint {
	return NewCheckpoint(o.PrevRoot, o.PrevPosition)
}

// New is the checkpoint the transition reaches.
func (o ProofOutputs) New() Checkpoint {
	return NewCheckpoint(o.NewRoot, o.NewPosition)
}

// Advances reports whether the transition moves strictly forward.
func (o ProofOutputs) Advances() bool {
	return o.NewPosition > o.PrevPosition
}

// Follows checks chain continuity: o must start where prev ended.
func (o ProofOutputs) Follows(prev ProofOutputs) error {
	if o.PrevPosition != prev.NewPosition {
		return fmt.Errorf("prev position %d does not match previous round new position %d", o.PrevPosition, prev.NewPosition)
	}
	if o.PrevRoot != prev.NewRoot {
		return fmt.Errorf("prev root %s does not match previous round new root %s", o.PrevRoot.Hex(), prev.NewRoot.Hex())
	}
	return nil
}

// Commitment is the execution state a proven checkpoint attests to: the
// (block height, state root) pair consumers of the chain read.
type Commitment struct {
	Height    uint64 `json:"height"`
	StateRoot Hash   `json:"state_root"`
}

// Checkpoint is the commitment as the (root, position) pair proofs are
// verified against.
func (c Commitment) Checkpoint() Checkpoint {
	return NewCheckpoint(c.StateRoot, Position(c.Height))
}

func (c Commitment) String() string {
	return fmt.Sprintf("%d/%s", c.Height, c.StateRoot.Hex())
}

// Anchor binds a consensus checkpoint to its execution commitment. Evidence
// is the backend encoded data the recursion program checks the binding with;
// it is empty when the commitment is the checkpoint itself.
type Anchor struct {
	Checkpoint Checkpoint    `json:"checkpoint"`
	Commitment Commitment    `json:"commitment"`
	Evidence   hexutil.Bytes `json:"evidence,omitempty"`
}

// Proof is a raw proof artifact and the public values it commits to.
type Proof struct {
	Data         hexutil.Bytes `json:"proof"`
	PublicValues hexutil.Bytes `json:"public_values"`
}

func (p Proof) IsEmpty() bool {
	return len(p.Data) == 0
}

// BaseProof is the backend light-client proof for one transition.
type BaseProof struct {
	Proof
	Outputs ProofOutputs `json:"outputs"`
}

// RecursiveProof asserts an unbroken chain from genesis to Head.
type RecursiveProof struct {
	Proof
	// Outputs are the base outputs folded in by this recursion round.
	Outputs    ProofOutputs `json:"outputs"`
	Head       Checkpoint   `json:"head"`
	Commitment Commitment   `json:"commitment"`
}

// WrapperProof re-certifies a recursive proof under the build-time wrapper key.
type WrapperProof struct {
	Proof
	Head       Checkpoint `json:"head"`
	Commitment Commitment `json:"commitment"`
}

// ArtifactPair is the proving/verifying key pair of one program.
type ArtifactPair struct {
	ProvingKey   hexutil.Bytes `json:"proving_key"`
	VerifyingKey hexutil.Bytes `json:"verifying_key"`
}
