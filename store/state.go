package store

import (
	"time"

	"github.com/btcq-org/lightproof/common"
)

// ServiceState is the persisted progress of one proof chain. It only changes
// after a full round completed and is replaced as a whole. Committed is the
// execution height and state root Trusted commits to; it is nil at genesis.
type ServiceState struct {
	Backend              common.BackendKind     `json:"backend"`
	Genesis              common.Checkpoint      `json:"genesis"`
	GenesisCommitteeHash *common.Hash           `json:"genesis_committee_hash,omitempty"`
	Trusted              common.Checkpoint      `json:"trusted"`
	Committed            *common.Commitment     `json:"committed,omitempty"`
	MostRecentOutputs    *common.ProofOutputs   `json:"most_recent_outputs,omitempty"`
	MostRecentRecursive  *common.RecursiveProof `json:"most_recent_recursive_proof,omitempty"`
	MostRecentWrapper    *common.WrapperProof   `json:"most_recent_wrapper_proof,omitempty"`
	UpdateCounter        uint64                 `json:"update_counter"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// NewServiceState returns the state of a chain that has not advanced yet.
func NewServiceState(kind common.BackendKind, genesis common.Checkpoint) *ServiceState {
	return &ServiceState{
		Backend:   kind,
		Genesis:   genesis,
		Trusted:   genesis,
		UpdatedAt: time.Now().UTC(),
	}
}

// IsGenesis reports whether no round has been committed yet.
func (s *ServiceState) IsGenesis() bool {
	return s.UpdateCounter == 0 && s.MostRecentRecursive == nil
}

// Advance returns the successor state after a completed round. s is not modified.
func (s *ServiceState) Advance(rec *common.RecursiveProof, wrapper *common.WrapperProof) *ServiceState {
	next := *s
	outputs := rec.Outputs
	next.Trusted = rec.Head
	committed := rec.Commitment
	next.Committed = &committed
	next.MostRecentOutputs = &outputs
	next.MostRecentRecursive = rec
	next.MostRecentWrapper = wrapper
	if next.GenesisCommitteeHash == nil {
		committee := outputs.PrevCommitteeHash
		next.GenesisCommitteeHash = &committee
	}
	next.UpdateCounter++
	next.UpdatedAt = time.Now().UTC()
	return &next
}
