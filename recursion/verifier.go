package recursion

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/btcq-org/lightproof/common"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
)

// HeadCommitment is the public input layout shared by the recursion and
// wrapper programs: the head root split into two 128 bit limbs, then the
// head position.
type HeadCommitment struct {
	RootHi   frontend.Variable `gnark:",public"`
	RootLo   frontend.Variable `gnark:",public"`
	Position frontend.Variable `gnark:",public"`
}

// Define only fixes the public layout; the constraints live in the programs.
func (c *HeadCommitment) Define(api frontend.API) error {
	api.AssertIsEqual(c.Position, c.Position)
	return nil
}

// NewHeadCommitment assigns the public inputs for head.
func NewHeadCommitment(head common.Checkpoint) *HeadCommitment {
	return &HeadCommitment{
		RootHi:   new(big.Int).SetBytes(head.Root[:16]),
		RootLo:   new(big.Int).SetBytes(head.Root[16:]),
		Position: head.Position.Uint64(),
	}
}

// Verifier checks Groth16 (BN254) proofs against one program verifying key.
type Verifier struct {
	vk     groth16.VerifyingKey
	digest common.Hash
}

// NewVerifierFromBytes deserializes a verifying key.
func NewVerifierFromBytes(vkBytes []byte) (*Verifier, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return nil, fmt.Errorf("failed to deserialize verifying key: %w", err)
	}
	return &Verifier{vk: vk, digest: Digest(vkBytes)}, nil
}

// Digest is the identity of a serialized verifying key.
func Digest(vkBytes []byte) common.Hash {
	return common.Hash(sha256.Sum256(vkBytes))
}

func (v *Verifier) Digest() common.Hash { return v.digest }

// Verify checks that proofData proves head.
func (v *Verifier) Verify(proofData []byte, head common.Checkpoint) error {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofData)); err != nil {
		return fmt.Errorf("failed to deserialize proof: %w", err)
	}
	witness, err := frontend.NewWitness(NewHeadCommitment(head), ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("failed to create public witness: %w", err)
	}
	if err := groth16.Verify(proof, v.vk, witness); err != nil {
		return fmt.Errorf("proof verification failed: %w", err)
	}
	return nil
}
