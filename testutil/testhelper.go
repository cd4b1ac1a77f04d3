package testutil

import (
	"bytes"
	"crypto/rand"
	"math/big"

	"github.com/btcq-org/lightproof/common"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// GetRandomHash returns a random 32 byte hash for test purpose
func GetRandomHash() common.Hash {
	var h common.Hash
	if _, err := rand.Read(h[:]); err != nil {
		panic(err)
	}
	return h
}

// headCircuit has the public layout of the recursion and wrapper programs
// and a single constraint binding all of it.
type headCircuit struct {
	RootHi   frontend.Variable `gnark:",public"`
	RootLo   frontend.Variable `gnark:",public"`
	Position frontend.Variable `gnark:",public"`
	Sum      frontend.Variable
}

func (c *headCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(c.Sum, api.Add(c.RootHi, c.RootLo, c.Position))
	return nil
}

// HeadProofSystem produces real Groth16 proofs over a head checkpoint, the
// way the recursion and wrapper programs commit to it.
type HeadProofSystem struct {
	ccs     constraint.ConstraintSystem
	pk      groth16.ProvingKey
	vk      groth16.VerifyingKey
	vkBytes []byte
}

func NewHeadProofSystem() *HeadProofSystem {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &headCircuit{})
	if err != nil {
		panic(err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		panic(err)
	}
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		panic(err)
	}
	return &HeadProofSystem{ccs: ccs, pk: pk, vk: vk, vkBytes: buf.Bytes()}
}

// VerifyingKey returns the serialized verifying key.
func (s *HeadProofSystem) VerifyingKey() []byte {
	return append([]byte(nil), s.vkBytes...)
}

// ProvingKey returns the serialized proving key.
func (s *HeadProofSystem) ProvingKey() []byte {
	var buf bytes.Buffer
	if _, err := s.pk.WriteTo(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Prove returns a serialized proof committing to head.
func (s *HeadProofSystem) Prove(head common.Checkpoint) []byte {
	hi := new(big.Int).SetBytes(head.Root[:16])
	lo := new(big.Int).SetBytes(head.Root[16:])
	pos := new(big.Int).SetUint64(head.Position.Uint64())
	sum := new(big.Int).Add(hi, lo)
	sum.Add(sum, pos)

	w, err := frontend.NewWitness(&headCircuit{RootHi: hi, RootLo: lo, Position: pos, Sum: sum}, ecc.BN254.ScalarField())
	if err != nil {
		panic(err)
	}
	proof, err := groth16.Prove(s.ccs, s.pk, w)
	if err != nil {
		panic(err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
