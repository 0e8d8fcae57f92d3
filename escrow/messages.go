package escrow

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"github.com/stellar/go/keypair"

	"github.com/keyloft/settlement/txcommit"
)

// Canonical transition messages. Each message digest binds the contract
// identity, the transition, and (for settling transitions) the exact value
// distribution the transition commits to, so a signature authorizes one
// transition of one contract and nothing else. Parties sign these digests
// directly with their keys.

// ActivationHash is the message the counterparty signs to attest physical
// receipt of the rental, making the contract releasable through the happy
// path.
func (c *Contract) ActivationHash() [32]byte {
	return c.messageHash("activate", nil)
}

// ReleaseHash is the message both parties sign to release the escrow: the
// rental fee to the owner and the deposit net of the fee to the counterparty.
func (c *Contract) ReleaseHash() [32]byte {
	return c.messageHash("release", c.ReleaseOutputs())
}

// TimeoutHash is the message the owner signs to force-settle the full total
// to themselves after the timeout height.
func (c *Contract) TimeoutHash() [32]byte {
	return c.messageHash("timeout", c.TimeoutOutputs())
}

// RefundHash is the message both parties sign to return the full total to the
// counterparty before activation.
func (c *Contract) RefundHash() [32]byte {
	return c.messageHash("refund", c.RefundOutputs())
}

// ReleaseOutputs is the distribution enacted by Release. A zero rental fee or
// a deposit equal to the fee drops the corresponding output; no zero-amount
// outputs are ever included.
func (c *Contract) ReleaseOutputs() []txcommit.Output {
	outputs := make([]txcommit.Output, 0, 2)
	if c.rentalFee > 0 {
		outputs = append(outputs, txcommit.Output{Beneficiary: c.ownerKey, Amount: c.rentalFee})
	}
	if c.depositAmount-c.rentalFee > 0 {
		outputs = append(outputs, txcommit.Output{Beneficiary: c.counterpartyKey, Amount: c.depositAmount - c.rentalFee})
	}
	return outputs
}

// TimeoutOutputs is the distribution enacted by Timeout: the full total to
// the owner.
func (c *Contract) TimeoutOutputs() []txcommit.Output {
	if c.Total() == 0 {
		return nil
	}
	return []txcommit.Output{{Beneficiary: c.ownerKey, Amount: c.Total()}}
}

// RefundOutputs is the distribution enacted by Refund: the full total back to
// the counterparty.
func (c *Contract) RefundOutputs() []txcommit.Output {
	if c.Total() == 0 {
		return nil
	}
	return []txcommit.Output{{Beneficiary: c.counterpartyKey, Amount: c.Total()}}
}

func (c *Contract) messageHash(op string, outputs []txcommit.Output) [32]byte {
	h := sha256.New()
	h.Write([]byte("keyloft/escrow/" + op + "/v1"))
	h.Write(c.id[:])
	binary.Write(h, binary.BigEndian, uint32(len(outputs)))
	for _, o := range outputs {
		writeAddress(h, o.Beneficiary)
		binary.Write(h, binary.BigEndian, uint64(o.Amount))
	}
	m := [32]byte{}
	h.Sum(m[:0])
	return m
}

func writeAddress(h hash.Hash, k *keypair.FromAddress) {
	addr := k.Address()
	binary.Write(h, binary.BigEndian, uint32(len(addr)))
	h.Write([]byte(addr))
}
