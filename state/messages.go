package state

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/keyloft/settlement/txcommit"
)

// Canonical signed messages. Every digest binds the channel identity so a
// signature can never be replayed against another channel.

// UpdateHash is the message both parties sign to agree on a new balance
// split at a new sequence. The same digest is signed off-chain when the
// update is negotiated and verified on-chain when it is settled.
func UpdateHash(channelID [32]byte, ownerBalance, counterpartyBalance, sequence int64) [32]byte {
	return messageHash("update", channelID, ownerBalance, counterpartyBalance, sequence)
}

// UpdateHash is the channel-bound form of the package-level UpdateHash.
func (c *Channel) UpdateHash(ownerBalance, counterpartyBalance, sequence int64) [32]byte {
	return UpdateHash(c.id, ownerBalance, counterpartyBalance, sequence)
}

// CooperativeCloseHash is the message both parties sign to distribute the
// currently recorded balances and close immediately.
func (c *Channel) CooperativeCloseHash() [32]byte {
	return messageHash("close", c.id, c.ownerBalance, c.counterpartyBalance, c.sequence)
}

// InitiateCloseHash is the message the initiating party signs to begin the
// dispute window, committing to settle with the currently recorded balances.
func (c *Channel) InitiateCloseHash() [32]byte {
	return messageHash("initiate-close", c.id, c.ownerBalance, c.counterpartyBalance, c.sequence)
}

// FinalizeCloseHash is the message the initiating party signs to finalize a
// unilateral close after the dispute window.
func (c *Channel) FinalizeCloseHash() [32]byte {
	return messageHash("finalize-close", c.id, c.ownerBalance, c.counterpartyBalance, c.sequence)
}

// SettlementOutputs is the distribution of the currently recorded balances.
// Either balance of zero omits that output entirely; no dust outputs.
func (c *Channel) SettlementOutputs() []txcommit.Output {
	outputs := make([]txcommit.Output, 0, 2)
	if c.ownerBalance > 0 {
		outputs = append(outputs, txcommit.Output{Beneficiary: c.ownerKey, Amount: c.ownerBalance})
	}
	if c.counterpartyBalance > 0 {
		outputs = append(outputs, txcommit.Output{Beneficiary: c.counterpartyKey, Amount: c.counterpartyBalance})
	}
	return outputs
}

func messageHash(op string, channelID [32]byte, ownerBalance, counterpartyBalance, sequence int64) [32]byte {
	h := sha256.New()
	h.Write([]byte("keyloft/channel/" + op + "/v1"))
	h.Write(channelID[:])
	binary.Write(h, binary.BigEndian, uint64(ownerBalance))
	binary.Write(h, binary.BigEndian, uint64(counterpartyBalance))
	binary.Write(h, binary.BigEndian, uint64(sequence))
	m := [32]byte{}
	h.Sum(m[:0])
	return m
}
