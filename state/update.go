package state

import (
	"fmt"

	"github.com/keyloft/settlement/quorum"
)

// Update settles a previously negotiated off-chain state on-chain: a new
// balance split at a strictly higher sequence, signed by both parties.
//
// An update is accepted while the channel is Open, and also while it is
// Closing: a higher-sequence update arriving during the dispute window
// supersedes the pending unilateral close, reverts the channel to Open, and
// forces the closer to re-initiate. This is the window's whole purpose.
//
// Replaying an update with a sequence at or below the current one always
// fails with ErrSequenceViolation and changes nothing, no matter how many
// times it is retried.
func (c *Channel) Update(newOwnerBalance, newCounterpartyBalance, newSequence int64, ownerSig, counterpartySig []byte) error {
	if c.status != StatusOpen && c.status != StatusClosing {
		return fmt.Errorf("updating: %w: status is %s", ErrInvalidState, c.status)
	}
	if newSequence <= c.sequence {
		return fmt.Errorf("updating: %w: sequence %d does not exceed current %d",
			ErrSequenceViolation, newSequence, c.sequence)
	}
	if newOwnerBalance < 0 || newCounterpartyBalance < 0 {
		return fmt.Errorf("updating: %w: balances %d/%d must be non-negative",
			ErrSequenceViolation, newOwnerBalance, newCounterpartyBalance)
	}
	if newOwnerBalance+newCounterpartyBalance != c.capacity {
		return fmt.Errorf("updating: %w: balances %d/%d do not sum to capacity %d",
			ErrSequenceViolation, newOwnerBalance, newCounterpartyBalance, c.capacity)
	}
	msg := c.UpdateHash(newOwnerBalance, newCounterpartyBalance, newSequence)
	err := quorum.Verify(
		quorum.Requirement{Signer: c.ownerKey, Message: msg, Signature: ownerSig},
		quorum.Requirement{Signer: c.counterpartyKey, Message: msg, Signature: counterpartySig},
	)
	if err != nil {
		return fmt.Errorf("verifying update signatures: %w", err)
	}
	c.ownerBalance = newOwnerBalance
	c.counterpartyBalance = newCounterpartyBalance
	c.sequence = newSequence
	if c.status == StatusClosing {
		c.status = StatusOpen
		c.closeRequestedAt = 0
		c.closeInitiatedByOwner = false
	}
	return nil
}
