package state

import (
	"fmt"

	"github.com/keyloft/settlement/quorum"
	"github.com/keyloft/settlement/txcommit"
)

// The steps for a unilateral channel close are:
// 1. Either party calls InitiateClose, starting the dispute window.
// 2. The other party may supersede the closing state with a higher-sequence
//    Update before the window elapses, which re-opens the channel.
// 3. Once the window has elapsed undisturbed, the initiator calls
//    FinalizeClose.
// A cooperative close skips the window entirely.

// CooperativeClose distributes the currently recorded balances and closes the
// channel immediately. Both signatures must verify over the close message,
// and the proposed outputs must commit to exactly the recorded split plus any
// ledger-specified change. The realized distribution is returned.
func (c *Channel) CooperativeClose(ownerSig, counterpartySig []byte, proposed []txcommit.Output, change []byte) ([]txcommit.Output, error) {
	if c.status == StatusClosed {
		return nil, fmt.Errorf("cooperative close: %w: status is %s", ErrInvalidState, c.status)
	}
	msg := c.CooperativeCloseHash()
	err := quorum.Verify(
		quorum.Requirement{Signer: c.ownerKey, Message: msg, Signature: ownerSig},
		quorum.Requirement{Signer: c.counterpartyKey, Message: msg, Signature: counterpartySig},
	)
	if err != nil {
		return nil, fmt.Errorf("verifying cooperative close signatures: %w", err)
	}
	distribution := c.SettlementOutputs()
	err = c.verifyProposed(distribution, proposed, change)
	if err != nil {
		return nil, fmt.Errorf("verifying cooperative close outputs: %w", err)
	}
	c.status = StatusClosed
	c.closeRequestedAt = 0
	c.closeInitiatedByOwner = false
	return distribution, nil
}

// InitiateClose begins a unilateral close: the initiating party commits to
// settling with the currently recorded balances and the dispute window opens
// at the given ledger height. The proposed outputs bind the intended
// settlement state; no value moves until FinalizeClose.
func (c *Channel) InitiateClose(sig []byte, isOwner bool, ledgerHeight int64, proposed []txcommit.Output, change []byte) error {
	if c.status != StatusOpen {
		return fmt.Errorf("initiating close: %w: status is %s, requires %s", ErrInvalidState, c.status, StatusOpen)
	}
	signer := c.counterpartyKey
	if isOwner {
		signer = c.ownerKey
	}
	err := quorum.Verify(quorum.Requirement{
		Signer:    signer,
		Message:   c.InitiateCloseHash(),
		Signature: sig,
	})
	if err != nil {
		return fmt.Errorf("verifying initiate close signature: %w", err)
	}
	err = c.verifyProposed(c.SettlementOutputs(), proposed, change)
	if err != nil {
		return fmt.Errorf("verifying initiate close outputs: %w", err)
	}
	c.status = StatusClosing
	c.closeRequestedAt = ledgerHeight
	c.closeInitiatedByOwner = isOwner
	return nil
}

// FinalizeClose completes a unilateral close once the dispute window has
// elapsed. Only the initiator's signature is required: the other party had
// the entire window to supersede the closing state with a newer update and
// did not. The bound is inclusive: a clock equal to the request height plus
// the dispute timeout succeeds.
func (c *Channel) FinalizeClose(sig []byte, ledgerHeight int64, proposed []txcommit.Output, change []byte) ([]txcommit.Output, error) {
	if c.status != StatusClosing {
		return nil, fmt.Errorf("finalizing close: %w: status is %s, requires %s", ErrInvalidState, c.status, StatusClosing)
	}
	if deadline := c.closeRequestedAt + c.disputeTimeout; ledgerHeight < deadline {
		return nil, fmt.Errorf("finalizing close: %w: ledger height %d, finalizable at %d",
			ErrTimeoutNotReached, ledgerHeight, deadline)
	}
	signer := c.counterpartyKey
	if c.closeInitiatedByOwner {
		signer = c.ownerKey
	}
	err := quorum.Verify(quorum.Requirement{
		Signer:    signer,
		Message:   c.FinalizeCloseHash(),
		Signature: sig,
	})
	if err != nil {
		return nil, fmt.Errorf("verifying finalize close signature: %w", err)
	}
	distribution := c.SettlementOutputs()
	err = c.verifyProposed(distribution, proposed, change)
	if err != nil {
		return nil, fmt.Errorf("verifying finalize close outputs: %w", err)
	}
	c.status = StatusClosed
	c.closeRequestedAt = 0
	c.closeInitiatedByOwner = false
	return distribution, nil
}

func (c *Channel) verifyProposed(required, proposed []txcommit.Output, change []byte) error {
	requiredDigest, err := txcommit.Commit(required, change)
	if err != nil {
		return fmt.Errorf("committing required outputs: %w", err)
	}
	return txcommit.Verify(requiredDigest, proposed, change)
}
