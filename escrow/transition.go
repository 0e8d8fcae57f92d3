package escrow

import (
	"fmt"

	"github.com/keyloft/settlement/quorum"
	"github.com/keyloft/settlement/txcommit"
)

// IngestFunding records that the contract's total has been committed on the
// ledger. It is driven by the booking layer observing the funding settle; the
// core does not watch the ledger itself.
func (c *Contract) IngestFunding() error {
	if c.state != StateCreated {
		return fmt.Errorf("ingesting funding: %w: state is %s, requires %s", ErrInvalidState, c.state, StateCreated)
	}
	c.state = StateFunded
	return nil
}

// Activate moves a funded contract to Active on the counterparty's signed
// attestation that the rental was handed over. Without this step the owner
// could unilaterally claim an "active" rental that never happened.
func (c *Contract) Activate(counterpartySig []byte) error {
	if c.state != StateFunded {
		return fmt.Errorf("activating: %w: state is %s, requires %s", ErrInvalidState, c.state, StateFunded)
	}
	err := quorum.Verify(quorum.Requirement{
		Signer:    c.counterpartyKey,
		Message:   c.ActivationHash(),
		Signature: counterpartySig,
	})
	if err != nil {
		return fmt.Errorf("verifying activation signature: %w", err)
	}
	c.state = StateActive
	return nil
}

// Release settles an active contract cooperatively: the rental fee to the
// owner, the deposit net of the fee to the counterparty. Both signatures must
// verify over the release message, and the externally proposed outputs must
// commit to exactly this distribution plus any ledger-specified change. The
// realized distribution is returned for the booking layer. The contract never
// partially releases.
func (c *Contract) Release(ownerSig, counterpartySig []byte, proposed []txcommit.Output, change []byte) ([]txcommit.Output, error) {
	if c.state != StateActive {
		return nil, fmt.Errorf("releasing: %w: state is %s, requires %s", ErrInvalidState, c.state, StateActive)
	}
	msg := c.ReleaseHash()
	err := quorum.Verify(
		quorum.Requirement{Signer: c.ownerKey, Message: msg, Signature: ownerSig},
		quorum.Requirement{Signer: c.counterpartyKey, Message: msg, Signature: counterpartySig},
	)
	if err != nil {
		return nil, fmt.Errorf("verifying release signatures: %w", err)
	}
	distribution := c.ReleaseOutputs()
	err = c.verifyProposed(distribution, proposed, change)
	if err != nil {
		return nil, fmt.Errorf("verifying release outputs: %w", err)
	}
	c.state = StateReleased
	return distribution, nil
}

// Timeout is the unilateral dispute path: once the ledger clock reaches the
// timeout height, the owner alone may commit the full total to themselves.
// The bound is inclusive: a clock equal to the timeout height succeeds.
func (c *Contract) Timeout(ownerSig []byte, ledgerHeight int64, proposed []txcommit.Output, change []byte) ([]txcommit.Output, error) {
	if c.state != StateActive {
		return nil, fmt.Errorf("timing out: %w: state is %s, requires %s", ErrInvalidState, c.state, StateActive)
	}
	if ledgerHeight < c.timeoutHeight {
		return nil, fmt.Errorf("timing out: %w: ledger height %d, timeout height %d", ErrTimeoutNotReached, ledgerHeight, c.timeoutHeight)
	}
	err := quorum.Verify(quorum.Requirement{
		Signer:    c.ownerKey,
		Message:   c.TimeoutHash(),
		Signature: ownerSig,
	})
	if err != nil {
		return nil, fmt.Errorf("verifying timeout signature: %w", err)
	}
	distribution := c.TimeoutOutputs()
	err = c.verifyProposed(distribution, proposed, change)
	if err != nil {
		return nil, fmt.Errorf("verifying timeout outputs: %w", err)
	}
	c.state = StateDisputed
	return distribution, nil
}

// Refund unwinds a contract that was funded but never activated, returning
// the full total to the counterparty. Models rental cancellation before
// pickup. Requires both signatures.
func (c *Contract) Refund(ownerSig, counterpartySig []byte, proposed []txcommit.Output, change []byte) ([]txcommit.Output, error) {
	if c.state != StateFunded {
		return nil, fmt.Errorf("refunding: %w: state is %s, requires %s", ErrInvalidState, c.state, StateFunded)
	}
	msg := c.RefundHash()
	err := quorum.Verify(
		quorum.Requirement{Signer: c.ownerKey, Message: msg, Signature: ownerSig},
		quorum.Requirement{Signer: c.counterpartyKey, Message: msg, Signature: counterpartySig},
	)
	if err != nil {
		return nil, fmt.Errorf("verifying refund signatures: %w", err)
	}
	distribution := c.RefundOutputs()
	err = c.verifyProposed(distribution, proposed, change)
	if err != nil {
		return nil, fmt.Errorf("verifying refund outputs: %w", err)
	}
	c.state = StateRefunded
	return distribution, nil
}

func (c *Contract) verifyProposed(required, proposed []txcommit.Output, change []byte) error {
	requiredDigest, err := txcommit.Commit(required, change)
	if err != nil {
		return fmt.Errorf("committing required outputs: %w", err)
	}
	return txcommit.Verify(requiredDigest, proposed, change)
}
