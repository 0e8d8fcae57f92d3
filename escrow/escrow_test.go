package escrow

import (
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyloft/settlement/quorum"
	"github.com/keyloft/settlement/txcommit"
)

func testContract(t *testing.T) (*Contract, *keypair.Full, *keypair.Full) {
	t.Helper()
	owner := keypair.MustRandom()
	counterparty := keypair.MustRandom()
	c, err := NewContract(Config{
		OwnerKey:        owner.FromAddress(),
		CounterpartyKey: counterparty.FromAddress(),
		DepositAmount:   500,
		RentalFee:       75,
		TimeoutHeight:   1000,
		RentalTokenRef:  "listing-8412",
	})
	require.NoError(t, err)
	return c, owner, counterparty
}

func sign(t *testing.T, k *keypair.Full, msg [32]byte) []byte {
	t.Helper()
	sig, err := k.Sign(msg[:])
	require.NoError(t, err)
	return sig
}

func TestNewContract(t *testing.T) {
	c, _, _ := testContract(t)
	assert.Equal(t, StateCreated, c.State())
	assert.Equal(t, int64(575), c.Total())
	assert.NotZero(t, c.ID())
}

func TestNewContract_validatesTerms(t *testing.T) {
	owner := keypair.MustRandom()
	counterparty := keypair.MustRandom()

	_, err := NewContract(Config{CounterpartyKey: counterparty.FromAddress(), DepositAmount: 1})
	require.Error(t, err)

	_, err = NewContract(Config{OwnerKey: owner.FromAddress(), DepositAmount: 1})
	require.Error(t, err)

	_, err = NewContract(Config{
		OwnerKey:        owner.FromAddress(),
		CounterpartyKey: owner.FromAddress(),
		DepositAmount:   1,
	})
	require.Error(t, err)

	_, err = NewContract(Config{
		OwnerKey:        owner.FromAddress(),
		CounterpartyKey: counterparty.FromAddress(),
		DepositAmount:   100,
		RentalFee:       101,
	})
	require.Error(t, err)

	_, err = NewContract(Config{
		OwnerKey:        owner.FromAddress(),
		CounterpartyKey: counterparty.FromAddress(),
		DepositAmount:   -1,
	})
	require.Error(t, err)
}

func TestContract_identityBindsTerms(t *testing.T) {
	owner := keypair.MustRandom()
	counterparty := keypair.MustRandom()
	config := Config{
		OwnerKey:        owner.FromAddress(),
		CounterpartyKey: counterparty.FromAddress(),
		DepositAmount:   500,
		RentalFee:       75,
		TimeoutHeight:   1000,
		RentalTokenRef:  "listing-8412",
	}
	c1, err := NewContract(config)
	require.NoError(t, err)
	c2, err := NewContract(config)
	require.NoError(t, err)
	assert.Equal(t, c1.ID(), c2.ID())

	config.RentalTokenRef = "listing-8413"
	c3, err := NewContract(config)
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID(), c3.ID())
}

func TestContract_cooperativeRelease(t *testing.T) {
	c, owner, counterparty := testContract(t)

	require.NoError(t, c.IngestFunding())
	assert.Equal(t, StateFunded, c.State())

	err := c.Activate(sign(t, counterparty, c.ActivationHash()))
	require.NoError(t, err)
	assert.Equal(t, StateActive, c.State())

	msg := c.ReleaseHash()
	distribution, err := c.Release(sign(t, owner, msg), sign(t, counterparty, msg), c.ReleaseOutputs(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateReleased, c.State())
	assert.Equal(t, []txcommit.Output{
		{Beneficiary: owner.FromAddress(), Amount: 75},
		{Beneficiary: counterparty.FromAddress(), Amount: 425},
	}, distribution)
	assert.Equal(t, c.DepositAmount(), txcommit.Sum(distribution))
}

func TestContract_timeout(t *testing.T) {
	c, owner, counterparty := testContract(t)
	require.NoError(t, c.IngestFunding())
	require.NoError(t, c.Activate(sign(t, counterparty, c.ActivationHash())))

	ownerSig := sign(t, owner, c.TimeoutHash())

	// One below the timeout height the transition is rejected and the
	// contract is untouched.
	_, err := c.Timeout(ownerSig, 999, c.TimeoutOutputs(), nil)
	require.ErrorIs(t, err, ErrTimeoutNotReached)
	assert.Equal(t, StateActive, c.State())

	// The bound is inclusive.
	distribution, err := c.Timeout(ownerSig, 1000, c.TimeoutOutputs(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateDisputed, c.State())
	assert.Equal(t, []txcommit.Output{
		{Beneficiary: owner.FromAddress(), Amount: 575},
	}, distribution)
	assert.Equal(t, c.Total(), txcommit.Sum(distribution))
}

func TestContract_refund(t *testing.T) {
	c, owner, counterparty := testContract(t)
	require.NoError(t, c.IngestFunding())

	msg := c.RefundHash()
	distribution, err := c.Refund(sign(t, owner, msg), sign(t, counterparty, msg), c.RefundOutputs(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateRefunded, c.State())
	assert.Equal(t, []txcommit.Output{
		{Beneficiary: counterparty.FromAddress(), Amount: 575},
	}, distribution)
}

func TestContract_refundRequiresFundedState(t *testing.T) {
	c, owner, counterparty := testContract(t)
	require.NoError(t, c.IngestFunding())
	require.NoError(t, c.Activate(sign(t, counterparty, c.ActivationHash())))

	msg := c.RefundHash()
	_, err := c.Refund(sign(t, owner, msg), sign(t, counterparty, msg), c.RefundOutputs(), nil)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateActive, c.State())
}

func TestContract_invalidStateTransitions(t *testing.T) {
	c, owner, counterparty := testContract(t)

	// Nothing but funding is possible from Created.
	err := c.Activate(sign(t, counterparty, c.ActivationHash()))
	require.ErrorIs(t, err, ErrInvalidState)
	msg := c.ReleaseHash()
	_, err = c.Release(sign(t, owner, msg), sign(t, counterparty, msg), c.ReleaseOutputs(), nil)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateCreated, c.State())

	require.NoError(t, c.IngestFunding())

	// Funding is not replayable.
	err = c.IngestFunding()
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateFunded, c.State())
}

func TestContract_terminalStatesRejectEverything(t *testing.T) {
	c, owner, counterparty := testContract(t)
	require.NoError(t, c.IngestFunding())
	require.NoError(t, c.Activate(sign(t, counterparty, c.ActivationHash())))
	msg := c.ReleaseHash()
	_, err := c.Release(sign(t, owner, msg), sign(t, counterparty, msg), c.ReleaseOutputs(), nil)
	require.NoError(t, err)

	_, err = c.Release(sign(t, owner, msg), sign(t, counterparty, msg), c.ReleaseOutputs(), nil)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = c.Timeout(sign(t, owner, c.TimeoutHash()), 5000, c.TimeoutOutputs(), nil)
	require.ErrorIs(t, err, ErrInvalidState)
	err = c.IngestFunding()
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateReleased, c.State())
}

func TestContract_badSignaturesLeaveStateUnchanged(t *testing.T) {
	c, owner, counterparty := testContract(t)
	intruder := keypair.MustRandom()
	require.NoError(t, c.IngestFunding())

	err := c.Activate(sign(t, intruder, c.ActivationHash()))
	require.ErrorIs(t, err, quorum.ErrBadSignature)
	assert.Equal(t, StateFunded, c.State())

	require.NoError(t, c.Activate(sign(t, counterparty, c.ActivationHash())))

	msg := c.ReleaseHash()
	_, err = c.Release(sign(t, owner, msg), sign(t, intruder, msg), c.ReleaseOutputs(), nil)
	require.ErrorIs(t, err, quorum.ErrBadSignature)
	assert.Equal(t, StateActive, c.State())
}

func TestContract_signatureBoundToContract(t *testing.T) {
	c1, _, counterparty := testContract(t)
	c2, err := NewContract(Config{
		OwnerKey:        c1.OwnerKey(),
		CounterpartyKey: c1.CounterpartyKey(),
		DepositAmount:   500,
		RentalFee:       75,
		TimeoutHeight:   1000,
		RentalTokenRef:  "listing-9001",
	})
	require.NoError(t, err)
	require.NoError(t, c1.IngestFunding())
	require.NoError(t, c2.IngestFunding())

	// An activation signed for one contract does not activate another.
	sig := sign(t, counterparty, c1.ActivationHash())
	err = c2.Activate(sig)
	require.ErrorIs(t, err, quorum.ErrBadSignature)
	assert.Equal(t, StateFunded, c2.State())
}

func TestContract_releaseRejectsMismatchedOutputs(t *testing.T) {
	c, owner, counterparty := testContract(t)
	require.NoError(t, c.IngestFunding())
	require.NoError(t, c.Activate(sign(t, counterparty, c.ActivationHash())))

	msg := c.ReleaseHash()
	skewed := []txcommit.Output{
		{Beneficiary: owner.FromAddress(), Amount: 100},
		{Beneficiary: counterparty.FromAddress(), Amount: 400},
	}
	_, err := c.Release(sign(t, owner, msg), sign(t, counterparty, msg), skewed, nil)
	require.ErrorIs(t, err, txcommit.ErrMismatch)
	assert.Equal(t, StateActive, c.State())
}

func TestContract_zeroFeeReleaseOmitsOwnerOutput(t *testing.T) {
	owner := keypair.MustRandom()
	counterparty := keypair.MustRandom()
	c, err := NewContract(Config{
		OwnerKey:        owner.FromAddress(),
		CounterpartyKey: counterparty.FromAddress(),
		DepositAmount:   500,
		RentalFee:       0,
		TimeoutHeight:   1000,
	})
	require.NoError(t, err)
	assert.Equal(t, []txcommit.Output{
		{Beneficiary: counterparty.FromAddress(), Amount: 500},
	}, c.ReleaseOutputs())
}

func TestContract_snapshotRestore(t *testing.T) {
	c, _, counterparty := testContract(t)
	require.NoError(t, c.IngestFunding())
	require.NoError(t, c.Activate(sign(t, counterparty, c.ActivationHash())))

	config := Config{
		OwnerKey:        c.OwnerKey(),
		CounterpartyKey: c.CounterpartyKey(),
		DepositAmount:   c.DepositAmount(),
		RentalFee:       c.RentalFee(),
		TimeoutHeight:   c.TimeoutHeight(),
		RentalTokenRef:  c.RentalTokenRef(),
	}
	restored, err := NewContractFromSnapshot(config, c.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, c.ID(), restored.ID())
	assert.Equal(t, StateActive, restored.State())

	_, err = NewContractFromSnapshot(config, Snapshot{State: State("bogus")})
	require.Error(t, err)
}
