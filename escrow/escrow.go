package escrow

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/stellar/go/keypair"
)

// State is the lifecycle state of an escrow contract. States only move
// forward; Released, Disputed, and Refunded are terminal.
type State string

const (
	StateCreated  = State("created")
	StateFunded   = State("funded")
	StateActive   = State("active")
	StateReleased = State("released")
	StateDisputed = State("disputed")
	StateRefunded = State("refunded")
)

// ErrInvalidState indicates a transition was attempted from a state that does
// not permit it. The contract is left exactly as it was.
var ErrInvalidState = errors.New("transition not permitted from current state")

// ErrTimeoutNotReached indicates a timeout-gated transition was attempted
// before the ledger clock reached the contract's timeout height.
var ErrTimeoutNotReached = errors.New("timeout height not reached")

// Config holds the immutable terms of an escrow contract, supplied by the
// booking layer when a rental is confirmed.
type Config struct {
	OwnerKey        *keypair.FromAddress
	CounterpartyKey *keypair.FromAddress

	// DepositAmount and RentalFee are in the ledger's smallest unit. Their
	// sum is the total held by the contract and never changes.
	DepositAmount int64
	RentalFee     int64

	// TimeoutHeight is the ledger height at and after which the owner may
	// force-settle without the counterparty's cooperation.
	TimeoutHeight int64

	// RentalTokenRef correlates the contract to the external rental listing.
	// It is bound into the contract identity but never interpreted.
	RentalTokenRef string
}

// Contract is the escrow state machine for a single rental.
type Contract struct {
	ownerKey        *keypair.FromAddress
	counterpartyKey *keypair.FromAddress
	depositAmount   int64
	rentalFee       int64
	timeoutHeight   int64
	rentalTokenRef  string

	id    [32]byte
	state State
}

// NewContract validates the terms and constructs a contract in the Created
// state. The rental fee must not exceed the deposit since release pays the
// counterparty the deposit net of the fee.
func NewContract(c Config) (*Contract, error) {
	if c.OwnerKey == nil {
		return nil, errors.New("owner key is required")
	}
	if c.CounterpartyKey == nil {
		return nil, errors.New("counterparty key is required")
	}
	if c.OwnerKey.Address() == c.CounterpartyKey.Address() {
		return nil, errors.New("owner and counterparty must be distinct parties")
	}
	if c.DepositAmount < 0 {
		return nil, fmt.Errorf("deposit amount %d is negative", c.DepositAmount)
	}
	if c.RentalFee < 0 {
		return nil, fmt.Errorf("rental fee %d is negative", c.RentalFee)
	}
	if c.RentalFee > c.DepositAmount {
		return nil, fmt.Errorf("rental fee %d exceeds deposit amount %d", c.RentalFee, c.DepositAmount)
	}
	if c.TimeoutHeight < 0 {
		return nil, fmt.Errorf("timeout height %d is negative", c.TimeoutHeight)
	}
	contract := &Contract{
		ownerKey:        c.OwnerKey,
		counterpartyKey: c.CounterpartyKey,
		depositAmount:   c.DepositAmount,
		rentalFee:       c.RentalFee,
		timeoutHeight:   c.TimeoutHeight,
		rentalTokenRef:  c.RentalTokenRef,
		state:           StateCreated,
	}
	contract.id = contract.identity()
	return contract, nil
}

// identity derives the contract identity digest from the immutable terms. It
// is bound into every signed transition message so a signature for one
// contract can never authorize a transition on another.
func (c *Contract) identity() [32]byte {
	h := sha256.New()
	h.Write([]byte("keyloft/escrow/contract/v1"))
	writeAddress(h, c.ownerKey)
	writeAddress(h, c.counterpartyKey)
	binary.Write(h, binary.BigEndian, uint64(c.depositAmount))
	binary.Write(h, binary.BigEndian, uint64(c.rentalFee))
	binary.Write(h, binary.BigEndian, uint64(c.timeoutHeight))
	binary.Write(h, binary.BigEndian, uint32(len(c.rentalTokenRef)))
	h.Write([]byte(c.rentalTokenRef))
	id := [32]byte{}
	h.Sum(id[:0])
	return id
}

// ID returns the contract identity digest.
func (c *Contract) ID() [32]byte { return c.id }

// State returns the current lifecycle state.
func (c *Contract) State() State { return c.state }

// OwnerKey returns the owner's verification key.
func (c *Contract) OwnerKey() *keypair.FromAddress { return c.ownerKey }

// CounterpartyKey returns the counterparty's verification key.
func (c *Contract) CounterpartyKey() *keypair.FromAddress { return c.counterpartyKey }

// DepositAmount returns the deposit held by the contract.
func (c *Contract) DepositAmount() int64 { return c.depositAmount }

// RentalFee returns the fee portion of the total.
func (c *Contract) RentalFee() int64 { return c.rentalFee }

// Total returns the fixed amount held by the contract.
func (c *Contract) Total() int64 { return c.depositAmount + c.rentalFee }

// TimeoutHeight returns the ledger height gating the unilateral timeout path.
func (c *Contract) TimeoutHeight() int64 { return c.timeoutHeight }

// RentalTokenRef returns the opaque booking correlation reference.
func (c *Contract) RentalTokenRef() string { return c.rentalTokenRef }

// Snapshot is the persistable mutable state of a contract. It can be restored
// into a new Contract with NewContractFromSnapshot using the same Config that
// was in use when the snapshot was taken.
type Snapshot struct {
	State State
}

// Snapshot returns a snapshot of the contract's mutable state.
func (c *Contract) Snapshot() Snapshot {
	return Snapshot{State: c.state}
}

// NewContractFromSnapshot constructs a contract and restores its mutable
// state from a snapshot.
func NewContractFromSnapshot(c Config, s Snapshot) (*Contract, error) {
	contract, err := NewContract(c)
	if err != nil {
		return nil, err
	}
	switch s.State {
	case StateCreated, StateFunded, StateActive, StateReleased, StateDisputed, StateRefunded:
	default:
		return nil, fmt.Errorf("restoring contract: unrecognized state %q", s.State)
	}
	contract.state = s.State
	return contract, nil
}
