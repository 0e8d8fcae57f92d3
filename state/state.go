package state

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"github.com/stellar/go/keypair"
)

// Status is the on-chain lifecycle status of a channel.
type Status string

const (
	StatusOpen    = Status("open")
	StatusClosing = Status("closing")
	StatusClosed  = Status("closed")
)

// ErrInvalidState indicates a transition was attempted from a status that
// does not permit it. The channel is left exactly as it was.
var ErrInvalidState = errors.New("transition not permitted from current status")

// ErrSequenceViolation indicates an update whose sequence does not strictly
// exceed the current sequence, or whose balances do not sum to the channel
// capacity. Retrying the same update fails the same way; state is unchanged.
var ErrSequenceViolation = errors.New("update sequence or balance invariant violated")

// ErrTimeoutNotReached indicates an attempt to finalize a unilateral close
// before the dispute window elapsed.
var ErrTimeoutNotReached = errors.New("dispute window has not elapsed")

// Config holds the immutable terms of a payment channel, supplied by the
// booking layer when the channel's capacity is committed on-chain.
type Config struct {
	OwnerKey        *keypair.FromAddress
	CounterpartyKey *keypair.FromAddress

	// Capacity is the fixed total value split between the two balances, in
	// the ledger's smallest unit.
	Capacity int64

	// DisputeTimeout is the number of ledger heights that must elapse between
	// a unilateral close request and its finalization.
	DisputeTimeout int64

	// ChannelRef correlates the channel to the external rental booking. It is
	// bound into the channel identity but never interpreted.
	ChannelRef string
}

func (c Config) validate() error {
	if c.OwnerKey == nil {
		return errors.New("owner key is required")
	}
	if c.CounterpartyKey == nil {
		return errors.New("counterparty key is required")
	}
	if c.OwnerKey.Address() == c.CounterpartyKey.Address() {
		return errors.New("owner and counterparty must be distinct parties")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity %d must be positive", c.Capacity)
	}
	if c.DisputeTimeout < 0 {
		return fmt.Errorf("dispute timeout %d is negative", c.DisputeTimeout)
	}
	return nil
}

// ChannelID derives the channel identity digest from the immutable terms. It
// is bound into every signed message so a signature for one channel can never
// authorize a transition on another.
func ChannelID(c Config) ([32]byte, error) {
	if err := c.validate(); err != nil {
		return [32]byte{}, err
	}
	h := sha256.New()
	h.Write([]byte("keyloft/channel/v1"))
	writeAddress(h, c.OwnerKey)
	writeAddress(h, c.CounterpartyKey)
	binary.Write(h, binary.BigEndian, uint64(c.Capacity))
	binary.Write(h, binary.BigEndian, uint64(c.DisputeTimeout))
	binary.Write(h, binary.BigEndian, uint32(len(c.ChannelRef)))
	h.Write([]byte(c.ChannelRef))
	id := [32]byte{}
	h.Sum(id[:0])
	return id, nil
}

// Channel is the on-chain payment channel state machine.
type Channel struct {
	ownerKey        *keypair.FromAddress
	counterpartyKey *keypair.FromAddress
	capacity        int64
	disputeTimeout  int64
	channelRef      string

	id [32]byte

	ownerBalance        int64
	counterpartyBalance int64
	sequence            int64

	status               Status
	closeRequestedAt     int64
	closeInitiatedByOwner bool
}

// NewChannel validates the terms and constructs an open channel. The renter
// funds the channel, so the initial split is the full capacity on the
// counterparty side and zero on the owner side, at sequence 0.
func NewChannel(c Config) (*Channel, error) {
	id, err := ChannelID(c)
	if err != nil {
		return nil, err
	}
	channel := &Channel{
		ownerKey:            c.OwnerKey,
		counterpartyKey:     c.CounterpartyKey,
		capacity:            c.Capacity,
		disputeTimeout:      c.DisputeTimeout,
		channelRef:          c.ChannelRef,
		id:                  id,
		ownerBalance:        0,
		counterpartyBalance: c.Capacity,
		sequence:            0,
		status:              StatusOpen,
	}
	return channel, nil
}

// ID returns the channel identity digest.
func (c *Channel) ID() [32]byte { return c.id }

// Status returns the current on-chain status.
func (c *Channel) Status() Status { return c.status }

// OwnerKey returns the owner's verification key.
func (c *Channel) OwnerKey() *keypair.FromAddress { return c.ownerKey }

// CounterpartyKey returns the counterparty's verification key.
func (c *Channel) CounterpartyKey() *keypair.FromAddress { return c.counterpartyKey }

// Capacity returns the fixed total value held by the channel.
func (c *Channel) Capacity() int64 { return c.capacity }

// OwnerBalance returns the owner's share of the current recorded split.
func (c *Channel) OwnerBalance() int64 { return c.ownerBalance }

// CounterpartyBalance returns the counterparty's share of the current
// recorded split.
func (c *Channel) CounterpartyBalance() int64 { return c.counterpartyBalance }

// Sequence returns the sequence of the last accepted update, 0 if none.
func (c *Channel) Sequence() int64 { return c.sequence }

// DisputeTimeout returns the dispute window length in ledger heights.
func (c *Channel) DisputeTimeout() int64 { return c.disputeTimeout }

// ChannelRef returns the opaque booking correlation reference.
func (c *Channel) ChannelRef() string { return c.channelRef }

// CloseRequestedAt returns the ledger height at which a unilateral close was
// initiated. Only meaningful while the status is Closing.
func (c *Channel) CloseRequestedAt() int64 { return c.closeRequestedAt }

// Snapshot is the persistable mutable state of a channel. It can be restored
// into a new Channel with NewChannelFromSnapshot using the same Config that
// was in use when the snapshot was taken.
type Snapshot struct {
	OwnerBalance          int64
	CounterpartyBalance   int64
	Sequence              int64
	Status                Status
	CloseRequestedAt      int64
	CloseInitiatedByOwner bool
}

// Snapshot returns a snapshot of the channel's mutable state.
func (c *Channel) Snapshot() Snapshot {
	return Snapshot{
		OwnerBalance:          c.ownerBalance,
		CounterpartyBalance:   c.counterpartyBalance,
		Sequence:              c.sequence,
		Status:                c.status,
		CloseRequestedAt:      c.closeRequestedAt,
		CloseInitiatedByOwner: c.closeInitiatedByOwner,
	}
}

// NewChannelFromSnapshot constructs a channel and restores its mutable state
// from a snapshot.
func NewChannelFromSnapshot(c Config, s Snapshot) (*Channel, error) {
	channel, err := NewChannel(c)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case StatusOpen, StatusClosing, StatusClosed:
	default:
		return nil, fmt.Errorf("restoring channel: unrecognized status %q", s.Status)
	}
	if s.OwnerBalance < 0 || s.CounterpartyBalance < 0 || s.OwnerBalance+s.CounterpartyBalance != c.Capacity {
		return nil, fmt.Errorf("restoring channel: balances %d/%d do not split capacity %d",
			s.OwnerBalance, s.CounterpartyBalance, c.Capacity)
	}
	channel.ownerBalance = s.OwnerBalance
	channel.counterpartyBalance = s.CounterpartyBalance
	channel.sequence = s.Sequence
	channel.status = s.Status
	channel.closeRequestedAt = s.CloseRequestedAt
	channel.closeInitiatedByOwner = s.CloseInitiatedByOwner
	return channel, nil
}

func writeAddress(h hash.Hash, k *keypair.FromAddress) {
	addr := k.Address()
	binary.Write(h, binary.BigEndian, uint32(len(addr)))
	h.Write([]byte(addr))
}
