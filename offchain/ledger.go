package offchain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stellar/go/keypair"

	"github.com/keyloft/settlement/quorum"
	"github.com/keyloft/settlement/state"
)

// ErrInsufficientBalance indicates a streamed payment would drive the
// counterparty's balance negative. No update is recorded.
var ErrInsufficientBalance = errors.New("streamed payment exceeds counterparty balance")

// Update is one off-chain negotiated channel state. It is not on the ledger
// until settlement; the signatures are over the same message the on-chain
// Update transition verifies.
type Update struct {
	ID                    uuid.UUID
	OwnerBalance          int64
	CounterpartyBalance   int64
	Sequence              int64
	OwnerSignature        []byte
	CounterpartySignature []byte
	Timestamp             time.Time
}

// Equal reports whether two updates are identical.
func (u Update) Equal(o Update) bool {
	type U Update
	return cmp.Equal(U(u), U(o))
}

// Recorder receives every accepted update for durable audit storage. A
// Recorder error rejects the update entirely so the durable history never
// lags the in-memory log.
type Recorder interface {
	RecordUpdate(channelID [32]byte, u Update) error
}

// Config configures an off-chain ledger for one channel.
type Config struct {
	// Channel is the same immutable channel terms the on-chain Channel was
	// constructed with; updates recorded here verify and settle against it.
	Channel state.Config

	// Recorder, if set, is given every accepted update.
	Recorder Recorder
}

// Ledger is the single authoritative source for the latest off-chain state
// of one payment channel.
type Ledger struct {
	ownerKey        *keypair.FromAddress
	counterpartyKey *keypair.FromAddress
	capacity        int64
	channelID       [32]byte

	updates  []Update
	recorder Recorder

	now func() time.Time
}

// NewLedger constructs an empty ledger for a channel. Before any update is
// recorded the authoritative state is the channel's opening split: zero to
// the owner, the full capacity to the counterparty, at sequence 0.
func NewLedger(c Config) (*Ledger, error) {
	channelID, err := state.ChannelID(c.Channel)
	if err != nil {
		return nil, fmt.Errorf("deriving channel identity: %w", err)
	}
	return &Ledger{
		ownerKey:        c.Channel.OwnerKey,
		counterpartyKey: c.Channel.CounterpartyKey,
		capacity:        c.Channel.Capacity,
		channelID:       channelID,
		recorder:        c.Recorder,
		now:             time.Now,
	}, nil
}

// NewLedgerFromHistory reconstructs a ledger from a previously recorded
// history, for example when restoring an agent from a snapshot. Every update
// is re-verified; the Recorder is not replayed into.
func NewLedgerFromHistory(c Config, history []Update) (*Ledger, error) {
	l, err := NewLedger(c)
	if err != nil {
		return nil, err
	}
	for i, u := range history {
		if want := l.CurrentSequence() + 1; u.Sequence != want {
			return nil, fmt.Errorf("restoring history entry %d: sequence %d, expected %d", i, u.Sequence, want)
		}
		if u.OwnerBalance < 0 || u.CounterpartyBalance < 0 || u.OwnerBalance+u.CounterpartyBalance != l.capacity {
			return nil, fmt.Errorf("restoring history entry %d: balances %d/%d do not split capacity %d",
				i, u.OwnerBalance, u.CounterpartyBalance, l.capacity)
		}
		msg := state.UpdateHash(l.channelID, u.OwnerBalance, u.CounterpartyBalance, u.Sequence)
		err = quorum.Verify(
			quorum.Requirement{Signer: l.ownerKey, Message: msg, Signature: u.OwnerSignature},
			quorum.Requirement{Signer: l.counterpartyKey, Message: msg, Signature: u.CounterpartySignature},
		)
		if err != nil {
			return nil, fmt.Errorf("restoring history entry %d: %w", i, err)
		}
		l.updates = append(l.updates, u)
	}
	return l, nil
}

// ChannelID returns the identity digest of the channel this ledger tracks.
func (l *Ledger) ChannelID() [32]byte { return l.channelID }

// CurrentSequence returns the sequence of the latest recorded update, 0 if
// none has been recorded.
func (l *Ledger) CurrentSequence() int64 {
	if len(l.updates) == 0 {
		return 0
	}
	return l.updates[len(l.updates)-1].Sequence
}

// Latest returns the highest-sequence recorded update. The second return is
// false if no update has been recorded yet.
func (l *Ledger) Latest() (Update, bool) {
	if len(l.updates) == 0 {
		return Update{}, false
	}
	return l.updates[len(l.updates)-1], true
}

// LatestState returns the authoritative balance split and sequence: the
// latest recorded update, or the opening split if none exists. This is the
// state a settlement attempt should feed into the on-chain Update or
// CooperativeClose.
func (l *Ledger) LatestState() (ownerBalance, counterpartyBalance, sequence int64) {
	u, ok := l.Latest()
	if !ok {
		return 0, l.capacity, 0
	}
	return u.OwnerBalance, u.CounterpartyBalance, u.Sequence
}

// History returns a copy of the full append-only update history.
func (l *Ledger) History() []Update {
	history := make([]Update, len(l.updates))
	copy(history, l.updates)
	return history
}

// CreateUpdate appends a new fully-signed update at the next sequence number
// and records it as current. Both signatures must verify over the canonical
// update message for the new state.
func (l *Ledger) CreateUpdate(ownerBalance, counterpartyBalance int64, ownerSig, counterpartySig []byte) (Update, error) {
	if ownerBalance < 0 || counterpartyBalance < 0 {
		return Update{}, fmt.Errorf("creating update: %w: balances %d/%d must be non-negative",
			state.ErrSequenceViolation, ownerBalance, counterpartyBalance)
	}
	if ownerBalance+counterpartyBalance != l.capacity {
		return Update{}, fmt.Errorf("creating update: %w: balances %d/%d do not sum to capacity %d",
			state.ErrSequenceViolation, ownerBalance, counterpartyBalance, l.capacity)
	}
	sequence := l.CurrentSequence() + 1
	msg := state.UpdateHash(l.channelID, ownerBalance, counterpartyBalance, sequence)
	err := quorum.Verify(
		quorum.Requirement{Signer: l.ownerKey, Message: msg, Signature: ownerSig},
		quorum.Requirement{Signer: l.counterpartyKey, Message: msg, Signature: counterpartySig},
	)
	if err != nil {
		return Update{}, fmt.Errorf("verifying update signatures: %w", err)
	}
	u := Update{
		ID:                    uuid.New(),
		OwnerBalance:          ownerBalance,
		CounterpartyBalance:   counterpartyBalance,
		Sequence:              sequence,
		OwnerSignature:        ownerSig,
		CounterpartySignature: counterpartySig,
		Timestamp:             l.now().UTC(),
	}
	if l.recorder != nil {
		err = l.recorder.RecordUpdate(l.channelID, u)
		if err != nil {
			return Update{}, fmt.Errorf("recording update: %w", err)
		}
	}
	l.updates = append(l.updates, u)
	return u, nil
}

// StreamProposal is the next state a streamed payment would agree to, and the
// message both parties must sign to record it.
type StreamProposal struct {
	OwnerBalance        int64
	CounterpartyBalance int64
	Sequence            int64
	Message             [32]byte
}

// ProposeStream computes the state a streamed payment of the given amount
// would move to, without recording anything. Amounts are positive and flow
// from the counterparty to the owner; a payment exceeding the counterparty's
// balance fails with ErrInsufficientBalance.
func (l *Ledger) ProposeStream(amount int64) (StreamProposal, error) {
	if amount <= 0 {
		return StreamProposal{}, fmt.Errorf("streamed payment amount %d must be positive", amount)
	}
	ownerBalance, counterpartyBalance, sequence := l.LatestState()
	newCounterpartyBalance := counterpartyBalance - amount
	if newCounterpartyBalance < 0 {
		return StreamProposal{}, fmt.Errorf("streaming %d: %w: counterparty balance %d",
			amount, ErrInsufficientBalance, counterpartyBalance)
	}
	p := StreamProposal{
		OwnerBalance:        ownerBalance + amount,
		CounterpartyBalance: newCounterpartyBalance,
		Sequence:            sequence + 1,
	}
	p.Message = state.UpdateHash(l.channelID, p.OwnerBalance, p.CounterpartyBalance, p.Sequence)
	return p, nil
}

// StreamPayment records a micro-payment from the counterparty to the owner as
// a new update. The signatures are over the proposal message for this amount
// at the current sequence. On failure the current pointer is unchanged.
func (l *Ledger) StreamPayment(amount int64, ownerSig, counterpartySig []byte) (Update, error) {
	p, err := l.ProposeStream(amount)
	if err != nil {
		return Update{}, err
	}
	return l.CreateUpdate(p.OwnerBalance, p.CounterpartyBalance, ownerSig, counterpartySig)
}
