// Package agent contains an agent that coordinates a network connection,
// initial handshake, channel terms, streamed micro-payments, and settlement
// between the two participants of a rental payment channel.
package agent

import (
	"fmt"
	"io"
	"sync"

	"github.com/stellar/go/keypair"

	"github.com/keyloft/settlement/agent/msg"
	"github.com/keyloft/settlement/ledger"
	"github.com/keyloft/settlement/offchain"
	"github.com/keyloft/settlement/state"
	"github.com/keyloft/settlement/txcommit"
)

// Snapshotter is given a snapshot of the agent whenever its meaningful state
// changes. Snapshots can be restored using NewAgentFromSnapshot.
type Snapshotter interface {
	Snapshot(a *Agent, s Snapshot)
}

// Config contains the information that can be supplied to configure the
// Agent at construction.
type Config struct {
	// IsOwner states whether this participant is the rental owner. The owner
	// receives streamed payments; the renter proposes them.
	IsOwner bool

	// Channel terms. The agent calling Open supplies them; the responding
	// agent adopts the terms from the open request.
	Capacity       int64
	DisputeTimeout int64
	ChannelRef     string

	Key *keypair.Full

	Clock       ledger.Clock
	Submitter   ledger.Submitter
	Recorder    offchain.Recorder
	Snapshotter Snapshotter

	LogWriter io.Writer

	Events chan<- interface{}
}

// NewAgent constructs an agent from the config.
func NewAgent(c Config) *Agent {
	logWriter := c.LogWriter
	if logWriter == nil {
		logWriter = io.Discard
	}
	agent := &Agent{
		isOwner:        c.IsOwner,
		capacity:       c.Capacity,
		disputeTimeout: c.DisputeTimeout,
		channelRef:     c.ChannelRef,
		key:            c.Key,
		clock:          c.Clock,
		submitter:      c.Submitter,
		recorder:       c.Recorder,
		snapshotter:    c.Snapshotter,
		logWriter:      logWriter,
		events:         c.Events,
	}
	return agent
}

// Snapshot is a snapshot of the agent excluding any fields provided in the
// Config when instantiating an agent. A Snapshot can be restored into an
// Agent using NewAgentFromSnapshot.
type Snapshot struct {
	RemoteKey      *keypair.FromAddress
	Capacity       int64
	DisputeTimeout int64
	ChannelRef     string
	Channel        *state.Snapshot
	Updates        []offchain.Update
}

// NewAgentFromSnapshot creates an agent using a previously generated snapshot
// so that the new agent has the same state as the previous agent. The same
// config should be provided that was in use when the snapshot was created.
func NewAgentFromSnapshot(c Config, s Snapshot) (*Agent, error) {
	agent := NewAgent(c)
	agent.remoteKey = s.RemoteKey
	agent.capacity = s.Capacity
	agent.disputeTimeout = s.DisputeTimeout
	agent.channelRef = s.ChannelRef
	if s.Channel != nil {
		channel, err := state.NewChannelFromSnapshot(agent.channelConfig(), *s.Channel)
		if err != nil {
			return nil, fmt.Errorf("restoring channel: %w", err)
		}
		log, err := offchain.NewLedgerFromHistory(offchain.Config{
			Channel:  agent.channelConfig(),
			Recorder: agent.recorder,
		}, s.Updates)
		if err != nil {
			return nil, fmt.Errorf("restoring off-chain ledger: %w", err)
		}
		agent.channel = channel
		agent.log = log
	}
	return agent, nil
}

type pendingStream struct {
	amount   int64
	proposal offchain.StreamProposal
	sig      []byte
}

// Agent coordinates a payment channel between a rental owner and a renter
// over a network connection.
type Agent struct {
	isOwner bool
	key     *keypair.Full

	clock       ledger.Clock
	submitter   ledger.Submitter
	recorder    offchain.Recorder
	snapshotter Snapshotter

	logWriter io.Writer

	events chan<- interface{}

	// mu is a lock for the mutable fields of this type. It should be locked
	// when reading or writing any of the mutable fields. If pushing to a
	// chan, such as events, it is unnecessary to lock.
	mu sync.Mutex

	conn           io.ReadWriter
	remoteKey      *keypair.FromAddress
	capacity       int64
	disputeTimeout int64
	channelRef     string
	channel        *state.Channel
	log            *offchain.Ledger

	pendingStream   *pendingStream
	pendingCloseSig []byte
}

// IsOwner reports whether this participant is the rental owner.
func (a *Agent) IsOwner() bool { return a.isOwner }

// Snapshot returns the agent's current snapshot.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Agent) snapshotLocked() Snapshot {
	s := Snapshot{
		RemoteKey:      a.remoteKey,
		Capacity:       a.capacity,
		DisputeTimeout: a.disputeTimeout,
		ChannelRef:     a.channelRef,
	}
	if a.channel != nil {
		channelSnapshot := a.channel.Snapshot()
		s.Channel = &channelSnapshot
		s.Updates = a.log.History()
	}
	return s
}

func (a *Agent) snapshot() {
	if a.snapshotter == nil {
		return
	}
	a.snapshotter.Snapshot(a, a.snapshotLocked())
}

func (a *Agent) channelConfig() state.Config {
	ownerKey := a.remoteKey
	counterpartyKey := a.key.FromAddress()
	if a.isOwner {
		ownerKey = a.key.FromAddress()
		counterpartyKey = a.remoteKey
	}
	return state.Config{
		OwnerKey:        ownerKey,
		CounterpartyKey: counterpartyKey,
		Capacity:        a.capacity,
		DisputeTimeout:  a.disputeTimeout,
		ChannelRef:      a.channelRef,
	}
}

func (a *Agent) initChannel() error {
	channel, err := state.NewChannel(a.channelConfig())
	if err != nil {
		return fmt.Errorf("constructing channel: %w", err)
	}
	log, err := offchain.NewLedger(offchain.Config{
		Channel:  a.channelConfig(),
		Recorder: a.recorder,
	})
	if err != nil {
		return fmt.Errorf("constructing off-chain ledger: %w", err)
	}
	a.channel = channel
	a.log = log
	return nil
}

// hello sends a hello message to the remote participant over the connection.
func (a *Agent) hello() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	enc := msg.NewEncoder(io.MultiWriter(a.conn, a.logWriter))
	err := enc.Encode(msg.Message{
		Type: msg.TypeHello,
		Hello: &msg.Hello{
			Key:     *a.key.FromAddress(),
			IsOwner: a.isOwner,
		},
	})
	if err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}
	return nil
}

// Open proposes the channel terms to the other participant and sets up the
// channel locally. It is called by one participant after both are connected.
func (a *Agent) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return fmt.Errorf("not connected")
	}
	if a.remoteKey == nil {
		return fmt.Errorf("remote participant unknown")
	}
	if a.channel != nil {
		return fmt.Errorf("channel already exists")
	}

	defer a.snapshot()

	err := a.initChannel()
	if err != nil {
		return err
	}
	enc := msg.NewEncoder(io.MultiWriter(a.conn, a.logWriter))
	err = enc.Encode(msg.Message{
		Type: msg.TypeOpenRequest,
		OpenRequest: &msg.OpenRequest{
			Capacity:       a.capacity,
			DisputeTimeout: a.disputeTimeout,
			ChannelRef:     a.channelRef,
		},
	})
	if err != nil {
		return fmt.Errorf("sending open: %w", err)
	}
	return nil
}

// StreamPayment proposes a micro-payment to the owner using the open channel.
// The process is asynchronous and the function returns immediately after the
// proposal is signed and sent; the update is not recorded until the owner
// countersigns and responds. Only the renter streams payments.
func (a *Agent) StreamPayment(amount int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return fmt.Errorf("not connected")
	}
	if a.channel == nil {
		return fmt.Errorf("no channel")
	}
	if a.isOwner {
		return fmt.Errorf("only the renter streams payments")
	}
	if a.pendingStream != nil {
		return fmt.Errorf("a streamed payment is already in flight")
	}

	p, err := a.log.ProposeStream(amount)
	if err != nil {
		return fmt.Errorf("proposing stream of %d: %w", amount, err)
	}
	sig, err := a.key.Sign(p.Message[:])
	if err != nil {
		return fmt.Errorf("signing stream proposal: %w", err)
	}
	a.pendingStream = &pendingStream{amount: amount, proposal: p, sig: sig}

	enc := msg.NewEncoder(io.MultiWriter(a.conn, a.logWriter))
	err = enc.Encode(msg.Message{
		Type: msg.TypeStreamRequest,
		StreamRequest: &msg.StreamRequest{
			Amount:              amount,
			OwnerBalance:        p.OwnerBalance,
			CounterpartyBalance: p.CounterpartyBalance,
			Sequence:            p.Sequence,
			Signature:           sig,
		},
	})
	if err != nil {
		a.pendingStream = nil
		return fmt.Errorf("sending stream request: %w", err)
	}
	return nil
}

// Close proposes a cooperative close at the latest negotiated state. If the
// other participant countersigns, both sides settle the channel and submit
// the final distribution to the ledger.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return fmt.Errorf("not connected")
	}
	if a.channel == nil {
		return fmt.Errorf("no channel")
	}

	defer a.snapshot()

	err := a.applyLatest()
	if err != nil {
		return fmt.Errorf("applying latest off-chain state: %w", err)
	}
	closeHash := a.channel.CooperativeCloseHash()
	sig, err := a.key.Sign(closeHash[:])
	if err != nil {
		return fmt.Errorf("signing close: %w", err)
	}
	a.pendingCloseSig = sig

	enc := msg.NewEncoder(io.MultiWriter(a.conn, a.logWriter))
	err = enc.Encode(msg.Message{
		Type: msg.TypeCloseRequest,
		CloseRequest: &msg.CloseRequest{
			OwnerBalance:        a.channel.OwnerBalance(),
			CounterpartyBalance: a.channel.CounterpartyBalance(),
			Sequence:            a.channel.Sequence(),
			Signature:           sig,
		},
	})
	if err != nil {
		a.pendingCloseSig = nil
		return fmt.Errorf("sending close request: %w", err)
	}
	if a.events != nil {
		a.events <- ClosingEvent{}
	}
	return nil
}

// InitiateClose begins a unilateral close at the latest negotiated state,
// opening the dispute window at the ledger's current height. No cooperation
// from the other participant is required.
func (a *Agent) InitiateClose() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.channel == nil {
		return fmt.Errorf("no channel")
	}

	defer a.snapshot()

	err := a.applyLatest()
	if err != nil {
		return fmt.Errorf("applying latest off-chain state: %w", err)
	}
	height, err := a.clock.CurrentHeight()
	if err != nil {
		return fmt.Errorf("querying ledger height: %w", err)
	}
	initiateHash := a.channel.InitiateCloseHash()
	sig, err := a.key.Sign(initiateHash[:])
	if err != nil {
		return fmt.Errorf("signing initiate close: %w", err)
	}
	outputs := a.channel.SettlementOutputs()
	err = a.channel.InitiateClose(sig, a.isOwner, height, outputs, nil)
	if err != nil {
		return fmt.Errorf("initiating close: %w", err)
	}
	fmt.Fprintf(a.logWriter, "unilateral close initiated at height %d\n", height)
	if a.events != nil {
		a.events <- ClosingEvent{}
	}
	return nil
}

// FinalizeClose completes a unilateral close this agent initiated, once the
// dispute window has elapsed, and submits the distribution to the ledger.
func (a *Agent) FinalizeClose() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.channel == nil {
		return fmt.Errorf("no channel")
	}

	defer a.snapshot()

	height, err := a.clock.CurrentHeight()
	if err != nil {
		return fmt.Errorf("querying ledger height: %w", err)
	}
	finalizeHash := a.channel.FinalizeCloseHash()
	sig, err := a.key.Sign(finalizeHash[:])
	if err != nil {
		return fmt.Errorf("signing finalize close: %w", err)
	}
	outputs := a.channel.SettlementOutputs()
	distribution, err := a.channel.FinalizeClose(sig, height, outputs, nil)
	if err != nil {
		return fmt.Errorf("finalizing close: %w", err)
	}
	err = a.submitDistribution(distribution)
	if err != nil {
		return err
	}
	if a.events != nil {
		a.events <- ClosedEvent{Distribution: distribution}
	}
	return nil
}

// applyLatest settles the latest off-chain negotiated state into the local
// on-chain channel replica. Both signatures recorded with the update carry
// over directly since they sign the same canonical message.
func (a *Agent) applyLatest() error {
	u, ok := a.log.Latest()
	if !ok || u.Sequence <= a.channel.Sequence() {
		return nil
	}
	return a.channel.Update(u.OwnerBalance, u.CounterpartyBalance, u.Sequence, u.OwnerSignature, u.CounterpartySignature)
}

func (a *Agent) submitDistribution(distribution []txcommit.Output) error {
	commitment, err := txcommit.Commit(distribution, nil)
	if err != nil {
		return fmt.Errorf("committing distribution: %w", err)
	}
	fmt.Fprintf(a.logWriter, "submitting settlement %s\n", commitment)
	err = a.submitter.SubmitOutputs(commitment, distribution, nil)
	if err != nil {
		return fmt.Errorf("submitting settlement %s: %w", commitment, err)
	}
	return nil
}

func (a *Agent) receive() error {
	recv := msg.NewDecoder(io.TeeReader(a.conn, a.logWriter))
	send := msg.NewEncoder(io.MultiWriter(a.conn, a.logWriter))
	m := msg.Message{}
	err := recv.Decode(&m)
	if err == io.EOF {
		return err
	}
	if err != nil {
		return fmt.Errorf("reading and decoding: %v", err)
	}
	err = a.handle(m, send)
	if err != nil {
		return fmt.Errorf("handling message: %v", err)
	}
	return nil
}

func (a *Agent) receiveLoop() {
	for {
		err := a.receive()
		if err == io.EOF {
			fmt.Fprintln(a.logWriter, "error receiving: EOF, stopping receiving")
			break
		}
		if err != nil {
			fmt.Fprintf(a.logWriter, "error receiving: %v\n", err)
		}
	}
}

func (a *Agent) handle(m msg.Message, send *msg.Encoder) error {
	fmt.Fprintf(a.logWriter, "handling %v\n", m.Type)
	handler := handlerMap[m.Type]
	if handler == nil {
		err := fmt.Errorf("handling message %d: unrecognized message type", m.Type)
		if a.events != nil {
			a.events <- ErrorEvent{Err: err}
		}
		return err
	}
	err := handler(a, m, send)
	if err != nil {
		err = fmt.Errorf("handling message %d: %w", m.Type, err)
		if a.events != nil {
			a.events <- ErrorEvent{Err: err}
		}
		return err
	}
	return nil
}

var handlerMap = map[msg.Type]func(*Agent, msg.Message, *msg.Encoder) error{
	msg.TypeHello:          (*Agent).handleHello,
	msg.TypeOpenRequest:    (*Agent).handleOpenRequest,
	msg.TypeOpenResponse:   (*Agent).handleOpenResponse,
	msg.TypeStreamRequest:  (*Agent).handleStreamRequest,
	msg.TypeStreamResponse: (*Agent).handleStreamResponse,
	msg.TypeCloseRequest:   (*Agent).handleCloseRequest,
	msg.TypeCloseResponse:  (*Agent).handleCloseResponse,
}

func (a *Agent) handleHello(m msg.Message, send *msg.Encoder) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	defer a.snapshot()

	h := m.Hello

	if h.IsOwner == a.isOwner {
		return fmt.Errorf("hello received claiming the same role: both participants are owner=%t", h.IsOwner)
	}
	if a.remoteKey != nil && !a.remoteKey.Equal(&h.Key) {
		return fmt.Errorf("hello received with unexpected key: %s expected: %s", h.Key.Address(), a.remoteKey.Address())
	}

	a.remoteKey = &h.Key

	fmt.Fprintf(a.logWriter, "other's key: %v\n", a.remoteKey.Address())

	if a.events != nil {
		a.events <- ConnectedEvent{}
	}

	return nil
}

func (a *Agent) handleOpenRequest(m msg.Message, send *msg.Encoder) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	defer a.snapshot()

	if a.channel != nil {
		return fmt.Errorf("channel already exists")
	}
	if a.remoteKey == nil {
		return fmt.Errorf("remote participant unknown")
	}

	openIn := *m.OpenRequest
	a.capacity = openIn.Capacity
	a.disputeTimeout = openIn.DisputeTimeout
	a.channelRef = openIn.ChannelRef
	err := a.initChannel()
	if err != nil {
		return fmt.Errorf("confirming open: %w", err)
	}
	fmt.Fprintf(a.logWriter, "channel open: capacity %d, dispute timeout %d\n", a.capacity, a.disputeTimeout)
	err = send.Encode(msg.Message{
		Type:         msg.TypeOpenResponse,
		OpenResponse: &msg.OpenResponse{Accepted: true},
	})
	if err != nil {
		return fmt.Errorf("encoding open response to send back: %w", err)
	}
	if a.events != nil {
		a.events <- OpenedEvent{}
	}
	return nil
}

func (a *Agent) handleOpenResponse(m msg.Message, send *msg.Encoder) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.channel == nil {
		return fmt.Errorf("no channel")
	}
	if !m.OpenResponse.Accepted {
		return fmt.Errorf("open rejected by other participant")
	}
	fmt.Fprintf(a.logWriter, "channel open accepted\n")
	if a.events != nil {
		a.events <- OpenedEvent{}
	}
	return nil
}

func (a *Agent) handleStreamRequest(m msg.Message, send *msg.Encoder) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.channel == nil {
		return fmt.Errorf("no channel")
	}
	if !a.isOwner {
		return fmt.Errorf("stream request received by non-owner")
	}

	defer a.snapshot()

	streamIn := *m.StreamRequest
	p, err := a.log.ProposeStream(streamIn.Amount)
	if err != nil {
		return fmt.Errorf("proposing stream of %d: %w", streamIn.Amount, err)
	}
	if p.OwnerBalance != streamIn.OwnerBalance || p.CounterpartyBalance != streamIn.CounterpartyBalance || p.Sequence != streamIn.Sequence {
		return fmt.Errorf("stream request state %d/%d seq %d does not match local state %d/%d seq %d",
			streamIn.OwnerBalance, streamIn.CounterpartyBalance, streamIn.Sequence,
			p.OwnerBalance, p.CounterpartyBalance, p.Sequence)
	}
	sig, err := a.key.Sign(p.Message[:])
	if err != nil {
		return fmt.Errorf("signing stream: %w", err)
	}
	u, err := a.log.StreamPayment(streamIn.Amount, sig, streamIn.Signature)
	if err != nil {
		return fmt.Errorf("recording streamed payment: %w", err)
	}
	fmt.Fprintf(a.logWriter, "streamed payment received: %d at sequence %d\n", streamIn.Amount, u.Sequence)
	err = send.Encode(msg.Message{
		Type:           msg.TypeStreamResponse,
		StreamResponse: &msg.StreamResponse{Sequence: u.Sequence, Signature: sig},
	})
	if a.events != nil {
		a.events <- StreamReceivedEvent{Update: u}
	}
	if err != nil {
		return fmt.Errorf("encoding stream response to send back: %w", err)
	}
	return nil
}

func (a *Agent) handleStreamResponse(m msg.Message, send *msg.Encoder) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.channel == nil {
		return fmt.Errorf("no channel")
	}
	pending := a.pendingStream
	if pending == nil {
		return fmt.Errorf("stream response received with no stream in flight")
	}

	defer a.snapshot()

	streamIn := *m.StreamResponse
	if streamIn.Sequence != pending.proposal.Sequence {
		return fmt.Errorf("stream response sequence %d does not match in-flight sequence %d",
			streamIn.Sequence, pending.proposal.Sequence)
	}
	u, err := a.log.StreamPayment(pending.amount, streamIn.Signature, pending.sig)
	if err != nil {
		return fmt.Errorf("recording streamed payment: %w", err)
	}
	a.pendingStream = nil
	fmt.Fprintf(a.logWriter, "streamed payment confirmed: %d at sequence %d\n", pending.amount, u.Sequence)
	if a.events != nil {
		a.events <- StreamSentEvent{Update: u}
	}
	return nil
}

func (a *Agent) handleCloseRequest(m msg.Message, send *msg.Encoder) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.channel == nil {
		return fmt.Errorf("no channel")
	}

	defer a.snapshot()

	closeIn := *m.CloseRequest
	err := a.applyLatest()
	if err != nil {
		return fmt.Errorf("applying latest off-chain state: %w", err)
	}
	if closeIn.Sequence != a.channel.Sequence() ||
		closeIn.OwnerBalance != a.channel.OwnerBalance() ||
		closeIn.CounterpartyBalance != a.channel.CounterpartyBalance() {
		return fmt.Errorf("close request state %d/%d seq %d is not the latest state %d/%d seq %d",
			closeIn.OwnerBalance, closeIn.CounterpartyBalance, closeIn.Sequence,
			a.channel.OwnerBalance(), a.channel.CounterpartyBalance(), a.channel.Sequence())
	}
	closeHash := a.channel.CooperativeCloseHash()
	sig, err := a.key.Sign(closeHash[:])
	if err != nil {
		return fmt.Errorf("signing close: %w", err)
	}
	ownerSig, counterpartySig := closeIn.Signature, sig
	if a.isOwner {
		ownerSig, counterpartySig = sig, closeIn.Signature
	}
	outputs := a.channel.SettlementOutputs()
	distribution, err := a.channel.CooperativeClose(ownerSig, counterpartySig, outputs, nil)
	if err != nil {
		return fmt.Errorf("closing cooperatively: %w", err)
	}
	err = send.Encode(msg.Message{
		Type:          msg.TypeCloseResponse,
		CloseResponse: &msg.CloseResponse{Sequence: closeIn.Sequence, Signature: sig},
	})
	if err != nil {
		return fmt.Errorf("encoding close response to send back: %w", err)
	}
	err = a.submitDistribution(distribution)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.logWriter, "close successful")
	if a.events != nil {
		a.events <- ClosedEvent{Distribution: distribution}
	}
	return nil
}

func (a *Agent) handleCloseResponse(m msg.Message, send *msg.Encoder) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.channel == nil {
		return fmt.Errorf("no channel")
	}
	if a.pendingCloseSig == nil {
		return fmt.Errorf("close response received with no close in flight")
	}

	defer a.snapshot()

	closeIn := *m.CloseResponse
	ownerSig, counterpartySig := closeIn.Signature, a.pendingCloseSig
	if a.isOwner {
		ownerSig, counterpartySig = a.pendingCloseSig, closeIn.Signature
	}
	outputs := a.channel.SettlementOutputs()
	distribution, err := a.channel.CooperativeClose(ownerSig, counterpartySig, outputs, nil)
	if err != nil {
		return fmt.Errorf("closing cooperatively: %w", err)
	}
	a.pendingCloseSig = nil
	err = a.submitDistribution(distribution)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.logWriter, "close successful")
	if a.events != nil {
		a.events <- ClosedEvent{Distribution: distribution}
	}
	return nil
}
