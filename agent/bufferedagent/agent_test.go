package bufferedagent

import (
	"net"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyloft/settlement/agent"
	"github.com/keyloft/settlement/ledger"
)

func waitForEvent[T any](t *testing.T, events <-chan interface{}) T {
	t.Helper()
	for {
		select {
		case e := <-events:
			if ev, ok := e.(T); ok {
				return ev
			}
			if ee, ok := e.(ErrorEvent); ok {
				t.Fatalf("waiting for event: buffered agent error: %v", ee.Err)
			}
			if ee, ok := e.(agent.ErrorEvent); ok {
				t.Fatalf("waiting for event: agent error: %v", ee.Err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event")
		}
	}
}

func TestAgent_buffersStreamedPayments(t *testing.T) {
	ownerKey := keypair.MustRandom()
	renterKey := keypair.MustRandom()
	onLedger := ledger.NewMemory(100)

	ownerEvents := make(chan interface{}, 100)
	owner := agent.NewAgent(agent.Config{
		IsOwner:   true,
		Key:       ownerKey,
		Clock:     onLedger,
		Submitter: onLedger,
		Events:    ownerEvents,
	})

	renterAgentEvents := make(chan interface{}, 100)
	renter := agent.NewAgent(agent.Config{
		IsOwner:        false,
		Capacity:       1000,
		DisputeTimeout: 10,
		ChannelRef:     "booking-31337",
		Key:            renterKey,
		Clock:          onLedger,
		Submitter:      onLedger,
		Events:         renterAgentEvents,
	})

	bufferedEvents := make(chan interface{}, 100)
	buffered := NewAgent(Config{
		Agent:       renter,
		AgentEvents: renterAgentEvents,
		Events:      bufferedEvents,
	})

	ownerConn, renterConn := net.Pipe()
	t.Cleanup(func() { ownerConn.Close() })
	t.Cleanup(func() { renterConn.Close() })
	errs := make(chan error, 1)
	go func() { errs <- owner.Connect(ownerConn) }()
	require.NoError(t, renter.Connect(renterConn))
	require.NoError(t, <-errs)

	// Non-stream events pass through the buffered agent untouched.
	waitForEvent[agent.ConnectedEvent](t, bufferedEvents)
	waitForEvent[agent.ConnectedEvent](t, ownerEvents)

	require.NoError(t, renter.Open())
	waitForEvent[agent.OpenedEvent](t, bufferedEvents)
	waitForEvent[agent.OpenedEvent](t, ownerEvents)

	// Queue several payments quickly; the buffered agent is free to collapse
	// any of them that share a buffer into a single streamed payment.
	const payments = 4
	const amount = int64(50)
	bufferIDs := map[string]bool{}
	for i := 0; i < payments; i++ {
		id, err := buffered.StreamPayment(amount)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		bufferIDs[id] = true
	}

	gotPayments := 0
	gotTotal := int64(0)
	for gotTotal < payments*amount {
		sent := waitForEvent[BufferedStreamSentEvent](t, bufferedEvents)
		assert.True(t, bufferIDs[sent.BufferID], "unknown buffer id %q", sent.BufferID)
		gotPayments += sent.Payments
		gotTotal += sent.TotalAmount
	}
	assert.Equal(t, payments, gotPayments)
	assert.Equal(t, payments*amount, gotTotal)

	// The owner's ledger converges on the full streamed total.
	ownerTotal := int64(0)
	for ownerTotal < payments*amount {
		received := waitForEvent[agent.StreamReceivedEvent](t, ownerEvents)
		ownerTotal = received.Update.OwnerBalance
	}
	assert.Equal(t, payments*amount, ownerTotal)
}

func TestAgent_streamPaymentRejectsNonPositiveAmounts(t *testing.T) {
	renter := agent.NewAgent(agent.Config{IsOwner: false, Key: keypair.MustRandom()})
	agentEvents := make(chan interface{})
	buffered := NewAgent(Config{Agent: renter, AgentEvents: agentEvents})

	_, err := buffered.StreamPayment(0)
	require.Error(t, err)
	_, err = buffered.StreamPayment(-10)
	require.Error(t, err)
}

func TestAgent_bufferFull(t *testing.T) {
	renter := agent.NewAgent(agent.Config{IsOwner: false, Key: keypair.MustRandom()})
	agentEvents := make(chan interface{})
	buffered := NewAgent(Config{Agent: renter, AgentEvents: agentEvents, MaxBufferSize: 1})

	// The underlying agent is not connected, so the first payment stays
	// buffered or fails to flush; either way the cap applies to what remains
	// queued.
	buffered.mu.Lock()
	buffered.bufferCount = buffered.maxBufferSize
	buffered.mu.Unlock()

	_, err := buffered.StreamPayment(1)
	require.ErrorIs(t, err, ErrBufferFull)
}
