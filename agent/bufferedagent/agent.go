// Package bufferedagent wraps an agent and buffers outgoing streamed
// payments, collapsing them down to a single payment whenever the channel is
// busy confirming the previous one. Rentals metered at a fine grain can
// stream far faster than a propose/confirm round trip this way.
package bufferedagent

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/keyloft/settlement/agent"
)

// ErrBufferFull indicates that the payment buffer has reached its maximum
// size as configured when the buffered agent was created.
var ErrBufferFull = errors.New("buffer full")

// Config contains the information that can be supplied to configure the
// Agent at construction.
type Config struct {
	Agent       *agent.Agent
	AgentEvents <-chan interface{}

	// MaxBufferSize caps the number of payments waiting in the buffer. Zero
	// means no cap.
	MaxBufferSize int

	LogWriter io.Writer

	Events chan<- interface{}
}

// NewAgent constructs a new buffered agent with the given config.
func NewAgent(c Config) *Agent {
	logWriter := c.LogWriter
	if logWriter == nil {
		logWriter = io.Discard
	}
	a := &Agent{
		agent:         c.Agent,
		agentEvents:   c.AgentEvents,
		maxBufferSize: c.MaxBufferSize,
		logWriter:     logWriter,

		bufferReady:  make(chan struct{}, 1),
		sendingReady: make(chan struct{}, 1),

		events: c.Events,
	}
	a.resetBuffer()
	a.sendingReady <- struct{}{}
	go a.eventLoop()
	go a.flushLoop()
	return a
}

// Agent buffers streamed payments and collapses them down into single
// payments while it waits for a chance to make the next payment.
//
// All functions of the Agent are safe to call from multiple goroutines as
// they use an internal mutex.
type Agent struct {
	agent         *agent.Agent
	agentEvents   <-chan interface{}
	maxBufferSize int

	logWriter io.Writer

	events chan<- interface{}

	bufferReady  chan struct{}
	sendingReady chan struct{}

	// mu is a lock for the mutable fields of this type. It should be locked
	// when reading or writing any of the mutable fields.
	mu sync.Mutex

	bufferID    string
	bufferCount int
	bufferTotal int64

	sentID    string
	sentCount int
	sentTotal int64
}

func (a *Agent) resetBuffer() {
	a.bufferID = uuid.NewString()
	a.bufferCount = 0
	a.bufferTotal = 0
}

// StreamPayment queues a micro-payment for streaming and returns the id of
// the buffer it was added to. Payments in one buffer are streamed as a single
// collapsed payment.
func (a *Agent) StreamPayment(amount int64) (bufferID string, err error) {
	if amount <= 0 {
		return "", fmt.Errorf("payment amount %d must be positive", amount)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maxBufferSize > 0 && a.bufferCount >= a.maxBufferSize {
		return "", ErrBufferFull
	}
	a.bufferCount++
	a.bufferTotal += amount
	bufferID = a.bufferID
	select {
	case a.bufferReady <- struct{}{}:
	default:
	}
	return bufferID, nil
}

func (a *Agent) flushLoop() {
	for range a.bufferReady {
		<-a.sendingReady
		a.flush()
	}
}

func (a *Agent) flush() {
	a.mu.Lock()
	if a.bufferCount == 0 {
		a.mu.Unlock()
		a.sendingReady <- struct{}{}
		return
	}
	a.sentID = a.bufferID
	a.sentCount = a.bufferCount
	a.sentTotal = a.bufferTotal
	a.resetBuffer()
	total := a.sentTotal
	a.mu.Unlock()

	fmt.Fprintf(a.logWriter, "flushing buffer of %d\n", total)
	err := a.agent.StreamPayment(total)
	if err != nil {
		fmt.Fprintf(a.logWriter, "error flushing buffer: %v\n", err)
		if a.events != nil {
			a.events <- ErrorEvent{Err: err}
		}
		a.sendingReady <- struct{}{}
	}
}

func (a *Agent) eventLoop() {
	for e := range a.agentEvents {
		switch e := e.(type) {
		case agent.StreamSentEvent:
			a.mu.Lock()
			sent := BufferedStreamSentEvent{
				BufferID:    a.sentID,
				Payments:    a.sentCount,
				TotalAmount: a.sentTotal,
				Update:      e.Update,
			}
			a.mu.Unlock()
			if a.events != nil {
				a.events <- sent
			}
			a.sendingReady <- struct{}{}
		case agent.StreamReceivedEvent:
			if a.events != nil {
				a.events <- BufferedStreamReceivedEvent{Update: e.Update}
			}
		default:
			if a.events != nil {
				a.events <- e
			}
		}
	}
}
