package agent

import (
	"github.com/keyloft/settlement/offchain"
	"github.com/keyloft/settlement/txcommit"
)

// ErrorEvent occurs when an error has occurred, and contains the error
// occurred.
type ErrorEvent struct {
	Err error
}

// ConnectedEvent occurs when the agent is connected to the other participant
// and their identities have been exchanged.
type ConnectedEvent struct{}

// OpenedEvent occurs when both participants have agreed on the channel terms.
type OpenedEvent struct{}

// StreamSentEvent occurs when a streamed payment proposed by this agent has
// been countersigned and recorded.
type StreamSentEvent struct {
	Update offchain.Update
}

// StreamReceivedEvent occurs when a streamed payment proposed by the other
// participant has been countersigned and recorded.
type StreamReceivedEvent struct {
	Update offchain.Update
}

// ClosingEvent occurs when a close has been proposed or initiated and no new
// streamed payments should be proposed.
type ClosingEvent struct{}

// ClosedEvent occurs when the channel has settled, and carries the realized
// output distribution.
type ClosedEvent struct {
	Distribution []txcommit.Output
}
