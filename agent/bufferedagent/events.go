package bufferedagent

import (
	"github.com/keyloft/settlement/offchain"
)

// ErrorEvent occurs when an error has occurred, and contains the error
// occurred.
type ErrorEvent struct {
	Err error
}

// BufferedStreamSentEvent occurs when a buffer of payments has been collapsed
// into a single streamed payment and confirmed by the other participant.
type BufferedStreamSentEvent struct {
	BufferID    string
	Payments    int
	TotalAmount int64
	Update      offchain.Update
}

// BufferedStreamReceivedEvent occurs when a streamed payment, possibly a
// collapsed buffer on the sender's side, has been received and confirmed.
type BufferedStreamReceivedEvent struct {
	Update offchain.Update
}
