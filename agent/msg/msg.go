// Package msg contains the messages exchanged between two settlement agents
// over their connection, and the codec used to read and write them.
package msg

import (
	"encoding/gob"
	"io"

	"github.com/stellar/go/keypair"
)

type Type int

const (
	TypeHello          Type = 10
	TypeOpenRequest    Type = 20
	TypeOpenResponse   Type = 21
	TypeStreamRequest  Type = 30
	TypeStreamResponse Type = 31
	TypeCloseRequest   Type = 40
	TypeCloseResponse  Type = 41
)

// Message is the tagged union written on the wire. Type selects which field
// is set.
type Message struct {
	Type Type

	Hello *Hello

	OpenRequest  *OpenRequest
	OpenResponse *OpenResponse

	StreamRequest  *StreamRequest
	StreamResponse *StreamResponse

	CloseRequest  *CloseRequest
	CloseResponse *CloseResponse
}

// Hello identifies a participant: its verification key and whether it is the
// rental owner in the channel.
type Hello struct {
	Key     keypair.FromAddress
	IsOwner bool
}

// OpenRequest proposes the immutable channel terms. Both agents derive the
// same channel identity from them.
type OpenRequest struct {
	Capacity       int64
	DisputeTimeout int64
	ChannelRef     string
}

// OpenResponse acknowledges the channel terms.
type OpenResponse struct {
	Accepted bool
}

// StreamRequest proposes a micro-payment from the renter to the owner: the
// resulting balance split at the next sequence, signed by the sender.
type StreamRequest struct {
	Amount              int64
	OwnerBalance        int64
	CounterpartyBalance int64
	Sequence            int64
	Signature           []byte
}

// StreamResponse returns the receiver's signature over the same update
// message, completing the quorum for the streamed update.
type StreamResponse struct {
	Sequence  int64
	Signature []byte
}

// CloseRequest proposes a cooperative close at the latest negotiated state,
// signed by the sender over the close message.
type CloseRequest struct {
	OwnerBalance        int64
	CounterpartyBalance int64
	Sequence            int64
	Signature           []byte
}

// CloseResponse returns the receiver's signature over the close message.
type CloseResponse struct {
	Sequence  int64
	Signature []byte
}

type Encoder = gob.Encoder

func NewEncoder(w io.Writer) *Encoder {
	return gob.NewEncoder(w)
}

type Decoder = gob.Decoder

func NewDecoder(r io.Reader) *Decoder {
	return gob.NewDecoder(r)
}
