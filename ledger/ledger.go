// Package ledger defines the boundary to the external ledger/settlement
// layer. The settlement core never talks to a ledger directly; it proposes
// value distributions annotated with a commitment digest and compares against
// the ledger's monotonic clock, both supplied through these interfaces.
package ledger

import (
	"github.com/keyloft/settlement/txcommit"
)

// Clock reports the ledger's monotonically non-decreasing height. Transition
// evaluation queries it; the core never polls or waits.
type Clock interface {
	CurrentHeight() (int64, error)
}

// Submitter submits a set of outputs for inclusion in a settling
// transaction, annotated with the digest the ledger's predicate must match.
type Submitter interface {
	SubmitOutputs(commitment txcommit.Digest, outputs []txcommit.Output, change []byte) error
}
