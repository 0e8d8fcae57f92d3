/*
Package state contains a state machine, contained in the Channel type, for
managing a bidirectional payment channel between a rental owner and a renter.

A channel holds a fixed capacity whose split between the two parties is
renegotiated many times off-chain before one on-chain settlement. The Channel
type carries the on-chain view only; the off-chain negotiation log lives in
the offchain package and feeds its latest fully-signed state into Update or
CooperativeClose here.

The channel's anti-fraud property is replace-by-higher-sequence: every
accepted update strictly increases the sequence number, so an old state that
is more favorable to one party can never be re-submitted after a newer one
exists.

Closing takes one of two paths:
  - CooperativeClose: both parties sign and the recorded balances are
    distributed immediately.
  - InitiateClose then FinalizeClose: one party opens a dispute window during
    which the other may supersede the closing state with a higher-sequence
    Update (which re-opens the channel and must be re-closed); if the window
    elapses undisturbed, the initiator finalizes alone.

Transitions are synchronous predicate checks taking the ledger clock and the
proposed output distribution as explicit arguments; either every precondition
holds and the full effect commits, or nothing changes.

None of the primitives in this package are threadsafe and synchronization
must be provided by the caller if the package is used in a concurrent
context.
*/
package state
