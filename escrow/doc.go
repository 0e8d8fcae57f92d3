/*
Package escrow contains a state machine, contained in the Contract type, for
managing the lump-sum deposit held during a rental.

A contract holds a fixed total, the rental fee plus the deposit, from the
moment the booking is funded until one of three terminal transitions:
  - Release: both parties sign off after the rental completes and the total is
    split between them.
  - Timeout: the counterparty went unresponsive, the timeout height passed,
    and the owner claims the full total unilaterally.
  - Refund: the rental is cancelled before handover and the full total returns
    to the counterparty.

Transitions are synchronous predicate checks: either every precondition holds
and the full effect commits, or nothing changes. The contract never reads
ambient state; the ledger clock and the proposed output distribution are
passed in by the caller.

There is deliberately no unilateral exit from the Funded state. A contract
that is funded but never activated can only be unwound by a refund carrying
both signatures.

None of the primitives in this package are threadsafe and synchronization
must be provided by the caller if the package is used in a concurrent
context.
*/
package escrow
