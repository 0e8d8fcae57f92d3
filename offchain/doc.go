/*
Package offchain contains the non-consensus log of successive payment channel
updates negotiated between the two participants before settlement.

The Ledger is append-only and keeps the full update history for audit, but
only the highest-sequence entry, which always carries both signatures, is
ever fed into the on-chain channel for settlement. Updates are signed over
the same canonical message the on-chain Update transition verifies, so the
latest recorded state can be settled directly.

The Ledger assumes a single writer. Callers sharing one across goroutines
must serialize CreateUpdate and StreamPayment calls with their own lock or
actor.
*/
package offchain
