// Package txcommit builds the deterministic commitment that binds a contract
// transition to an exact list of value recipients and amounts.
//
// Both the committer (a state machine computing the distribution it requires)
// and the verifier (the ledger evaluating a proposed outputs list) encode the
// same logical distribution to the same bytes: outputs are encoded in order,
// zero-amount outputs are omitted entirely, and the optional ledger-defined
// change placeholder is appended last. There is no alternate or degraded
// encoding path.
package txcommit

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/stellar/go/keypair"
)

// ErrMismatch indicates a proposed output distribution does not commit to the
// digest the contract computed for the transition.
var ErrMismatch = errors.New("output commitment mismatch")

// Output is a single (beneficiary, amount) pair in a proposed distribution.
// Amount is denominated in the ledger's smallest unit.
type Output struct {
	Beneficiary *keypair.FromAddress
	Amount      int64
}

const encodingVersion = "keyloft/txcommit/v1"

// Commit produces the digest for an ordered output distribution. Change is an
// opaque ledger-defined placeholder for any remainder retained by the
// settling transaction; nil means no change output.
//
// Zero-amount outputs are skipped so that including or omitting them encodes
// identically. Negative amounts and nil beneficiaries are rejected.
func Commit(outputs []Output, change []byte) (Digest, error) {
	h := sha256.New()
	h.Write([]byte(encodingVersion))

	n := uint32(0)
	for _, o := range outputs {
		if o.Amount != 0 {
			n++
		}
	}
	binary.Write(h, binary.BigEndian, n)

	for i, o := range outputs {
		if o.Amount == 0 {
			continue
		}
		if o.Amount < 0 {
			return Digest{}, fmt.Errorf("output %d: amount %d is negative", i, o.Amount)
		}
		if o.Beneficiary == nil {
			return Digest{}, fmt.Errorf("output %d: beneficiary is unset", i)
		}
		addr := o.Beneficiary.Address()
		binary.Write(h, binary.BigEndian, uint32(len(addr)))
		h.Write([]byte(addr))
		binary.Write(h, binary.BigEndian, uint64(o.Amount))
	}

	if change != nil {
		h.Write([]byte{1})
		binary.Write(h, binary.BigEndian, uint32(len(change)))
		h.Write(change)
	} else {
		h.Write([]byte{0})
	}

	d := Digest{}
	h.Sum(d[:0])
	return d, nil
}

// Verify recomputes the digest of a proposed distribution and compares it to
// the digest the contract requires. A difference is reported as ErrMismatch.
func Verify(required Digest, proposed []Output, change []byte) error {
	got, err := Commit(proposed, change)
	if err != nil {
		return fmt.Errorf("committing proposed outputs: %w", err)
	}
	if got != required {
		return fmt.Errorf("%w: proposed %s required %s", ErrMismatch, got, required)
	}
	return nil
}

// Sum adds up the non-zero amounts in a distribution.
func Sum(outputs []Output) int64 {
	sum := int64(0)
	for _, o := range outputs {
		sum += o.Amount
	}
	return sum
}
