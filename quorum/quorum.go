// Package quorum verifies that every required party has signed the canonical
// message for a contract transition. The two-party contracts in this module
// never accept a partial quorum: a transition requiring both signatures
// requires exactly both.
package quorum

import (
	"errors"
	"fmt"

	"github.com/stellar/go/keypair"
	"golang.org/x/sync/errgroup"
)

// ErrBadSignature indicates one or more required signatures failed
// verification against the canonical message.
var ErrBadSignature = errors.New("signature verification failed")

// Requirement is a single required signature: the party expected to have
// signed, the 32-byte message digest they must have signed, and the signature
// they produced.
type Requirement struct {
	Signer    *keypair.FromAddress
	Message   [32]byte
	Signature []byte
}

// Verify checks every requirement and succeeds only if all signatures verify.
// Any failure is reported as ErrBadSignature identifying the offending
// signer. Verify never mutates anything and is safe to call concurrently.
func Verify(requirements ...Requirement) error {
	g := errgroup.Group{}
	for _, r := range requirements {
		r := r
		g.Go(func() error {
			if r.Signer == nil {
				return fmt.Errorf("%w: signer is unset", ErrBadSignature)
			}
			err := r.Signer.Verify(r.Message[:], r.Signature)
			if err != nil {
				return fmt.Errorf("%w: signer %s", ErrBadSignature, r.Signer.Address())
			}
			return nil
		})
	}
	return g.Wait()
}
