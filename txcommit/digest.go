package txcommit

import (
	"encoding/hex"
	"fmt"
)

// Digest is the collision-resistant commitment to an output distribution. It
// is the value every on-chain transition compares to bind its internal
// accounting to the value movement the ledger is asked to perform.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) MarshalText() ([]byte, error) {
	text := [len(d) * 2]byte{}
	n := hex.Encode(text[:], d[:])
	if n != len(text) {
		return nil, hex.ErrLength
	}
	return text[:], nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) != len(d)*2 {
		return fmt.Errorf("unmarshaling commitment digest: input length %d expected %d", len(text), len(d)*2)
	}
	n, err := hex.Decode(d[:], text)
	if err != nil {
		return fmt.Errorf("unmarshaling commitment digest: %w", err)
	}
	if n != len(d) {
		return fmt.Errorf("unmarshaling commitment digest: decoded length %d expected %d", n, len(d))
	}
	return nil
}
