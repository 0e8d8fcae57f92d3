package quorum

import (
	"crypto/sha256"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	owner := keypair.MustRandom()
	counterparty := keypair.MustRandom()
	msg := sha256.Sum256([]byte("transition"))

	ownerSig, err := owner.Sign(msg[:])
	require.NoError(t, err)
	counterpartySig, err := counterparty.Sign(msg[:])
	require.NoError(t, err)

	err = Verify(
		Requirement{Signer: owner.FromAddress(), Message: msg, Signature: ownerSig},
		Requirement{Signer: counterparty.FromAddress(), Message: msg, Signature: counterpartySig},
	)
	require.NoError(t, err)
}

func TestVerify_oneSignatureInvalid(t *testing.T) {
	owner := keypair.MustRandom()
	counterparty := keypair.MustRandom()
	msg := sha256.Sum256([]byte("transition"))

	ownerSig, err := owner.Sign(msg[:])
	require.NoError(t, err)

	// Counterparty signs with the wrong key.
	counterpartySig, err := owner.Sign(msg[:])
	require.NoError(t, err)

	err = Verify(
		Requirement{Signer: owner.FromAddress(), Message: msg, Signature: ownerSig},
		Requirement{Signer: counterparty.FromAddress(), Message: msg, Signature: counterpartySig},
	)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_wrongMessage(t *testing.T) {
	signer := keypair.MustRandom()
	msg := sha256.Sum256([]byte("transition"))
	other := sha256.Sum256([]byte("other transition"))

	sig, err := signer.Sign(msg[:])
	require.NoError(t, err)

	err = Verify(Requirement{Signer: signer.FromAddress(), Message: other, Signature: sig})
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_nilSigner(t *testing.T) {
	msg := sha256.Sum256([]byte("transition"))
	err := Verify(Requirement{Signer: nil, Message: msg, Signature: []byte("sig")})
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_noRequirements(t *testing.T) {
	require.NoError(t, Verify())
}
