package msg

import (
	"bytes"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/require"
)

func TestCodec(t *testing.T) {
	key := keypair.MustRandom().FromAddress()
	buf := bytes.Buffer{}

	err := NewEncoder(&buf).Encode(Message{
		Type:  TypeHello,
		Hello: &Hello{Key: *key, IsOwner: true},
	})
	require.NoError(t, err)

	got := Message{}
	err = NewDecoder(&buf).Decode(&got)
	require.NoError(t, err)
	require.Equal(t, TypeHello, got.Type)
	require.NotNil(t, got.Hello)
	require.Equal(t, key.Address(), got.Hello.Key.Address())
	require.True(t, got.Hello.IsOwner)
}

func TestCodec_streamRequest(t *testing.T) {
	buf := bytes.Buffer{}
	err := NewEncoder(&buf).Encode(Message{
		Type: TypeStreamRequest,
		StreamRequest: &StreamRequest{
			Amount:              100,
			OwnerBalance:        300,
			CounterpartyBalance: 700,
			Sequence:            3,
			Signature:           []byte("sig"),
		},
	})
	require.NoError(t, err)

	got := Message{}
	err = NewDecoder(&buf).Decode(&got)
	require.NoError(t, err)
	require.Equal(t, TypeStreamRequest, got.Type)
	require.Equal(t, int64(100), got.StreamRequest.Amount)
	require.Equal(t, int64(3), got.StreamRequest.Sequence)
}
