package agenthttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyloft/settlement/agent"
)

func TestHandler_servesSnapshot(t *testing.T) {
	a := agent.NewAgent(agent.Config{
		IsOwner:        true,
		Capacity:       1000,
		DisputeTimeout: 10,
		ChannelRef:     "booking-31337",
		Key:            keypair.MustRandom(),
	})
	h := New(a)

	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	got := struct {
		IsOwner  bool
		Snapshot agent.Snapshot
	}{}
	err := json.Unmarshal(w.Body.Bytes(), &got)
	require.NoError(t, err)
	assert.True(t, got.IsOwner)
	assert.Equal(t, int64(1000), got.Snapshot.Capacity)
	assert.Equal(t, "booking-31337", got.Snapshot.ChannelRef)
	assert.Nil(t, got.Snapshot.Channel)
}

func TestHandler_cors(t *testing.T) {
	a := agent.NewAgent(agent.Config{IsOwner: false, Key: keypair.MustRandom()})
	h := New(a)

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
