package snapshotfile

import (
	"path/filepath"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyloft/settlement/agent"
	"github.com/keyloft/settlement/state"
)

func TestSnapshotter_writeAndLoad(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "agent.snapshot")
	s := Snapshotter{
		Filename: filename,
		OnError:  func(err error) { t.Errorf("snapshotting: %v", err) },
	}

	remoteKey := keypair.MustRandom().FromAddress()
	snapshot := agent.Snapshot{
		RemoteKey:      remoteKey,
		Capacity:       1000,
		DisputeTimeout: 10,
		ChannelRef:     "booking-31337",
		Channel: &state.Snapshot{
			OwnerBalance:        300,
			CounterpartyBalance: 700,
			Sequence:            3,
			Status:              state.StatusOpen,
		},
	}
	s.Snapshot(nil, snapshot)

	loaded, err := Load(filename)
	require.NoError(t, err)
	assert.Equal(t, remoteKey.Address(), loaded.RemoteKey.Address())
	assert.Equal(t, int64(1000), loaded.Capacity)
	assert.Equal(t, "booking-31337", loaded.ChannelRef)
	require.NotNil(t, loaded.Channel)
	assert.Equal(t, int64(300), loaded.Channel.OwnerBalance)
	assert.Equal(t, int64(3), loaded.Channel.Sequence)
}

func TestSnapshotter_overwrites(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "agent.snapshot")
	s := Snapshotter{
		Filename: filename,
		OnError:  func(err error) { t.Errorf("snapshotting: %v", err) },
	}

	s.Snapshot(nil, agent.Snapshot{Capacity: 500})
	s.Snapshot(nil, agent.Snapshot{Capacity: 1000})

	loaded, err := Load(filename)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), loaded.Capacity)
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}

func TestSnapshotter_reportsWriteErrors(t *testing.T) {
	gotErr := error(nil)
	s := Snapshotter{
		Filename: filepath.Join(t.TempDir(), "missing-dir", "agent.snapshot"),
		OnError:  func(err error) { gotErr = err },
	}
	s.Snapshot(nil, agent.Snapshot{})
	require.Error(t, gotErr)
}
