// Package snapshotfile persists agent snapshots to a gzip-compressed JSON
// file, so an agent can be restored after a restart with
// agent.NewAgentFromSnapshot.
package snapshotfile

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/keyloft/settlement/agent"
)

// Snapshotter writes every snapshot it is given to Filename, replacing the
// previous one. Write errors are reported through OnError since Snapshot has
// no error return; a nil OnError panics on failure.
type Snapshotter struct {
	Filename string
	OnError  func(error)
}

var _ agent.Snapshotter = Snapshotter{}

func (s Snapshotter) Snapshot(a *agent.Agent, snapshot agent.Snapshot) {
	err := write(s.Filename, snapshot)
	if err != nil {
		if s.OnError == nil {
			panic(err)
		}
		s.OnError(err)
	}
}

func write(filename string, snapshot agent.Snapshot) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("creating snapshot file %s: %w", filename, err)
	}
	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	err = enc.Encode(snapshot)
	if err != nil {
		_ = zw.Close()
		_ = f.Close()
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	err = zw.Close()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("closing snapshot compressor: %w", err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing snapshot file %s: %w", filename, err)
	}
	return nil
}

// Load reads a snapshot previously written by Snapshotter.
func Load(filename string) (agent.Snapshot, error) {
	f, err := os.Open(filename)
	if err != nil {
		return agent.Snapshot{}, fmt.Errorf("opening snapshot file %s: %w", filename, err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return agent.Snapshot{}, fmt.Errorf("decompressing snapshot file %s: %w", filename, err)
	}
	defer zr.Close()
	snapshot := agent.Snapshot{}
	err = json.NewDecoder(zr).Decode(&snapshot)
	if err != nil {
		return agent.Snapshot{}, fmt.Errorf("decoding snapshot file %s: %w", filename, err)
	}
	return snapshot, nil
}
