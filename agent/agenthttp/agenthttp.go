// Package agenthttp exposes a read-only JSON view of an agent's state over
// HTTP, for dashboards and debugging.
package agenthttp

import (
	"encoding/json"
	"net/http"

	"github.com/rs/cors"

	"github.com/keyloft/settlement/agent"
)

func New(a *agent.Agent) http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/", handleSnapshot(a))
	return cors.Default().Handler(m)
}

func handleSnapshot(a *agent.Agent) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		v := struct {
			IsOwner  bool
			Snapshot agent.Snapshot
		}{
			IsOwner:  a.IsOwner(),
			Snapshot: a.Snapshot(),
		}
		err := enc.Encode(v)
		if err != nil {
			panic(err)
		}
	}
}
