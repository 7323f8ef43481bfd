// Package harness holds the package-level registry of harness adapters
// (C12): each coding-agent harness a target can compose against registers
// itself under its id, with "claude" as the default.
package harness

import (
	"asp/pkg/space"
)

// DefaultId is the adapter id used when a target declares no `harness`
// option.
const DefaultId = "claude"

var registry = map[string]space.Adapter{}

// Register adds an adapter to the package-level registry under id. Adapter
// construction (pkg/space/harness/claude.New, etc.) happens at orchestrator
// wiring time, since adapters need an afero.Fs and a tmp-dir function.
func Register(id string, adapter space.Adapter) {
	registry[id] = adapter
}

// Get looks up a registered adapter by id.
func Get(id string) (space.Adapter, error) {
	if id == "" {
		id = DefaultId
	}
	adapter, ok := registry[id]
	if !ok {
		return nil, &space.HarnessError{HarnessId: id, Message: "no adapter registered for this harness"}
	}
	return adapter, nil
}

// Ids returns every currently registered harness id.
func Ids() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	return ids
}
