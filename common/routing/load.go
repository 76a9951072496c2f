package routing

import (
	"encoding/json"
	"fmt"
	"os"
)

// document is the on-disk shape of a routing table, the same
// {places, endpoints} pair ApplyPatch decodes a patched snapshot into.
// The Rule Deployer (out of scope) is expected to drop one of these at
// process start; PATCH /routing and the Redis sync channel take over
// from there.
type document struct {
	Places    map[string]PlaceRoute `json:"places"`
	Endpoints map[string]Endpoint   `json:"endpoints"`
}

// LoadFile reads a routing table document from path and installs it into
// t, replacing whatever was there. Used once at place startup; hot
// updates after that go through ApplyPatch.
func LoadFile(t *Table, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("routing: read table file %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("routing: decode table file %s: %w", path, err)
	}

	for id, r := range doc.Places {
		if r.Kind == KindFork && (r.ForkCount < 1 || r.ForkCount > 99) {
			return fmt.Errorf("routing: place %q fork count %d out of [1,99]", id, r.ForkCount)
		}
	}

	t.ReplaceAll(doc.Places, doc.Endpoints)
	return nil
}
