// Package routing models the static routing table that the (external,
// out-of-scope) Rule Deployer supplies, and the Service Resolver lookup
// the dispatcher uses to turn a successor place name into a UDP
// destination (§2, §4.4, §6 "Port computation"). Grounded on
// cmd/workflow-runner/coordinator/node_router.go's routing-by-node-type
// shape, generalized from its stream-name lookup into the spec's
// (channelId, host, basePort) resolution and decision-arc routing.
package routing

import (
	"fmt"
	"sync"

	"github.com/lyzr/tokenmesh/common/correlator"
)

// TransitionKind is the kind of transition a place's outbound arcs form
// (§4.2 "Transition (conceptual)").
type TransitionKind string

const (
	KindEdge     TransitionKind = "edge"
	KindFork     TransitionKind = "fork"
	KindDecision TransitionKind = "decision"
	KindJoin     TransitionKind = "join"
)

// PlaceRoute is one place's static routing configuration: its kind of
// outbound transition and, depending on kind, either a single successor
// (Edge), N successors (Fork), or a set of decision arcs.
type PlaceRoute struct {
	PlaceID      string
	Kind         TransitionKind
	Successor    string                   // Edge: successor place id
	ForkCount    int                      // Fork
	ForkTargets  []string                 // Fork, one per branch in order (successor place ids)
	Arcs         []correlator.DecisionArc // Decision: DecisionArc.Destination is a successor place id
	JoinBranches int                      // Join: branches this place's T_in expects

	// ServiceName/Operation identify the business service this place
	// itself is bound to (§2 "Business Handler", §6 "service"). A
	// dispatcher routing a token to a successor place looks up the
	// successor's PlaceRoute for these fields, then resolves
	// (ServiceName, Operation) through the endpoint map to get a UDP
	// destination (§4.4 step 8).
	ServiceName string
	Operation   string
}

// Endpoint is a resolved UDP destination.
type Endpoint struct {
	ChannelID string
	Host      string
	BasePort  int
}

// Table is the in-memory routing table. Safe for concurrent reads/writes;
// the dispatcher reads it on every firing while a hot-patch (§SPEC_FULL
// "DOMAIN STACK" item 3) or the Redis sync subscriber may replace entries
// concurrently.
type Table struct {
	mu        sync.RWMutex
	places    map[string]PlaceRoute
	endpoints map[string]Endpoint // serviceName|operation -> endpoint
}

// NewTable creates an empty routing table.
func NewTable() *Table {
	return &Table{
		places:    make(map[string]PlaceRoute),
		endpoints: make(map[string]Endpoint),
	}
}

// SetPlaceRoute installs or replaces a place's routing configuration.
func (t *Table) SetPlaceRoute(r PlaceRoute) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.places[r.PlaceID] = r
}

// PlaceRoute returns the routing configuration for placeID.
func (t *Table) PlaceRoute(placeID string) (PlaceRoute, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.places[placeID]
	return r, ok
}

// SetEndpoint installs or replaces the resolver entry for
// (serviceName, operation).
func (t *Table) SetEndpoint(serviceName, operation string, ep Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoints[endpointKey(serviceName, operation)] = ep
}

// Resolve implements the Service Resolver lookup:
// resolve(serviceName, operation) -> (channelId, host, basePort) (§2).
// ResolverMiss (§7) is signaled by ok == false.
func (t *Table) Resolve(serviceName, operation string) (Endpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ep, ok := t.endpoints[endpointKey(serviceName, operation)]
	if ok {
		return ep, true
	}
	// Fall back to a service-wide default registered under a blank operation.
	ep, ok = t.endpoints[endpointKey(serviceName, "")]
	return ep, ok
}

func endpointKey(serviceName, operation string) string {
	return serviceName + "|" + operation
}

// Snapshot returns a deep-enough copy for JSON-Patch application (§SPEC_FULL
// DOMAIN STACK item 3): callers marshal this, apply the patch, then replace
// the table's state via ReplaceAll.
func (t *Table) Snapshot() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	places := make(map[string]PlaceRoute, len(t.places))
	for k, v := range t.places {
		places[k] = v
	}
	endpoints := make(map[string]Endpoint, len(t.endpoints))
	for k, v := range t.endpoints {
		endpoints[k] = v
	}
	return map[string]interface{}{
		"places":    places,
		"endpoints": endpoints,
	}
}

// ReplaceAll atomically swaps the table's contents, used after a validated
// JSON-Patch has been applied to a Snapshot (§SPEC_FULL DOMAIN STACK item 3).
func (t *Table) ReplaceAll(places map[string]PlaceRoute, endpoints map[string]Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.places = places
	t.endpoints = endpoints
}

// ErrResolverMiss is returned by dispatch-level callers that wrap Resolve
// (§7 "ResolverMiss — no (host, port) for a successor").
var ErrResolverMiss = fmt.Errorf("routing: no endpoint for (serviceName, operation)")
