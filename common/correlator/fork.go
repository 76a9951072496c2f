// Package correlator implements §4.5's fork/join/decision Petri-net
// transitions: encoding fork-child identities, accumulating join branches
// until quorum, and matching decision arcs against a business handler's
// routing_path. Grounded on the branch/loop operator shape of
// cmd/workflow-runner/operators/control_flow.go, generalized from its
// fixed branch-count control flow into the spec's numeric branch encoding
// and join quorum accounting.
package correlator

import (
	"fmt"

	"github.com/lyzr/tokenmesh/common/envelope"
	"github.com/lyzr/tokenmesh/common/token"
)

// ErrForkOverflow is returned when a fork's factor exceeds the [1,99]
// encoding space (§4.5, §7 "ForkOverflow — fork factor > 99. Fatal to the
// dispatcher loop; place enters STOPPED.").
var ErrForkOverflow = token.ErrForkOverflow

// ForkChild is one branch-encoded child token plus the wire fields
// (envelope.ForkFields) the dispatcher needs to build its outbound
// envelope.
type ForkChild struct {
	Token *token.Token
	Fork  envelope.ForkFields
	// JoinDestination is true when this branch's destination T_in is a
	// Join, in which case the sender must use the token_branch{k}
	// attribute name and set joinId = parentId (§4.5).
	JoinDestination bool
}

// Fork produces N branch-encoded children of parent, in branch-number
// order (§4.5, §8 property 2: "the multiset of observed child token ids
// at successor places equals {p+1, ..., p+N}"). parent.ID must be a clean
// id (multiple of 100); n must be in [1,99] or ErrForkOverflow is
// returned.
func Fork(parent *token.Token, n int, joinDestination bool) ([]ForkChild, error) {
	if n < 1 || n > token.ForkBranchMax {
		return nil, fmt.Errorf("correlator: fork factor %d: %w", n, ErrForkOverflow)
	}

	children := make([]ForkChild, n)
	for k := 1; k <= n; k++ {
		childID, err := token.ChildID(parent.ID, k)
		if err != nil {
			return nil, err
		}
		child := &token.Token{
			ID:                childID,
			Version:           parent.Version,
			NotAfter:          parent.NotAfter,
			CurrentPlace:      parent.CurrentPlace,
			WorkflowStartTime: parent.WorkflowStartTime,
			Data:              parent.Data.Clone(),
			SequenceID:        parent.SequenceID,
			PrioritiseID:      parent.PrioritiseID,
		}
		if joinDestination {
			child.JoinID = parent.ID
			child.HasJoinID = true
		}
		children[k-1] = ForkChild{
			Token: child,
			Fork: envelope.ForkFields{
				ParentTokenID: parent.ID,
				BranchNumber:  k,
				ForkCount:     n,
			},
			JoinDestination: joinDestination,
		}
	}
	return children, nil
}
