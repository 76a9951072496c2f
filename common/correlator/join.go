package correlator

import (
	"strconv"

	"github.com/lyzr/tokenmesh/common/logger"
	"github.com/lyzr/tokenmesh/common/token"
)

// branchSlot is one accumulated branch arrival for a join.
type branchSlot struct {
	branch   int
	data     *token.OrderedData
	notAfter int64
}

type joinEntry struct {
	want        int
	slots       map[int]branchSlot
	maxNotAfter int64
}

// JoinAccumulator accumulates token_branch{k} arrivals per parent id until
// quorum is reached, then releases a single merged outbound token (§4.5).
// Accessed only by the dispatcher goroutine of its place, so it is
// deliberately unsynchronized (§7.3 "no lock required").
type JoinAccumulator struct {
	want    int
	entries map[int64]*joinEntry
	log     *logger.Logger

	released int64
	timeouts int64
}

// NewJoinAccumulator creates an accumulator for a join place whose
// declared input set expects `want` distinct branches. log may be nil
// (tests), in which case duplicate-arrival warnings are simply dropped.
func NewJoinAccumulator(want int, log *logger.Logger) *JoinAccumulator {
	return &JoinAccumulator{
		want:    want,
		entries: make(map[int64]*joinEntry),
		log:     log,
	}
}

// JoinResult is the merged outbound token produced once a parent id's
// branch set reaches quorum.
type JoinResult struct {
	ParentID int64
	Data     *token.OrderedData
	NotAfter int64
}

// Accept records one branch arrival. parentID is the join correlation key
// (envelope joinId header, or tokenId-branch if absent, per §4.5). On
// quorum it returns the merged JoinResult and removes the entry. If the
// accumulated branches' maximum notAfter has expired relative to nowMS,
// the entire entry is discarded and counted as a join timeout instead
// (§4.5, §7 "JoinTimeout").
func (j *JoinAccumulator) Accept(parentID int64, branch int, data *token.OrderedData, notAfter, nowMS int64) (result *JoinResult, complete bool, timedOut bool) {
	e, ok := j.entries[parentID]
	if !ok {
		e = &joinEntry{want: j.want, slots: make(map[int]branchSlot)}
		j.entries[parentID] = e
	}

	if _, dup := e.slots[branch]; dup && j.log != nil {
		j.log.Warn("join: duplicate branch arrival replaced (last-write-wins)",
			"parentId", parentID, "branch", branch)
	}
	e.slots[branch] = branchSlot{branch: branch, data: data, notAfter: notAfter}
	if notAfter > e.maxNotAfter {
		e.maxNotAfter = notAfter
	}

	if e.maxNotAfter <= nowMS {
		delete(j.entries, parentID)
		j.timeouts++
		return nil, false, true
	}

	if len(e.slots) < e.want {
		return nil, false, false
	}

	merged := token.NewOrderedData()
	for k := 1; k <= e.want; k++ {
		slot, ok := e.slots[k]
		if !ok {
			continue
		}
		prefix := branchDataPrefix(k)
		slot.data.Each(func(key, val string) {
			merged.Set(prefix+key, val)
		})
	}

	delete(j.entries, parentID)
	j.released++
	return &JoinResult{ParentID: parentID, Data: merged, NotAfter: e.maxNotAfter}, true, false
}

// branchDataPrefix namespaces merged branch data as "branchK." per the
// spec example's data = {branch1.*, branch2.*, branch3.*} shape (§8
// example (d)).
func branchDataPrefix(branch int) string {
	return "branch" + strconv.Itoa(branch) + "."
}

// Stats returns (released, timeouts) totals.
func (j *JoinAccumulator) Stats() (released, timeouts int64) {
	return j.released, j.timeouts
}

// PendingCount returns the number of parent ids currently awaiting quorum.
func (j *JoinAccumulator) PendingCount() int {
	return len(j.entries)
}
