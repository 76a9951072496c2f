package correlator

import (
	"errors"
	"testing"

	"github.com/lyzr/tokenmesh/common/token"
)

func TestForkChildIDMultisetIdentity(t *testing.T) {
	parent := &token.Token{ID: 1000000, Version: "v001", NotAfter: 999999999, Data: token.NewOrderedData()}
	children, err := Fork(parent, 3, true)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	want := map[int64]bool{1000001: true, 1000002: true, 1000003: true}
	for _, c := range children {
		if !want[c.Token.ID] {
			t.Fatalf("unexpected child id %d", c.Token.ID)
		}
		delete(want, c.Token.ID)
		if c.Token.JoinID != parent.ID || !c.Token.HasJoinID {
			t.Fatalf("expected join destination children to carry joinId = parent id")
		}
	}
	if len(want) != 0 {
		t.Fatalf("missing expected child ids: %v", want)
	}
}

func TestForkOverflow(t *testing.T) {
	parent := &token.Token{ID: 1000000, Data: token.NewOrderedData()}
	if _, err := Fork(parent, 99, false); err != nil {
		t.Fatalf("fork factor 99 should be valid: %v", err)
	}
	if _, err := Fork(parent, 100, false); !errors.Is(err, ErrForkOverflow) {
		t.Fatalf("fork factor 100 should fail with ForkOverflow, got %v", err)
	}
}

func TestJoinReleaseOnQuorum(t *testing.T) {
	j := NewJoinAccumulator(3, nil)
	now := int64(1000)
	expire := int64(999999999)

	d1 := token.FromMap(map[string]string{"x": "1"})
	d2 := token.FromMap(map[string]string{"x": "2"})
	d3 := token.FromMap(map[string]string{"x": "3"})

	if _, complete, timedOut := j.Accept(1000000, 1, d1, expire, now); complete || timedOut {
		t.Fatalf("should not complete after 1 of 3 branches")
	}
	if _, complete, timedOut := j.Accept(1000000, 2, d2, expire, now); complete || timedOut {
		t.Fatalf("should not complete after 2 of 3 branches")
	}
	result, complete, timedOut := j.Accept(1000000, 3, d3, expire, now)
	if timedOut || !complete {
		t.Fatalf("should complete after 3rd branch: complete=%v timedOut=%v", complete, timedOut)
	}
	if result.ParentID != 1000000 {
		t.Fatalf("ParentID = %d, want 1000000", result.ParentID)
	}
	if v, _ := result.Data.Get("branch1.x"); v != "1" {
		t.Fatalf("branch1.x = %q, want 1", v)
	}
	if v, _ := result.Data.Get("branch3.x"); v != "3" {
		t.Fatalf("branch3.x = %q, want 3", v)
	}
	released, timeouts := j.Stats()
	if released != 1 || timeouts != 0 {
		t.Fatalf("released=%d timeouts=%d, want 1/0", released, timeouts)
	}
	if j.PendingCount() != 0 {
		t.Fatalf("entry should be removed after release")
	}
}

func TestJoinTimeoutDiscardsEntry(t *testing.T) {
	j := NewJoinAccumulator(2, nil)
	d := token.NewOrderedData()

	// Branch arrives with notAfter already in the past relative to now.
	_, complete, timedOut := j.Accept(2000000, 1, d, 500, 1000)
	if complete {
		t.Fatalf("must not complete on a timed-out branch")
	}
	if !timedOut {
		t.Fatalf("expected join timeout when accumulated notAfter has expired")
	}
	if j.PendingCount() != 0 {
		t.Fatalf("timed-out entry must be discarded, not retained")
	}
	_, timeouts := j.Stats()
	if timeouts != 1 {
		t.Fatalf("timeouts = %d, want 1", timeouts)
	}
}

func TestDecisionSelectsMatchingArc(t *testing.T) {
	arcs := []DecisionArc{
		{DecisionValue: "true", Destination: "P_Approved"},
		{DecisionValue: "false", Destination: "P_Rejected"},
		{DecisionValue: "", Destination: "P_Default"},
	}
	arc, err := SelectArc(arcs, "true")
	if err != nil {
		t.Fatalf("SelectArc: %v", err)
	}
	if arc.Destination != "P_Approved" {
		t.Fatalf("Destination = %q, want P_Approved", arc.Destination)
	}
}

func TestDecisionFallsBackToDefault(t *testing.T) {
	arcs := []DecisionArc{
		{DecisionValue: "true", Destination: "P_Approved"},
		{DecisionValue: "", Destination: "P_Default"},
	}
	arc, err := SelectArc(arcs, "unknown")
	if err != nil {
		t.Fatalf("SelectArc: %v", err)
	}
	if arc.Destination != "P_Default" {
		t.Fatalf("Destination = %q, want P_Default", arc.Destination)
	}
}

func TestDecisionUnmatchedWithNoDefault(t *testing.T) {
	arcs := []DecisionArc{{DecisionValue: "true", Destination: "P_Approved"}}
	if _, err := SelectArc(arcs, "false"); !errors.Is(err, ErrRoutingUnmatched) {
		t.Fatalf("expected ErrRoutingUnmatched, got %v", err)
	}
}

func TestSelectArcGuardedRequiresGuardToHold(t *testing.T) {
	guards := NewGuardEvaluator()
	arcs := []DecisionArc{
		{DecisionValue: "true", Destination: "P_HighValue", Guard: `int(data["amount"]) > 1000`},
		{DecisionValue: "true", Destination: "P_Standard"},
		{DecisionValue: "", Destination: "P_Default"},
	}

	arc, err := SelectArcGuarded(arcs, "true", map[string]string{"amount": "5000"}, guards)
	if err != nil {
		t.Fatalf("SelectArcGuarded: %v", err)
	}
	if arc.Destination != "P_HighValue" {
		t.Fatalf("Destination = %q, want P_HighValue", arc.Destination)
	}

	arc, err = SelectArcGuarded(arcs, "true", map[string]string{"amount": "10"}, guards)
	if err != nil {
		t.Fatalf("SelectArcGuarded: %v", err)
	}
	if arc.Destination != "P_Standard" {
		t.Fatalf("Destination = %q, want P_Standard (guarded arc skipped)", arc.Destination)
	}
}

func TestSelectArcGuardedFallsBackPastFailingGuard(t *testing.T) {
	guards := NewGuardEvaluator()
	arcs := []DecisionArc{
		{DecisionValue: "true", Destination: "P_HighValue", Guard: `int(data["amount"]) > 1000`},
		{DecisionValue: "", Destination: "P_Default"},
	}

	arc, err := SelectArcGuarded(arcs, "true", map[string]string{"amount": "10"}, guards)
	if err != nil {
		t.Fatalf("SelectArcGuarded: %v", err)
	}
	if arc.Destination != "P_Default" {
		t.Fatalf("Destination = %q, want P_Default", arc.Destination)
	}
}
