package correlator

import "errors"

// ErrRoutingUnmatched is returned when a decision outcome matches no arc
// and no default arc exists (§7 "RoutingUnmatched").
var ErrRoutingUnmatched = errors.New("correlator: routing decision matched no arc")

// DecisionArc is one outbound arc of a Decision transition: destination
// selected when decisionValue equals the business handler's routing_path,
// or the default arc when decisionValue is empty (§4.5).
//
// Guard is an optional CEL boolean expression evaluated against the
// token's data fields (as the `data` variable); when non-empty it must
// also hold for the arc to be eligible, layered on top of the literal
// DecisionValue match rather than replacing it.
type DecisionArc struct {
	DecisionValue string
	Destination   string
	Guard         string
}

// SelectArc picks the arc whose DecisionValue case-sensitively equals
// routingPath; if none matches, the arc with an empty DecisionValue (the
// default) is taken. If neither exists, ErrRoutingUnmatched is returned
// and the caller must drop the token (§4.5, §7).
func SelectArc(arcs []DecisionArc, routingPath string) (*DecisionArc, error) {
	var fallback *DecisionArc
	for i := range arcs {
		if arcs[i].DecisionValue == routingPath {
			return &arcs[i], nil
		}
		if arcs[i].DecisionValue == "" {
			fallback = &arcs[i]
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, ErrRoutingUnmatched
}

// SelectArcGuarded is SelectArc with each candidate's optional CEL Guard
// also required to hold against data. An arc whose DecisionValue (or
// default-ness) matches but whose Guard evaluates false or errors is
// skipped in favor of the next candidate, so a guard failure degrades to
// RoutingUnmatched rather than aborting the search.
func SelectArcGuarded(arcs []DecisionArc, routingPath string, data map[string]string, guards *GuardEvaluator) (*DecisionArc, error) {
	var fallback *DecisionArc
	for i := range arcs {
		if arcs[i].DecisionValue == routingPath && guardHolds(guards, arcs[i].Guard, data) {
			return &arcs[i], nil
		}
		if arcs[i].DecisionValue == "" && fallback == nil && guardHolds(guards, arcs[i].Guard, data) {
			fallback = &arcs[i]
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, ErrRoutingUnmatched
}

func guardHolds(guards *GuardEvaluator, expr string, data map[string]string) bool {
	if expr == "" {
		return true
	}
	if guards == nil {
		return false
	}
	ok, err := guards.Eval(expr, data)
	return err == nil && ok
}
