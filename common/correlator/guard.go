package correlator

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// GuardEvaluator compiles and caches CEL boolean expressions used as an
// optional additional predicate on a Decision arc, alongside the literal
// routing_path match §4.5 already requires. A guard lets a Rule Deployer
// express "take this arc only if routing_path is X *and* some other
// token field also holds", without the dispatcher growing its own
// expression language.
type GuardEvaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewGuardEvaluator creates an evaluator with an empty compile cache.
func NewGuardEvaluator() *GuardEvaluator {
	return &GuardEvaluator{cache: make(map[string]cel.Program)}
}

// Eval compiles (or reuses a cached compilation of) expr and evaluates it
// against the token's data fields, exposed to the expression as the
// variable `data`. expr must evaluate to a bool.
func (g *GuardEvaluator) Eval(expr string, data map[string]string) (bool, error) {
	if expr == "" {
		return true, nil
	}

	prg, err := g.program(expr)
	if err != nil {
		return false, err
	}

	vars := make(map[string]interface{}, 1)
	dataVals := make(map[string]interface{}, len(data))
	for k, v := range data {
		dataVals[k] = v
	}
	vars["data"] = dataVals

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("correlator: guard expression %q evaluation error: %w", expr, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("correlator: guard expression %q did not return a bool, got %T", expr, out.Value())
	}
	return result, nil
}

func (g *GuardEvaluator) program(expr string) (cel.Program, error) {
	g.mu.RLock()
	prg, ok := g.cache[expr]
	g.mu.RUnlock()
	if ok {
		return prg, nil
	}

	env, err := cel.NewEnv(cel.Variable("data", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("correlator: create CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("correlator: compile guard expression %q: %w", expr, issues.Err())
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("correlator: build CEL program for %q: %w", expr, err)
	}

	g.mu.Lock()
	g.cache[expr] = prg
	g.mu.Unlock()
	return prg, nil
}
