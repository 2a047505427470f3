package engine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// whenGuard evaluates rule `when` expressions over the tool call.
// Programs are compiled once and cached; a broken expression disables its
// rule's action override rather than the rule.
type whenGuard struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newWhenGuard() (*whenGuard, error) {
	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("input", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	return &whenGuard{env: env, programs: make(map[string]cel.Program)}, nil
}

// Eval returns whether expr holds for (tool, input). A compile or
// evaluation error is returned to the caller; the engine logs it and
// treats the guard as not satisfied.
func (g *whenGuard) Eval(expr, tool string, input map[string]any) (bool, error) {
	prg, err := g.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"tool":  tool,
		"input": input,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("expression %q is not boolean", expr)
	}
	return ok, nil
}

func (g *whenGuard) program(expr string) (cel.Program, error) {
	g.mu.RLock()
	prg, ok := g.programs[expr]
	g.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := g.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := g.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}

	g.mu.Lock()
	g.programs[expr] = prg
	g.mu.Unlock()
	return prg, nil
}
