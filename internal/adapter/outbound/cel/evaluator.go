// Package cel provides a CEL-based evaluator for operator-defined
// rate-limit rule conditions.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/relayguard/relayguard/internal/domain/request"
)

// maxExpressionLength is the maximum allowed length for rule conditions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, guarding against
// cost-exhaustion through pathological expressions.
const maxCostBudget = 100_000

// evalTimeout caps a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL conditions over a request descriptor.
//
// Available variables:
//   - method (string), path (string)
//   - principal_id (string), principal_roles (list of string)
//   - authenticated (bool), client_addr (string)
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates a new evaluator with the request environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("principal_id", cel.StringType),
		cel.Variable("principal_roles", cel.ListType(cel.StringType)),
		cel.Variable("authenticated", cel.BoolType),
		cel.Variable("client_addr", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks a condition, returning a compiled program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, errors.New("expression is empty")
	}
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expression), maxExpressionLength)
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// Evaluate runs a compiled program against a descriptor.
// Returns an error when the expression does not produce a boolean.
func (e *Evaluator) Evaluate(prg cel.Program, d request.Descriptor) (bool, error) {
	roles := make([]string, len(d.Roles))
	copy(roles, d.Roles)

	activation := map[string]any{
		"method":          d.Method,
		"path":            d.Path,
		"principal_id":    d.PrincipalID,
		"principal_roles": roles,
		"authenticated":   d.Authenticated(),
		"client_addr":     d.ClientAddr,
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}
