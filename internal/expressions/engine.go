package expressions

import "context"

// Engine evaluates an expression against a data map.
// Three implementations: CEL, Expr and GoJQ. All see the same data layout,
// see NodeView.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
