package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine evaluates expr-lang expressions over a node view. Handy for
// list filters such as any(node.labels, # > 2) and for defaults with ??.
type ExprEngine struct {
	programs programCache[*vm.Program]
}

func NewExprEngine() *ExprEngine { return &ExprEngine{} }

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs expression against data. Unknown keys of the view maps read
// as nil, so node.prompt_id ?? -1 works on every kind of node.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpression(e.Name())
	}
	prg, err := e.programs.get(expression, e.compile)
	if err != nil {
		return nil, err
	}
	out, err := vm.Run(prg, withViewDefaults(data))
	if err != nil {
		return nil, evalError(e.Name(), expression, err)
	}
	return out, nil
}

// compile checks expression against the shape every view shares rather than
// against the first view it meets, so one program serves all nodes.
func (e *ExprEngine) compile(expression string) (*vm.Program, error) {
	prg, err := expr.Compile(expression,
		expr.Env(withViewDefaults(nil)),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, compileError(e.Name(), expression, err)
	}
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
