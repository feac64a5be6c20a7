package expressions

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/rendis/promptchain/internal/metrics"
	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

// Filter selects chain nodes with expressions written for one of its engines.
type Filter struct {
	engines map[string]Engine
}

// NewFilter creates a Filter over the given engines, keyed by Name().
func NewFilter(engines ...Engine) *Filter {
	f := &Filter{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		f.engines[e.Name()] = e
	}
	return f
}

// NewDefaultFilter creates a Filter with the cel, expr and jq engines.
func NewDefaultFilter() (*Filter, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return NewFilter(celEngine, NewExprEngine(), NewGoJQEngine()), nil
}

// Engines returns the registered engine names, sorted.
func (f *Filter) Engines() []string {
	names := make([]string, 0, len(f.engines))
	for name := range f.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Filter) engine(name string) (Engine, error) {
	e, ok := f.engines[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression engine %q", name).
			WithDetails(map[string]any{"engines": f.Engines()})
	}
	return e, nil
}

// Select returns the array indices of the nodes for which expression holds.
// cel and expr expressions must produce a bool; jq follows jq truthiness and
// matches when any output is neither false nor null.
func (f *Filter) Select(ctx context.Context, engineName, expression string, c chain.Chain) ([]int, error) {
	eng, err := f.engine(engineName)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer observe(engineName, start)

	tree := chain.Parse(c)
	matches := []int{}
	for i := range c {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := test(ctx, eng, expression, NodeView(c, tree, i))
		if err != nil {
			return nil, withNode(err, i)
		}
		if ok {
			matches = append(matches, i)
		}
	}
	return matches, nil
}

// Project evaluates expression for the nodes at indices, every node when
// none are given, and returns the results in the same order.
func (f *Filter) Project(ctx context.Context, engineName, expression string, c chain.Chain, indices ...int) ([]any, error) {
	eng, err := f.engine(engineName)
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		indices = make([]int, len(c))
		for i := range c {
			indices[i] = i
		}
	}
	start := time.Now()
	defer observe(engineName, start)

	tree := chain.Parse(c)
	out := make([]any, len(indices))
	for k, i := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i < 0 || i >= len(c) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %d out of range", i).WithNode(i)
		}
		v, err := eng.Evaluate(ctx, expression, NodeView(c, tree, i))
		if err != nil {
			return nil, withNode(err, i)
		}
		out[k] = v
	}
	return out, nil
}

func test(ctx context.Context, eng Engine, expression string, data map[string]any) (bool, error) {
	if jq, ok := eng.(*GoJQEngine); ok {
		outs, err := jq.EvaluateAll(ctx, expression, data)
		if err != nil {
			return false, err
		}
		return slices.ContainsFunc(outs, func(v any) bool { return v != nil && v != false }), nil
	}

	v, err := eng.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExpression,
			"%s filter %q must return a bool, got %T", eng.Name(), expression, v)
	}
	return b, nil
}

func withNode(err error, i int) error {
	if ce, ok := err.(*schema.ChainError); ok && ce.Node == nil {
		return ce.WithNode(i)
	}
	return err
}

func observe(engine string, start time.Time) {
	metrics.QueryDuration.WithLabelValues(engine).Observe(float64(time.Since(start).Microseconds()) / 1000)
}
