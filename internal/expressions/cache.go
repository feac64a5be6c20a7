package expressions

import (
	"sync"

	"github.com/rendis/promptchain/pkg/schema"
)

// programCache keeps one compiled program per expression source. A filter
// evaluates the same expression once per node, so only the first node pays
// for compilation.
type programCache[P any] struct {
	mu    sync.RWMutex
	progs map[string]P
}

func (c *programCache[P]) get(expression string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.progs[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.progs[expression]; ok {
		return p, nil
	}
	p, err := compile(expression)
	if err != nil {
		return p, err
	}
	if c.progs == nil {
		c.progs = make(map[string]P)
	}
	c.progs[expression] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.progs)
}

// withViewDefaults returns data with the node and chain maps present, so
// expressions over a partial view see empty maps instead of missing names.
func withViewDefaults(data map[string]any) map[string]any {
	out := make(map[string]any, 2)
	for _, key := range []string{ViewNode, ViewChain} {
		if v, ok := data[key]; ok && v != nil {
			out[key] = v
		} else {
			out[key] = map[string]any{}
		}
	}
	return out
}

func emptyExpression(engine string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "empty %s expression", engine)
}

// compileError reports an expression that never ran: a caller mistake.
func compileError(engine, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: cannot compile %q: %s", engine, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"engine": engine, "expression": expression})
}

// evalError reports an expression that compiled but failed on a node view.
func evalError(engine, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExpression, "%s: evaluating %q: %s", engine, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"engine": engine, "expression": expression})
}
