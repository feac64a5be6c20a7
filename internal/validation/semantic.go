package validation

import (
	"fmt"
	"regexp"

	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

// MaxTopK is the largest topK a query step may request.
const MaxTopK = 100

var outputVariablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateSemantic checks node payloads: positive prompt IDs, usable query
// settings, loop indices that point at declared slots and unique labels per
// fork. Branch structure itself is trusted; only the editing operations
// produce chains.
func validateSemantic(doc *schema.ChainDocument) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	outputs := make(map[string]int)

	for i := range doc.Nodes {
		node := &doc.Nodes[i]
		path := fmt.Sprintf("/nodes/%d", i)

		if payloads(node) > 1 {
			result.AddError(path, schema.ErrCodeValidation,
				"node carries more than one of prompt, code and query")
		}

		if node.Prompt != nil {
			validatePrompt(node, doc.Nodes, path, result)
		}
		if node.Code != nil {
			validateCode(node.Code, path, outputs, i, result)
		}
		if node.Query != nil {
			validateQuery(node.Query, path, result)
		}
		if node.Fork != nil {
			validateFork(node.Fork, path, result)
		}
	}
	return result
}

func payloads(n *chain.Node) int {
	count := 0
	for _, present := range []bool{n.Prompt != nil, n.Code != nil, n.Query != nil} {
		if present {
			count++
		}
	}
	return count
}

func validatePrompt(node *chain.Node, nodes chain.Chain, path string, result *schema.ValidationResult) {
	p := node.Prompt
	if p.PromptID <= 0 {
		result.AddError(path+"/promptID", schema.ErrCodeValidation, "promptID must be positive")
	}
	if p.VersionID != nil && *p.VersionID <= 0 {
		result.AddError(path+"/versionID", schema.ErrCodeValidation, "versionID must be positive when set")
	}
	if p.IncludeContext && !chain.CanChainNodeIncludeContext(node, nodes) {
		result.AddWarning(path+"/includeContext", schema.ErrCodeValidation,
			"includeContext has no effect: the node does not directly follow a prompt or code step")
	}
}

func validateCode(c *chain.CodeStep, path string, outputs map[string]int, index int, result *schema.ValidationResult) {
	if c.Code == "" {
		result.AddError(path+"/code", schema.ErrCodeValidation, "code must not be empty")
	}
	if c.OutputVariable == "" {
		return
	}
	if !outputVariablePattern.MatchString(c.OutputVariable) {
		result.AddErrorf(path+"/outputVariable", schema.ErrCodeValidation,
			"outputVariable %q is not a valid identifier", c.OutputVariable)
		return
	}
	if prev, ok := outputs[c.OutputVariable]; ok {
		result.AddWarning(path+"/outputVariable", schema.ErrCodeValidation,
			fmt.Sprintf("outputVariable %q is also written by node %d", c.OutputVariable, prev))
	}
	outputs[c.OutputVariable] = index
}

func validateQuery(q *chain.QueryStep, path string, result *schema.ValidationResult) {
	required := []struct{ field, value string }{
		{"provider", q.Provider},
		{"model", q.Model},
		{"indexName", q.IndexName},
	}
	for _, r := range required {
		if r.value == "" {
			result.AddErrorf(path+"/"+r.field, schema.ErrCodeValidation, "%s is required for query steps", r.field)
		}
	}
	if q.TopK < 1 || q.TopK > MaxTopK {
		result.AddErrorf(path+"/topK", schema.ErrCodeValidation, "topK must be between 1 and %d", MaxTopK)
	}
	if q.Query == "" {
		result.AddWarning(path+"/query", schema.ErrCodeValidation, "empty query retrieves nothing useful")
	}
}

func validateFork(f *chain.Fork, path string, result *schema.ValidationResult) {
	seen := make(map[int]int, len(f.Branches))
	for k, label := range f.Branches {
		if prev, ok := seen[label]; ok {
			result.AddErrorf(fmt.Sprintf("%s/branches/%d", path, k), schema.ErrCodeValidation,
				"label %d already declared by slot %d", label, prev)
			continue
		}
		seen[label] = k
	}

	loops := make(map[int]bool, len(f.Loops))
	for j, l := range f.Loops {
		lp := fmt.Sprintf("%s/loops/%d", path, j)
		if l < 0 || l >= len(f.Branches) {
			result.AddErrorf(lp, schema.ErrCodeValidation,
				"loop index %d does not name one of the %d declared branches", l, len(f.Branches))
			continue
		}
		if loops[l] {
			result.AddWarning(lp, schema.ErrCodeValidation, fmt.Sprintf("loop index %d listed twice", l))
		}
		loops[l] = true
	}
}
