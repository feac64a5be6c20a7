// gen-diagrams writes sample diagrams of a support-triage chain for the docs.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rendis/promptchain/internal/diagram"
	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

func main() {
	// classify → fork(answer | escalate, loop | search kb) → summarize
	doc := &schema.ChainDocument{
		Name: "Support triage",
		Nodes: chain.Chain{
			{Branch: 0, Prompt: &chain.PromptStep{PromptID: 10}},
			{Branch: 0, Fork: &chain.Fork{Branches: chain.Labels{0, 1, 2}, Loops: []int{1}}},
			{Branch: 0, Prompt: &chain.PromptStep{PromptID: 11, IncludeContext: true}},
			{Branch: 1, Code: &chain.CodeStep{Name: "escalate", Code: "return ticket", OutputVariable: "ticket"}},
			{Branch: 2, Query: &chain.QueryStep{Provider: "pinecone", Model: "text-embedding-3-small", IndexName: "kb", TopK: 5, Query: "{{input}}"}},
			{Branch: 0, Prompt: &chain.PromptStep{PromptID: 12, IncludeContext: true}},
			{Branch: 2, Prompt: &chain.PromptStep{PromptID: 13}},
		},
	}
	model := diagram.Build(doc, []int{3})

	outDir := filepath.Join("docs", "assets")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fail(err)
	}

	ctx := context.Background()
	files := map[diagram.Format]string{
		diagram.FormatASCII:   "diagram-ascii.txt",
		diagram.FormatMermaid: "diagram-mermaid.md",
		diagram.FormatDOT:     "diagram.dot",
		diagram.FormatPNG:     "diagram.png",
	}
	for _, format := range diagram.Formats {
		name, ok := files[format]
		if !ok {
			continue
		}
		out, err := diagram.Render(ctx, model, format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", format, err)
			continue
		}
		if format == diagram.FormatMermaid {
			out = []byte("```mermaid\n" + string(out) + "```\n")
		}
		if err := os.WriteFile(filepath.Join(outDir, name), out, 0o644); err != nil {
			fail(err)
		}
		if !format.Binary() {
			fmt.Printf("=== %s ===\n%s\n", format, out)
		}
	}
	fmt.Printf("Wrote diagrams to %s\n", outDir)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
