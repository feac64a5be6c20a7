package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/promptchain/internal/config"
	"github.com/rendis/promptchain/internal/diagram"
	"github.com/rendis/promptchain/internal/editor"
	"github.com/rendis/promptchain/internal/expressions"
	"github.com/rendis/promptchain/internal/validation"
	"github.com/rendis/promptchain/pkg/chain"
	"github.com/rendis/promptchain/pkg/schema"
)

// cliOptions carries the persistent flags shared by every command.
type cliOptions struct {
	configDir string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:   "promptchain",
		Short: "Store, edit and render branching prompt chains",
		Long: `promptchain keeps prompt chains as flat node arrays laid out on a grid.
Chain files may be JSON or YAML, either a full document or a bare node array.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config-dir", config.Dir(), "settings directory")

	root.AddCommand(
		newServeCmd(opts),
		newPruneCmd(opts),
		newValidateCmd(),
		newRenderCmd(),
		newQueryCmd(),
		newInspectCmd(),
		newApplyCmd(),
		newVersionCmd(),
	)
	return root
}

// errInvalid is returned when validate found errors; the report is already printed.
var errInvalid = errors.New("chain document is invalid")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file...]",
		Short: "Check chain files against the document schema and node rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := validation.NewDocumentValidator()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := false
			for _, path := range args {
				doc, err := readDocument(path)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", path, err)
					failed = true
					continue
				}
				res := v.Validate(doc)
				for _, issue := range append(res.Errors, res.Warnings...) {
					fmt.Fprintf(out, "%s: %s %s: %s\n", path, issue.Severity, issue.Path, issue.Message)
				}
				if !res.Valid() {
					failed = true
					continue
				}
				fmt.Fprintf(out, "%s: ok (%d nodes, %d steps)\n", path, len(doc.Nodes), len(chain.Steps(doc.Nodes)))
			}
			if failed {
				return errInvalid
			}
			return nil
		},
	}
}

func newRenderCmd() *cobra.Command {
	var (
		format    string
		output    string
		engine    string
		highlight string
	)
	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render a chain file as ASCII, Mermaid, DOT, PNG or SVG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			var marks []int
			if highlight != "" {
				filter, err := expressions.NewDefaultFilter()
				if err != nil {
					return err
				}
				if marks, err = filter.Select(cmd.Context(), engine, highlight, doc.Nodes); err != nil {
					return err
				}
			}

			f := diagram.Format(format)
			if f.Binary() && output == "" {
				return fmt.Errorf("%s output needs --output", f)
			}
			data, err := diagram.Render(cmd.Context(), diagram.Build(doc, marks), f)
			if err != nil {
				return err
			}
			if output != "" {
				return os.WriteFile(output, data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(diagram.FormatASCII), "ascii, mermaid, dot, png or svg")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().StringVar(&engine, "engine", "cel", "expression engine for --highlight: cel, expr or jq")
	cmd.Flags().StringVar(&highlight, "highlight", "", "predicate marking the nodes to highlight")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var (
		engine string
		sel    string
	)
	cmd := &cobra.Command{
		Use:   "query <file> <expression>",
		Short: "Print the indices of the nodes matching a predicate",
		Example: `  promptchain query chain.json 'node.kind == "prompt"' --select node.prompt_id
  promptchain query chain.yaml '.node.loops_back' --engine jq`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			filter, err := expressions.NewDefaultFilter()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			matches, err := filter.Select(ctx, engine, args[1], doc.Nodes)
			if err != nil {
				return err
			}
			if matches == nil {
				matches = []int{}
			}
			result := map[string]any{"matches": matches}
			if sel != "" {
				values := map[string]any{}
				if len(matches) > 0 {
					projected, err := filter.Project(ctx, engine, sel, doc.Nodes, matches...)
					if err != nil {
						return err
					}
					for k, i := range matches {
						values[strconv.Itoa(i)] = projected[k]
					}
				}
				result["values"] = values
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&engine, "engine", "cel", "cel, expr or jq")
	cmd.Flags().StringVar(&sel, "select", "", "expression projected from every match")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file> [index]",
		Short: "Show the grid rows of a chain, or tree and loop facts for one node",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				printRows(out, doc.Nodes)
				return nil
			}
			i, err := strconv.Atoi(args[1])
			if err != nil || i < 0 || i >= len(doc.Nodes) {
				return schema.NewErrorf(schema.ErrCodeValidation, "index %q out of range for %d nodes", args[1], len(doc.Nodes))
			}
			printNode(out, doc.Nodes, i)
			return nil
		},
	}
}

func printRows(w io.Writer, c chain.Chain) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "nodes\t%d\n", len(c))
	fmt.Fprintf(tw, "columns\t%d\n", chain.Columns(c))
	fmt.Fprintf(tw, "steps\t%d\n", len(chain.Steps(c)))
	offset := 0
	for r, row := range chain.SplitNodes(c) {
		cells := make([]string, len(row))
		for j := range row {
			cells[j] = fmt.Sprintf("%d@%d", offset+j, row[j].Branch)
		}
		fmt.Fprintf(tw, "row %d\t%s\n", r, strings.Join(cells, " "))
		offset += len(row)
	}
	tw.Flush()
}

func printNode(w io.Writer, c chain.Chain, i int) {
	tree := chain.Parse(c)
	n := &c[i]
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "index\t%d\n", i)
	fmt.Fprintf(tw, "kind\t%s\n", n.Kind())
	fmt.Fprintf(tw, "column\t%d\n", n.Branch)
	fmt.Fprintf(tw, "parent\t%d\n", tree.Parent(i))
	fmt.Fprintf(tw, "depth\t%d\n", tree.Depth(i))
	fmt.Fprintf(tw, "sibling\t%t\n", chain.IsSiblingNode(c, i))
	fmt.Fprintf(tw, "include context\t%t\n", chain.CanChainNodeIncludeContext(n, c))
	fmt.Fprintf(tw, "loops back to\t%d\n", chain.LoopCompletionIndexForNode(c, i, n.Branch))
	fmt.Fprintf(tw, "subtree\t%d\n", len(chain.SubtreeForNode(c, i, false)))
	if n.IsFork() {
		for k, label := range n.Fork.Branches {
			fmt.Fprintf(tw, "slot %d\tcolumn %d, start %d, %d nodes, loops %t\n",
				k, label, tree.BranchStart(i, k), len(chain.SubtreeForBranchOfNode(c, i, k)), n.Fork.LoopsAt(k))
		}
	}
	tw.Flush()
}

func newApplyCmd() *cobra.Command {
	var (
		output    string
		normalize bool
	)
	cmd := &cobra.Command{
		Use:   "apply <chain-file> <edits-file>",
		Short: "Apply an edit script to a chain file offline",
		Long: `apply runs every edit of the script in order against the chain, validates
the result and prints it, or writes it to --output. YAML output is chosen by
the output file extension.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			edits, err := readEdits(args[1])
			if err != nil {
				return err
			}
			nodes := doc.Nodes
			for k, e := range edits {
				if nodes, err = editor.ApplyEdit(nodes, e); err != nil {
					return fmt.Errorf("edit %d (%s): %w", k, e.Action, err)
				}
			}
			if normalize {
				nodes = chain.Normalize(nodes)
			}
			doc.Nodes = nodes

			v, err := validation.NewDocumentValidator()
			if err != nil {
				return err
			}
			if err := v.Validate(doc).ToError(); err != nil {
				return err
			}

			data, err := encodeDocument(doc, isYAML(output))
			if err != nil {
				return err
			}
			if output != "" {
				return os.WriteFile(output, data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the edited document to this file")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "rewrite the result in canonical order")
	return cmd
}
