package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const minCellWidth = 7

// RenderASCII renders a DiagramModel as a text grid: one box per node, placed
// in its column, one band of boxes per row. Loop edges are listed below the
// grid since they point back up.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	boxes := make(map[string]asciiBox, len(model.Nodes))
	widths := make([]int, max(model.Columns, 1))
	for i := range widths {
		widths[i] = minCellWidth
	}
	for _, node := range model.Nodes {
		box := makeBox(node)
		boxes[node.ID] = box
		if node.Column < len(widths) {
			widths[node.Column] = max(widths[node.Column], box.width)
		}
	}

	headers := make([]string, len(widths))
	for col, w := range widths {
		headers[col] = padRight(fmt.Sprintf("col %d", col), w)
	}
	b.WriteString(strings.TrimRight(strings.Join(headers, "  "), " "))
	b.WriteString("\n")

	for levelIdx, level := range model.Levels {
		var occupied []bool
		for _, row := range splitCollisions(model, level) {
			cells := make([]asciiBox, len(widths))
			for col, w := range widths {
				cells[col] = blankBox(w)
			}
			occupied = make([]bool, len(widths))
			for _, id := range row {
				node := model.node(id)
				if node == nil || node.Column >= len(widths) {
					continue
				}
				cells[node.Column] = boxes[id].padTo(widths[node.Column])
				occupied[node.Column] = true
			}
			renderBoxRow(&b, cells)
		}
		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, widths, occupied)
		}
	}

	var loops []Edge
	for _, e := range model.Edges {
		if e.Loop {
			loops = append(loops, e)
		}
	}
	if len(loops) > 0 {
		b.WriteString("\n--- loops ---\n")
		for _, e := range loops {
			label := ""
			if e.Label != "" {
				label = " (" + e.Label + ")"
			}
			b.WriteString(fmt.Sprintf("  %s ─→ %s%s\n", shortLabel(model, e.From), shortLabel(model, e.To), label))
		}
	}

	return b.String()
}

// splitCollisions breaks a level into visual rows so no two nodes share a
// cell. Array adjacency can put a column twice into one level.
func splitCollisions(model *DiagramModel, level []string) [][]string {
	var rows [][]string
	var cur []string
	seen := map[int]bool{}
	for _, id := range level {
		node := model.node(id)
		if node == nil {
			continue
		}
		if seen[node.Column] {
			rows = append(rows, cur)
			cur, seen = nil, map[int]bool{}
		}
		seen[node.Column] = true
		cur = append(cur, id)
	}
	if len(cur) > 0 {
		rows = append(rows, cur)
	}
	return rows
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

func blankBox(width int) asciiBox {
	return asciiBox{width: width}
}

// padTo widens every line of the box to width.
func (a asciiBox) padTo(width int) asciiBox {
	out := asciiBox{width: width, lines: make([]string, len(a.lines))}
	for i, l := range a.lines {
		out.lines[i] = padRight(l, width)
	}
	return out
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	label := node.Label
	if node.Index >= 0 {
		label = fmt.Sprintf("%d: %s", node.Index, label)
	}
	contentLines := []string{label}
	if node.Highlight {
		contentLines = append(contentLines, "[MATCH]")
	}

	maxLen := 0
	for _, line := range contentLines {
		maxLen = max(maxLen, utf8.RuneCountInString(line))
	}
	width := maxLen + 4 // 2 border + 2 padding

	top := "┌" + strings.Repeat("─", width-2) + "┐"
	bot := "└" + strings.Repeat("─", width-2) + "┘"
	if node.Kind == NodeKindBranch {
		top = "╔" + strings.Repeat("═", width-2) + "╗"
		bot = "╚" + strings.Repeat("═", width-2) + "╝"
	}
	lines := []string{top}
	for _, content := range contentLines {
		lines = append(lines, "│ "+padRight(content, maxLen)+" │")
	}
	lines = append(lines, bot)

	return asciiBox{lines: lines, width: width}
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	maxHeight := 0
	for _, box := range boxes {
		maxHeight = max(maxHeight, len(box.lines))
	}

	for row := 0; row < maxHeight; row++ {
		var line strings.Builder
		for i, box := range boxes {
			if i > 0 {
				line.WriteString("  ")
			}
			if row < len(box.lines) {
				line.WriteString(box.lines[row])
			} else {
				line.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteString(strings.TrimRight(line.String(), " "))
		b.WriteByte('\n')
	}
}

// renderConnector draws a down arrow under every occupied column.
func renderConnector(b *strings.Builder, widths []int, occupied []bool) {
	for _, glyph := range []string{"│", "▼"} {
		var line strings.Builder
		for col, w := range widths {
			if col > 0 {
				line.WriteString("  ")
			}
			mid := w / 2
			if col < len(occupied) && occupied[col] {
				line.WriteString(strings.Repeat(" ", mid) + glyph + strings.Repeat(" ", w-mid-1))
			} else {
				line.WriteString(strings.Repeat(" ", w))
			}
		}
		b.WriteString(strings.TrimRight(line.String(), " "))
		b.WriteByte('\n')
	}
}

func shortLabel(model *DiagramModel, id string) string {
	if n := model.node(id); n != nil && n.Index >= 0 {
		return fmt.Sprintf("%d: %s", n.Index, n.Label)
	}
	return id
}

func padRight(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
