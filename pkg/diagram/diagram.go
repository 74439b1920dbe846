// Package diagram renders the routing graph of a sequence.
// Supports Mermaid flowchart and ASCII formats.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/stepseq/pkg/kernel/compiler"
	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// endNode is the destination of routes that finish the run.
const endNode = -1

// Generate produces a diagram string from a parsed sequence. Routes are
// resolved with the compiler rules, so the sequence should validate first.
func Generate(seq *schema.Sequence, format Format) (string, error) {
	if seq == nil {
		return "", fmt.Errorf("nil sequence")
	}
	steps, err := buildSteps(seq)
	if err != nil {
		return "", err
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(steps), nil
	case FormatASCII:
		return generateASCII(seq, steps), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- Mermaid flowchart ---

func generateMermaid(steps []diagramStep) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	if len(steps) == 0 {
		return b.String()
	}

	b.WriteString("    START([Start]) --> " + steps[0].node + "\n")
	b.WriteString("    END([End])\n")

	for _, s := range steps {
		b.WriteString("    " + nodeDefinition(s) + "\n")
		for _, e := range s.edges {
			target := "END"
			if e.to != endNode {
				target = steps[e.to].node
			}
			fmt.Fprintf(&b, "    %s -->|%q| %s\n", s.node, e.label(), target)
		}
	}

	for _, s := range steps {
		if s.autoSuccess {
			fmt.Fprintf(&b, "    style %s fill:#0d6,stroke:#0a5,color:#fff\n", s.node)
		}
	}
	b.WriteString("    style END fill:#07a,stroke:#058,color:#fff\n")
	return b.String()
}

func nodeDefinition(s diagramStep) string {
	label := escMermaid(s.title())
	if s.detail != "" {
		label += "<br/>" + escMermaid(s.detail)
	}
	if s.timing == schema.TimingConditionsOnly {
		return fmt.Sprintf(`%s{"%s"}`, s.node, label)
	}
	return fmt.Sprintf(`%s["%s %s"]`, s.node, stepIcon(s), label)
}

// --- ASCII ---

func generateASCII(seq *schema.Sequence, steps []diagramStep) string {
	var b strings.Builder

	name := seq.Meta.Name
	if name == "" {
		name = "Sequence"
	}
	if len(steps) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	const indent = 4
	boxWidth := computeUniformBoxWidth(steps, name)
	pad := strings.Repeat(" ", indent)
	mid := boxWidth / 2
	connPad := strings.Repeat(" ", indent+1+mid)

	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + centerPad(name, boxWidth) + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")
	b.WriteString(connPad + "│\n")

	for i, s := range steps {
		b.WriteString(pad + "┌" + strings.Repeat("─", boxWidth) + "┐\n")
		for _, line := range s.lines(steps) {
			b.WriteString(pad + "│" + fill(line, boxWidth) + "│\n")
		}
		if i < len(steps)-1 {
			b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
			b.WriteString(connPad + "│\n")
		} else {
			b.WriteString(pad + "└" + strings.Repeat("─", boxWidth) + "┘\n")
		}
	}
	return b.String()
}

// computeUniformBoxWidth returns the widest interior width needed
// across all steps and the header name.
func computeUniformBoxWidth(steps []diagramStep, name string) int {
	w := 22
	if nw := runewidth.StringWidth(name) + 4; nw > w {
		w = nw
	}
	for _, s := range steps {
		for _, line := range s.lines(steps) {
			if lw := runewidth.StringWidth(line); lw > w {
				w = lw
			}
		}
	}
	return w
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

func fill(s string, width int) string {
	return s + strings.Repeat(" ", width-runewidth.StringWidth(s))
}

// --- graph model ---

type diagramStep struct {
	index       int
	id          string
	name        string
	node        string
	timing      string
	autoSuccess bool
	detail      string
	edges       []edge
}

type edge struct {
	success bool
	route   string
	to      int
}

func (e edge) label() string {
	if e.success {
		return "✓ " + e.route
	}
	return "✗ " + e.route
}

func (s diagramStep) title() string {
	if s.name != "" {
		return s.name
	}
	return s.id
}

func (s diagramStep) lines(all []diagramStep) []string {
	out := []string{fmt.Sprintf(" %s %s ", stepIcon(s), s.title())}
	if s.name != "" && s.id != "" {
		out = append(out, "   id: "+s.id+" ")
	}
	if s.detail != "" {
		out = append(out, "   "+s.detail+" ")
	}
	for _, e := range s.edges {
		target := "end"
		if e.to != endNode {
			target = all[e.to].id
		}
		out = append(out, fmt.Sprintf("   %s → %s ", e.label(), target))
	}
	return out
}

func stepIcon(s diagramStep) string {
	switch {
	case s.autoSuccess:
		return "●"
	case s.timing == schema.TimingConditionsOnly:
		return "◇"
	default:
		return "▶"
	}
}

func buildSteps(seq *schema.Sequence) ([]diagramStep, error) {
	ids, err := compiler.IndexIDs(seq.Steps)
	if err != nil {
		return nil, err
	}

	steps := make([]diagramStep, len(seq.Steps))
	for i, s := range seq.Steps {
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("step %d", i)
		}
		ds := diagramStep{
			index:       i,
			id:          id,
			name:        s.Name,
			node:        fmt.Sprintf("s%d_%s", i, safeID(id)),
			timing:      s.Timing,
			autoSuccess: s.AutoSuccess,
			detail:      conditionSummary(s),
		}

		if s.AutoSuccess || len(s.Conditions) > 0 {
			route := schema.Route{Action: schema.RouteAdvance}
			if s.OnSuccess != nil {
				route = *s.OnSuccess
			}
			r, err := compiler.SuccessRoute(route, ids)
			if err != nil {
				return nil, fmt.Errorf("steps[%d].on_success: %w", i, err)
			}
			ds.edges = append(ds.edges, edge{success: true, route: route.String(), to: target(r, i, len(seq.Steps))})
		}
		if !s.AutoSuccess {
			route := schema.Route{Action: schema.RouteRepeat}
			if s.OnFailure != nil {
				route = *s.OnFailure
			}
			r, err := compiler.FailureRoute(route, ids)
			if err != nil {
				return nil, fmt.Errorf("steps[%d].on_failure: %w", i, err)
			}
			ds.edges = append(ds.edges, edge{route: route.String(), to: target(r, i, len(seq.Steps))})
		}
		steps[i] = ds
	}
	return steps, nil
}

// target resolves a compiled route to the index it leads to, or endNode.
func target(r fmt.Stringer, i, n int) int {
	next := i
	switch r := r.(type) {
	case engine.Advance:
		next = i + 1
	case engine.Terminate:
		return endNode
	case engine.Repeat:
		next = i
	case engine.Restart:
		next = 0
	case engine.JumpTo:
		next = r.Index
	}
	if next < 0 || next >= n {
		return endNode
	}
	return next
}

func conditionSummary(s schema.Step) string {
	if len(s.Conditions) == 0 {
		return ""
	}
	parts := make([]string, 0, len(s.Conditions))
	for _, g := range s.Conditions {
		switch g.Type {
		case schema.CombinatorNot:
			parts = append(parts, fmt.Sprintf("not(%d)", len(g.Checks)))
		default:
			parts = append(parts, fmt.Sprintf("%s %d/%d", g.Type, g.Required, len(g.Checks)))
		}
	}
	return strings.Join(parts, ", ")
}

// --- string helpers ---

func safeID(id string) string {
	r := strings.NewReplacer("-", "_", " ", "_", ".", "_")
	return r.Replace(id)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}
