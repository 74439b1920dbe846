// Package contract derives the variable contract of a step: the variables
// its conditions read and the variables its action writes. Validation uses
// it to find failure loops that nothing can break.
package contract

import (
	"maps"
	"slices"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
)

// Contract describes what a step touches in the variable scope.
type Contract struct {
	Reads  []string `json:"reads,omitempty"`  // read by condition checks
	Writes []string `json:"writes,omitempty"` // assigned when the action runs
}

// Identifiers returns the sorted distinct identifiers of an expression.
// Builtins are not identifiers; let-bound names and unknown function
// names are, so callers filter by scope.
func Identifiers(src string) ([]string, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	v := &collector{seen: map[string]struct{}{}}
	ast.Walk(&tree.Node, v)
	return slices.Sorted(maps.Keys(v.seen)), nil
}

type collector struct {
	seen map[string]struct{}
}

func (c *collector) Visit(node *ast.Node) {
	if id, ok := (*node).(*ast.IdentifierNode); ok {
		c.seen[id.Value] = struct{}{}
	}
}

// ForStep builds the contract of s. Only names present in scope count as
// variables. An action skipped by conditions_only timing writes nothing.
func ForStep(s schema.Step, scope map[string]any) (Contract, error) {
	var c Contract
	for _, g := range s.Conditions {
		for _, src := range g.Checks {
			ids, err := Identifiers(src)
			if err != nil {
				return Contract{}, err
			}
			for _, id := range ids {
				if _, ok := scope[id]; ok {
					c.Reads = setUnion(c.Reads, []string{id})
				}
			}
		}
	}

	actionRuns := len(s.Conditions) == 0 || s.Timing != schema.TimingConditionsOnly
	if s.Action != nil && actionRuns {
		c.Writes = setUnion(nil, slices.Collect(maps.Keys(s.Action.Set)))
	}
	return c, nil
}

// SelfSufficient reports whether running the step can change what its
// conditions see, i.e. the action writes something the checks read.
func (c Contract) SelfSufficient() bool {
	return setIntersects(c.Reads, c.Writes)
}

func (c Contract) String() string {
	return "reads: " + joinStrings(c.Reads) + "; writes: " + joinStrings(c.Writes)
}

// setUnion returns the sorted union of a and b without duplicates.
func setUnion(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		seen[s] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

func setIntersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}

func joinStrings(ss []string) string {
	if len(ss) == 0 {
		return "-"
	}
	return strings.Join(ss, ", ")
}
