package validate

import (
	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
)

// exitNode stands for "the run ends" in the routing graph.
const exitNode = -1

// validateReachability walks the routing graph from the first step. A step
// contributes its success edge when it can succeed (it has conditions or
// auto_success) and its failure edge unless auto_success makes failure
// impossible. Routes are assumed valid.
func validateReachability(steps []schema.Step, ids map[string]int) []*ValidationError {
	if len(steps) == 0 {
		return nil
	}

	var errs []*ValidationError
	seen := map[int]bool{0: true}
	queue := []int{0}
	exits := false

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, next := range successors(steps, ids, i) {
			if next == exitNode {
				exits = true
				continue
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	if !exits {
		errs = append(errs, warningf("domain", "steps", "no route from the first step ends the run; it will run until cancelled"))
	}
	for i := range steps {
		if !seen[i] {
			errs = append(errs, warningf("domain", stepPath(i), "step is never reached from the first step"))
		}
	}
	return errs
}

func successors(steps []schema.Step, ids map[string]int, i int) []int {
	s := steps[i]
	var out []int
	if s.AutoSuccess || len(s.Conditions) > 0 {
		out = append(out, destination(s.OnSuccess, schema.RouteAdvance, steps, ids, i))
	}
	if !s.AutoSuccess {
		out = append(out, destination(s.OnFailure, schema.RouteRepeat, steps, ids, i))
	}
	return out
}

func destination(r *schema.Route, fallback string, steps []schema.Step, ids map[string]int, i int) int {
	action := fallback
	if r != nil {
		action = r.Action
	}

	next := i
	switch action {
	case schema.RouteAdvance:
		next = i + 1
	case schema.RouteTerminate:
		return exitNode
	case schema.RouteRepeat:
		next = i
	case schema.RouteRestart:
		next = 0
	case schema.RouteJump:
		if r.Target != "" {
			next = ids[r.Target]
		} else if r.Step != nil {
			next = *r.Step
		}
	}
	if next < 0 || next >= len(steps) {
		return exitNode
	}
	return next
}
