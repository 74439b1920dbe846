package validate

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ormasoftchile/stepseq/pkg/kernel/compiler"
	"github.com/ormasoftchile/stepseq/pkg/kernel/contract"
	"github.com/ormasoftchile/stepseq/pkg/kernel/eval"
	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
)

// validateDomain runs stepseq/v0 domain-level validation rules.
func validateDomain(seq *schema.Sequence) []*ValidationError {
	var errs []*ValidationError

	// D1: apiVersion must be stepseq/v0
	if seq.APIVersion != schema.APIVersion {
		errs = append(errs, errorf("domain", "apiVersion", "expected %q, got %q", schema.APIVersion, seq.APIVersion))
	}

	// D2: step ID uniqueness; present IDs must not be blank
	ids := map[string]int{}
	for i, s := range seq.Steps {
		path := stepPath(i)
		if s.ID == "" {
			continue
		}
		if strings.TrimSpace(s.ID) == "" {
			errs = append(errs, errorf("domain", path+".id", "step ID must not be blank"))
			continue
		}
		if prev, ok := ids[s.ID]; ok {
			errs = append(errs, errorf("domain", path+".id", "duplicate step ID %q (first at %s)", s.ID, stepPath(prev)))
			continue
		}
		ids[s.ID] = i
	}

	// D3: timing, combinators, thresholds
	for i, s := range seq.Steps {
		errs = append(errs, validateStepShape(s, stepPath(i))...)
	}

	// D4: routes must be valid for their side and jump targets must exist
	for i, s := range seq.Steps {
		errs = append(errs, validateRoutes(s, ids, len(seq.Steps), stepPath(i))...)
	}

	// D5: every expression, template and duration must compile
	scope := declaredScope(seq)
	for i, s := range seq.Steps {
		errs = append(errs, validateExpressions(s, scope, stepPath(i))...)
	}

	// D6: the routing graph must be able to end the run
	if !HasErrors(errs) {
		errs = append(errs, validateReachability(seq.Steps, ids)...)
	}

	// D7: a failure that repeats a step must be able to change its outcome
	if !HasErrors(errs) {
		for i, s := range seq.Steps {
			errs = append(errs, validateRepeat(s, scope, stepPath(i))...)
		}
	}

	return errs
}

func validateStepShape(s schema.Step, path string) []*ValidationError {
	var errs []*ValidationError

	if _, err := compiler.Timing(s.Timing); err != nil {
		errs = append(errs, errorf("domain", path+".timing", "%v", err))
	}

	for gi, g := range s.Conditions {
		gpath := fmt.Sprintf("%s.conditions[%d]", path, gi)
		if _, err := compiler.Combinator(g.Type); err != nil {
			errs = append(errs, errorf("domain", gpath+".type", "%v", err))
			continue
		}
		if g.Required < 0 {
			errs = append(errs, errorf("domain", gpath+".required", "required must be >= 0, got %d", g.Required))
			continue
		}
		switch g.Type {
		case schema.CombinatorNot:
			if g.Required != 0 {
				errs = append(errs, warningf("domain", gpath+".required", "required is ignored for not groups: any matching check vetoes the step"))
			}
		default:
			if g.Required > len(g.Checks) {
				errs = append(errs, warningf("domain", gpath+".required", "required %d exceeds the %d checks in the group; it can never pass", g.Required, len(g.Checks)))
			}
			if g.Required == 0 && len(g.Checks) > 0 {
				errs = append(errs, warningf("domain", gpath+".required", "required is 0, so the group passes whatever its checks report; set required to at least 1"))
			}
		}
	}

	if len(s.Conditions) == 0 && !s.AutoSuccess {
		if s.Timing == schema.TimingConditionsOnly {
			errs = append(errs, warningf("domain", path, "conditions_only step has no conditions and no auto_success; it can never succeed"))
		} else {
			errs = append(errs, warningf("domain", path, "step has no conditions and no auto_success; its action runs but the step can never succeed"))
		}
	}

	return errs
}

func validateRoutes(s schema.Step, ids map[string]int, n int, path string) []*ValidationError {
	var errs []*ValidationError

	check := func(r *schema.Route, rpath string, success bool) {
		if r == nil {
			return
		}
		var err error
		if success {
			_, err = compiler.SuccessRoute(*r, ids)
		} else {
			_, err = compiler.FailureRoute(*r, ids)
		}
		if err != nil {
			errs = append(errs, errorf("domain", rpath, "%v", err))
			return
		}
		if r.Action == schema.RouteJump && r.Step != nil && (*r.Step < 0 || *r.Step >= n) {
			errs = append(errs, warningf("domain", rpath+".step", "jump to step %d leaves the sequence of %d steps and ends the run", *r.Step, n))
		}
	}

	check(s.OnSuccess, path+".on_success", true)
	check(s.OnFailure, path+".on_failure", false)
	return errs
}

// declaredScope is the variable shape expressions are checked against:
// meta.vars plus every name assigned by an action, the latter untyped.
func declaredScope(seq *schema.Sequence) map[string]any {
	scope := make(map[string]any, len(seq.Meta.Vars))
	maps.Copy(scope, seq.Meta.Vars)
	for _, s := range seq.Steps {
		if s.Action == nil {
			continue
		}
		for name := range s.Action.Set {
			if _, ok := scope[name]; !ok {
				scope[name] = nil
			}
		}
	}
	return scope
}

func validateExpressions(s schema.Step, scope map[string]any, path string) []*ValidationError {
	var errs []*ValidationError

	if a := s.Action; a != nil {
		apath := path + ".action"
		for _, name := range slices.Sorted(maps.Keys(a.Set)) {
			if err := eval.CompileValue(a.Set[name], scope); err != nil {
				errs = append(errs, errorf("domain", apath+".set."+name, "%v", err))
			}
		}
		if a.Outcome != "" {
			if err := eval.CompileValue(a.Outcome, scope); err != nil {
				errs = append(errs, errorf("domain", apath+".outcome", "%v", err))
			}
		}
		if err := eval.CheckTemplate(a.Log); err != nil {
			errs = append(errs, errorf("domain", apath+".log", "%v", err))
		}
		if a.Wait != "" {
			if d, err := time.ParseDuration(a.Wait); err != nil {
				errs = append(errs, errorf("domain", apath+".wait", "invalid duration %q", a.Wait))
			} else if d < 0 {
				errs = append(errs, errorf("domain", apath+".wait", "wait must not be negative"))
			}
		}
	}

	for gi, g := range s.Conditions {
		for ci, src := range g.Checks {
			if err := eval.CompileCheck(src, scope); err != nil {
				errs = append(errs, errorf("domain", fmt.Sprintf("%s.conditions[%d].checks[%d]", path, gi, ci), "%v", err))
			}
		}
	}
	return errs
}

func validateRepeat(s schema.Step, scope map[string]any, path string) []*ValidationError {
	if s.AutoSuccess || len(s.Conditions) == 0 {
		return nil
	}
	rpath := path
	if s.OnFailure != nil {
		if s.OnFailure.Action != schema.RouteRepeat {
			return nil
		}
		rpath = path + ".on_failure"
	}
	c, err := contract.ForStep(s, scope)
	if err != nil || c.SelfSufficient() {
		return nil
	}
	return []*ValidationError{warningf("domain", rpath,
		"a failure repeats the step but its action assigns nothing its conditions read (%s); the repeat only ends when the run is cancelled", c)}
}

func stepPath(i int) string {
	return fmt.Sprintf("steps[%d]", i)
}
