package eval

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
)

// ErrActionFailed is returned by actions whose spec sets fail.
var ErrActionFailed = errors.New("action failed")

// NewAction builds an engine action from spec. The action, in order,
// assigns the set expressions in key order, waits, logs, fails if asked to,
// and finally returns the outcome expression's value.
//
// A nil spec yields a nil action.
func NewAction(spec *schema.Action, env *Env) (engine.Action, error) {
	if spec == nil {
		return nil, nil
	}

	var wait time.Duration
	if spec.Wait != "" {
		d, err := time.ParseDuration(spec.Wait)
		if err != nil {
			return nil, fmt.Errorf("wait: %w", err)
		}
		if d < 0 {
			return nil, fmt.Errorf("wait: negative duration %s", spec.Wait)
		}
		wait = d
	}
	if err := CheckTemplate(spec.Log); err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	keys := slices.Sorted(maps.Keys(spec.Set))

	return func(ctx context.Context) (any, error) {
		for _, name := range keys {
			v, err := Value(spec.Set[name], env.Snapshot())
			if err != nil {
				return nil, fmt.Errorf("set %s: %w", name, err)
			}
			env.Set(name, v)
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		if spec.Log != "" {
			msg, err := Render(spec.Log, env.Snapshot())
			if err != nil {
				return nil, fmt.Errorf("log: %w", err)
			}
			log := env.Logger()
			log.Info().Msg(msg)
		}

		if spec.Fail != "" {
			return nil, fmt.Errorf("%w: %s", ErrActionFailed, spec.Fail)
		}

		if spec.Outcome == "" {
			return nil, nil
		}
		out, err := Value(spec.Outcome, env.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("outcome: %w", err)
		}
		return out, nil
	}, nil
}
