// Package remediate applies a mutating action to flagged resources under a
// hard cap, with a dry-run mode that never touches anything.
package remediate

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Action mutates a single resource. It must report failure through the
// returned error; panics are not recovered.
type Action[T any] func(ctx context.Context, item T) error

// ErrSkip is returned by an Action that found nothing to do for an item
// (for example a key that is already inactive). The item is reported as not
// attempted and does not count against the cap.
var ErrSkip = errors.New("remediation not needed")

// Options controls a single Apply call.
type Options struct {
	// Max is the number of successful actions allowed. Max <= 0 means no
	// action is attempted.
	Max int
	// DryRun disables every action; all outcomes are reported unattempted.
	DryRun bool
	// Limiter paces action calls when non-nil.
	Limiter *rate.Limiter
}

// Outcome records what happened to one item.
type Outcome[T any] struct {
	Item      T
	Attempted bool
	Err       error
}

// Succeeded reports whether the action ran without error.
func (o Outcome[T]) Succeeded() bool {
	return o.Attempted && o.Err == nil
}

// Result holds one outcome per input item, in input order.
type Result[T any] struct {
	Outcomes []Outcome[T]
	// Applied counts successful actions. It never exceeds Options.Max.
	Applied int
	// Failed counts attempted actions that returned an error.
	Failed int
}

// Apply walks items in order and invokes action until Applied reaches
// opts.Max. Failed attempts are recorded and do not consume the cap. Items
// past the cap, or left over after ctx is cancelled, are reported with
// Attempted=false.
func Apply[T any](ctx context.Context, items []T, action Action[T], opts Options) Result[T] {
	log := zerolog.Ctx(ctx)
	res := Result[T]{Outcomes: make([]Outcome[T], len(items))}

	for i, item := range items {
		res.Outcomes[i].Item = item

		if opts.DryRun || res.Applied >= opts.Max || ctx.Err() != nil {
			continue
		}
		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(ctx); err != nil {
				continue
			}
		}

		err := action(ctx, item)
		if errors.Is(err, ErrSkip) {
			continue
		}
		res.Outcomes[i].Attempted = true
		res.Outcomes[i].Err = err
		if err != nil {
			res.Failed++
			log.Warn().Err(err).Int("index", i).Msg("remediation failed")
			continue
		}
		res.Applied++
	}

	if !opts.DryRun && opts.Max > 0 && res.Applied >= opts.Max && len(items) > res.Applied+res.Failed {
		log.Info().Int("max", opts.Max).Int("remaining", len(items)-res.Applied-res.Failed).
			Msg("remediation cap reached")
	}
	return res
}
