package bus

import (
	"context"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestPublishMatchesCurrentSubscriptions checks that for any sequence of
// subscribe and unsubscribe operations, a publish reaches exactly the
// listeners subscribed to the topic at that moment, in subscription order.
func TestPublishMatchesCurrentSubscriptions(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("publish reaches current subscribers in order", prop.ForAll(
		func(ops []int) bool {
			b := New()
			var calls []int

			type live struct {
				label  int
				handle Handle
			}
			var model []live
			var removed []Handle

			for label, op := range ops {
				switch {
				case op%4 == 0 && len(model) > 0:
					i := (op / 4) % len(model)
					if !b.Unsubscribe(model[i].handle) {
						return false
					}
					removed = append(removed, model[i].handle)
					model = slices.Delete(model, i, i+1)
				case op%4 == 1 && len(removed) > 0:
					// Unsubscribing twice is a no-op.
					if b.Unsubscribe(removed[op%len(removed)]) {
						return false
					}
				case op%4 == 2:
					// Listeners on other topics never see "t".
					b.Subscribe("other", func(context.Context, Event) error {
						calls = append(calls, -1)
						return nil
					})
				default:
					l := label
					h := b.Subscribe("t", func(context.Context, Event) error {
						calls = append(calls, l)
						return nil
					})
					model = append(model, live{label: l, handle: h})
				}
			}

			b.Publish(context.Background(), "t", NewEvent("e", uuid.Nil, nil))

			want := make([]int, 0, len(model))
			for _, m := range model {
				want = append(want, m.label)
			}
			return slices.Equal(want, calls)
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
