package broadcast

import (
	"context"
	"errors"

	"taskboard/domain"
)

// Publisher is anything that accepts board events.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Fanout publishes to every target and joins their errors.
type Fanout []Publisher

// Publish hands ev to each target in order. A failing target does not stop
// the others.
func (f Fanout) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
