// Package notify delivers run status changes to chat and message buses.
package notify

import (
	"context"
	"errors"

	"github.com/soochol/tsupgrade/internal/tsupgrade/ports"
)

// Multi fans an event out to every publisher. Each publisher is tried even
// when an earlier one fails; the failures are joined.
type Multi []ports.RunEvents

func (m Multi) Publish(ctx context.Context, ev ports.RunEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
