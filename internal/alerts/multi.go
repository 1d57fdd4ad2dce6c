package alerts

import (
	"context"
	"errors"
	"fmt"
)

// MultiSender sends alerts to multiple destinations
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a new multi-sender
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
	}
}

// Send delivers to every sender; one failing sender does not stop the others
func (s *MultiSender) Send(ctx context.Context, n *Notification) error {
	var errs []error
	for i, sender := range s.senders {
		if err := sender.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("sender %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
