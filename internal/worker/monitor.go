package worker

import (
	"context"

	"github.com/webeid-native/webeid-app/internal/card"
)

// CardEventMonitor wraps a card.Facade's MonitorEvents stream with its own
// stop channel, so the controller can tear it down independently of
// whatever context an individual command's run-worker uses.
type CardEventMonitor struct {
	cancel context.CancelFunc
	events <-chan card.ReaderChange
}

// StartCardEventMonitor starts the long-lived monitor goroutine against
// facade, deriving its lifetime from parent.
func StartCardEventMonitor(parent context.Context, facade card.Facade) (*CardEventMonitor, error) {
	ctx, cancel := context.WithCancel(parent)
	events, err := facade.MonitorEvents(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	return &CardEventMonitor{cancel: cancel, events: events}, nil
}

// Events returns the channel of reader/card change notifications. The
// controller reads it while a run-worker is in flight, cancelling the
// worker when the active card's reader reports a removal.
func (m *CardEventMonitor) Events() <-chan card.ReaderChange { return m.events }

// Stop signals the monitor goroutine to exit.
func (m *CardEventMonitor) Stop() { m.cancel() }
