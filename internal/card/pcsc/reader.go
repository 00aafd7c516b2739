// Package pcsc implements reader enumeration and card presence/removal
// detection on top of PC/SC (github.com/ebfe/scard), polling
// GetStatusChange with a bounded timeout so cancellation stays cooperative.
package pcsc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ebfe/scard"

	"github.com/webeid-native/webeid-app/internal/card"
)

// pollInterval bounds each GetStatusChange call so the loop can observe ctx
// cancellation promptly instead of blocking indefinitely.
const pollInterval = 500 * time.Millisecond

// Monitor owns the PC/SC context and keeps a per-reader generation
// counter, bumped each time connectAndDescribe builds a CardInfo for that
// reader.
type Monitor struct {
	mu          sync.Mutex
	ctx         *scard.Context
	generations map[string]uint64
}

// NewMonitor establishes a PC/SC context.
func NewMonitor() (*Monitor, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish PC/SC context: %w", err)
	}
	return &Monitor{ctx: ctx, generations: make(map[string]uint64)}, nil
}

// Close releases the PC/SC context.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Release()
	m.ctx = nil
	return err
}

// ListReaders enumerates the currently known readers and their card
// presence, per card.Facade.ListReaders.
func (m *Monitor) ListReaders(ctx context.Context) ([]card.ReaderInfo, error) {
	names, err := m.listReaderNames()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	states := make([]scard.ReaderState, len(names))
	for i, name := range names {
		states[i] = scard.ReaderState{Reader: name, CurrentState: scard.StateUnaware}
	}
	if err := m.ctx.GetStatusChange(states, 0); err != nil {
		return nil, fmt.Errorf("GetStatusChange: %w", err)
	}

	infos := make([]card.ReaderInfo, len(names))
	for i, name := range names {
		infos[i] = card.ReaderInfo{
			Name:        name,
			CardPresent: states[i].EventState&scard.StatePresent != 0,
		}
	}
	return infos, nil
}

func (m *Monitor) listReaderNames() ([]string, error) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		return nil, errors.New("pcsc: monitor closed")
	}
	readers, err := ctx.ListReaders()
	if err != nil {
		// "no readers available" is not an error at this level - it's an
		// empty reader list the controller turns into NoReader.
		if strings.Contains(strings.ToLower(err.Error()), "no readers available") ||
			strings.Contains(strings.ToLower(err.Error()), "no smart card readers") {
			return nil, nil
		}
		return nil, fmt.Errorf("list readers: %w", err)
	}
	return readers, nil
}

// WaitForCard blocks until any reader reports a card present, or ctx is
// cancelled. Cancellation is cooperative: each loop iteration blocks for at
// most pollInterval before re-checking ctx.Done().
func (m *Monitor) WaitForCard(ctx context.Context) (card.CardInfo, error) {
	for {
		select {
		case <-ctx.Done():
			return card.CardInfo{}, ctx.Err()
		default:
		}

		infos, err := m.ListReaders(ctx)
		if err != nil {
			return card.CardInfo{}, err
		}
		for _, info := range infos {
			if info.CardPresent {
				return m.connectAndDescribe(info.Name)
			}
		}

		if err := m.blockForChange(ctx, nil); err != nil && !errors.Is(err, scard.ErrTimeout) {
			return card.CardInfo{}, err
		}
	}
}

// CandidateCards returns a CardInfo for every reader currently reporting a
// card present, per card.Facade.CandidateCards.
func (m *Monitor) CandidateCards(ctx context.Context) ([]card.CardInfo, error) {
	infos, err := m.ListReaders(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []card.CardInfo
	for _, info := range infos {
		if !info.CardPresent {
			continue
		}
		cardInfo, err := m.connectAndDescribe(info.Name)
		if err != nil {
			continue
		}
		candidates = append(candidates, cardInfo)
	}
	return candidates, nil
}

func (m *Monitor) connectAndDescribe(readerName string) (card.CardInfo, error) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		return card.CardInfo{}, errors.New("pcsc: monitor closed")
	}

	sc, err := ctx.Connect(readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return card.CardInfo{}, fmt.Errorf("connect reader %s: %w", readerName, err)
	}
	defer sc.Disconnect(scard.LeaveCard)

	status, err := sc.Status()
	if err != nil {
		return card.CardInfo{}, fmt.Errorf("card status on %s: %w", readerName, err)
	}

	m.mu.Lock()
	m.generations[readerName]++
	gen := m.generations[readerName]
	m.mu.Unlock()

	return card.NewCardInfo(readerName, status.Atr, gen), nil
}

// blockForChange waits (bounded by pollInterval) for a PC/SC state
// change across the given reader states, defaulting to StateUnaware across
// all known readers when states is nil.
func (m *Monitor) blockForChange(ctx context.Context, states []scard.ReaderState) error {
	m.mu.Lock()
	pctx := m.ctx
	m.mu.Unlock()
	if pctx == nil {
		return errors.New("pcsc: monitor closed")
	}

	if states == nil {
		names, err := m.listReaderNames()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			// No readers at all: sleep out the poll interval (returning
			// early if ctx is done) and report it as a poll timeout.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			return scard.ErrTimeout
		}
		states = make([]scard.ReaderState, len(names))
		for i, name := range names {
			states[i] = scard.ReaderState{Reader: name, CurrentState: scard.StateUnaware}
		}
	}

	return pctx.GetStatusChange(states, pollInterval)
}

// MonitorEvents streams insertion/removal/reader-set-change notifications
// until ctx is cancelled, per card.Facade.MonitorEvents.
func (m *Monitor) MonitorEvents(ctx context.Context) (<-chan card.ReaderChange, error) {
	out := make(chan card.ReaderChange, 8)

	go func() {
		defer close(out)

		tracked := map[string]scard.StateFlag{}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			names, err := m.listReaderNames()
			if err != nil {
				return
			}

			for name := range tracked {
				if !contains(names, name) {
					delete(tracked, name)
					select {
					case out <- card.ReaderChange{Kind: card.ReaderSetChanged, ReaderName: name}:
					case <-ctx.Done():
						return
					}
				}
			}

			states := make([]scard.ReaderState, len(names))
			for i, name := range names {
				cur, ok := tracked[name]
				if !ok {
					cur = scard.StateUnaware
				}
				states[i] = scard.ReaderState{Reader: name, CurrentState: cur}
			}

			if len(states) > 0 {
				if err := m.blockForChange(ctx, states); err != nil && !errors.Is(err, scard.ErrTimeout) {
					return
				}
			} else {
				select {
				case <-ctx.Done():
					return
				case <-time.After(pollInterval):
				}
			}

			for i, name := range names {
				event := states[i].EventState
				tracked[name] = event & ^scard.StateChanged

				if event&scard.StateChanged == 0 {
					continue
				}
				switch {
				case event&scard.StatePresent != 0:
					info, err := m.connectAndDescribe(name)
					if err == nil {
						select {
						case out <- card.ReaderChange{Kind: card.CardInserted, ReaderName: name, Card: info}:
						case <-ctx.Done():
							return
						}
					}
				case event&scard.StateEmpty != 0:
					select {
					case out <- card.ReaderChange{Kind: card.CardRemoved, ReaderName: name}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func contains(names []string, target string) bool {
	for _, n := range names {
		if n == target {
			return true
		}
	}
	return false
}
