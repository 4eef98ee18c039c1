package ticker

import (
	"context"
	"sync"
	"time"
)

// Func is one round of a periodic activity. Returning false ends the
// activity without waiting for another period.
type Func func(ctx context.Context) bool

// Ticker runs a Func once immediately and then on every period until the
// Func gives up, the parent context is cancelled or Stop is called.
// Cancellation interrupts the wait between rounds.
type Ticker struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func Start(parent context.Context, name string, period time.Duration, fn Func) *Ticker {
	ctx, cancel := context.WithCancel(parent)
	t := &Ticker{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go t.run(ctx, period, fn)
	return t
}

func (t *Ticker) run(ctx context.Context, period time.Duration, fn Func) {
	defer close(t.done)
	defer t.cancel()

	if !fn(ctx) {
		return
	}

	tk := time.NewTicker(period)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			if ctx.Err() != nil || !fn(ctx) {
				return
			}
		}
	}
}

func (t *Ticker) Name() string {
	return t.name
}

// Done is closed once the activity has returned.
func (t *Ticker) Done() <-chan struct{} {
	return t.done
}

// Stop cancels the activity and waits for the current round to finish.
// It is safe to call more than once and on a nil Ticker.
func (t *Ticker) Stop() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
	<-t.done
}
