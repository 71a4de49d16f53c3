package service

import (
	"context"
	"time"
)

// poller runs fn every interval until stopped. fn always sees a context that
// is cancelled when the poller stops.
type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startPoller(parent context.Context, interval time.Duration, fn func(ctx context.Context)) *poller {
	ctx, cancel := context.WithCancel(parent)
	p := &poller{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	return p
}

// stop cancels the loop and waits for it to exit. Safe on nil.
func (p *poller) stop() {
	if p == nil {
		return
	}
	p.cancel()
	<-p.done
}
