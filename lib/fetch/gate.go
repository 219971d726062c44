package fetch

import (
	"context"
	"sync"
	"time"

	"novelarc/lib/chrono"

	"github.com/mazen160/go-random"
)

// Gate enforces the site-wide minimum interval between requests. One Gate
// instance must be shared by every fetch path in the process, including
// page navigations made by a rendering session, or the politeness
// interval is violated.
type Gate struct {
	mu           sync.Mutex
	clock        chrono.API
	baseInterval time.Duration
	next         time.Time
}

func NewGate(baseInterval time.Duration, clock chrono.API) *Gate {
	if clock == nil {
		clock = chrono.NewStandardImpl()
	}
	return &Gate{
		clock:        clock,
		baseInterval: baseInterval,
	}
}

// Wait blocks until the politeness interval since the previously admitted
// caller has elapsed, then reserves the next slot. The reserved interval
// is jittered ±50% around the base so request timing doesn't form a
// detectable fixed cadence.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.clock.Now()
		if !now.Before(g.next) {
			g.next = now.Add(g.interval())
			g.mu.Unlock()
			return nil
		}
		wait := g.next.Sub(now)
		g.mu.Unlock()

		if err := g.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (g *Gate) interval() time.Duration {
	if g.baseInterval <= 0 {
		return 0
	}
	millis := int(g.baseInterval / time.Millisecond)
	if millis == 0 {
		return g.baseInterval
	}
	n, err := random.IntRange(0, millis+1)
	if err != nil {
		n = millis / 2
	}
	return g.baseInterval/2 + time.Duration(n%(millis+1))*time.Millisecond
}
