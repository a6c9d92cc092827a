/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"time"
)

// Clock supplies wall-clock reads and fixed-period rates.
type Clock interface {
	Now() time.Time
	NewRate(period time.Duration) Rate
}

// Rate blocks until the next tick of a fixed-period clock.
type Rate interface {
	Sleep(ctx context.Context) error
	Stop()
}

type systemClock struct{}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) NewRate(period time.Duration) Rate {
	return &tickerRate{ticker: time.NewTicker(period)}
}

// tickerRate wakes on ticker boundaries. A Sleep that starts after a missed
// boundary returns at once; any further missed ticks are dropped, so a late
// caller gets at most one immediate wake-up before it is back on the period.
type tickerRate struct {
	ticker *time.Ticker
}

func (r *tickerRate) Sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ticker.C:
		return nil
	}
}

func (r *tickerRate) Stop() {
	r.ticker.Stop()
}
