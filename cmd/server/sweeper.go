package main

import (
	"context"
	"time"
)

type sweeper interface {
	Sweep()
}

// runSweeper calls Sweep on every limiter each interval until ctx ends.
func runSweeper(ctx context.Context, interval time.Duration, limiters ...sweeper) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, l := range limiters {
				l.Sweep()
			}
		}
	}
}
