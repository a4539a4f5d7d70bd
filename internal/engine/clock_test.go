package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/engine/enginetest"
)

func TestCountdown_ExpiresOnce(t *testing.T) {
	var ticks []int
	expired := 0
	c := engine.NewCountdown(3, func(r int) { ticks = append(ticks, r) }, func() { expired++ })

	for i := 0; i < 6; i++ {
		c.Tick()
	}

	if expired != 1 {
		t.Fatalf("onExpire fired %d times, want 1", expired)
	}
	if len(ticks) != 3 || ticks[0] != 2 || ticks[2] != 0 {
		t.Fatalf("ticks = %v, want [2 1 0]", ticks)
	}
	if !c.Expired() || c.Remaining() != 0 {
		t.Fatalf("expired=%v remaining=%d", c.Expired(), c.Remaining())
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after expiry")
	}
}

func TestCountdown_StopPreventsExpiry(t *testing.T) {
	expired := false
	c := engine.NewCountdown(2, nil, func() { expired = true })
	c.Tick()
	c.Stop()
	c.Stop()
	c.Tick()
	c.Tick()

	if expired {
		t.Fatal("stopped countdown expired")
	}
	if c.Remaining() != 1 {
		t.Fatalf("remaining = %d, want 1", c.Remaining())
	}
}

func TestStartCountdown_ZeroExpiresImmediately(t *testing.T) {
	clk := enginetest.NewFakeClock(time.Now())
	fired := 0
	c := engine.StartCountdown(context.Background(), clk, 0, nil, func() { fired++ })
	if fired != 1 || !c.Expired() {
		t.Fatalf("fired=%d expired=%v", fired, c.Expired())
	}
	if clk.Tickers() != 0 {
		t.Fatal("zero countdown started a ticker")
	}
}

func TestStartCountdown_DrivenByClock(t *testing.T) {
	clk := enginetest.NewFakeClock(time.Now())

	var mu sync.Mutex
	var ticks []int
	c := engine.StartCountdown(context.Background(), clk, 3, func(r int) {
		mu.Lock()
		ticks = append(ticks, r)
		mu.Unlock()
	}, nil)

	clk.Advance(3 * time.Second)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not expire")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ticks) != 3 || ticks[2] != 0 {
		t.Fatalf("ticks = %v", ticks)
	}
	waitFor(t, func() bool { return clk.Tickers() == 0 })
}

func TestStartCountdown_ContextCancelStopsTicker(t *testing.T) {
	clk := enginetest.NewFakeClock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	c := engine.StartCountdown(ctx, clk, 60, nil, func() { t.Error("expired after cancel") })

	cancel()
	waitFor(t, func() bool { return clk.Tickers() == 0 })

	clk.Advance(time.Minute)
	if c.Expired() {
		t.Fatal("countdown expired after cancel")
	}
}
