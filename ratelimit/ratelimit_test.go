package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/firasghr/chromefp/ratelimit"
)

func TestAcquire_AllowsBurst(t *testing.T) {
	l := ratelimit.New(1000, 5)
	for i := 0; i < 5; i++ {
		if err := l.Acquire(context.Background(), "example.test", time.Time{}); err != nil {
			t.Fatalf("Acquire call %d: %v", i, err)
		}
	}
}

func TestOnResponse_HalvesRateOn429(t *testing.T) {
	l := ratelimit.New(10, 10)
	l.OnResponse("example.test", 429)
	if got := l.CurrentRate("example.test"); got != 5 {
		t.Errorf("CurrentRate after 429: got %v, want 5", got)
	}
}

func TestOnResponse_HalvesRateOn503(t *testing.T) {
	l := ratelimit.New(10, 10)
	l.OnResponse("example.test", 503)
	if got := l.CurrentRate("example.test"); got != 5 {
		t.Errorf("CurrentRate after 503: got %v, want 5", got)
	}
}

func TestOnResponse_FloorRate(t *testing.T) {
	l := ratelimit.New(1, 1)
	for i := 0; i < 20; i++ {
		l.OnResponse("example.test", 429)
	}
	if got := l.CurrentRate("example.test"); got != ratelimit.FloorRate {
		t.Errorf("CurrentRate floor: got %v, want %v", got, ratelimit.FloorRate)
	}
}

func TestOnResponse_RecoversAfter64GoodResponses(t *testing.T) {
	l := ratelimit.New(10, 10)
	l.OnResponse("example.test", 429) // rate -> 5
	for i := 0; i < 64; i++ {
		l.OnResponse("example.test", 200)
	}
	got := l.CurrentRate("example.test")
	if got <= 5 {
		t.Errorf("expected rate to increase after 64 good responses, got %v", got)
	}
	if got > 10 {
		t.Errorf("rate must never exceed the configured ceiling of 10, got %v", got)
	}
}

func TestOnResponse_CeilingNeverExceeded(t *testing.T) {
	l := ratelimit.New(10, 10)
	for round := 0; round < 5; round++ {
		for i := 0; i < 64; i++ {
			l.OnResponse("example.test", 200)
		}
	}
	if got := l.CurrentRate("example.test"); got != 10 {
		t.Errorf("CurrentRate: got %v, want ceiling 10", got)
	}
}

func TestOnResponse_PartialGoodStreakDoesNotIncrease(t *testing.T) {
	l := ratelimit.New(10, 10)
	l.OnResponse("example.test", 429)
	for i := 0; i < 10; i++ {
		l.OnResponse("example.test", 200)
	}
	if got := l.CurrentRate("example.test"); got != 5 {
		t.Errorf("CurrentRate before streak completes: got %v, want 5", got)
	}
}

func TestOrigins_AreIndependent(t *testing.T) {
	l := ratelimit.New(10, 10)
	l.OnResponse("a.test", 429)
	if got := l.CurrentRate("b.test"); got != 10 {
		t.Errorf("unrelated origin's rate must be unaffected: got %v, want 10", got)
	}
}
