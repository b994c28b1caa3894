package events_test

import (
	"testing"
	"time"

	"github.com/firasghr/chromefp/detector"
	"github.com/firasghr/chromefp/events"
)

func TestPublish_DeliversToSubscriber(t *testing.T) {
	b := events.New()
	ch := b.Subscribe()

	b.Publish(events.Event{Kind: events.KindRequestStarted, Host: "example.test"})

	select {
	case ev := <-ch:
		if ev.Kind != events.KindRequestStarted || ev.Host != "example.test" {
			t.Errorf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublish_NoSubscribersIsNoOp(t *testing.T) {
	b := events.New()
	b.Publish(events.Event{Kind: events.KindRequestCompleted})
	if b.Dropped() != 0 {
		t.Errorf("Dropped: got %d, want 0", b.Dropped())
	}
}

func TestPublish_FullBufferDropsWithoutBlocking(t *testing.T) {
	b := events.New()
	ch := b.Subscribe()

	// Fill the subscriber's buffer, then publish one more without anyone
	// draining ch; Publish must still return immediately.
	for i := 0; i < cap(ch)+5; i++ {
		b.Publish(events.Event{Kind: events.KindRateLimitAdjusted, NewRate: float64(i)})
	}

	if b.Dropped() == 0 {
		t.Error("expected Dropped() > 0 once the subscriber buffer filled")
	}
}

func TestPublish_MultipleSubscribersAllReceive(t *testing.T) {
	b := events.New()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	b.Publish(events.Event{Kind: events.KindChallengeDetected, ChallengeKind: detector.JsInterstitial})

	for _, ch := range []<-chan events.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.ChallengeKind != detector.JsInterstitial {
				t.Errorf("got %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered to one subscriber")
		}
	}
}

func TestPublish_ChallengeSolvedCarriesDuration(t *testing.T) {
	b := events.New()
	ch := b.Subscribe()

	b.Publish(events.Event{Kind: events.KindChallengeSolved, Duration: 250 * time.Millisecond})

	ev := <-ch
	if ev.Duration != 250*time.Millisecond {
		t.Errorf("Duration: got %v, want 250ms", ev.Duration)
	}
}
