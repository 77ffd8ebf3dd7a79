package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/youpin-city/mafueng-bot/core/session"
)

func TestSchedulerRunsContinuationsInPlace(t *testing.T) {
	gw := &fakeGateway{}
	sleeper := &recordingSleeper{}
	s := NewScheduler(gw, sleeper, func() time.Time { return testNow })

	p := &Plan{}
	p.Text("one")
	p.Call("expand", func(_ context.Context, p *Plan) error {
		p.Text("two")
		p.Pause(time.Second)
		p.Text("three")
		return nil
	})
	p.Text("four")

	var rec session.Record
	done, err := s.Run(context.Background(), "u", p, &rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if done != 6 {
		t.Fatalf("done = %d, want 6", done)
	}
	var texts []string
	for _, m := range gw.messages() {
		texts = append(texts, m.text)
	}
	if got := len(texts); got != 4 || texts[0] != "one" || texts[1] != "two" || texts[2] != "three" || texts[3] != "four" {
		t.Fatalf("order = %v", texts)
	}
	if len(sleeper.delays) != 1 || sleeper.delays[0] != time.Second {
		t.Fatalf("delays = %v", sleeper.delays)
	}
	if rec.LastSent != testNow.UnixMilli() {
		t.Fatalf("lastSent = %d", rec.LastSent)
	}
}

func TestSchedulerStopsOnFailure(t *testing.T) {
	gw := &fakeGateway{}
	s := NewScheduler(gw, &recordingSleeper{}, nil)

	p := &Plan{}
	p.Text("before")
	p.Call("explode", func(context.Context, *Plan) error { return errBoom })
	p.Text("after")

	done, err := s.Run(context.Background(), "u", p, nil)
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if done != 1 || len(gw.messages()) != 1 {
		t.Fatalf("done = %d, sent = %d", done, len(gw.messages()))
	}
}

func TestTimerSleeperHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := TimerSleeper.Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if err := TimerSleeper.Sleep(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep: %v", err)
	}
}
