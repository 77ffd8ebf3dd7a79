package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/youpin-city/mafueng-bot/core/session"
)

// ActionKind names what an action does.
type ActionKind string

const (
	ActionText           ActionKind = "send_text"
	ActionButtons        ActionKind = "send_buttons"
	ActionQuickReplies   ActionKind = "send_quick_replies"
	ActionLocationPrompt ActionKind = "send_location_prompt"
	ActionCards          ActionKind = "send_cards"
	ActionPause          ActionKind = "pause"
	ActionCall           ActionKind = "call"
)

// IsSend reports whether the action delivers a message to the user.
func (k ActionKind) IsSend() bool {
	switch k {
	case ActionText, ActionButtons, ActionQuickReplies, ActionLocationPrompt, ActionCards:
		return true
	}
	return false
}

// CallFunc performs I/O while a plan runs. It may add follow-up actions to p;
// they run right after the call, before anything queued later.
type CallFunc func(ctx context.Context, p *Plan) error

// Action is one step of a plan.
type Action struct {
	Kind    ActionKind
	Name    string
	Text    string
	Label   string
	Buttons []Button
	Replies []ReplyOption
	Cards   []Card
	Delay   time.Duration

	call CallFunc
}

// Plan is the ordered list of actions a handler wants performed.
type Plan struct {
	actions  []Action
	insertAt int
}

func (p *Plan) add(a Action) {
	if p.insertAt <= 0 || p.insertAt >= len(p.actions) {
		p.actions = append(p.actions, a)
		if p.insertAt > 0 {
			p.insertAt = len(p.actions)
		}
		return
	}
	p.actions = append(p.actions, Action{})
	copy(p.actions[p.insertAt+1:], p.actions[p.insertAt:])
	p.actions[p.insertAt] = a
	p.insertAt++
}

// Text queues a plain message.
func (p *Plan) Text(text string) {
	p.add(Action{Kind: ActionText, Text: text})
}

// Buttons queues a message with postback buttons.
func (p *Plan) Buttons(text string, buttons []Button) {
	p.add(Action{Kind: ActionButtons, Text: text, Buttons: buttons})
}

// QuickReplies queues a message with quick replies.
func (p *Plan) QuickReplies(text string, replies []ReplyOption) {
	p.add(Action{Kind: ActionQuickReplies, Text: text, Replies: replies})
}

// LocationPrompt queues a message asking the user to share a location.
func (p *Plan) LocationPrompt(text, label string) {
	p.add(Action{Kind: ActionLocationPrompt, Text: text, Label: label})
}

// Cards queues rich cards.
func (p *Plan) Cards(cards []Card) {
	p.add(Action{Kind: ActionCards, Cards: cards})
}

// Pause queues a pacing delay.
func (p *Plan) Pause(d time.Duration) {
	p.add(Action{Kind: ActionPause, Delay: d})
}

// Call queues a named side effect.
func (p *Plan) Call(name string, fn CallFunc) {
	p.add(Action{Kind: ActionCall, Name: name, call: fn})
}

// Actions returns the queued actions.
func (p *Plan) Actions() []Action {
	return p.actions
}

// Len returns the number of queued actions.
func (p *Plan) Len() int {
	return len(p.actions)
}

// Sleeper waits between paced messages.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepFunc adapts a function to Sleeper.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f.
func (f SleepFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper waits on a real timer and gives up when ctx is done.
var TimerSleeper Sleeper = SleepFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
})

// Scheduler runs plans against a gateway.
type Scheduler struct {
	gw    Gateway
	sleep Sleeper
	now   func() time.Time
}

// NewScheduler builds a scheduler. A nil sleeper uses TimerSleeper.
func NewScheduler(gw Gateway, sleep Sleeper, now func() time.Time) *Scheduler {
	if sleep == nil {
		sleep = TimerSleeper
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{gw: gw, sleep: sleep, now: now}
}

// Run performs the actions of p in order for userID, stamping rec.LastSent
// after every delivered message. The first failure stops the run; the number
// of completed actions is returned with it.
func (s *Scheduler) Run(ctx context.Context, userID string, p *Plan, rec *session.Record) (int, error) {
	done := 0
	for i := 0; i < len(p.actions); i++ {
		a := p.actions[i]
		if err := s.perform(ctx, userID, p, i, a); err != nil {
			if a.Name != "" {
				return done, fmt.Errorf("%s %s: %w", a.Kind, a.Name, err)
			}
			return done, fmt.Errorf("%s: %w", a.Kind, err)
		}
		if a.Kind.IsSend() && rec != nil {
			rec.LastSent = s.now().UnixMilli()
		}
		done++
	}
	return done, nil
}

func (s *Scheduler) perform(ctx context.Context, userID string, p *Plan, i int, a Action) error {
	switch a.Kind {
	case ActionText:
		return s.gw.SendText(ctx, userID, a.Text)
	case ActionButtons:
		return s.gw.SendButtons(ctx, userID, a.Text, a.Buttons)
	case ActionQuickReplies:
		return s.gw.SendQuickReplies(ctx, userID, a.Text, a.Replies)
	case ActionLocationPrompt:
		return s.gw.SendLocationPrompt(ctx, userID, a.Text, a.Label)
	case ActionCards:
		return s.gw.SendCards(ctx, userID, a.Cards)
	case ActionPause:
		return s.sleep.Sleep(ctx, a.Delay)
	case ActionCall:
		if a.call == nil {
			return nil
		}
		p.insertAt = i + 1
		defer func() { p.insertAt = 0 }()
		return a.call(ctx, p)
	}
	return fmt.Errorf("unknown action %q", a.Kind)
}
