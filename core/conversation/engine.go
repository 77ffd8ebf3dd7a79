// Package conversation runs the per-user reporting dialogue.
//
// The Engine loads a user's session, picks the handler for its state, lets the
// handler mutate the record and queue replies on a Plan, runs the plan through
// the Scheduler and saves the result. Handlers never touch the network
// directly; all I/O happens in plan actions.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/youpin-city/mafueng-bot/core/locale"
	"github.com/youpin-city/mafueng-bot/core/logger"
	"github.com/youpin-city/mafueng-bot/core/session"
)

const (
	// DefaultResetKeyword restarts the conversation in Thai.
	DefaultResetKeyword = "#เริ่มใหม่"
	// DefaultDescThreshold is the description length after which the user is asked whether they are done.
	DefaultDescThreshold = 140
	// DefaultPacing separates chained replies.
	DefaultPacing = time.Second
)

// IssueDefaults are the fixed fields of every submitted issue.
type IssueDefaults struct {
	Owner         string
	Organization  string
	PinURLBase    string
	CardTitle     string
	FallbackImage string
}

// Options wires an Engine.
type Options struct {
	Store      session.Store
	Gateway    Gateway
	Backend    Backend
	Uploader   MediaUploader
	Translator Translator

	Sleeper Sleeper
	Now     func() time.Time

	Pacing         time.Duration
	SessionTTL     time.Duration
	ResetKeyword   string
	DescThreshold  int
	SerializeUsers bool
	Issue          IssueDefaults
}

// Engine dispatches inbound events to state handlers.
type Engine struct {
	store    session.Store
	gw       Gateway
	backend  Backend
	uploader MediaUploader
	tr       Translator
	sched    *Scheduler
	now      func() time.Time

	pacing        time.Duration
	ttl           time.Duration
	resetKeyword  string
	descThreshold int
	issue         IssueDefaults
	locks         *userLocks
}

// New validates opts and builds an Engine.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("conversation: store is required")
	case opts.Gateway == nil:
		return nil, errors.New("conversation: gateway is required")
	case opts.Backend == nil:
		return nil, errors.New("conversation: backend is required")
	case opts.Uploader == nil:
		return nil, errors.New("conversation: media uploader is required")
	case opts.Translator == nil:
		return nil, errors.New("conversation: translator is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Pacing < 0 {
		opts.Pacing = 0
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = session.DefaultMaxAge
	}
	if opts.ResetKeyword == "" {
		opts.ResetKeyword = DefaultResetKeyword
	}
	if opts.DescThreshold <= 0 {
		opts.DescThreshold = DefaultDescThreshold
	}

	e := &Engine{
		store:         opts.Store,
		gw:            opts.Gateway,
		backend:       opts.Backend,
		uploader:      opts.Uploader,
		tr:            opts.Translator,
		sched:         NewScheduler(opts.Gateway, opts.Sleeper, opts.Now),
		now:           opts.Now,
		pacing:        opts.Pacing,
		ttl:           opts.SessionTTL,
		resetKeyword:  opts.ResetKeyword,
		descThreshold: opts.DescThreshold,
		issue:         opts.Issue,
	}
	if opts.SerializeUsers {
		e.locks = newUserLocks()
	}
	return e, nil
}

// Dispatch handles one inbound event. Events without a message or postback are
// dropped. A failing action aborts the rest of the plan and the session is
// left as it was stored before the event.
func (e *Engine) Dispatch(ctx context.Context, ev Event) error {
	if !ev.Valid() {
		logger.Warn(ctx, "engine", "dispatch.drop",
			slog.String("status", "skip"),
			slog.String("sender_id", ev.SenderID),
			slog.String("input", ev.Kind()),
		)
		return nil
	}

	ctx = logger.WithDispatch(ctx, uuid.NewString(), ev.SenderID)
	if e.locks != nil {
		unlock := e.locks.lock(ev.SenderID)
		defer unlock()
	}

	start := time.Now()
	rec, err := e.store.Load(ctx, ev.SenderID)
	if err != nil {
		logger.Error(ctx, "engine", "dispatch.load",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("conversation: load session: %w", err)
	}

	rec = e.override(ev, rec)
	if ev.Timestamp == 0 {
		ev.Timestamp = e.now().UnixMilli()
	}
	rec.LastReceived = ev.Timestamp

	prev := rec.State
	if prev == session.StateDisabled {
		logger.Debug(ctx, "engine", "dispatch.muted",
			slog.String("state", prev.String()),
			slog.String("input", ev.Kind()),
		)
		return nil
	}

	t := &turn{
		e:    e,
		ev:   ev,
		rec:  &rec,
		lang: e.tr.Locale(rec.LocaleOverride),
		plan: &Plan{},
	}
	handlerFor(prev)(t)

	done, err := e.sched.Run(ctx, ev.SenderID, t.plan, &rec)
	if err != nil {
		logger.Error(ctx, "engine", "dispatch.failed",
			slog.String("status", "fail"),
			slog.String("state", prev.String()),
			slog.String("input", ev.Kind()),
			slog.Int("actions", done),
			slog.Int("actions_total", t.plan.Len()),
			slog.Duration("duration", time.Since(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("conversation: %s: %w", prev, err)
	}

	if err := e.store.Save(ctx, ev.SenderID, rec, e.ttl); err != nil {
		logger.Error(ctx, "engine", "dispatch.save",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("conversation: save session: %w", err)
	}

	logger.Info(ctx, "engine", "dispatch.handled",
		slog.String("status", "ok"),
		slog.String("state", prev.String()),
		slog.String("next_state", rec.State.String()),
		slog.String("input", ev.Kind()),
		slog.Int("actions", done),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// override replaces the loaded record when the event restarts the
// conversation in a given language.
func (e *Engine) override(ev Event, rec session.Record) session.Record {
	payload := ev.PostbackPayload()
	switch {
	case ev.Text() == e.resetKeyword || payload == PayloadThai:
		return session.Fresh(locale.Path(locale.Thai))
	case payload == PayloadEnglish:
		return session.Fresh(locale.Path(locale.English))
	}
	return rec
}

// userLocks serializes dispatches per user.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
