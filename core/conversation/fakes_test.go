package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/youpin-city/mafueng-bot/core/locale"
	"github.com/youpin-city/mafueng-bot/core/session"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type sent struct {
	kind    ActionKind
	text    string
	buttons []Button
	replies []ReplyOption
	cards   []Card
}

type fakeGateway struct {
	mu         sync.Mutex
	sent       []sent
	profile    session.Profile
	profileErr error
}

func (g *fakeGateway) record(s sent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, s)
	return nil
}

func (g *fakeGateway) SendText(_ context.Context, _, text string) error {
	return g.record(sent{kind: ActionText, text: text})
}

func (g *fakeGateway) SendButtons(_ context.Context, _, text string, buttons []Button) error {
	return g.record(sent{kind: ActionButtons, text: text, buttons: buttons})
}

func (g *fakeGateway) SendQuickReplies(_ context.Context, _, text string, replies []ReplyOption) error {
	return g.record(sent{kind: ActionQuickReplies, text: text, replies: replies})
}

func (g *fakeGateway) SendLocationPrompt(_ context.Context, _, text, _ string) error {
	return g.record(sent{kind: ActionLocationPrompt, text: text})
}

func (g *fakeGateway) SendCards(_ context.Context, _ string, cards []Card) error {
	return g.record(sent{kind: ActionCards, cards: cards})
}

func (g *fakeGateway) Profile(context.Context, string) (session.Profile, error) {
	return g.profile, g.profileErr
}

func (g *fakeGateway) messages() []sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sent(nil), g.sent...)
}

func (g *fakeGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = nil
}

type fakeBackend struct {
	mu     sync.Mutex
	issues []Issue
	err    error
}

func (b *fakeBackend) CreateIssue(_ context.Context, issue Issue) (IssueRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return IssueRef{}, b.err
	}
	b.issues = append(b.issues, issue)
	return IssueRef{ID: "pin-1"}, nil
}

type fakeUploader struct {
	err   error
	calls atomic.Int32
}

func (u *fakeUploader) UploadMediaFromURL(_ context.Context, url string) (string, error) {
	u.calls.Add(1)
	if u.err != nil {
		return "", u.err
	}
	return "https://cdn.example/" + url, nil
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

// hookStore lets tests interleave concurrent dispatches around store calls.
type hookStore struct {
	session.Store
	loads      atomic.Int32
	afterLoad  func(n int32)
	beforeSave func(rec session.Record)
	afterSave  func(rec session.Record)
}

func (h *hookStore) Load(ctx context.Context, userID string) (session.Record, error) {
	rec, err := h.Store.Load(ctx, userID)
	n := h.loads.Add(1)
	if h.afterLoad != nil {
		h.afterLoad(n)
	}
	return rec, err
}

func (h *hookStore) Save(ctx context.Context, userID string, rec session.Record, ttl time.Duration) error {
	if h.beforeSave != nil {
		h.beforeSave(rec)
	}
	err := h.Store.Save(ctx, userID, rec, ttl)
	if h.afterSave != nil {
		h.afterSave(rec)
	}
	return err
}

type harness struct {
	engine   *Engine
	store    *session.MemoryStore
	gw       *fakeGateway
	backend  *fakeBackend
	uploader *fakeUploader
	sleeper  *recordingSleeper
	tr       *locale.Catalog
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	now := func() time.Time { return testNow }
	h := &harness{
		store:    session.NewMemoryStore(session.Options{MaxAge: time.Hour, Now: now}),
		gw:       &fakeGateway{profile: session.Profile{FirstName: "Somchai", Username: "somchai"}},
		backend:  &fakeBackend{},
		uploader: &fakeUploader{},
		sleeper:  &recordingSleeper{},
		tr:       locale.MustLoad(locale.Thai),
	}
	opts := Options{
		Store:      h.store,
		Gateway:    h.gw,
		Backend:    h.backend,
		Uploader:   h.uploader,
		Translator: h.tr,
		Sleeper:    h.sleeper,
		Now:        now,
		Pacing:     time.Second,
		SessionTTL: time.Hour,
		Issue: IssueDefaults{
			Owner:         "api-user",
			Organization:  "583ddb7a3db23914407f9b58",
			PinURLBase:    "http://mafueng.youpin.city/pins/",
			CardTitle:     "iCare - Chula Engineering",
			FallbackImage: "https://mafueng.youpin.city/public/image/logo-l.png",
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = e
	return h
}

func (h *harness) seed(t *testing.T, userID string, rec session.Record) {
	t.Helper()
	if rec.FirstReceived == 0 {
		rec.FirstReceived = testNow.Add(-time.Minute).UnixMilli()
	}
	if err := h.store.Save(context.Background(), userID, rec, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (h *harness) load(t *testing.T, userID string) session.Record {
	t.Helper()
	rec, err := h.store.Load(context.Background(), userID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return rec
}

func (h *harness) dispatch(t *testing.T, ev Event) {
	t.Helper()
	if ev.Timestamp == 0 {
		ev.Timestamp = testNow.UnixMilli()
	}
	if err := h.engine.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("dispatch %s: %v", ev.Kind(), err)
	}
}

func (h *harness) en(key locale.Key) string {
	return h.tr.Translate(locale.English, key, nil)
}

func textEvent(user, text string) Event {
	return Event{SenderID: user, Message: &Message{Text: text}}
}

func postbackEvent(user string, p Payload) Event {
	return Event{SenderID: user, Postback: &PostbackRef{Payload: string(p)}}
}

func quickReplyEvent(user, label, payload string) Event {
	return Event{SenderID: user, Message: &Message{Text: label, QuickReply: &QuickReplyRef{Payload: payload}}}
}

func attachmentEvent(user string, atts ...Attachment) Event {
	return Event{SenderID: user, Message: &Message{Attachments: atts}}
}

func imageAttachment(url string) Attachment {
	return Attachment{Type: AttachmentImage, Payload: AttachmentPayload{URL: url}}
}

func locationAttachment(lat, long float64, title string) Attachment {
	return Attachment{
		Type:    AttachmentLocation,
		Title:   title,
		Payload: AttachmentPayload{Coordinates: &Coordinates{Lat: lat, Long: long}},
	}
}

var errBoom = errors.New("boom")
