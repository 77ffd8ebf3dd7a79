package conversation

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/youpin-city/mafueng-bot/core/locale"
	"github.com/youpin-city/mafueng-bot/core/session"
)

const enPath = "/?lang=en"

func TestHandlerTableCoversEveryState(t *testing.T) {
	for _, st := range session.States() {
		if _, ok := handlers[st]; !ok {
			t.Fatalf("no handler for state %s", st)
		}
	}
}

func TestFullReportFlow(t *testing.T) {
	h := newHarness(t, nil)
	const user = "u1"

	h.dispatch(t, postbackEvent(user, PayloadEnglish))
	msgs := h.gw.messages()
	if len(msgs) != 1 || msgs[0].kind != ActionButtons {
		t.Fatalf("expected greeting buttons, got %+v", msgs)
	}
	wantGreet := h.tr.Translate(locale.English, locale.Greet, map[string]string{"name": "Somchai"})
	if msgs[0].text != wantGreet {
		t.Fatalf("greeting = %q", msgs[0].text)
	}
	if got := msgs[0].buttons[2].Payload; got != PayloadThai {
		t.Fatalf("switch language payload = %q, want thai", got)
	}
	if rec := h.load(t, user); rec.State != session.StateWaitIntent || rec.Profile == nil || rec.LocaleOverride != enPath {
		t.Fatalf("after greeting: %+v", rec)
	}

	h.dispatch(t, postbackEvent(user, PayloadReport))
	h.dispatch(t, attachmentEvent(user, imageAttachment("img-1")))
	if rec := h.load(t, user); rec.State != session.StateWaitLocation ||
		!reflect.DeepEqual(rec.Photos, []string{"https://cdn.example/img-1"}) {
		t.Fatalf("after image: %+v", rec)
	}

	h.dispatch(t, attachmentEvent(user, locationAttachment(13.7384, 100.5321, "Pinned Location")))
	h.dispatch(t, textEvent(user, "near gate 3"))
	rec := h.load(t, user)
	if rec.State != session.StateWaitDesc || rec.LocationDesc != "near gate 3" || rec.LocationTitle != "" {
		t.Fatalf("after location detail: %+v", rec)
	}

	h.dispatch(t, textEvent(user, "broken light#done"))
	rec = h.load(t, user)
	if rec.State != session.StateWaitTags || !reflect.DeepEqual(rec.Desc, []string{"broken light"}) {
		t.Fatalf("after description: %+v", rec)
	}
	msgs = h.gw.messages()
	last := msgs[len(msgs)-1]
	if last.kind != ActionQuickReplies || len(last.replies) != len(Categories()) {
		t.Fatalf("category prompt = %+v", last)
	}
	for _, r := range last.replies {
		if r.Payload == string(ReplyDone) {
			t.Fatalf("category prompt must not offer done")
		}
	}

	h.dispatch(t, quickReplyEvent(user, "#IT", string(CategoryIT)))
	h.gw.reset()
	h.dispatch(t, quickReplyEvent(user, "#done", string(ReplyDone)))

	if len(h.backend.issues) != 1 {
		t.Fatalf("expected one issue, got %d", len(h.backend.issues))
	}
	issue := h.backend.issues[0]
	if issue.Detail != "broken light" || !reflect.DeepEqual(issue.Categories, []string{"it"}) {
		t.Fatalf("issue detail/categories = %q %v", issue.Detail, issue.Categories)
	}
	if !reflect.DeepEqual(issue.Location.Coordinates, []float64{13.7384, 100.5321}) || issue.Location.Desc != "near gate 3" {
		t.Fatalf("issue location = %+v", issue.Location)
	}
	if issue.Status != "unverified" || issue.Owner != "api-user" || issue.Provider != "api-user" {
		t.Fatalf("issue defaults = %+v", issue)
	}
	if issue.User.ChatID != user || issue.User.FirstName != "Somchai" {
		t.Fatalf("issue user = %+v", issue.User)
	}
	if issue.CreatedTime != testNow.UnixMilli() {
		t.Fatalf("created_time = %d", issue.CreatedTime)
	}

	msgs = h.gw.messages()
	if len(msgs) != 2 || msgs[0].kind != ActionText || msgs[1].kind != ActionCards {
		t.Fatalf("finalize messages = %+v", msgs)
	}
	card := msgs[1].cards[0]
	if card.ItemURL != "http://mafueng.youpin.city/pins/pin-1" || card.ImageURL != "https://cdn.example/img-1" {
		t.Fatalf("card = %+v", card)
	}
	if card.Subtitle != "broken light" || card.Title != "iCare - Chula Engineering" {
		t.Fatalf("card text = %+v", card)
	}

	if final := h.load(t, user); !reflect.DeepEqual(final, session.Fresh(enPath)) {
		t.Fatalf("session not reset to the english locale: %+v", final)
	}
	if got := len(h.sleeper.delays); got != 4 {
		t.Fatalf("expected 4 pacing pauses, got %d", got)
	}
	for _, d := range h.sleeper.delays {
		if d != time.Second {
			t.Fatalf("pause = %s", d)
		}
	}

	h.gw.reset()
	h.dispatch(t, textEvent(user, "hello"))
	if msgs := h.gw.messages(); len(msgs) != 1 || msgs[0].text != wantGreet {
		t.Fatalf("next report greeting = %+v", msgs)
	}
}

func TestSkipMediaGoesToLocation(t *testing.T) {
	cases := map[string]string{
		enPath:      "#skip",
		"/?lang=th": "ข้ามไปก่อน #ข้าม",
	}
	for path, text := range cases {
		h := newHarness(t, nil)
		h.seed(t, "u2", session.Record{State: session.StateWaitImage, LocaleOverride: path, Photos: []string{}})

		h.dispatch(t, textEvent("u2", text))

		rec := h.load(t, "u2")
		if rec.State != session.StateWaitLocation || len(rec.Photos) != 0 || len(rec.Videos) != 0 {
			t.Fatalf("%s: after skip: %+v", path, rec)
		}
		msgs := h.gw.messages()
		if len(msgs) != 1 || msgs[0].kind != ActionLocationPrompt {
			t.Fatalf("%s: expected only the location prompt, got %+v", path, msgs)
		}
		if h.uploader.calls.Load() != 0 {
			t.Fatalf("%s: nothing should be uploaded", path)
		}
	}
}

func TestWaitImageRejectsStickersAndNudgesText(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "u3", session.Record{State: session.StateWaitImage, LocaleOverride: enPath})

	h.dispatch(t, Event{SenderID: "u3", Message: &Message{StickerID: "st-1"}})
	h.dispatch(t, attachmentEvent("u3", Attachment{Type: AttachmentFile, Payload: AttachmentPayload{URL: "doc"}}))
	h.dispatch(t, textEvent("u3", "I have none"))

	msgs := h.gw.messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 replies, got %+v", msgs)
	}
	if msgs[0].text != h.en(locale.MediaOnly) || msgs[1].text != h.en(locale.MediaOnly) {
		t.Fatalf("expected media-only replies, got %q / %q", msgs[0].text, msgs[1].text)
	}
	if msgs[2].kind != ActionQuickReplies || msgs[2].text != h.en(locale.SkipMedia) ||
		msgs[2].replies[0].Payload != string(ReplySkip) || msgs[2].replies[0].Label != "#skip" {
		t.Fatalf("skip nudge = %+v", msgs[2])
	}
	if rec := h.load(t, "u3"); rec.State != session.StateWaitImage {
		t.Fatalf("state changed to %s", rec.State)
	}
}

func TestWaitLocationKeepsMediaAndTitles(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "u4", session.Record{State: session.StateWaitLocation, LocaleOverride: enPath})

	h.dispatch(t, attachmentEvent("u4", Attachment{Type: AttachmentVideo, Payload: AttachmentPayload{URL: "vid-1"}}))
	rec := h.load(t, "u4")
	if rec.State != session.StateWaitLocation || !reflect.DeepEqual(rec.Videos, []string{"https://cdn.example/vid-1"}) {
		t.Fatalf("after video: %+v", rec)
	}

	h.dispatch(t, attachmentEvent("u4", locationAttachment(1, 2, "Engineering Building 3")))
	rec = h.load(t, "u4")
	if rec.State != session.StateWaitLocationDetail || rec.LocationTitle != "Engineering Building 3" {
		t.Fatalf("after location: %+v", rec)
	}
	if rec.Location == nil || rec.Location.Lat() != 1 || rec.Location.Long() != 2 {
		t.Fatalf("location = %v", rec.Location)
	}

	h.seed(t, "u5", session.Record{State: session.StateWaitLocation, LocaleOverride: "/?lang=th"})
	h.dispatch(t, attachmentEvent("u5", locationAttachment(1, 2, "ตำแหน่งที่ตั้งที่ปักหมุดไว้")))
	if rec := h.load(t, "u5"); rec.LocationTitle != "" {
		t.Fatalf("pinned title kept: %q", rec.LocationTitle)
	}
}

func TestDescriptionReprompts(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "u6", session.Record{State: session.StateWaitDesc, LocaleOverride: enPath})

	long := strings.Repeat("a", 150)
	h.dispatch(t, textEvent("u6", "first  part\n"))
	h.dispatch(t, textEvent("u6", "x"))
	h.dispatch(t, textEvent("u6", long))

	msgs := h.gw.messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 reprompts, got %d", len(msgs))
	}
	wantText := []string{h.en(locale.DescKeepTyping), "", h.en(locale.DescDoneYet)}
	for i, m := range msgs {
		if m.kind != ActionQuickReplies || m.text != wantText[i] {
			t.Fatalf("reprompt %d = %+v", i, m)
		}
		if len(m.replies) != 1 || m.replies[0].Payload != string(ReplyDone) || m.replies[0].Label != "#done" {
			t.Fatalf("reprompt %d replies = %+v", i, m.replies)
		}
	}

	rec := h.load(t, "u6")
	if !reflect.DeepEqual(rec.Desc, []string{"first part", "x", long}) {
		t.Fatalf("desc = %q", rec.Desc)
	}
	sum := 0
	for _, frag := range rec.Desc {
		sum += len([]rune(frag))
	}
	if rec.DescLength != sum || sum != 161 {
		t.Fatalf("descLength = %d, sum = %d", rec.DescLength, sum)
	}
}

func TestDescriptionAttachments(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "u7", session.Record{State: session.StateWaitDesc, LocaleOverride: enPath, Location: &session.Location{1, 1}})

	h.dispatch(t, attachmentEvent("u7", locationAttachment(5, 6, "")))
	h.dispatch(t, attachmentEvent("u7", imageAttachment("img-9")))
	h.dispatch(t, Event{SenderID: "u7", Message: &Message{StickerID: "st"}})

	rec := h.load(t, "u7")
	if rec.State != session.StateWaitDesc || *rec.Location != (session.Location{5, 6}) {
		t.Fatalf("after attachments: %+v", rec)
	}
	if !reflect.DeepEqual(rec.Photos, []string{"https://cdn.example/img-9"}) {
		t.Fatalf("photos = %v", rec.Photos)
	}
	msgs := h.gw.messages()
	want := []string{h.en(locale.DescLocationAck), h.en(locale.DescMediaAck), h.en(locale.Confused)}
	for i, m := range msgs {
		if m.text != want[i] {
			t.Fatalf("reply %d = %q, want %q", i, m.text, want[i])
		}
	}
}

func TestTagsTypedHashtagsAndTextEnding(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "u8", session.Record{
		State:          session.StateWaitTags,
		LocaleOverride: enPath,
		Desc:           []string{"leaking pipe"},
		DescLength:     12,
		Hashtags:       []string{"water"},
		Categories:     []string{"repair"},
	})

	h.dispatch(t, textEvent("u8", "#urgent please"))
	rec := h.load(t, "u8")
	if !reflect.DeepEqual(rec.Hashtags, []string{"water", "urgent"}) || !reflect.DeepEqual(rec.Desc, []string{"leaking pipe"}) {
		t.Fatalf("after typed tags: %+v", rec)
	}
	msgs := h.gw.messages()
	if len(msgs) != 1 || msgs[0].text != h.en(locale.TagsMore) || len(msgs[0].replies) != len(Categories())+1 {
		t.Fatalf("tags reprompt = %+v", msgs)
	}
	if msgs[0].replies[0].Payload != string(ReplyDone) || msgs[0].replies[1].Label != "#repair" {
		t.Fatalf("tag replies = %+v", msgs[0].replies)
	}

	h.dispatch(t, textEvent("u8", "＃safety #done"))
	if len(h.backend.issues) != 1 {
		t.Fatalf("typed end marker did not submit")
	}
	issue := h.backend.issues[0]
	if !reflect.DeepEqual(issue.Tags, []string{"water", "urgent", "safety"}) {
		t.Fatalf("tags = %v", issue.Tags)
	}
	if issue.Location.Coordinates != nil {
		t.Fatalf("coordinates should be empty, got %v", issue.Location.Coordinates)
	}
	msgs = h.gw.messages()
	card := msgs[len(msgs)-1].cards[0]
	if card.ImageURL != "https://mafueng.youpin.city/public/image/logo-l.png" {
		t.Fatalf("fallback image not used: %q", card.ImageURL)
	}
}

func TestTagsIgnoreStaleControlReplies(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "u12", session.Record{
		State:          session.StateWaitTags,
		LocaleOverride: enPath,
		Desc:           []string{"flooded hallway"},
		Categories:     []string{},
	})

	h.dispatch(t, quickReplyEvent("u12", "#skip", string(ReplySkip)))
	h.dispatch(t, quickReplyEvent("u12", "#nope", "not-a-category"))
	rec := h.load(t, "u12")
	if rec.State != session.StateWaitTags || len(rec.Categories) != 0 || len(rec.Hashtags) != 0 {
		t.Fatalf("stale replies changed the record: %+v", rec)
	}
	if msgs := h.gw.messages(); len(msgs) != 2 || msgs[1].text != h.en(locale.TagsMore) {
		t.Fatalf("expected tag reprompts, got %+v", msgs)
	}

	h.dispatch(t, quickReplyEvent("u12", "#sanitary", string(CategorySanitary)))
	h.dispatch(t, quickReplyEvent("u12", "#done", string(ReplyDone)))
	if len(h.backend.issues) != 1 || !reflect.DeepEqual(h.backend.issues[0].Categories, []string{"sanitary"}) {
		t.Fatalf("issues = %+v", h.backend.issues)
	}
}

func TestContactUsDisablesUntilReset(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "u9", session.Record{State: session.StateWaitIntent, LocaleOverride: enPath})

	h.dispatch(t, postbackEvent("u9", PayloadContact))
	if rec := h.load(t, "u9"); rec.State != session.StateDisabled {
		t.Fatalf("state = %s", rec.State)
	}
	disabled := h.load(t, "u9")

	h.gw.reset()
	h.dispatch(t, textEvent("u9", "hello?"))
	h.dispatch(t, postbackEvent("u9", PayloadReport))
	if msgs := h.gw.messages(); len(msgs) != 0 {
		t.Fatalf("disabled session replied: %+v", msgs)
	}
	if rec := h.load(t, "u9"); !reflect.DeepEqual(rec, disabled) {
		t.Fatalf("disabled session was rewritten: %+v", rec)
	}

	h.dispatch(t, textEvent("u9", DefaultResetKeyword))
	rec := h.load(t, "u9")
	if rec.State != session.StateWaitIntent || rec.LocaleOverride != "/?lang=th" {
		t.Fatalf("after reset keyword: %+v", rec)
	}
	msgs := h.gw.messages()
	if len(msgs) != 1 || msgs[0].kind != ActionButtons || msgs[0].buttons[2].Payload != PayloadEnglish {
		t.Fatalf("expected thai greeting, got %+v", msgs)
	}
}

func TestLanguagePostbackLeavesDisabled(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "u10", session.Record{State: session.StateDisabled, LocaleOverride: "/?lang=th"})

	h.dispatch(t, postbackEvent("u10", PayloadEnglish))
	rec := h.load(t, "u10")
	if rec.State != session.StateWaitIntent || rec.LocaleOverride != enPath {
		t.Fatalf("after english postback: %+v", rec)
	}
}

func TestExpiredSessionKeepsOnlyLocale(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "u11", session.Record{
		State:          session.StateWaitDesc,
		LocaleOverride: enPath,
		FirstReceived:  testNow.Add(-2 * time.Hour).UnixMilli(),
		Desc:           []string{"stale"},
		DescLength:     5,
	})

	h.dispatch(t, textEvent("u11", "hello"))

	rec := h.load(t, "u11")
	if rec.State != session.StateWaitIntent || rec.LocaleOverride != enPath || len(rec.Desc) != 0 {
		t.Fatalf("expired session not restarted: %+v", rec)
	}
	if rec.FirstReceived != testNow.UnixMilli() {
		t.Fatalf("firstReceived = %d", rec.FirstReceived)
	}
	msgs := h.gw.messages()
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].text, "Hi Somchai") {
		t.Fatalf("expected english greeting, got %+v", msgs)
	}
}

func TestUnknownStateStartsOver(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "u12", session.Record{State: session.State("legacy_state")})

	h.dispatch(t, textEvent("u12", "hi"))
	if rec := h.load(t, "u12"); rec.State != session.StateWaitIntent {
		t.Fatalf("state = %s", rec.State)
	}
}

func TestFailedUploadAbortsWithoutSave(t *testing.T) {
	h := newHarness(t, nil)
	h.uploader.err = errBoom
	h.seed(t, "u13", session.Record{State: session.StateWaitImage, LocaleOverride: enPath})

	err := h.engine.Dispatch(context.Background(), attachmentEvent("u13", imageAttachment("img")))
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected upload error, got %v", err)
	}
	msgs := h.gw.messages()
	if len(msgs) != 1 || msgs[0].text != h.en(locale.MediaAck) {
		t.Fatalf("expected only the acknowledgement, got %+v", msgs)
	}
	if len(h.sleeper.delays) != 0 {
		t.Fatalf("pause ran after failure")
	}
	if rec := h.load(t, "u13"); rec.State != session.StateWaitImage || len(rec.Photos) != 0 {
		t.Fatalf("session saved after failure: %+v", rec)
	}
}

func TestFailedSubmissionKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.err = errBoom
	h.seed(t, "u14", session.Record{State: session.StateWaitTags, LocaleOverride: enPath, Desc: []string{"d"}, DescLength: 1})

	err := h.engine.Dispatch(context.Background(), quickReplyEvent("u14", "#done", string(ReplyDone)))
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if rec := h.load(t, "u14"); rec.State != session.StateWaitTags || len(rec.Desc) != 1 {
		t.Fatalf("session changed: %+v", rec)
	}
	if msgs := h.gw.messages(); len(msgs) != 1 || msgs[0].kind != ActionText {
		t.Fatalf("expected only the thank-you text, got %+v", msgs)
	}
}

func TestMalformedEventDropped(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.Dispatch(context.Background(), Event{SenderID: "u15"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(h.gw.messages()) != 0 || h.store.Len() != 0 {
		t.Fatalf("malformed event had effects")
	}
}

func TestInterleavedDispatchLastSaveWins(t *testing.T) {
	var hs *hookStore
	h := newHarness(t, func(o *Options) {
		hs = &hookStore{Store: o.Store}
		o.Store = hs
	})
	h.seed(t, "u16", session.Record{State: session.StateWaitDesc, LocaleOverride: enPath})

	aLoaded := make(chan struct{})
	bLoaded := make(chan struct{})
	aSaved := make(chan struct{})
	hs.afterLoad = func(n int32) {
		if n == 1 {
			close(aLoaded)
		} else {
			close(bLoaded)
		}
	}
	hs.beforeSave = func(rec session.Record) {
		if rec.Desc[0] == "alpha" {
			<-bLoaded
		} else {
			<-aSaved
		}
	}
	hs.afterSave = func(rec session.Record) {
		if rec.Desc[0] == "alpha" {
			close(aSaved)
		}
	}

	errs := make(chan error, 2)
	go func() { errs <- h.engine.Dispatch(context.Background(), textEvent("u16", "alpha")) }()
	<-aLoaded
	go func() { errs <- h.engine.Dispatch(context.Background(), textEvent("u16", "beta")) }()
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	rec := h.load(t, "u16")
	if !reflect.DeepEqual(rec.Desc, []string{"beta"}) || rec.DescLength != 4 {
		t.Fatalf("expected the later save to win without merging, got %+v", rec)
	}
}

func TestSerializedDispatchKeepsBothFragments(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.SerializeUsers = true })
	h.seed(t, "u17", session.Record{State: session.StateWaitDesc, LocaleOverride: enPath})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, text := range []string{"alpha", "beta"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			errs <- h.engine.Dispatch(context.Background(), textEvent("u17", text))
		}(text)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	if rec := h.load(t, "u17"); len(rec.Desc) != 2 || rec.DescLength != 9 {
		t.Fatalf("serialized dispatches lost a fragment: %+v", rec)
	}
	if len(h.engine.locks.locks) != 0 {
		t.Fatalf("user locks not released")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for missing store")
	}
}
