package conversation

import (
	"context"
	"strings"

	"github.com/youpin-city/mafueng-bot/core/locale"
	"github.com/youpin-city/mafueng-bot/core/session"
	"github.com/youpin-city/mafueng-bot/core/textparse"
)

const issueStatusUnverified = "unverified"

// turn is the state a handler works on during one dispatch.
type turn struct {
	e    *Engine
	ev   Event
	rec  *session.Record
	lang string
	plan *Plan
}

type handler func(t *turn)

// handlers maps every state to its handler. StateDisabled never reaches the
// table because the dispatcher mutes it first.
var handlers = map[session.State]handler{
	session.StateNone:               handleNone,
	session.StateWaitIntent:         handleWaitIntent,
	session.StateWaitImage:          handleWaitImage,
	session.StateWaitLocation:       handleWaitLocation,
	session.StateWaitLocationDetail: handleWaitLocationDetail,
	session.StateWaitDesc:           handleWaitDesc,
	session.StateWaitTags:           handleWaitTags,
	session.StateDisabled:           func(*turn) {},
}

// handlerFor returns the handler for st; unknown states start over.
func handlerFor(st session.State) handler {
	if h, ok := handlers[st]; ok {
		return h
	}
	return handleNone
}

func (t *turn) msg(key locale.Key) string {
	return t.e.tr.Translate(t.lang, key, nil)
}

func (t *turn) msgWithName(key locale.Key) string {
	name := ""
	if t.rec.Profile != nil {
		name = t.rec.Profile.FirstName
	}
	return t.e.tr.Translate(t.lang, key, map[string]string{"name": name})
}

func (t *turn) isSkipping() bool {
	if ReplyPayload(t.ev.QuickReplyPayload()) == ReplySkip {
		return true
	}
	text := t.ev.Text()
	return text != "" && textparse.ContainsMarker(text, t.msg(locale.MarkerSkip))
}

func (t *turn) skipReply() []ReplyOption {
	return []ReplyOption{{Label: t.msg(locale.MarkerSkip), Payload: string(ReplySkip)}}
}

// tagReplies is the done button followed by one button per category.
func (t *turn) tagReplies() []ReplyOption {
	out := make([]ReplyOption, 0, len(Categories())+1)
	out = append(out, ReplyOption{Label: t.msg(locale.MarkerDone), Payload: string(ReplyDone)})
	for _, c := range Categories() {
		out = append(out, ReplyOption{
			Label:   "#" + t.msg(locale.CategoryKey(string(c))),
			Payload: string(c),
		})
	}
	return out
}

// appendDesc adds a description fragment and reports whether it carried the
// end marker.
func (t *turn) appendDesc(text string) bool {
	norm := textparse.Normalize(text)
	ending, rest := textparse.DetectEndMarker(norm, t.msg(locale.MarkerDone))
	if rest != "" {
		t.rec.Desc = append(t.rec.Desc, rest)
		t.rec.DescLength += textparse.Length(rest)
		t.rec.Hashtags = append(t.rec.Hashtags, textparse.ExtractHashtags(rest)...)
	}
	return ending
}

// queueUploads copies every photo and video attachment to the backend and
// records the stored URLs in arrival order.
func (t *turn) queueUploads(atts []Attachment) {
	rec := t.rec
	for _, a := range atts {
		if !a.Type.IsMedia() {
			continue
		}
		a := a
		t.plan.Call("upload_media", func(ctx context.Context, _ *Plan) error {
			url, err := t.e.uploader.UploadMediaFromURL(ctx, a.Payload.URL)
			if err != nil {
				return err
			}
			if a.Type == AttachmentImage {
				rec.Photos = append(rec.Photos, url)
			} else {
				rec.Videos = append(rec.Videos, url)
			}
			return nil
		})
	}
}

func (t *turn) setLocation(c *Coordinates) {
	if c == nil {
		return
	}
	loc := session.Location{c.Lat, c.Long}
	t.rec.Location = &loc
}

func handleNone(t *turn) {
	rec := t.rec
	rec.FirstReceived = t.ev.Timestamp
	rec.State = session.StateWaitIntent

	userID := t.ev.SenderID
	t.plan.Call("fetch_profile", func(ctx context.Context, p *Plan) error {
		prof, err := t.e.gw.Profile(ctx, userID)
		if err != nil {
			return err
		}
		rec.Profile = &prof

		switchTo := PayloadEnglish
		if t.lang == locale.English {
			switchTo = PayloadThai
		}
		p.Buttons(t.msgWithName(locale.Greet), []Button{
			{Label: t.msg(locale.ButtonReport), Payload: PayloadReport},
			{Label: t.msg(locale.ButtonContact), Payload: PayloadContact},
			{Label: t.msg(locale.ButtonSwitchLanguage), Payload: switchTo},
		})
		return nil
	})
}

func handleWaitIntent(t *turn) {
	switch t.ev.PostbackPayload() {
	case PayloadReport:
		t.plan.Text(t.msg(locale.StartAck))
		t.plan.Pause(t.e.pacing)
		t.rec.State = session.StateWaitImage
		t.rec.Photos = []string{}
		t.rec.Videos = []string{}
		t.plan.Text(t.msg(locale.AskMedia))
	case PayloadContact:
		t.rec.State = session.StateDisabled
		t.plan.Text(t.msg(locale.ContactAck))
	default:
		t.plan.Text(t.msg(locale.AnswerFirst))
	}
}

func handleWaitImage(t *turn) {
	skipping := t.isSkipping()
	first, hasAttachment := t.ev.FirstAttachment()

	if !skipping && !hasAttachment && !t.ev.IsSticker() {
		t.plan.QuickReplies(t.msg(locale.SkipMedia), t.skipReply())
		return
	}
	if !skipping && (t.ev.IsSticker() || !first.Type.IsMedia()) {
		t.plan.Text(t.msg(locale.MediaOnly))
		return
	}

	if !skipping {
		t.plan.Text(t.msg(locale.MediaAck))
		t.queueUploads(t.ev.Attachments())
	}
	t.plan.Pause(t.e.pacing)
	t.rec.State = session.StateWaitLocation
	t.plan.LocationPrompt(t.msg(locale.AskLocation), t.msg(locale.LocationButton))
}

func handleWaitLocation(t *turn) {
	skipping := t.isSkipping()
	first, hasAttachment := t.ev.FirstAttachment()

	switch {
	case skipping:
		t.rec.Location = nil
		t.rec.LocationTitle = ""
	case hasAttachment && first.Type == AttachmentLocation:
		t.plan.Text(t.msg(locale.LocationAck))
		t.setLocation(first.Payload.Coordinates)
		title := first.Title
		if _, pinned := pinnedLocationTitles[title]; pinned {
			title = ""
		}
		t.rec.LocationTitle = title
	case hasAttachment && !t.ev.IsSticker() && first.Type.IsMedia():
		t.plan.Text(t.msg(locale.LocationMediaAck))
		t.queueUploads(t.ev.Attachments())
		return
	default:
		t.plan.QuickReplies(t.msg(locale.SkipLocation), t.skipReply())
		return
	}

	t.plan.Pause(t.e.pacing)
	t.rec.State = session.StateWaitLocationDetail
	t.plan.QuickReplies(t.msg(locale.AskLocationDetail), t.skipReply())
}

func handleWaitLocationDetail(t *turn) {
	text := t.ev.Text()
	if text == "" {
		t.plan.Text(t.msg(locale.Confused))
		return
	}
	if !t.isSkipping() {
		t.rec.LocationDesc = text
	}
	t.plan.Text(t.msg(locale.LocationDetailAck))
	t.plan.Pause(t.e.pacing)
	t.rec.State = session.StateWaitDesc
	t.rec.Hashtags = []string{}
	t.plan.Text(t.msg(locale.AskDesc))
}

func handleWaitDesc(t *turn) {
	if text := t.ev.Text(); text != "" {
		ending := t.appendDesc(text) || ReplyPayload(t.ev.QuickReplyPayload()) == ReplyDone
		replies := t.tagReplies()
		switch {
		case ending:
			t.rec.State = session.StateWaitTags
			t.rec.Categories = []string{}
			t.plan.QuickReplies(t.msg(locale.AskCategories), replies[1:])
		case len(t.rec.Desc) == 1:
			t.plan.QuickReplies(t.msg(locale.DescKeepTyping), replies[:1])
		case t.rec.DescLength > t.e.descThreshold:
			t.plan.QuickReplies(t.msg(locale.DescDoneYet), replies[:1])
		default:
			t.plan.QuickReplies("", replies[:1])
		}
		return
	}

	first, ok := t.ev.FirstAttachment()
	switch {
	case !ok || t.ev.IsSticker():
		t.plan.Text(t.msg(locale.Confused))
	case first.Type.IsMedia():
		t.plan.Text(t.msg(locale.DescMediaAck))
		t.queueUploads(t.ev.Attachments())
	case first.Type == AttachmentLocation:
		t.setLocation(first.Payload.Coordinates)
		t.plan.Text(t.msg(locale.DescLocationAck))
	default:
		t.plan.Text(t.msg(locale.Confused))
	}
}

func handleWaitTags(t *turn) {
	ending := false
	switch payload := t.ev.QuickReplyPayload(); {
	case ReplyPayload(payload) == ReplyDone:
		ending = true
	case IsCategory(payload):
		t.rec.Categories = append(t.rec.Categories, payload)
	case payload != "":
		// Stale control reply from an earlier prompt.
	case t.ev.Text() != "":
		norm := textparse.Normalize(t.ev.Text())
		var rest string
		ending, rest = textparse.DetectEndMarker(norm, t.msg(locale.MarkerDone))
		t.rec.Hashtags = append(t.rec.Hashtags, textparse.ExtractHashtags(rest)...)
	}

	if ending {
		finalize(t)
		return
	}
	t.plan.QuickReplies(t.msg(locale.TagsMore), t.tagReplies())
}

// finalize thanks the user, submits the report, links the new issue and
// clears the session.
func finalize(t *turn) {
	rec := t.rec
	t.plan.Text(t.msgWithName(locale.Thanks))

	issue := t.e.buildIssue(t.ev, *rec)
	linkLabel := t.msg(locale.ButtonViewIssue)
	t.plan.Call("create_issue", func(ctx context.Context, p *Plan) error {
		ref, err := t.e.backend.CreateIssue(ctx, issue)
		if err != nil {
			return err
		}
		p.Cards([]Card{t.e.issueCard(ref, issue, linkLabel)})
		return nil
	})
	t.plan.Call("reset_session", func(context.Context, *Plan) error {
		*rec = session.Fresh(rec.LocaleOverride)
		return nil
	})
}

func (e *Engine) buildIssue(ev Event, rec session.Record) Issue {
	issue := Issue{
		Categories:   nonNil(rec.Categories),
		CreatedTime:  e.now().UnixMilli(),
		Detail:       strings.Join(rec.Desc, " "),
		Owner:        e.issue.Owner,
		Photos:       nonNil(rec.Photos),
		Videos:       rec.Videos,
		Provider:     e.issue.Owner,
		Status:       issueStatusUnverified,
		Tags:         nonNil(rec.Hashtags),
		Organization: e.issue.Organization,
		Location: IssueLocation{
			Title: rec.LocationTitle,
			Desc:  rec.LocationDesc,
		},
		User: Reporter{ChatID: ev.SenderID},
	}
	if rec.Location != nil {
		issue.Location.Coordinates = []float64{rec.Location.Lat(), rec.Location.Long()}
	}
	if rec.Profile != nil {
		issue.User.Profile = *rec.Profile
	}
	return issue
}

func (e *Engine) issueCard(ref IssueRef, issue Issue, linkLabel string) Card {
	image := e.issue.FallbackImage
	if len(issue.Photos) > 0 {
		image = issue.Photos[0]
	}
	return Card{
		Title:     e.issue.CardTitle,
		Subtitle:  issue.Detail,
		ItemURL:   e.issue.PinURLBase + ref.ID,
		ImageURL:  image,
		LinkLabel: linkLabel,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
