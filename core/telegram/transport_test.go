package telegram

import (
	"errors"
	"testing"
	"time"

	"github.com/youpin-city/mafueng-bot/core/conversation"

	tele "gopkg.in/telebot.v4"
)

type updateContext struct {
	tele.Context
	upd tele.Update
}

func (c *updateContext) Callback() *tele.Callback { return c.upd.Callback }
func (c *updateContext) Message() *tele.Message   { return c.upd.Message }

func (c *updateContext) Sender() *tele.User {
	if c.upd.Callback != nil {
		return c.upd.Callback.Sender
	}
	return c.upd.Message.Sender
}

type fileMap map[string]string

func (f fileMap) FileURLByID(id string) (string, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return "", errors.New("file not found")
}

var convNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func convert(t *testing.T, upd tele.Update) conversation.Event {
	t.Helper()
	cv := NewConverter(fileMap{"ph-1": "https://files/ph-1.jpg", "vd-1": "https://files/vd-1.mp4"}, func() time.Time { return convNow })
	ev, err := cv.Event(&updateContext{upd: upd})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	return ev
}

func message(m tele.Message) tele.Update {
	m.Sender = &tele.User{ID: 42}
	m.Unixtime = 1772355600
	return tele.Update{Message: &m}
}

func TestConvertText(t *testing.T) {
	ev := convert(t, message(tele.Message{Text: "broken light#done"}))
	if ev.SenderID != "42" || ev.Text() != "broken light#done" || ev.Timestamp != 1772355600000 {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Kind() != "text" {
		t.Fatalf("kind = %s", ev.Kind())
	}
}

func TestConvertPhotoWithCaption(t *testing.T) {
	ev := convert(t, message(tele.Message{Caption: "see", Photo: &tele.Photo{File: tele.File{FileID: "ph-1"}}}))
	att, ok := ev.FirstAttachment()
	if !ok || att.Type != conversation.AttachmentImage || att.Payload.URL != "https://files/ph-1.jpg" {
		t.Fatalf("attachment = %+v", att)
	}
	if ev.Text() != "see" {
		t.Fatalf("caption lost: %q", ev.Text())
	}
}

func TestConvertVideo(t *testing.T) {
	ev := convert(t, message(tele.Message{Video: &tele.Video{File: tele.File{FileID: "vd-1"}}}))
	if att, _ := ev.FirstAttachment(); att.Type != conversation.AttachmentVideo || att.Payload.URL != "https://files/vd-1.mp4" {
		t.Fatalf("attachment = %+v", att)
	}
}

func TestConvertUnresolvableFile(t *testing.T) {
	cv := NewConverter(fileMap{}, nil)
	_, err := cv.Event(&updateContext{upd: message(tele.Message{Photo: &tele.Photo{File: tele.File{FileID: "gone"}}})})
	if err == nil {
		t.Fatalf("expected error for unknown file")
	}
}

func TestConvertLocationAndVenue(t *testing.T) {
	ev := convert(t, message(tele.Message{Location: &tele.Location{Lat: 13.5, Lng: 100.25}}))
	att, _ := ev.FirstAttachment()
	if att.Type != conversation.AttachmentLocation || att.Payload.Coordinates.Lat != 13.5 || att.Payload.Coordinates.Long != 100.25 || att.Title != "" {
		t.Fatalf("location = %+v", att)
	}

	loc := tele.Location{Lat: 13.75, Lng: 100.5}
	ev = convert(t, message(tele.Message{Location: &loc, Venue: &tele.Venue{Location: loc, Title: "Engineering Building 3"}}))
	att, _ = ev.FirstAttachment()
	if att.Title != "Engineering Building 3" || att.Payload.Coordinates.Lat != 13.75 {
		t.Fatalf("venue = %+v", att)
	}
}

func TestConvertStickerAndFiles(t *testing.T) {
	ev := convert(t, message(tele.Message{Sticker: &tele.Sticker{File: tele.File{FileID: "st", UniqueID: "st-u"}}}))
	if !ev.IsSticker() || ev.Message.StickerID != "st-u" {
		t.Fatalf("sticker = %+v", ev.Message)
	}

	ev = convert(t, message(tele.Message{Voice: &tele.Voice{File: tele.File{FileID: "v"}}}))
	if att, _ := ev.FirstAttachment(); att.Type != conversation.AttachmentAudio {
		t.Fatalf("voice = %+v", att)
	}

	ev = convert(t, message(tele.Message{Document: &tele.Document{File: tele.File{FileID: "d"}}}))
	if att, _ := ev.FirstAttachment(); att.Type != conversation.AttachmentFile || att.Type.IsMedia() {
		t.Fatalf("document = %+v", att)
	}
}

func TestConvertCallbacks(t *testing.T) {
	ev := convert(t, tele.Update{Callback: &tele.Callback{Sender: &tele.User{ID: 42}, Data: "\fpb|english"}})
	if ev.PostbackPayload() != conversation.PayloadEnglish || ev.Timestamp != convNow.UnixMilli() {
		t.Fatalf("postback = %+v", ev)
	}

	keyboard := &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{{{Text: "IT", Data: "\fqr|it"}}}}
	ev = convert(t, tele.Update{Callback: &tele.Callback{
		Sender:  &tele.User{ID: 42},
		Data:    "\fqr|it",
		Message: &tele.Message{ReplyMarkup: keyboard},
	}})
	if ev.QuickReplyPayload() != "it" || ev.Text() != "IT" {
		t.Fatalf("quick reply = %+v", ev.Message)
	}

	ev = convert(t, tele.Update{Callback: &tele.Callback{Sender: &tele.User{ID: 42}, Data: "\fother|x"}})
	if ev.Valid() {
		t.Fatalf("foreign callback should not be a valid event: %+v", ev)
	}
}
