package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/youpin-city/mafueng-bot/core/conversation"
	"github.com/youpin-city/mafueng-bot/core/telegram/callbacks"

	tele "gopkg.in/telebot.v4"
)

// FileResolver turns a Telegram file id into a downloadable URL.
type FileResolver interface {
	FileURLByID(fileID string) (string, error)
}

// BotFiles resolves file ids through the Bot API getFile method.
type BotFiles struct {
	Bot *tele.Bot
}

// FileURLByID returns the download URL of the file. The URL embeds the bot
// token.
func (f BotFiles) FileURLByID(fileID string) (string, error) {
	if f.Bot == nil {
		return "", errors.New("telegram: no bot to resolve files")
	}
	file, err := f.Bot.FileByID(fileID)
	if err != nil {
		return "", fmt.Errorf("telegram: get file %s: %w", fileID, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("telegram: file %s has no path", fileID)
	}
	return f.Bot.URL + "/file/bot" + f.Bot.Token + "/" + file.FilePath, nil
}

// Converter maps Telegram updates onto engine events.
type Converter struct {
	files FileResolver
	now   func() time.Time
}

// NewConverter builds a Converter. now defaults to time.Now and stamps
// callbacks, which carry no date of their own.
func NewConverter(files FileResolver, now func() time.Time) *Converter {
	if now == nil {
		now = time.Now
	}
	return &Converter{files: files, now: now}
}

// Event converts the update in c. Updates the engine cannot use come back as
// events without a message or postback, which the engine drops.
func (cv *Converter) Event(c tele.Context) (conversation.Event, error) {
	var ev conversation.Event
	if user := c.Sender(); user != nil {
		ev.SenderID = strconv.FormatInt(user.ID, 10)
	}

	if cb := c.Callback(); cb != nil {
		ev.Timestamp = cv.now().UnixMilli()
		unique, payload := callbacks.Parse(cb)
		switch unique {
		case callbacks.Postback:
			ev.Postback = &conversation.PostbackRef{Payload: payload}
		case callbacks.QuickReply:
			ev.Message = &conversation.Message{
				Text:       callbacks.Label(cb),
				QuickReply: &conversation.QuickReplyRef{Payload: payload},
			}
		}
		return ev, nil
	}

	m := c.Message()
	if m == nil {
		return ev, nil
	}
	ev.Timestamp = m.Unixtime * 1000
	if ev.Timestamp == 0 {
		ev.Timestamp = cv.now().UnixMilli()
	}
	msg, err := cv.message(m)
	if err != nil {
		return ev, err
	}
	ev.Message = msg
	return ev, nil
}

func (cv *Converter) message(m *tele.Message) (*conversation.Message, error) {
	out := &conversation.Message{Text: m.Text}
	if out.Text == "" {
		out.Text = m.Caption
	}

	switch {
	case m.Sticker != nil:
		out.StickerID = m.Sticker.UniqueID
		if out.StickerID == "" {
			out.StickerID = m.Sticker.FileID
		}
	case m.Photo != nil:
		return cv.withFile(out, conversation.AttachmentImage, m.Photo.FileID)
	case m.Video != nil:
		return cv.withFile(out, conversation.AttachmentVideo, m.Video.FileID)
	case m.Venue != nil:
		out.Attachments = []conversation.Attachment{location(m.Venue.Location, m.Venue.Title)}
	case m.Location != nil:
		out.Attachments = []conversation.Attachment{location(*m.Location, "")}
	case m.Animation != nil:
		out.Attachments = []conversation.Attachment{{Type: conversation.AttachmentFile}}
	case m.Voice != nil, m.Audio != nil:
		out.Attachments = []conversation.Attachment{{Type: conversation.AttachmentAudio}}
	case m.Document != nil:
		out.Attachments = []conversation.Attachment{{Type: conversation.AttachmentFile}}
	}
	return out, nil
}

func (cv *Converter) withFile(out *conversation.Message, kind conversation.AttachmentType, fileID string) (*conversation.Message, error) {
	if cv.files == nil {
		return nil, fmt.Errorf("telegram: no file resolver for %s", kind)
	}
	url, err := cv.files.FileURLByID(fileID)
	if err != nil {
		return nil, fmt.Errorf("telegram: resolve %s file: %w", kind, err)
	}
	out.Attachments = []conversation.Attachment{{
		Type:    kind,
		Payload: conversation.AttachmentPayload{URL: url},
	}}
	return out, nil
}

func location(l tele.Location, title string) conversation.Attachment {
	return conversation.Attachment{
		Type:  conversation.AttachmentLocation,
		Title: title,
		Payload: conversation.AttachmentPayload{Coordinates: &conversation.Coordinates{
			Lat:  float64(l.Lat),
			Long: float64(l.Lng),
		}},
	}
}
