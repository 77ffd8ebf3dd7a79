// Package callbacks encodes and decodes inline button data.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

const (
	// Postback marks buttons whose payload is delivered as a postback.
	Postback = "pb"
	// QuickReply marks buttons that stand in for a typed answer.
	QuickReply = "qr"
)

// Button builds an inline button carrying unique and payload.
func Button(unique, label, payload string) tele.InlineButton {
	return tele.InlineButton{Text: label, Unique: unique, Data: payload}
}

// ParseData splits Telebot's "\f<unique>|<payload>" encoding. Data without the
// leading form feed is read as "<unique>|<payload>" as well.
func ParseData(raw string) (string, string) {
	raw = strings.TrimPrefix(raw, "\f")
	unique, payload, _ := strings.Cut(raw, "|")
	return strings.TrimSpace(unique), payload
}

// Parse returns the unique and payload of a callback. Telebot fills Unique and
// strips Data when a handler was registered for the unique; otherwise the raw
// data is parsed.
func Parse(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	return ParseData(cb.Data)
}

// Label returns the text of the pressed button, looked up in the keyboard of
// the message the callback came from. It falls back to the payload.
func Label(cb *tele.Callback) string {
	unique, payload := Parse(cb)
	if cb == nil || cb.Message == nil || cb.Message.ReplyMarkup == nil {
		return payload
	}
	for _, row := range cb.Message.ReplyMarkup.InlineKeyboard {
		for _, btn := range row {
			u, p := btn.Unique, btn.Data
			if u == "" {
				u, p = ParseData(btn.Data)
			}
			if u == unique && p == payload {
				return btn.Text
			}
		}
	}
	return payload
}
