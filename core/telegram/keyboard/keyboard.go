package keyboard

import (
	"github.com/youpin-city/mafueng-bot/core/telegram/callbacks"

	tele "gopkg.in/telebot.v4"
)

// InlineBtn describes one inline button before it is laid out.
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
}

// RemoveKeyboard returns a markup that hides a reply keyboard left by an
// earlier prompt.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// RequestLocation builds a one-time reply keyboard with a single
// share-location button.
func RequestLocation(label string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	markup.Reply(markup.Row(markup.Location(label)))
	return markup
}

// Link builds an inline keyboard with a single URL button.
func Link(label, url string) *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{{{Text: label, URL: url}}}}
}

// Inline lays buttons out with up to perRow buttons per row. perRow <= 1
// puts every button on its own row.
func Inline(buttons []InlineBtn, perRow int) *tele.ReplyMarkup {
	if perRow < 1 {
		perRow = 1
	}
	rows := make([][]tele.InlineButton, 0, (len(buttons)+perRow-1)/perRow)
	for i := 0; i < len(buttons); i += perRow {
		end := min(i+perRow, len(buttons))
		row := make([]tele.InlineButton, 0, end-i)
		for _, b := range buttons[i:end] {
			row = append(row, callbacks.Button(b.Unique, b.Text, b.Data))
		}
		rows = append(rows, row)
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}
