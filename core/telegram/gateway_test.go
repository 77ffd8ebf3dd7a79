package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/youpin-city/mafueng-bot/core/conversation"
	"github.com/youpin-city/mafueng-bot/core/notify"
	"github.com/youpin-city/mafueng-bot/core/telegram/callbacks"
	tgsender "github.com/youpin-city/mafueng-bot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

type sent struct {
	to     tele.Recipient
	what   interface{}
	markup *tele.ReplyMarkup
}

type fakeBot struct {
	mu        sync.Mutex
	sent      []sent
	failPhoto bool
	chat      *tele.Chat
}

func (b *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := what.(*tele.Photo); ok && b.failPhoto {
		return nil, errors.New("telegram: wrong file identifier/HTTP URL specified (400)")
	}
	s := sent{to: to, what: what}
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			s.markup = so.ReplyMarkup
		}
	}
	b.sent = append(b.sent, s)
	return &tele.Message{}, nil
}

func (b *fakeBot) ChatByID(id int64) (*tele.Chat, error) {
	if b.chat == nil {
		return nil, errors.New("chat not found")
	}
	return b.chat, nil
}

func (b *fakeBot) messages() []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sent(nil), b.sent...)
}

func TestSendTextClearsKeyboard(t *testing.T) {
	bot := &fakeBot{}
	g := NewGateway(bot, GatewayOptions{})
	if err := g.SendText(context.Background(), "42", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := bot.messages()[0]
	if got.to.Recipient() != "42" || got.what != emptyText || !got.markup.RemoveKeyboard {
		t.Fatalf("sent = %+v", got)
	}
	if err := g.SendText(context.Background(), "not-a-number", "x"); err == nil {
		t.Fatalf("expected error for bad user id")
	}
}

func TestSendButtonsAndQuickReplies(t *testing.T) {
	bot := &fakeBot{}
	g := NewGateway(bot, GatewayOptions{RepliesPerRow: 2})
	ctx := context.Background()

	err := g.SendButtons(ctx, "42", "Hi", []conversation.Button{
		{Label: "Report", Payload: conversation.PayloadReport},
		{Label: "Contact", Payload: conversation.PayloadContact},
	})
	if err != nil {
		t.Fatalf("buttons: %v", err)
	}
	kb := bot.messages()[0].markup.InlineKeyboard
	if len(kb) != 2 || kb[0][0].Unique != callbacks.Postback || kb[0][0].Data != "new_pin" || kb[1][0].Text != "Contact" {
		t.Fatalf("buttons = %+v", kb)
	}

	err = g.SendQuickReplies(ctx, "42", "Pick", []conversation.ReplyOption{
		{Label: "IT", Payload: "it"}, {Label: "Safety", Payload: "safety"}, {Label: "Done", Payload: "isEnding"},
	})
	if err != nil {
		t.Fatalf("quick replies: %v", err)
	}
	kb = bot.messages()[1].markup.InlineKeyboard
	if len(kb) != 2 || len(kb[0]) != 2 || kb[1][0].Unique != callbacks.QuickReply || kb[1][0].Data != "isEnding" {
		t.Fatalf("quick replies = %+v", kb)
	}
}

func TestSendLocationPrompt(t *testing.T) {
	bot := &fakeBot{}
	g := NewGateway(bot, GatewayOptions{})
	if err := g.SendLocationPrompt(context.Background(), "42", "Where?", "Share location"); err != nil {
		t.Fatalf("prompt: %v", err)
	}
	m := bot.messages()[0].markup
	if len(m.ReplyKeyboard) != 1 || !m.ReplyKeyboard[0][0].Location || m.ReplyKeyboard[0][0].Text != "Share location" {
		t.Fatalf("markup = %+v", m)
	}
}

func TestSendCardsFallsBackToText(t *testing.T) {
	card := conversation.Card{
		Title:     "iCare",
		Subtitle:  "broken light",
		ItemURL:   "http://pins/pin-1",
		ImageURL:  "https://img/1.jpg",
		LinkLabel: "View",
	}

	bot := &fakeBot{}
	g := NewGateway(bot, GatewayOptions{})
	if err := g.SendCards(context.Background(), "42", []conversation.Card{card}); err != nil {
		t.Fatalf("cards: %v", err)
	}
	photo, ok := bot.messages()[0].what.(*tele.Photo)
	if !ok || photo.Caption != "iCare\nbroken light" || photo.FileURL != "https://img/1.jpg" {
		t.Fatalf("photo = %+v", bot.messages()[0].what)
	}

	bot = &fakeBot{failPhoto: true}
	g = NewGateway(bot, GatewayOptions{})
	if err := g.SendCards(context.Background(), "42", []conversation.Card{card}); err != nil {
		t.Fatalf("cards fallback: %v", err)
	}
	got := bot.messages()
	if len(got) != 1 || got[0].what != "iCare\nbroken light" || got[0].markup.InlineKeyboard[0][0].URL != "http://pins/pin-1" {
		t.Fatalf("fallback = %+v", got)
	}
}

func TestProfile(t *testing.T) {
	g := NewGateway(&fakeBot{chat: &tele.Chat{FirstName: "Somchai", LastName: "J", Username: "somchai"}}, GatewayOptions{})
	p, err := g.Profile(context.Background(), "42")
	if err != nil || p.FirstName != "Somchai" || p.Username != "somchai" {
		t.Fatalf("profile = %+v, err = %v", p, err)
	}
	if _, err := NewGateway(&fakeBot{}, GatewayOptions{}).Profile(context.Background(), "42"); err == nil {
		t.Fatalf("expected error for missing chat")
	}
}

func TestNotifyThroughOutbox(t *testing.T) {
	bot := &fakeBot{}
	outbox := tgsender.NewDispatcher(tgsender.Options{Workers: 1})
	g := NewGateway(bot, GatewayOptions{Outbox: outbox})
	if err := g.Notify(context.Background(), "42", "resolved"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	outbox.Close()
	if got := bot.messages(); len(got) != 1 || got[0].what != "resolved" {
		t.Fatalf("sent = %+v", got)
	}
	if err := g.Notify(context.Background(), "42", "late"); !errors.Is(err, notify.ErrBusy) {
		t.Fatalf("closed outbox: %v", err)
	}
}
