package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/youpin-city/mafueng-bot/core/conversation"
	"github.com/youpin-city/mafueng-bot/core/notify"
	"github.com/youpin-city/mafueng-bot/core/session"
	"github.com/youpin-city/mafueng-bot/core/telegram/callbacks"
	"github.com/youpin-city/mafueng-bot/core/telegram/keyboard"
	tgsender "github.com/youpin-city/mafueng-bot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// emptyText stands in for a reply that only carries quick replies; Telegram
// rejects empty messages.
const emptyText = "…"

// BotAPI is the part of *tele.Bot the gateway uses.
type BotAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	ChatByID(id int64) (*tele.Chat, error)
}

// GatewayOptions tune the reply layout.
type GatewayOptions struct {
	// RepliesPerRow lays quick replies out in rows; buttons always get a row each.
	RepliesPerRow int
	// Outbox delivers push notifications. Without it Notify sends inline.
	Outbox *tgsender.Dispatcher
}

// Gateway sends engine replies and push notifications through the Bot API.
type Gateway struct {
	api    BotAPI
	perRow int
	outbox *tgsender.Dispatcher
}

var (
	_ conversation.Gateway = (*Gateway)(nil)
	_ notify.Sender        = (*Gateway)(nil)
)

// NewGateway wraps api.
func NewGateway(api BotAPI, opts GatewayOptions) *Gateway {
	perRow := opts.RepliesPerRow
	if perRow <= 0 {
		perRow = 2
	}
	return &Gateway{api: api, perRow: perRow, outbox: opts.Outbox}
}

func recipient(userID string) (tele.ChatID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: user id %q: %w", userID, err)
	}
	return tele.ChatID(id), nil
}

func (g *Gateway) send(ctx context.Context, userID string, what interface{}, markup *tele.ReplyMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to, err := recipient(userID)
	if err != nil {
		return err
	}
	if _, err := g.api.Send(to, what, &tele.SendOptions{ReplyMarkup: markup}); err != nil {
		return fmt.Errorf("telegram: send to %s: %w", userID, err)
	}
	return nil
}

func orPlaceholder(text string) string {
	if strings.TrimSpace(text) == "" {
		return emptyText
	}
	return text
}

// SendText sends plain text and clears any reply keyboard left by a location prompt.
func (g *Gateway) SendText(ctx context.Context, userID, text string) error {
	return g.send(ctx, userID, orPlaceholder(text), keyboard.RemoveKeyboard())
}

// SendButtons sends text with one postback button per row.
func (g *Gateway) SendButtons(ctx context.Context, userID, text string, buttons []conversation.Button) error {
	btns := make([]keyboard.InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		btns = append(btns, keyboard.InlineBtn{Text: b.Label, Unique: callbacks.Postback, Data: string(b.Payload)})
	}
	return g.send(ctx, userID, orPlaceholder(text), keyboard.Inline(btns, 1))
}

// SendQuickReplies sends text with quick-reply buttons.
func (g *Gateway) SendQuickReplies(ctx context.Context, userID, text string, replies []conversation.ReplyOption) error {
	btns := make([]keyboard.InlineBtn, 0, len(replies))
	for _, r := range replies {
		btns = append(btns, keyboard.InlineBtn{Text: r.Label, Unique: callbacks.QuickReply, Data: r.Payload})
	}
	return g.send(ctx, userID, orPlaceholder(text), keyboard.Inline(btns, g.perRow))
}

// SendLocationPrompt sends text with a share-location reply keyboard.
func (g *Gateway) SendLocationPrompt(ctx context.Context, userID, text, label string) error {
	return g.send(ctx, userID, orPlaceholder(text), keyboard.RequestLocation(label))
}

// SendCards sends each card as a photo with caption and link button. A card
// whose photo is rejected is sent again as text.
func (g *Gateway) SendCards(ctx context.Context, userID string, cards []conversation.Card) error {
	for _, card := range cards {
		caption := card.Title
		if card.Subtitle != "" {
			caption += "\n" + card.Subtitle
		}
		var markup *tele.ReplyMarkup
		if card.ItemURL != "" {
			label := card.LinkLabel
			if label == "" {
				label = card.ItemURL
			}
			markup = keyboard.Link(label, card.ItemURL)
		}
		if card.ImageURL != "" {
			photo := &tele.Photo{File: tele.FromURL(card.ImageURL), Caption: caption}
			err := g.send(ctx, userID, photo, markup)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return err
			}
		}
		if err := g.send(ctx, userID, orPlaceholder(caption), markup); err != nil {
			return err
		}
	}
	return nil
}

// Profile fetches the user's display names.
func (g *Gateway) Profile(ctx context.Context, userID string) (session.Profile, error) {
	if err := ctx.Err(); err != nil {
		return session.Profile{}, err
	}
	to, err := recipient(userID)
	if err != nil {
		return session.Profile{}, err
	}
	chat, err := g.api.ChatByID(int64(to))
	if err != nil {
		return session.Profile{}, fmt.Errorf("telegram: profile %s: %w", userID, err)
	}
	return session.Profile{
		FirstName: chat.FirstName,
		LastName:  chat.LastName,
		Username:  chat.Username,
	}, nil
}

// Notify queues a push message on the outbox. A saturated or closed outbox
// reports notify.ErrBusy.
func (g *Gateway) Notify(ctx context.Context, userID, text string) error {
	if g.outbox == nil {
		return g.SendText(ctx, userID, text)
	}
	if _, err := recipient(userID); err != nil {
		return err
	}
	err := g.outbox.Enqueue(ctx, tgsender.Job{
		Action:   "notify.push",
		Endpoint: "sendMessage",
		UserID:   userID,
		Run: func(ctx context.Context) error {
			return g.SendText(ctx, userID, text)
		},
	})
	if errors.Is(err, tgsender.ErrQueueFull) || errors.Is(err, tgsender.ErrQueueClosed) {
		return fmt.Errorf("%w: %v", notify.ErrBusy, err)
	}
	return err
}
