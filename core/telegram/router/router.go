// Package router binds Telegram update endpoints to the conversation engine.
package router

import (
	"context"
	"log/slog"

	"github.com/youpin-city/mafueng-bot/core/conversation"
	tg "github.com/youpin-city/mafueng-bot/core/telegram"
	tghelpers "github.com/youpin-city/mafueng-bot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Dispatcher handles one converted event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev conversation.Event) error
}

// Endpoints are the update kinds the conversation reacts to.
var Endpoints = []string{
	tele.OnText,
	tele.OnPhoto,
	tele.OnVideo,
	tele.OnLocation,
	tele.OnVenue,
	tele.OnSticker,
	tele.OnAnimation,
	tele.OnVoice,
	tele.OnAudio,
	tele.OnDocument,
	tele.OnCallback,
}

// ConversationRoutes routes every endpoint to the engine.
func ConversationRoutes(engine Dispatcher, conv *tg.Converter) []tg.Route {
	h := conversationHandler(engine, conv)
	routes := make([]tg.Route, 0, len(Endpoints))
	for _, ep := range Endpoints {
		routes = append(routes, tg.Route{Endpoint: ep, Handler: h})
	}
	return routes
}

func conversationHandler(engine Dispatcher, conv *tg.Converter) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Callback() != nil {
			// Stops the button spinner; the reply comes as a new message.
			_ = c.Respond()
		}
		input := tghelpers.MessageKind(c.Message())
		if c.Callback() != nil {
			input = tghelpers.KindCallback
		}
		return handleWithSummary(c, "conversation", func() error {
			ev, err := conv.Event(c)
			if err != nil {
				return err
			}
			return engine.Dispatch(tghelpers.BuildContext(c), ev)
		}, slog.String("input", input))
	}
}
