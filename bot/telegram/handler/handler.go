// Package handler turns Telegram updates into delivery requests.
package handler

import (
	"context"

	"github.com/mymmrac/telego"
	"github.com/sptube-go/sptube/bot"
)

// Service is the application side of the bot.
type Service interface {
	// Lookup expands a platform link or runs a search.
	Lookup(ctx context.Context, query string) (bot.PlatformTracks, error)
	DeliverTrack(ctx context.Context, chatID int64, replyTo int, trackURL string) error
	DeliverPlaylist(ctx context.Context, chatID int64, replyTo int, link string) error
	DeliverSnap(ctx context.Context, chatID int64, replyTo int, text string) error
}

// Messenger sends the bot's own replies.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, replyTo int, text string) (*telego.Message, error)
	SendKeyboard(ctx context.Context, chatID int64, replyTo int, text string, markup *telego.InlineKeyboardMarkup) (*telego.Message, error)
	AnswerCallback(ctx context.Context, queryID, text string, alert bool) error
}

// Shortener maps URLs to callback-sized tokens.
type Shortener interface {
	Encode(rawURL string) string
	Decode(token string) (string, bool)
}
