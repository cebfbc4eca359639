package handler

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	"github.com/sptube-go/sptube/bot"
	"github.com/sptube-go/sptube/bot/api"
)

// Kind is what a text message asks for.
type Kind int

const (
	KindNone Kind = iota
	KindHelp
	KindTracks
	KindSnap
)

const (
	trackCallbackPrefix    = "spot"
	playlistCallbackPrefix = "zip"
	maxButtons             = 10
)

var searchCommands = map[string]bool{"song": true, "spot": true, "spotify": true}

// Classify decides how to answer text. Plain text outside private chats is
// only picked up when it is a supported link.
func Classify(text string, private bool) (Kind, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return KindNone, ""
	}

	if strings.HasPrefix(text, "/") {
		cmd, arg, _ := strings.Cut(text[1:], " ")
		cmd, _, _ = strings.Cut(cmd, "@")
		cmd = strings.ToLower(cmd)
		arg = strings.TrimSpace(arg)
		switch {
		case cmd == "start" || cmd == "help":
			return KindHelp, ""
		case searchCommands[cmd]:
			if arg == "" {
				return KindHelp, needQuery
			}
			return classifyQuery(arg), arg
		default:
			return KindNone, ""
		}
	}

	kind := classifyQuery(text)
	if !private && kind == KindTracks && !api.IsValidURL(text) {
		return KindNone, ""
	}
	return kind, text
}

func classifyQuery(q string) Kind {
	if api.IsValidURL(q) {
		return KindTracks
	}
	if _, ok := api.ExtractSnapURL(q); ok {
		return KindSnap
	}
	return KindTracks
}

// Router dispatches messages and button presses.
type Router struct {
	Service   Service
	Messenger Messenger
	Shortener Shortener
	Logger    bot.Logger
}

// Register attaches the router to a telego update handler.
func (r *Router) Register(bh *th.BotHandler) {
	bh.HandleCallbackQuery(func(ctx *th.Context, query telego.CallbackQuery) error {
		return r.RouteCallback(ctx, query)
	}, th.AnyCallbackQuery())
	bh.HandleMessage(func(ctx *th.Context, msg telego.Message) error {
		return r.RouteMessage(ctx, msg)
	}, th.AnyMessageWithText())
}

// RouteMessage answers one text message.
func (r *Router) RouteMessage(ctx context.Context, msg telego.Message) error {
	chatID, replyTo := msg.Chat.ID, msg.MessageID
	kind, arg := Classify(msg.Text, msg.Chat.Type == telego.ChatTypePrivate)

	var err error
	switch kind {
	case KindNone:
		return nil
	case KindHelp:
		text := helpText
		if arg != "" {
			text = arg
		}
		_, err = r.Messenger.SendText(ctx, chatID, replyTo, text)
	case KindSnap:
		err = r.Service.DeliverSnap(ctx, chatID, replyTo, arg)
	case KindTracks:
		err = r.listTracks(ctx, msg, arg)
	}
	if err != nil {
		r.fail(ctx, chatID, replyTo, err)
	}
	return nil
}

func (r *Router) listTracks(ctx context.Context, msg telego.Message, query string) error {
	tracks, err := r.Service.Lookup(ctx, query)
	if err != nil {
		return err
	}
	if len(tracks.Results) == 0 {
		_, err := r.Messenger.SendText(ctx, msg.Chat.ID, msg.MessageID, noResults)
		return err
	}

	uid := int64(0)
	if msg.From != nil {
		uid = msg.From.ID
	}
	markup := r.keyboard(tracks, query, uid)
	text := fmt.Sprintf(resultsHeader, html.EscapeString(query))
	_, err = r.Messenger.SendKeyboard(ctx, msg.Chat.ID, msg.MessageID, text, markup)
	return err
}

func (r *Router) keyboard(tracks bot.PlatformTracks, query string, uid int64) *telego.InlineKeyboardMarkup {
	rows := make([][]telego.InlineKeyboardButton, 0, len(tracks.Results)+1)
	for i, t := range tracks.Results {
		if i == maxButtons {
			break
		}
		label := t.Name
		if t.Artist != "" {
			label += " - " + t.Artist
		}
		rows = append(rows, []telego.InlineKeyboardButton{{
			Text:         label,
			CallbackData: CallbackData(trackCallbackPrefix, r.Shortener.Encode(t.URL), uid),
		}})
	}
	if len(tracks.Results) > 1 && api.IsValidURL(query) {
		rows = append(rows, []telego.InlineKeyboardButton{{
			Text:         playlistButton,
			CallbackData: CallbackData(playlistCallbackPrefix, r.Shortener.Encode(query), uid),
		}})
	}
	return &telego.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// RouteCallback handles a result-list button.
func (r *Router) RouteCallback(ctx context.Context, query telego.CallbackQuery) error {
	prefix, token, uid, ok := ParseCallbackData(query.Data)
	if !ok || (prefix != trackCallbackPrefix && prefix != playlistCallbackPrefix) {
		return r.Messenger.AnswerCallback(ctx, query.ID, unknownCallback, true)
	}
	if uid != 0 && uid != query.From.ID {
		return r.Messenger.AnswerCallback(ctx, query.ID, notForYou, true)
	}
	target, ok := r.Shortener.Decode(token)
	if !ok {
		return r.Messenger.AnswerCallback(ctx, query.ID, expiredButton, true)
	}
	if err := r.Messenger.AnswerCallback(ctx, query.ID, processing, false); err != nil && r.Logger != nil {
		r.Logger.Debug("answer callback failed", "error", err)
	}

	chatID, replyTo := query.From.ID, 0
	if query.Message != nil && query.Message.IsAccessible() {
		chatID = query.Message.GetChat().ID
		replyTo = query.Message.GetMessageID()
	}

	var err error
	if prefix == playlistCallbackPrefix {
		err = r.Service.DeliverPlaylist(ctx, chatID, replyTo, target)
	} else {
		err = r.Service.DeliverTrack(ctx, chatID, replyTo, target)
	}
	if err != nil {
		r.fail(ctx, chatID, replyTo, err)
	}
	return nil
}

func (r *Router) fail(ctx context.Context, chatID int64, replyTo int, err error) {
	if r.Logger != nil {
		r.Logger.Warn("request failed", "chat_id", chatID, "error", err)
	}
	text := fmt.Sprintf(failedText, html.EscapeString(err.Error()))
	if _, sendErr := r.Messenger.SendText(ctx, chatID, replyTo, text); sendErr != nil && r.Logger != nil {
		r.Logger.Error("failed to report error", "chat_id", chatID, "error", sendErr)
	}
}

// CallbackData builds "<prefix>_<token>_<uid>"; uid 0 lets anyone press.
func CallbackData(prefix, token string, uid int64) string {
	return prefix + "_" + token + "_" + strconv.FormatInt(uid, 10)
}

// ParseCallbackData splits data built by CallbackData.
func ParseCallbackData(data string) (prefix, token string, uid int64, ok bool) {
	first := strings.Index(data, "_")
	last := strings.LastIndex(data, "_")
	if first <= 0 || last == first || last == len(data)-1 {
		return "", "", 0, false
	}
	uid, err := strconv.ParseInt(data[last+1:], 10, 64)
	if err != nil {
		return "", "", 0, false
	}
	token = data[first+1 : last]
	if token == "" {
		return "", "", 0, false
	}
	return data[:first], token, uid, true
}
