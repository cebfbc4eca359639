package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	botpkg "github.com/sptube-go/sptube/bot"
	"github.com/sptube-go/sptube/bot/linkcache"
	"github.com/sptube-go/sptube/bot/pipeline"
	"github.com/sptube-go/sptube/bot/remux"
)

var (
	// ErrVoiceUpload means Telegram kept classifying the file as a voice note.
	ErrVoiceUpload = errors.New("uploaded as voice note")
	// ErrNotAudio means the storage message does not carry an audio file.
	ErrNotAudio = errors.New("uploaded message is not audio")
)

// Converter re-encodes a file Telegram refused to treat as music.
type Converter interface {
	ConvertToM4A(ctx context.Context, in, cover string, meta remux.Metadata) (string, error)
}

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	// StorageChatID is the chat every processed track is uploaded to first.
	StorageChatID int64
	Limiter       *RateLimiter
	Pool          botpkg.WorkerPool
	Logger        botpkg.Logger
}

// Channel uploads processed tracks to the storage chat and delivers cached
// files to users by file id.
type Channel struct {
	client    *telego.Bot
	converter Converter
	storage   int64
	limiter   *RateLimiter
	pool      botpkg.WorkerPool
	logger    botpkg.Logger
}

func NewChannel(client *telego.Bot, converter Converter, opts ChannelOptions) *Channel {
	return &Channel{
		client:    client,
		converter: converter,
		storage:   opts.StorageChatID,
		limiter:   opts.Limiter,
		pool:      opts.Pool,
		logger:    opts.Logger,
	}
}

// Upload sends art to the storage chat and returns the message link and the
// re-sendable file. An artifact that is already a message reference is
// resolved instead of uploaded.
func (c *Channel) Upload(ctx context.Context, art pipeline.Artifact, track botpkg.TrackInfo) (string, linkcache.RemoteFile, error) {
	if art.Reference != "" {
		file, err := c.ResolveLink(ctx, art.Reference)
		return art.Reference, file, err
	}
	if art.Path == "" {
		return "", linkcache.RemoteFile{}, errors.New("artifact has no file")
	}

	thumb := c.thumbnail(ctx, art.CoverPath)
	msg, err := c.sendAudioFile(ctx, art.Path, track, thumb)
	if err != nil {
		return "", linkcache.RemoteFile{}, fmt.Errorf("upload %s: %w", track.TC, err)
	}

	if msg.Voice != nil {
		msg, err = c.replaceVoice(ctx, msg, art, track, thumb)
		if err != nil {
			return "", linkcache.RemoteFile{}, err
		}
	}

	link := MessageLink(msg.Chat, msg.MessageID)
	file, ok := remoteFileOf(msg)
	if !ok || file.Kind != linkcache.MediaAudio {
		return link, linkcache.RemoteFile{}, fmt.Errorf("%w: %s", ErrNotAudio, link)
	}
	return link, file, nil
}

func (c *Channel) replaceVoice(ctx context.Context, voice *telego.Message, art pipeline.Artifact, track botpkg.TrackInfo, thumb []byte) (*telego.Message, error) {
	link := MessageLink(voice.Chat, voice.MessageID)
	if c.converter == nil {
		return nil, fmt.Errorf("%w: %s", ErrVoiceUpload, link)
	}
	m4a, err := c.converter.ConvertToM4A(ctx, art.Path, art.CoverPath, metadataOf(track))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVoiceUpload, link, err)
	}
	defer func() {
		if err := os.Remove(m4a); err != nil && !os.IsNotExist(err) && c.logger != nil {
			c.logger.Warn("failed to remove converted file", "path", m4a, "error", err)
		}
	}()

	if err := DeleteMessageWithRetry(ctx, c.limiter, c.client, &telego.DeleteMessageParams{
		ChatID:    telego.ChatID{ID: voice.Chat.ID},
		MessageID: voice.MessageID,
	}); err != nil && c.logger != nil {
		c.logger.Warn("failed to delete voice upload", "link", link, "error", err)
	}

	msg, err := c.sendAudioFile(ctx, m4a, track, thumb)
	if err != nil {
		return nil, fmt.Errorf("upload converted %s: %w", track.TC, err)
	}
	if msg.Voice != nil {
		return nil, fmt.Errorf("%w: %s", ErrVoiceUpload, MessageLink(msg.Chat, msg.MessageID))
	}
	return msg, nil
}

func (c *Channel) sendAudioFile(ctx context.Context, path string, track botpkg.TrackInfo, thumb []byte) (*telego.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	params := &telego.SendAudioParams{
		ChatID:    telego.ChatID{ID: c.storage},
		Audio:     telego.InputFile{File: f},
		Caption:   Caption(track),
		ParseMode: telego.ModeHTML,
		Duration:  track.Duration,
		Performer: track.Artist,
		Title:     track.Name,
	}
	if len(thumb) > 0 {
		params.Thumbnail = &telego.InputFile{File: namedBytes{Reader: bytes.NewReader(thumb), name: "thumb.jpg"}}
	}
	return SendAudioWithRetry(ctx, c.limiter, c.client, params)
}

func (c *Channel) thumbnail(ctx context.Context, cover string) []byte {
	if cover == "" {
		return nil
	}
	var thumb []byte
	task := func() error {
		data, err := MakeThumbnail(cover)
		thumb = data
		return err
	}
	var err error
	if c.pool != nil {
		err = c.pool.SubmitWaitContext(ctx, task)
	} else {
		err = task()
	}
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("thumbnail skipped", "cover", cover, "error", err)
		}
		return nil
	}
	return thumb
}

// ResolveLink forwards the linked message into the storage chat to read its
// file id, then deletes the copy.
func (c *Channel) ResolveLink(ctx context.Context, link string) (linkcache.RemoteFile, error) {
	from, msgID, err := ParseMessageLink(link)
	if err != nil {
		return linkcache.RemoteFile{}, fmt.Errorf("%w: %v", linkcache.ErrNotFound, err)
	}

	fwd, err := ForwardMessageWithRetry(ctx, c.limiter, c.client, &telego.ForwardMessageParams{
		ChatID:              telego.ChatID{ID: c.storage},
		FromChatID:          from,
		MessageID:           msgID,
		DisableNotification: true,
	})
	if err != nil {
		if isMissingMessage(err) {
			return linkcache.RemoteFile{}, fmt.Errorf("%w: %s", linkcache.ErrNotFound, link)
		}
		return linkcache.RemoteFile{}, fmt.Errorf("resolve %s: %w", link, err)
	}

	if err := DeleteMessageWithRetry(ctx, c.limiter, c.client, &telego.DeleteMessageParams{
		ChatID:    telego.ChatID{ID: fwd.Chat.ID},
		MessageID: fwd.MessageID,
	}); err != nil && c.logger != nil {
		c.logger.Debug("failed to delete forwarded copy", "error", err)
	}

	file, ok := remoteFileOf(fwd)
	if !ok {
		return linkcache.RemoteFile{}, fmt.Errorf("%w: %s", linkcache.ErrUnsupportedMedia, link)
	}
	return file, nil
}

// SendCached re-sends a stored file to chatID.
func (c *Channel) SendCached(ctx context.Context, chatID int64, replyTo int, file linkcache.RemoteFile, track botpkg.TrackInfo) (*telego.Message, error) {
	input := telego.InputFile{FileID: file.FileID}
	caption := Caption(track)
	switch file.Kind {
	case linkcache.MediaDocument:
		return SendDocumentWithRetry(ctx, c.limiter, c.client, &telego.SendDocumentParams{
			ChatID: telego.ChatID{ID: chatID}, Document: input,
			Caption: caption, ParseMode: telego.ModeHTML, ReplyParameters: replyParams(replyTo),
		})
	case linkcache.MediaVideo:
		return SendVideoWithRetry(ctx, c.limiter, c.client, &telego.SendVideoParams{
			ChatID: telego.ChatID{ID: chatID}, Video: input,
			Caption: caption, ParseMode: telego.ModeHTML, ReplyParameters: replyParams(replyTo),
		})
	default:
		return SendAudioWithRetry(ctx, c.limiter, c.client, &telego.SendAudioParams{
			ChatID: telego.ChatID{ID: chatID}, Audio: input,
			Caption: caption, ParseMode: telego.ModeHTML, ReplyParameters: replyParams(replyTo),
		})
	}
}

// SendDocumentFile uploads a local file (a playlist archive) to chatID.
func (c *Channel) SendDocumentFile(ctx context.Context, chatID int64, replyTo int, path, caption string) (*telego.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return SendDocumentWithRetry(ctx, c.limiter, c.client, &telego.SendDocumentParams{
		ChatID:          telego.ChatID{ID: chatID},
		Document:        telego.InputFile{File: namedFile{File: f, name: filepath.Base(path)}},
		Caption:         caption,
		ParseMode:       telego.ModeHTML,
		ReplyParameters: replyParams(replyTo),
	})
}

// SendText sends an HTML message.
func (c *Channel) SendText(ctx context.Context, chatID int64, replyTo int, text string) (*telego.Message, error) {
	return SendMessageWithRetry(ctx, c.limiter, c.client, &telego.SendMessageParams{
		ChatID:          telego.ChatID{ID: chatID},
		Text:            text,
		ParseMode:       telego.ModeHTML,
		ReplyParameters: replyParams(replyTo),
	})
}

// SendKeyboard sends an HTML message with inline buttons.
func (c *Channel) SendKeyboard(ctx context.Context, chatID int64, replyTo int, text string, markup *telego.InlineKeyboardMarkup) (*telego.Message, error) {
	return SendMessageWithRetry(ctx, c.limiter, c.client, &telego.SendMessageParams{
		ChatID:             telego.ChatID{ID: chatID},
		Text:               text,
		ParseMode:          telego.ModeHTML,
		ReplyParameters:    replyParams(replyTo),
		ReplyMarkup:        markup,
		LinkPreviewOptions: &telego.LinkPreviewOptions{IsDisabled: true},
	})
}

// AnswerCallback acknowledges a button press.
func (c *Channel) AnswerCallback(ctx context.Context, queryID, text string, alert bool) error {
	return c.client.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       alert,
	})
}

// SendSnap posts media extracted by the snap endpoint by URL.
func (c *Channel) SendSnap(ctx context.Context, chatID int64, replyTo int, snap botpkg.SnapResponse) (int, error) {
	sent := 0
	for _, v := range snap.Video {
		if v.Video == "" {
			continue
		}
		if _, err := SendVideoWithRetry(ctx, c.limiter, c.client, &telego.SendVideoParams{
			ChatID: telego.ChatID{ID: chatID}, Video: telego.InputFile{URL: v.Video},
			ReplyParameters: replyParams(replyTo),
		}); err != nil {
			return sent, err
		}
		sent++
	}
	for _, img := range snap.Image {
		if img == "" {
			continue
		}
		if _, err := SendPhotoWithRetry(ctx, c.limiter, c.client, &telego.SendPhotoParams{
			ChatID: telego.ChatID{ID: chatID}, Photo: telego.InputFile{URL: img},
			ReplyParameters: replyParams(replyTo),
		}); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Caption renders the bold title / italic artist caption.
func Caption(track botpkg.TrackInfo) string {
	return fmt.Sprintf("<b>%s</b>\n<i>%s</i>", html.EscapeString(track.Name), html.EscapeString(track.Artist))
}

func metadataOf(track botpkg.TrackInfo) remux.Metadata {
	year := ""
	if track.Year > 0 {
		year = strconv.Itoa(track.Year)
	}
	return remux.Metadata{
		Title:  track.Name,
		Artist: track.Artist,
		Album:  track.Album,
		Year:   year,
		Lyrics: track.Lyrics,
	}
}

func remoteFileOf(msg *telego.Message) (linkcache.RemoteFile, bool) {
	switch {
	case msg == nil:
		return linkcache.RemoteFile{}, false
	case msg.Audio != nil:
		return linkcache.RemoteFile{FileID: msg.Audio.FileID, Kind: linkcache.MediaAudio}, true
	case msg.Document != nil:
		return linkcache.RemoteFile{FileID: msg.Document.FileID, Kind: linkcache.MediaDocument}, true
	case msg.Video != nil:
		return linkcache.RemoteFile{FileID: msg.Video.FileID, Kind: linkcache.MediaVideo}, true
	default:
		return linkcache.RemoteFile{}, false
	}
}

func isMissingMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "message to forward not found") ||
		strings.Contains(msg, "message not found") ||
		strings.Contains(msg, "message_id_invalid") ||
		strings.Contains(msg, "chat not found")
}

func replyParams(replyTo int) *telego.ReplyParameters {
	if replyTo <= 0 {
		return nil
	}
	return &telego.ReplyParameters{MessageID: replyTo, AllowSendingWithoutReply: true}
}

type namedFile struct {
	*os.File
	name string
}

func (n namedFile) Name() string { return n.name }
