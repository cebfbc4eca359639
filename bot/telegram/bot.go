package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mymmrac/telego"
	botpkg "github.com/sptube-go/sptube/bot"
)

// Bot wraps telego with a long-timeout client for uploads.
type Bot struct {
	client *telego.Bot
	upload *telego.Bot
	logger botpkg.Logger
}

// New creates the Telegram clients from BOT_TOKEN, BotAPI and BotDebug.
func New(cfg botpkg.Config, logger botpkg.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if logger == nil {
		return nil, errors.New("logger required")
	}

	pollClient := &http.Client{
		Timeout:   2 * time.Minute,
		Transport: newTransport(),
	}
	uploadClient := &http.Client{
		Timeout:   15 * time.Minute,
		Transport: newTransport(),
	}

	client, err := telego.NewBot(cfg.GetString("BOT_TOKEN"), botOptions(cfg, logger, pollClient)...)
	if err != nil {
		return nil, fmt.Errorf("telegram client: %w", err)
	}
	upload, err := telego.NewBot(cfg.GetString("BOT_TOKEN"), botOptions(cfg, logger, uploadClient)...)
	if err != nil {
		return nil, fmt.Errorf("telegram upload client: %w", err)
	}
	return &Bot{client: client, upload: upload, logger: logger}, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func botOptions(cfg botpkg.Config, logger botpkg.Logger, hc *http.Client) []telego.BotOption {
	options := []telego.BotOption{
		telego.WithHTTPClient(hc),
		telego.WithLogger(telegoLogger{logger: logger}),
	}
	if server := cfg.GetString("BotAPI"); server != "" {
		options = append(options, telego.WithAPIServer(server))
	}
	if cfg.GetBool("BotDebug") {
		options = append(options, telego.WithDebugMode())
	}
	return options
}

// Client exposes the polling client.
func (b *Bot) Client() *telego.Bot {
	return b.client
}

// UploadClient exposes the client used for file uploads.
func (b *Bot) UploadClient() *telego.Bot {
	if b.upload != nil {
		return b.upload
	}
	return b.client
}

// GetMe retrieves bot info.
func (b *Bot) GetMe(ctx context.Context) (*telego.User, error) {
	return b.client.GetMe(ctx)
}

type telegoLogger struct {
	logger botpkg.Logger
}

func (l telegoLogger) Debugf(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l telegoLogger) Errorf(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Error(fmt.Sprintf(format, args...))
}
