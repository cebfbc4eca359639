package telegram

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	botpkg "github.com/sptube-go/sptube/bot"
	"golang.org/x/time/rate"
)

const maxSendAttempts = 3

// RateLimiter keeps one token bucket per chat.
type RateLimiter struct {
	limiters map[int64]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	logger   botpkg.Logger
}

func NewRateLimiter(msgPerSec float64, burst int, logger botpkg.Logger) *RateLimiter {
	if msgPerSec <= 0 {
		msgPerSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[int64]*rate.Limiter),
		rate:     rate.Limit(msgPerSec),
		burst:    burst,
		logger:   logger,
	}
}

func (rl *RateLimiter) getLimiter(chatID int64) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[chatID]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.limiters[chatID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[chatID] = limiter
	return limiter
}

// Wait blocks until chatID may send again.
func (rl *RateLimiter) Wait(ctx context.Context, chatID int64) error {
	return rl.getLimiter(chatID).Wait(ctx)
}

// APIError is a flood-wait reply from Telegram.
type APIError struct {
	Code       int
	Message    string
	RetryAfter int
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry\s+after[:\s]+(\d+)`)

func (e *APIError) Error() string {
	return e.Message
}

func parseRetryAfter(err error) (int, bool) {
	if err == nil {
		return 0, false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}

	if matches := retryAfterPattern.FindStringSubmatch(err.Error()); len(matches) == 2 {
		if parsed, parseErr := strconv.Atoi(matches[1]); parseErr == nil {
			return parsed, parsed > 0
		}
	}
	if parsed, parseErr := strconv.Atoi(err.Error()); parseErr == nil {
		return parsed, parsed > 0
	}
	return 0, false
}

// WithRetry runs fn under the chat's limiter and sleeps through flood waits.
func WithRetry(ctx context.Context, rl *RateLimiter, chatID int64, fn func() error) error {
	if fn == nil {
		return nil
	}
	if rl == nil {
		return fn()
	}
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if err := rl.Wait(ctx, chatID); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		retryAfter, shouldRetry := parseRetryAfter(err)
		if !shouldRetry {
			return err
		}

		if attempt < maxSendAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(retryAfter) * time.Second):
			}
		}
	}

	return &APIError{Code: 429, Message: "max retries exceeded"}
}

// call wraps a single Telegram method returning a value.
func call[T any](ctx context.Context, rl *RateLimiter, chatID int64, op string, fn func() (T, error)) (T, error) {
	var result T
	err := WithRetry(ctx, rl, chatID, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil && rl != nil && rl.logger != nil {
		rl.logger.Error(op+" failed", "chat_id", chatID, "error", err)
	}
	return result, err
}

func SendMessageWithRetry(ctx context.Context, rl *RateLimiter, b *telego.Bot, params *telego.SendMessageParams) (*telego.Message, error) {
	return call(ctx, rl, params.ChatID.ID, "SendMessage", func() (*telego.Message, error) {
		return b.SendMessage(ctx, params)
	})
}

func DeleteMessageWithRetry(ctx context.Context, rl *RateLimiter, b *telego.Bot, params *telego.DeleteMessageParams) error {
	_, err := call(ctx, rl, params.ChatID.ID, "DeleteMessage", func() (struct{}, error) {
		return struct{}{}, b.DeleteMessage(ctx, params)
	})
	return err
}

func SendAudioWithRetry(ctx context.Context, rl *RateLimiter, b *telego.Bot, params *telego.SendAudioParams) (*telego.Message, error) {
	return call(ctx, rl, params.ChatID.ID, "SendAudio", func() (*telego.Message, error) {
		return b.SendAudio(ctx, params)
	})
}

func SendDocumentWithRetry(ctx context.Context, rl *RateLimiter, b *telego.Bot, params *telego.SendDocumentParams) (*telego.Message, error) {
	return call(ctx, rl, params.ChatID.ID, "SendDocument", func() (*telego.Message, error) {
		return b.SendDocument(ctx, params)
	})
}

func SendVideoWithRetry(ctx context.Context, rl *RateLimiter, b *telego.Bot, params *telego.SendVideoParams) (*telego.Message, error) {
	return call(ctx, rl, params.ChatID.ID, "SendVideo", func() (*telego.Message, error) {
		return b.SendVideo(ctx, params)
	})
}

func SendPhotoWithRetry(ctx context.Context, rl *RateLimiter, b *telego.Bot, params *telego.SendPhotoParams) (*telego.Message, error) {
	return call(ctx, rl, params.ChatID.ID, "SendPhoto", func() (*telego.Message, error) {
		return b.SendPhoto(ctx, params)
	})
}

func ForwardMessageWithRetry(ctx context.Context, rl *RateLimiter, b *telego.Bot, params *telego.ForwardMessageParams) (*telego.Message, error) {
	return call(ctx, rl, params.ChatID.ID, "ForwardMessage", func() (*telego.Message, error) {
		return b.ForwardMessage(ctx, params)
	})
}
