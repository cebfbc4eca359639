package bot

import "context"

// Logger is the minimal logging abstraction used across modules.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Config provides typed access to configuration values.
type Config interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetIntSlice(key string) []int
}

// LinkStore is the durable side of the link cache: track id -> message link.
type LinkStore interface {
	Ping(ctx context.Context) error
	LoadAll(ctx context.Context) (map[string]string, error)
	// Find reports ok=false, err=nil for an unknown id.
	Find(ctx context.Context, trackID string) (link string, ok bool, err error)
	Upsert(ctx context.Context, trackID, link string) error
	Delete(ctx context.Context, trackID string) error
	Close(ctx context.Context) error
}

// WorkerPool limits concurrency for background tasks.
type WorkerPool interface {
	Submit(task func()) error
	SubmitWait(task func() error) error
	SubmitWaitContext(ctx context.Context, task func() error) error
	Shutdown(ctx context.Context) error
	Size() int
}
