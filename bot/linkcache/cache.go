// Package linkcache remembers where each processed track was uploaded so it
// can be re-sent by file id instead of downloaded again.
package linkcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sptube-go/sptube/bot"
)

var (
	// ErrBackendUnavailable means the durable store could not be reached.
	ErrBackendUnavailable = errors.New("link cache backend unavailable")

	// ErrNotFound is returned by a Resolver when the linked message is gone.
	ErrNotFound = errors.New("linked message not found")

	// ErrUnsupportedMedia is returned by a Resolver when the linked message
	// holds no audio, document or video.
	ErrUnsupportedMedia = errors.New("linked message has unsupported media")
)

// Store is the durable backend behind a Cache.
type Store = bot.LinkStore

// MediaKind is the kind of media a resolved message carries.
type MediaKind string

const (
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
)

// RemoteFile is a file already stored by the delivery channel.
type RemoteFile struct {
	FileID string
	Kind   MediaKind
}

// Resolver turns a stored message link back into a re-sendable file.
type Resolver interface {
	ResolveLink(ctx context.Context, link string) (RemoteFile, error)
}

// Cache mirrors a bot.LinkStore in memory. Writes go to the store first,
// then to the mirror.
type Cache struct {
	store  Store
	logger bot.Logger

	mu    sync.RWMutex
	links map[string]string
}

// New creates a Cache. Call Connect before use.
func New(store Store, logger bot.Logger) *Cache {
	return &Cache{
		store:  store,
		logger: logger,
		links:  make(map[string]string),
	}
}

// Connect verifies the store and loads every entry into memory.
func (c *Cache) Connect(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrBackendUnavailable, err)
	}
	links, err := c.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %v", ErrBackendUnavailable, err)
	}
	if links == nil {
		links = make(map[string]string)
	}

	c.mu.Lock()
	c.links = links
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("link cache loaded", "entries", len(links))
	}
	return nil
}

// Get reads the in-memory mirror only.
func (c *Cache) Get(trackID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	link, ok := c.links[trackID]
	return link, ok
}

// Lookup reads the mirror and falls back to the store on a miss.
func (c *Cache) Lookup(ctx context.Context, trackID string) (string, bool, error) {
	if link, ok := c.Get(trackID); ok {
		return link, true, nil
	}
	link, ok, err := c.store.Find(ctx, trackID)
	if err != nil {
		return "", false, fmt.Errorf("%w: find %s: %v", ErrBackendUnavailable, trackID, err)
	}
	if !ok {
		return "", false, nil
	}

	c.mu.Lock()
	c.links[trackID] = link
	c.mu.Unlock()
	return link, true, nil
}

// Put stores link for trackID, replacing any previous value.
func (c *Cache) Put(ctx context.Context, trackID, link string) error {
	if trackID == "" || link == "" {
		return errors.New("link cache: empty track id or link")
	}
	if err := c.store.Upsert(ctx, trackID, link); err != nil {
		return fmt.Errorf("store link %s: %w", trackID, err)
	}

	c.mu.Lock()
	c.links[trackID] = link
	c.mu.Unlock()
	return nil
}

// Remove deletes trackID. The mirror entry is dropped even when the store
// call fails so a dead link is never served again by this process.
func (c *Cache) Remove(ctx context.Context, trackID string) error {
	c.mu.Lock()
	delete(c.links, trackID)
	c.mu.Unlock()

	if err := c.store.Delete(ctx, trackID); err != nil {
		return fmt.Errorf("delete link %s: %w", trackID, err)
	}
	return nil
}

// Resolve returns a re-sendable file for trackID. A link whose message is
// gone or holds the wrong media is removed and reported as a miss.
func (c *Cache) Resolve(ctx context.Context, trackID string, resolver Resolver) (RemoteFile, bool, error) {
	link, ok, err := c.Lookup(ctx, trackID)
	if err != nil || !ok {
		return RemoteFile{}, false, err
	}

	file, err := resolver.ResolveLink(ctx, link)
	switch {
	case err == nil:
		return file, true, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnsupportedMedia):
		if c.logger != nil {
			c.logger.Warn("dropping stale link", "track", trackID, "link", link, "error", err)
		}
		if rerr := c.Remove(ctx, trackID); rerr != nil && c.logger != nil {
			c.logger.Warn("failed to remove stale link", "track", trackID, "error", rerr)
		}
		return RemoteFile{}, false, nil
	default:
		return RemoteFile{}, false, err
	}
}

// Len returns the number of mirrored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.links)
}

// Close closes the store and clears the mirror.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	c.links = make(map[string]string)
	c.mu.Unlock()
	return c.store.Close(ctx)
}
