package api

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

const shortTokenLen = 10

// Shortener maps long URLs to stable 10-character tokens so they fit in
// callback payloads and inline result ids.
type Shortener struct {
	mu   sync.RWMutex
	urls map[string]string
}

func NewShortener() *Shortener {
	return &Shortener{urls: make(map[string]string)}
}

// Encode remembers rawURL and returns its token.
func (s *Shortener) Encode(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	token := hex.EncodeToString(sum[:])[:shortTokenLen]

	s.mu.Lock()
	s.urls[token] = rawURL
	s.mu.Unlock()
	return token
}

// Decode returns the URL stored under token.
func (s *Shortener) Decode(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.urls[token]
	return u, ok
}
