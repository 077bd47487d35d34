package idutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Provider generates unique identifiers for events and sessions.
type Provider interface {
	UUID() string
}

type UUIDProvider struct{}

func (UUIDProvider) UUID() string {
	return uuid.NewString()
}

// NewTraceID returns 16 random bytes hex encoded.
func NewTraceID() string {
	return randomHex(16)
}

// NewSpanID returns 8 random bytes hex encoded.
func NewSpanID() string {
	return randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n)
	for {
		if _, err := rand.Read(b); err != nil {
			// Fall back on a uuid, which has its own entropy source.
			u := uuid.New()
			copy(b, u[:])
		}
		for _, c := range b {
			if c != 0 {
				return hex.EncodeToString(b)
			}
		}
	}
}

// Sequence yields predictable ids, used in tests.
type Sequence struct {
	mu     sync.Mutex
	Prefix string
	n      int
}

func (s *Sequence) UUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s%d", s.Prefix, s.n)
}
