// Package id generates identifiers for documents, change events, and log entries.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a random v4 UUID as 26 lowercase unpadded base32 characters.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}

// LogKeys issues ULIDs that sort in issue order, even within one millisecond.
// It is safe for concurrent use.
type LogKeys struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	clock   func() time.Time
}

// NewLogKeys creates a key generator; a nil clock uses time.Now.
func NewLogKeys(clock func() time.Time) *LogKeys {
	if clock == nil {
		clock = time.Now
	}
	return &LogKeys{
		entropy: ulid.Monotonic(rand.Reader, 0),
		clock:   clock,
	}
}

// Next returns the next key.
func (k *LogKeys) Next() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, err := ulid.New(ulid.Timestamp(k.clock()), k.entropy)
	if err != nil {
		return "", fmt.Errorf("generate log key: %w", err)
	}
	return key.String(), nil
}
