package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh v4 UUID for entity rows.
func NewID() uuid.UUID { return uuid.New() }

const shortIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewShortID returns a "prefix-xxxxx" identifier (5 chars, [a-z0-9]).
// Used for chats and tasks where humans read the ID in transcripts.
func NewShortID(prefix string) string {
	buf := make([]byte, 5)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = shortIDAlphabet[int(b)%len(shortIDAlphabet)]
	}
	return prefix + "-" + string(buf)
}

// UserUID derives the stable 24-hex-char identity for (teamName, handle).
// The same pair always maps to the same uid across reconnects.
func UserUID(teamName, handle string) string {
	sum := sha256.Sum256([]byte(teamName + ":" + handle))
	return hex.EncodeToString(sum[:12])
}

// NowMillis is the store-wide clock. Overridable in tests.
var NowMillis = func() int64 { return time.Now().UnixMilli() }
