// Package jobs generates identifiers for workspaces and queued render jobs.
package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/rs/zerolog/log"
)

// Identifier prefixes.
const (
	SessionPrefix = "ws-"
	RenderPrefix  = "render-"
)

// GenerateID creates a new cryptographically random ID with the given prefix.
// The prefix should include a trailing dash, e.g. "ws-", "render-".
func GenerateID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msgf("Failed to generate random %s ID", prefix)
	}
	return prefix + hex.EncodeToString(b)
}

// Normalize adds prefix to id when a client sent the bare hex part.
func Normalize(id, prefix string) string {
	if id == "" || strings.HasPrefix(id, prefix) {
		return id
	}
	return prefix + id
}

// Valid reports whether id has prefix followed by 32 hex characters.
func Valid(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}
