package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// New returns a short unique id, optionally prefixed ("turn_ab12cd34").
func New(prefix string) string {
	short := uuid.NewString()[:8]
	if prefix == "" {
		return short
	}
	return prefix + "_" + short
}

// Evidence returns an evidence id for the given capability ("RAG", "WEB").
// A positive index yields a stable sequential id; otherwise a random one.
func Evidence(sourceType string, index int) string {
	if index > 0 {
		return fmt.Sprintf("%s_%d", sourceType, index)
	}
	return New(sourceType)
}

// Claim returns a claim id ("c3" when index > 0).
func Claim(index int) string {
	if index > 0 {
		return fmt.Sprintf("c%d", index)
	}
	return New("c")
}

// Step returns a plan step id ("s2" when index > 0).
func Step(index int) string {
	if index > 0 {
		return fmt.Sprintf("s%d", index)
	}
	return New("s")
}

// Action returns an action log id.
func Action() string {
	return New("act")
}

// Fingerprint derives the dedup key for an evidence item from its url and
// text. Identical (url, text) pairs always collide, which is the point.
func Fingerprint(url, text string) string {
	sum := sha256.Sum256([]byte(url + "|" + text))
	return hex.EncodeToString(sum[:])[:16]
}
