package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// NormalizeText trims the input and collapses runs of whitespace to a single
// space so that formatting differences never produce distinct fingerprints.
func NormalizeText(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// Fingerprint returns a stable cache key derived from the normalized text and
// the embedding model identifier. The model id is part of the key so entries
// from an old model version are never returned for a new one.
func Fingerprint(text, modelID string) string {
	normalized := NormalizeText(text)
	hash := sha256.Sum256([]byte(normalized + "\x00" + modelID))
	return fmt.Sprintf("%x", hash)
}
