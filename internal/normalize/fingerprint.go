package normalize

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mediapulse/pulse/internal/types"
)

// Fingerprint computes the hex-encoded SHA-256 dedup probe key for a
// mention. The digest covers the platform plus the strongest identity the
// record carries: the source-native ID when present, else the URL, else the
// normalized text. Two ingests of the same item always produce the same
// fingerprint regardless of which collector saw it.
func Fingerprint(m *types.Mention) string {
	key := m.SourceID
	if key == "" {
		key = m.URL
	}
	if key == "" {
		key = m.NormalizedText
	}
	sum := sha256.Sum256([]byte(string(m.Platform) + "|" + key))
	return hex.EncodeToString(sum[:])
}
