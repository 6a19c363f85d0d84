package transform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/inferloop/kpicore/pkg/models"
)

// Masker applies one-way, deterministic keyed masking to PII columns.
// The same raw value under the same key always yields the same masked
// output, so joins on masked columns remain possible without reversing
// identity. There is no unmasking operation.
type Masker struct {
	key      []byte
	keywords []string
}

// NewMasker creates a masker from the configured keyword set and key.
func NewMasker(keywords []string, key []byte) *Masker {
	folded := make([]string, len(keywords))
	for i, k := range keywords {
		folded[i] = strings.ToLower(strings.TrimSpace(k))
	}
	return &Masker{key: key, keywords: folded}
}

// Matches reports whether a canonical column name falls under the PII
// keyword set. Matched columns are always masked; callers cannot opt out.
func (m *Masker) Matches(column string) bool {
	folded := strings.ToLower(column)
	for _, keyword := range m.keywords {
		if strings.Contains(folded, keyword) {
			return true
		}
	}
	return false
}

// Mask returns the keyed hash of a value. Null cells pass through so
// missing-value semantics survive masking.
func (m *Masker) Mask(value string) string {
	if models.IsNull(value) {
		return value
	}
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
