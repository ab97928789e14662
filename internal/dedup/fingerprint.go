package dedup

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

var (
	disallowed = regexp.MustCompile(`[^a-z0-9 .,!?-]+`)
	spaces     = regexp.MustCompile(`[\s\p{Z}]+`)
)

// Normalize lowercases text, collapses whitespace and strips characters
// outside [a-z0-9 .,!?-].
func Normalize(text string) string {
	s := strings.ToLower(text)
	s = spaces.ReplaceAllString(s, " ")
	s = disallowed.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Fingerprinter hashes normalized text.
type Fingerprinter struct {
	hasher    crawler.Hasher
	minLength int
}

// NewFingerprinter returns a Fingerprinter that skips texts whose normalized
// form is shorter than minLength runes.
func NewFingerprinter(hasher crawler.Hasher, minLength int) *Fingerprinter {
	return &Fingerprinter{hasher: hasher, minLength: minLength}
}

// Fingerprint returns the hash of the normalized text. ok is false when the
// text is too short to fingerprint.
func (f *Fingerprinter) Fingerprint(text string) (hash string, ok bool, err error) {
	normalized := Normalize(text)
	if normalized == "" || len([]rune(normalized)) < f.minLength {
		return "", false, nil
	}
	hash, err = f.hasher.Hash([]byte(normalized))
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}
