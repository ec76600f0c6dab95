package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultMaxKeyLen matches the most restrictive known external
// invocation-identity limit for entry keys.
const DefaultMaxKeyLen = 232

// KeyGenerator produces descriptive, collision-free entry keys. The key
// doubles as the external invocation identity, so it is human-readable and
// length-capped.
type KeyGenerator struct {
	// MaxLen caps generated keys; 0 means DefaultMaxKeyLen.
	MaxLen int
}

// Generate builds a key like
//
//	scheduled_merge_for_invoice.docx.tmpl_at_9_0_every_2_weeks_1
//
// and bumps the trailing number until the candidate is absent from the
// store. The key set is re-read from the store at call time: another
// registration may have added keys since the caller last looked. Truncation
// to MaxLen happens before the suffix is attached, so a truncated candidate
// still goes through the same uniqueness check.
func (g KeyGenerator) Generate(ctx context.Context, st Store, templatePath string, hour, minute, intervalWeeks int) (string, error) {
	keys, err := st.Keys(ctx)
	if err != nil {
		return "", fmt.Errorf("key generation: %w", err)
	}
	taken := make(map[string]bool, len(keys))
	for _, k := range keys {
		taken[k] = true
	}

	maxLen := g.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxKeyLen
	}

	front := fmt.Sprintf("scheduled_merge_for_%s_at_%d_%d_every_%d_weeks",
		sanitizeKeyPart(filepath.Base(templatePath)), hour, minute, intervalWeeks)

	for n := 1; ; n++ {
		suffix := "_" + strconv.Itoa(n)
		head := front
		if len(head)+len(suffix) > maxLen {
			head = head[:maxLen-len(suffix)]
		}
		candidate := head + suffix
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

// sanitizeKeyPart keeps keys safe as store section names and as external
// task identifiers.
func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
