package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var sliceKeyRegex = regexp.MustCompile(`^(C\d{2})_([a-z0-9_]+)_([a-z0-9]+)$`)

// Slice is one (configuration, strategy, benchmark) unit of experimental
// work with a fixed target item count.
type Slice struct {
	ConfigID  string // e.g. "C09"
	Pattern   string // e.g. "ABA"
	Strategy  string // re-tokenization strategy ID, "none" for baseline
	Benchmark string // e.g. "gsm8k"
	Target    int    // number of benchmark items this slice covers
}

// Key returns the deterministic slice key. Two workers computing the same
// (config, strategy, benchmark) triple always agree on the key.
func (s Slice) Key() string {
	return fmt.Sprintf("%s_%s_%s", s.ConfigID, s.Strategy, s.Benchmark)
}

// UsesVariant reports whether the pattern includes a re-tokenized segment
func (s Slice) UsesVariant() bool {
	return strings.Contains(s.Pattern, "B")
}

// ParseSliceKey splits a slice key back into its triple. The strategy may
// itself contain underscores, so the config is the first segment and the
// benchmark the last.
func ParseSliceKey(key string) (configID, strategy, benchmark string, err error) {
	matches := sliceKeyRegex.FindStringSubmatch(key)
	if matches == nil {
		return "", "", "", fmt.Errorf("invalid slice key: %q (expected C##_strategy_benchmark)", key)
	}
	return matches[1], matches[2], matches[3], nil
}
