// Package retok implements the re-tokenization strategies. Each transform
// takes text A and produces text B with the same semantic content but
// different tokenization characteristics.
package retok

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Transform is a pure text rewrite keyed by strategy ID
type Transform func(string) string

var numberWords = map[int]string{
	0: "zero", 1: "one", 2: "two", 3: "three", 4: "four",
	5: "five", 6: "six", 7: "seven", 8: "eight", 9: "nine",
	10: "ten", 11: "eleven", 12: "twelve", 13: "thirteen",
	14: "fourteen", 15: "fifteen", 16: "sixteen", 17: "seventeen",
	18: "eighteen", 19: "nineteen", 20: "twenty", 30: "thirty",
	40: "forty", 50: "fifty", 60: "sixty", 70: "seventy",
	80: "eighty", 90: "ninety",
}

var compoundPrefixes = []string{"un", "re", "pre", "dis", "mis", "non", "over", "under", "out", "sub"}

var (
	digitPairRegex    = regexp.MustCompile(`(\d)(\d)`)
	wholeNumberRegex  = regexp.MustCompile(`\b\d+\b`)
	syllableHeadRegex = regexp.MustCompile(`^[^aeiou]*[aeiou]+[^aeiou]+`)
	alphaOnlyRegex    = regexp.MustCompile(`^[A-Za-z]+$`)
)

// transformers registers every strategy. "none" is the identity baseline.
var transformers = map[string]Transform{
	"none":                func(s string) string { return s },
	"b1a_camelcase_pairs": camelcasePairs,
	"b1b_camelcase_all":   camelcaseAll,
	"b1c_underscore_join": underscoreJoin,
	"b1d_hyphenation":     hyphenation,
	"b1e_compound_split":  compoundSplit,
	"b2a_digit_spacing":   digitSpacing,
	"b3a_lowercase_all":   strings.ToLower,
	"b3b_uppercase_all":   strings.ToUpper,
	"b4a_delimiter_swap":  delimiterSwap,
	"b6b_word_numbers":    wordNumbers,
}

// StrategyIDs returns all registered strategy IDs in sorted order
func StrategyIDs() []string {
	ids := make([]string, 0, len(transformers))
	for id := range transformers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Known reports whether a strategy ID is registered
func Known(strategyID string) bool {
	_, ok := transformers[strategyID]
	return ok
}

// Apply runs the transform for the given strategy ID
func Apply(text, strategyID string) (string, error) {
	fn, ok := transformers[strategyID]
	if !ok {
		return "", fmt.Errorf("unknown strategy: %q", strategyID)
	}
	return fn(text), nil
}

// camelcasePairs merges every other word pair:
// "the quick brown fox" -> "theQuick brownFox"
func camelcasePairs(text string) string {
	words := strings.Fields(text)
	var result []string
	for i := 0; i < len(words); {
		if i+1 < len(words) {
			result = append(result, words[i]+capitalize(words[i+1]))
			i += 2
		} else {
			result = append(result, words[i])
			i++
		}
	}
	return strings.Join(result, " ")
}

// camelcaseAll joins all words: "the quick brown fox" -> "theQuickBrownFox"
func camelcaseAll(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(words[0]))
	for _, w := range words[1:] {
		b.WriteString(capitalize(w))
	}
	return b.String()
}

func underscoreJoin(text string) string {
	return strings.ReplaceAll(text, " ", "_")
}

// hyphenation adds a hyphen at a syllable-like boundary for words longer
// than 6 characters, using a vowel-consonant heuristic
func hyphenation(text string) string {
	words := strings.Split(text, " ")
	for i, w := range words {
		words[i] = hyphenateWord(w)
	}
	return strings.Join(words, " ")
}

func hyphenateWord(word string) string {
	if len(word) <= 6 || !alphaOnlyRegex.MatchString(word) {
		return word
	}
	head := syllableHeadRegex.FindString(strings.ToLower(word))
	if len(head) >= 2 && len(head) < len(word)-2 {
		return word[:len(head)] + "-" + word[len(head):]
	}
	return word
}

// compoundSplit splits compounds at common prefix boundaries:
// "understand" -> "under stand"
func compoundSplit(text string) string {
	words := strings.Split(text, " ")
	for i, w := range words {
		words[i] = splitCompound(w)
	}
	return strings.Join(words, " ")
}

func splitCompound(word string) string {
	if len(word) <= 6 {
		return word
	}
	lower := strings.ToLower(word)
	for _, prefix := range compoundPrefixes {
		if strings.HasPrefix(lower, prefix) && len(word) > len(prefix)+2 {
			return word[:len(prefix)] + " " + word[len(prefix):]
		}
	}
	if len(word) > 7 && (strings.HasSuffix(lower, "thing") || strings.HasSuffix(lower, "stand")) {
		return word[:len(word)-5] + " " + word[len(word)-5:]
	}
	return word
}

// digitSpacing inserts spaces between consecutive digits: "381" -> "3 8 1"
func digitSpacing(text string) string {
	// ReplaceAll doesn't rescan replaced text, so run until fixpoint to
	// space every adjacent digit pair
	for {
		next := digitPairRegex.ReplaceAllString(text, "$1 $2")
		if next == text {
			return next
		}
		text = next
	}
}

// delimiterSwap rotates common markdown delimiters via placeholders so no
// run is swapped twice
func delimiterSwap(text string) string {
	swaps := []struct{ old, new string }{
		{"###", "---"},
		{"---", "***"},
		{"***", "==="},
		{"===", "###"},
		{"```", "'''"},
		{"'''", "```"},
	}
	for i, s := range swaps {
		text = strings.ReplaceAll(text, s.old, fmt.Sprintf("__DELIM_%d__", i))
	}
	for i, s := range swaps {
		text = strings.ReplaceAll(text, fmt.Sprintf("__DELIM_%d__", i), s.new)
	}
	return text
}

// wordNumbers converts whole numbers 0-99 to word form: "42" -> "forty-two".
// Larger numbers are kept as digits.
func wordNumbers(text string) string {
	return wholeNumberRegex.ReplaceAllStringFunc(text, func(numStr string) string {
		var n int
		if _, err := fmt.Sscanf(numStr, "%d", &n); err != nil {
			return numStr
		}
		if n < 0 || n >= 100 {
			return numStr
		}
		return smallNumberWords(n)
	})
}

func smallNumberWords(n int) string {
	if w, ok := numberWords[n]; ok {
		return w
	}
	tens := (n / 10) * 10
	ones := n % 10
	return numberWords[tens] + "-" + numberWords[ones]
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
}
