package retok

import (
	"strings"
	"testing"
)

func TestApply_AllStrategies(t *testing.T) {
	input := "The quick brown fox jumps over 42 lazy dogs."

	tests := []struct {
		strategy string
		want     string
	}{
		{"none", input},
		{"b1a_camelcase_pairs", "TheQuick brownFox jumpsOver 42Lazy dogs."},
		{"b1c_underscore_join", "The_quick_brown_fox_jumps_over_42_lazy_dogs."},
		{"b3a_lowercase_all", "the quick brown fox jumps over 42 lazy dogs."},
		{"b3b_uppercase_all", "THE QUICK BROWN FOX JUMPS OVER 42 LAZY DOGS."},
		{"b6b_word_numbers", "The quick brown fox jumps over forty-two lazy dogs."},
	}

	for _, tt := range tests {
		got, err := Apply(input, tt.strategy)
		if err != nil {
			t.Fatalf("Apply(%s) error = %v", tt.strategy, err)
		}
		if got != tt.want {
			t.Errorf("Apply(%s) = %q, want %q", tt.strategy, got, tt.want)
		}
	}
}

func TestApply_UnknownStrategy(t *testing.T) {
	if _, err := Apply("text", "b9z_nonexistent"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestCamelcaseAll(t *testing.T) {
	got, _ := Apply("The Quick Brown Fox", "b1b_camelcase_all")
	if got != "theQuickBrownFox" {
		t.Errorf("b1b = %q, want theQuickBrownFox", got)
	}
}

func TestDigitSpacing(t *testing.T) {
	tests := []struct{ in, want string }{
		{"381", "3 8 1"},
		{"The answer is 42", "The answer is 4 2"},
		{"no digits here", "no digits here"},
		{"7", "7"},
	}
	for _, tt := range tests {
		got, _ := Apply(tt.in, "b2a_digit_spacing")
		if got != tt.want {
			t.Errorf("b2a(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCompoundSplit(t *testing.T) {
	got, _ := Apply("understand something", "b1e_compound_split")
	if got != "under stand some thing" {
		t.Errorf("b1e = %q, want %q", got, "under stand some thing")
	}
}

func TestHyphenation_ShortWordsUntouched(t *testing.T) {
	got, _ := Apply("cat dog bird", "b1d_hyphenation")
	if got != "cat dog bird" {
		t.Errorf("b1d short words = %q", got)
	}

	long, _ := Apply("understanding", "b1d_hyphenation")
	if !strings.Contains(long, "-") {
		t.Errorf("b1d long word %q should contain a hyphen", long)
	}
	if strings.ReplaceAll(long, "-", "") != "understanding" {
		t.Errorf("b1d must only insert a hyphen, got %q", long)
	}
}

func TestDelimiterSwap_NoDoubleSwap(t *testing.T) {
	got, _ := Apply("### heading --- rule", "b4a_delimiter_swap")
	if got != "--- heading *** rule" {
		t.Errorf("b4a = %q, want %q", got, "--- heading *** rule")
	}
}

func TestWordNumbers_LargeNumbersKept(t *testing.T) {
	got, _ := Apply("price is 1500 not 15", "b6b_word_numbers")
	if got != "price is 1500 not fifteen" {
		t.Errorf("b6b = %q", got)
	}
}

func TestStrategyIDs_Deterministic(t *testing.T) {
	a := StrategyIDs()
	b := StrategyIDs()
	if len(a) != 11 {
		t.Fatalf("expected 11 strategies, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("StrategyIDs not deterministic")
		}
	}
}
