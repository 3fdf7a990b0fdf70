package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hochfrequenz/re3-harness/internal/bench"
)

func TestFormat_GSM8K(t *testing.T) {
	l := NewLoader()
	got, err := l.Format(bench.Item{Benchmark: "gsm8k", Question: "What is 2+2?"})
	if err != nil {
		t.Fatalf("Format error = %v", err)
	}
	want := "Solve this math problem step by step, then give your final answer after ####.\n\nProblem: What is 2+2?"
	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestFormat_MMLU(t *testing.T) {
	l := NewLoader()
	got, err := l.Format(bench.Item{
		Benchmark: "mmlu",
		Question:  "Capital of Norway?",
		Choices:   []string{"Oslo", "Bergen", "Tromso", "Stavanger"},
	})
	if err != nil {
		t.Fatalf("Format error = %v", err)
	}
	if !strings.Contains(got, "A. Oslo\nB. Bergen\nC. Tromso\nD. Stavanger") {
		t.Errorf("choices not lettered:\n%s", got)
	}
	if !strings.Contains(got, "Reply with just the letter") {
		t.Errorf("missing instruction:\n%s", got)
	}
}

func TestFormat_HellaSwag(t *testing.T) {
	l := NewLoader()
	got, err := l.Format(bench.Item{
		Benchmark: "hellaswag",
		Context:   "A chef lifts the pan and",
		Endings:   []string{"flips the omelette", "reads a book", "paints a wall", "drives away"},
	})
	if err != nil {
		t.Fatalf("Format error = %v", err)
	}
	if !strings.Contains(got, "0. flips the omelette") || !strings.Contains(got, "3. drives away") {
		t.Errorf("endings not indexed:\n%s", got)
	}
}

func TestFormat_NIAH(t *testing.T) {
	l := NewLoader()
	item := bench.SynthesizeNIAH(1, 1000)[0]
	got, err := l.Format(item)
	if err != nil {
		t.Fatalf("Format error = %v", err)
	}
	if !strings.Contains(got, item.Needle) {
		t.Error("document body missing from prompt")
	}
	if !strings.Contains(got, "Question: "+item.Question) {
		t.Error("question missing from prompt")
	}
}

func TestFormat_UnknownBenchmark(t *testing.T) {
	if _, err := NewLoader().Format(bench.Item{Benchmark: "trivia"}); err == nil {
		t.Error("expected error for unknown benchmark template")
	}
}

func TestLoader_OverrideDir(t *testing.T) {
	dir := t.TempDir()
	custom := "---\nid: gsm8k\n---\nCustom: {{.Question}}\n"
	if err := os.WriteFile(filepath.Join(dir, "gsm8k.md"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(dir)
	got, err := l.Format(bench.Item{Benchmark: "gsm8k", Question: "Q"})
	if err != nil {
		t.Fatalf("Format error = %v", err)
	}
	if got != "Custom: Q" {
		t.Errorf("override not applied, got %q", got)
	}
}

func TestLoadTemplate_Meta(t *testing.T) {
	_, meta, err := NewLoader().LoadTemplate("mmlu")
	if err != nil {
		t.Fatal(err)
	}
	if meta == nil || meta.ID != "mmlu" {
		t.Errorf("meta = %+v", meta)
	}
}

func TestAssemble(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"A", "a"},
		{"AA", "a|a"},
		{"AB", "a|b"},
		{"ABA", "a|b|a"},
		{"BBB", "b|b|b"},
	}
	for _, tt := range tests {
		got, err := Assemble("a", "b", tt.pattern, "|")
		if err != nil {
			t.Fatalf("Assemble(%s) error = %v", tt.pattern, err)
		}
		if got != tt.want {
			t.Errorf("Assemble(%s) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

func TestAssemble_Errors(t *testing.T) {
	if _, err := Assemble("a", "", "AB", "|"); err == nil {
		t.Error("expected error when B variant missing")
	}
	if _, err := Assemble("a", "b", "AXB", "|"); err == nil {
		t.Error("expected error for invalid pattern character")
	}
}

func TestAssemble_DefaultSeparator(t *testing.T) {
	got, err := Assemble("one", "two", "AB", DefaultSeparator)
	if err != nil {
		t.Fatal(err)
	}
	if got != "one\n\nRead the question again:\n\ntwo" {
		t.Errorf("got %q", got)
	}
}
