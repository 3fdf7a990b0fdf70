// Package bench provides the benchmark item sequences the harness tests
// against. GSM8K, MMLU and HellaSwag items are read from pre-downloaded
// JSONL files; NIAH items are synthesized deterministically so every
// participant derives the same sequence.
package bench

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

// Item is one benchmark question
type Item struct {
	ID        string   `json:"id"`
	Benchmark string   `json:"benchmark"`
	Subset    string   `json:"subset,omitempty"`
	Question  string   `json:"question,omitempty"`
	Answer    string   `json:"answer,omitempty"`
	Choices   []string `json:"choices,omitempty"`
	Context   string   `json:"context,omitempty"`
	Endings   []string `json:"endings,omitempty"`
	Needle    string   `json:"needle,omitempty"`
	// NeedleContent is the bare fact to retrieve, e.g. the secret number
	NeedleContent string  `json:"needle_content,omitempty"`
	Depth         float64 `json:"depth,omitempty"`
}

// Names lists the supported benchmarks
var Names = []string{"gsm8k", "mmlu", "hellaswag", "niah"}

// Known reports whether a benchmark name is supported
func Known(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// Load returns up to n items for the named benchmark. File-backed
// benchmarks read <dataDir>/<name>.jsonl; niah is synthesized and needs no
// file. A missing data file is an error: every participant must run the
// identical item set, so substituting anything here would split the item
// IDs across workers and corrupt the merged counts.
func Load(dataDir, name string, n int) ([]Item, error) {
	switch name {
	case "gsm8k", "mmlu", "hellaswag":
		items, err := loadJSONL(filepath.Join(dataDir, name+".jsonl"), name, n)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s dataset not found at %s (download it first): %w",
				name, filepath.Join(dataDir, name+".jsonl"), err)
		}
		return items, err
	case "niah":
		return SynthesizeNIAH(n, 1000), nil
	default:
		return nil, fmt.Errorf("unknown benchmark: %q", name)
	}
}

func loadJSONL(path, benchmark string, n int) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var items []Item
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("parse %s line %d: %w", path, line, err)
		}
		if item.Benchmark == "" {
			item.Benchmark = benchmark
		}
		if item.ID == "" {
			item.ID = fmt.Sprintf("%s_%d", benchmark, line-1)
		}
		items = append(items, item)
		if n > 0 && len(items) >= n {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return items, nil
}

// SynthesizeNIAH generates needle-in-a-haystack items of roughly
// contextTokens tokens each. Each item is seeded by its index, so the
// secret number, needle depth and context are identical on every machine.
func SynthesizeNIAH(n, contextTokens int) []Item {
	filler := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 50)
	question := "What is the secret code mentioned in the document?"

	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		rng := rand.New(rand.NewSource(int64(contextTokens)*100003 + int64(i)))
		secret := 1000 + rng.Intn(9000)
		needle := fmt.Sprintf("The secret code for this document is %d.", secret)

		fillerTokens := contextTokens - estimateTokens(needle) - estimateTokens(question)
		fillerChars := fillerTokens * 4
		if fillerChars < 100 {
			fillerChars = 100
		}
		if fillerChars > len(filler) {
			fillerChars = len(filler)
		}
		truncated := filler[:fillerChars]

		depth := rng.Float64()
		pos := int(float64(len(truncated)) * depth)
		context := truncated[:pos] + " " + needle + " " + truncated[pos:]

		items = append(items, Item{
			ID:            fmt.Sprintf("niah_%d_%d", contextTokens, i),
			Benchmark:     "niah",
			Subset:        fmt.Sprintf("%dtok", contextTokens),
			Question:      question,
			Context:       context,
			Needle:        needle,
			NeedleContent: fmt.Sprintf("%d", secret),
			Depth:         depth,
		})
	}
	return items
}

// Placeholders returns tiny synthetic items for endpoint smoke checks.
// Their IDs are disjoint from the real datasets and they are never valid
// input for a recorded run.
func Placeholders(benchmark string, n int) []Item {
	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		switch benchmark {
		case "gsm8k":
			items = append(items, Item{
				ID:        fmt.Sprintf("gsm8k_placeholder_%d", i),
				Benchmark: "gsm8k",
				Question:  fmt.Sprintf("What is %d + %d?", i+1, i+2),
				Answer:    fmt.Sprintf("#### %d", i+1+i+2),
			})
		case "mmlu":
			items = append(items, Item{
				ID:        fmt.Sprintf("mmlu_placeholder_%d", i),
				Benchmark: "mmlu",
				Subset:    "placeholder",
				Question:  fmt.Sprintf("What is the capital of country %d?", i),
				Choices:   []string{"Paris", "London", "Berlin", "Madrid"},
				Answer:    fmt.Sprintf("%d", i%4),
			})
		case "hellaswag":
			items = append(items, Item{
				ID:        fmt.Sprintf("hellaswag_placeholder_%d", i),
				Benchmark: "hellaswag",
				Context:   "A person walks into a room and...",
				Endings:   []string{"sits down", "leaves", "jumps", "sleeps"},
				Answer:    fmt.Sprintf("%d", i%4),
			})
		}
	}
	return items
}

func estimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		return 1
	}
	return n
}
