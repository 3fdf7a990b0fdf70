package domain

import (
	"fmt"
	"time"
)

// RunRecord is one executed benchmark item's full input/output/evaluation
// trace. Records are append-only: once written to a run log they are never
// mutated or deleted.
type RunRecord struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Phase     int       `json:"phase"`

	ConfigID  string `json:"config_id"`
	Pattern   string `json:"pattern"`
	Strategy  string `json:"b_strategy"`
	Benchmark string `json:"benchmark"`
	Subset    string `json:"benchmark_subset,omitempty"`
	ItemID    string `json:"item_id"`
	ItemIndex int    `json:"item_index"`

	PromptA   string `json:"prompt_a"`
	PromptB   string `json:"prompt_b,omitempty"`
	Assembled string `json:"assembled_prompt"`
	Separator string `json:"separator"`

	TokensA      int `json:"tokens_a"`
	TokensB      int `json:"tokens_b,omitempty"`
	TokensInput  int `json:"tokens_total_input"`
	TokensOutput int `json:"tokens_output"`

	ModelID     string  `json:"model_id"`
	Temperature float64 `json:"temperature"`

	Response  string `json:"response_raw"`
	LatencyMs int    `json:"latency_ms"`

	Expected         string `json:"expected_answer"`
	Extracted        string `json:"extracted_answer"`
	ExtractionMethod string `json:"extraction_method"`
	Correct          bool   `json:"correct"`

	Error  string `json:"error,omitempty"`
	Worker string `json:"worker_id"`
}

// SliceKey returns the key of the slice this record belongs to
func (r *RunRecord) SliceKey() string {
	return fmt.Sprintf("%s_%s_%s", r.ConfigID, r.Strategy, r.Benchmark)
}

// Failed reports whether the item execution errored (model timeout,
// malformed response, extraction failure)
func (r *RunRecord) Failed() bool {
	return r.Error != ""
}

// EstimateTokens is a rough ~4 chars per token heuristic. Sufficient for
// relative comparisons within the experiment; exact counts would need the
// model's tokenizer.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}
