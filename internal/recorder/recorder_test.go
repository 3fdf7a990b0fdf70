package recorder

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/re3-harness/internal/domain"
)

func TestAppendAndLoadRuns(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, "alice@laptop")
	if err != nil {
		t.Fatal(err)
	}

	rec, err := r.AppendRun(domain.RunRecord{
		ConfigID: "C01", Strategy: "none", Benchmark: "gsm8k",
		ItemID: "gsm8k_test_0", Correct: true,
	})
	if err != nil {
		t.Fatalf("AppendRun error = %v", err)
	}
	if rec.RunID == "" || rec.Timestamp.IsZero() || rec.Worker != "alice@laptop" {
		t.Errorf("defaults not filled: %+v", rec)
	}

	if _, err := r.AppendRun(domain.RunRecord{
		ConfigID: "C01", Strategy: "none", Benchmark: "gsm8k", ItemID: "gsm8k_test_1",
	}); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadRuns(dir)
	if err != nil {
		t.Fatalf("LoadRuns error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d records, want 2", len(loaded))
	}
	if loaded[0].ItemID != "gsm8k_test_0" {
		t.Errorf("first record = %+v", loaded[0])
	}
}

func TestPerWorkerFiles(t *testing.T) {
	dir := t.TempDir()
	a, _ := New(dir, "alice@laptop")
	b, _ := New(dir, "bob@desktop")

	if a.RunLogPath() == b.RunLogPath() {
		t.Fatal("workers share a run log file")
	}
	if _, err := a.AppendClaim(domain.ClaimEvent{SliceKey: "C01_none_gsm8k", Kind: domain.ClaimAcquire}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AppendClaim(domain.ClaimEvent{SliceKey: "C02_b1a_camelcase_pairs_gsm8k", Kind: domain.ClaimAcquire}); err != nil {
		t.Fatal(err)
	}

	claims, err := LoadClaims(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 2 {
		t.Fatalf("loaded %d claims, want 2", len(claims))
	}
	workers := map[string]bool{}
	for _, c := range claims {
		workers[c.Worker] = true
		if c.ID == "" || c.Time.IsZero() {
			t.Errorf("claim defaults not filled: %+v", c)
		}
	}
	if !workers["alice@laptop"] || !workers["bob@desktop"] {
		t.Errorf("workers = %v", workers)
	}
}

func TestSanitizeWorkerFilename(t *testing.T) {
	dir := t.TempDir()
	r, _ := New(dir, "user name@host/weird")
	base := filepath.Base(r.RunLogPath())
	if strings.ContainsAny(base, "@/ ") {
		t.Errorf("unsafe filename %q", base)
	}
}

func TestLoadRuns_EmptyDataDir(t *testing.T) {
	recs, err := LoadRuns(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records", len(recs))
	}
}

func TestLoadRuns_BadLine(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(dir, "w"); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "runs", "broken.jsonl")
	if err := os.WriteFile(path, []byte("{bad\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRuns(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestWilsonCI(t *testing.T) {
	low, high := WilsonCI(0, 0)
	if low != 0 || high != 0 {
		t.Errorf("empty CI = (%v, %v)", low, high)
	}

	low, high = WilsonCI(50, 100)
	if math.Abs(low-0.4038) > 0.001 || math.Abs(high-0.5962) > 0.001 {
		t.Errorf("CI(50/100) = (%.4f, %.4f)", low, high)
	}

	low, high = WilsonCI(100, 100)
	if high > 1.0 || low < 0.9 {
		t.Errorf("CI(100/100) = (%.4f, %.4f)", low, high)
	}
}

func TestSummarize(t *testing.T) {
	mk := func(cfg string, correct bool, errMsg string, latency int) domain.RunRecord {
		return domain.RunRecord{
			ConfigID: cfg, Pattern: "A", Strategy: "none", Benchmark: "gsm8k",
			Correct: correct, Error: errMsg, LatencyMs: latency,
			Timestamp: time.Now(),
		}
	}
	rows := Summarize([]domain.RunRecord{
		mk("C01", true, "", 100),
		mk("C01", false, "", 200),
		mk("C01", false, "timeout", 0),
		mk("C03", true, "", 50),
	})
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	// sorted by accuracy: C03 (1.0) before C01 (0.5)
	if rows[0].ConfigID != "C03" {
		t.Errorf("rows[0] = %+v", rows[0])
	}
	c01 := rows[1]
	if c01.Total != 3 || c01.Errors != 1 || c01.Correct != 1 {
		t.Errorf("C01 counts = %+v", c01)
	}
	if math.Abs(c01.Accuracy-0.5) > 1e-9 {
		t.Errorf("C01 accuracy = %v", c01.Accuracy)
	}
	if math.Abs(c01.AvgLatency-150) > 1e-9 {
		t.Errorf("C01 avg latency = %v", c01.AvgLatency)
	}
}

func TestWriteSummaryCSV(t *testing.T) {
	dir := t.TempDir()
	r, _ := New(dir, "w")
	path, err := r.WriteSummaryCSV([]domain.RunRecord{
		{ConfigID: "C01", Pattern: "A", Strategy: "none", Benchmark: "gsm8k", Correct: true},
	})
	if err != nil {
		t.Fatalf("WriteSummaryCSV error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "config_id,pattern,b_strategy,benchmark") {
		t.Errorf("header missing:\n%s", text)
	}
	if !strings.Contains(text, "C01,A,none,gsm8k,1,1,0,1.0000") {
		t.Errorf("row missing:\n%s", text)
	}
}
