// Package recorder owns the on-disk data layout: append-only per-worker
// JSONL logs for run records and claim events, plus summary CSV output.
//
// Layout under the data directory:
//
//	claims/<worker>.jsonl   claim events, appended by one worker only
//	runs/<worker>.jsonl     run records, appended by one worker only
//	summaries/*.csv         derived, regenerated at will
//
// One file per worker keeps concurrent pushes conflict-free: no two
// participants ever write the same file.
package recorder

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/re3-harness/internal/domain"
)

// Recorder appends to this worker's own log files
type Recorder struct {
	dataDir string
	worker  string
	mu      sync.Mutex
}

// New creates the data directory layout if needed
func New(dataDir, worker string) (*Recorder, error) {
	for _, sub := range []string{"claims", "runs", "summaries"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &Recorder{dataDir: dataDir, worker: worker}, nil
}

// RunLogPath is this worker's run log file
func (r *Recorder) RunLogPath() string {
	return filepath.Join(r.dataDir, "runs", sanitize(r.worker)+".jsonl")
}

// ClaimLogPath is this worker's claim log file
func (r *Recorder) ClaimLogPath() string {
	return filepath.Join(r.dataDir, "claims", sanitize(r.worker)+".jsonl")
}

// AppendRun writes one run record, filling run ID and timestamp when unset
func (r *Recorder) AppendRun(rec domain.RunRecord) (domain.RunRecord, error) {
	if rec.RunID == "" {
		rec.RunID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Worker == "" {
		rec.Worker = r.worker
	}
	if err := r.appendLine(r.RunLogPath(), rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// AppendClaim writes one claim event, filling ID and timestamp when unset
func (r *Recorder) AppendClaim(ev domain.ClaimEvent) (domain.ClaimEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.Worker == "" {
		ev.Worker = r.worker
	}
	if err := r.appendLine(r.ClaimLogPath(), ev); err != nil {
		return ev, err
	}
	return ev, nil
}

func (r *Recorder) appendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return f.Sync()
}

// LoadRuns reads every worker's run log under dataDir. Missing directory
// yields an empty set.
func LoadRuns(dataDir string) ([]domain.RunRecord, error) {
	var out []domain.RunRecord
	err := loadDir(filepath.Join(dataDir, "runs"), func(line []byte) error {
		var rec domain.RunRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// LoadClaims reads every worker's claim log under dataDir
func LoadClaims(dataDir string) ([]domain.ClaimEvent, error) {
	var out []domain.ClaimEvent
	err := loadDir(filepath.Join(dataDir, "claims"), func(line []byte) error {
		var ev domain.ClaimEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

func loadDir(dir string, each func(line []byte) error) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}

	// Sorted walk keeps load order stable across machines
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			raw := strings.TrimSpace(scanner.Text())
			if raw == "" {
				continue
			}
			if err := each([]byte(raw)); err != nil {
				f.Close()
				return fmt.Errorf("parse %s line %d: %w", path, line, err)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return fmt.Errorf("read %s: %w", path, err)
		}
		f.Close()
	}
	return nil
}

// SummaryRow aggregates one slice's records
type SummaryRow struct {
	ConfigID   string
	Pattern    string
	Strategy   string
	Benchmark  string
	Total      int
	Correct    int
	Errors     int
	Accuracy   float64
	CILow      float64
	CIHigh     float64
	AvgLatency float64
	AvgTokIn   float64
	AvgTokOut  float64
}

// Summarize groups records by slice and computes accuracy with a Wilson
// 95% interval, sorted by accuracy descending.
func Summarize(records []domain.RunRecord) []SummaryRow {
	groups := make(map[string][]domain.RunRecord)
	var order []string
	for _, rec := range records {
		key := rec.SliceKey()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	rows := make([]SummaryRow, 0, len(groups))
	for _, key := range order {
		recs := groups[key]
		row := SummaryRow{
			ConfigID:  recs[0].ConfigID,
			Pattern:   recs[0].Pattern,
			Strategy:  recs[0].Strategy,
			Benchmark: recs[0].Benchmark,
			Total:     len(recs),
		}

		var latSum float64
		var tokIn, tokOut float64
		valid := 0
		for _, rec := range recs {
			if rec.Failed() {
				row.Errors++
				continue
			}
			valid++
			if rec.Correct {
				row.Correct++
			}
			latSum += float64(rec.LatencyMs)
			tokIn += float64(rec.TokensInput)
			tokOut += float64(rec.TokensOutput)
		}
		if valid > 0 {
			row.Accuracy = float64(row.Correct) / float64(valid)
			row.AvgLatency = latSum / float64(valid)
			row.AvgTokIn = tokIn / float64(valid)
			row.AvgTokOut = tokOut / float64(valid)
		}
		row.CILow, row.CIHigh = WilsonCI(row.Correct, valid)
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Accuracy > rows[j].Accuracy })
	return rows
}

// WriteSummaryCSV writes the per-slice summary to dataDir/summaries
func (r *Recorder) WriteSummaryCSV(records []domain.RunRecord) (string, error) {
	rows := Summarize(records)
	path := filepath.Join(r.dataDir, "summaries",
		fmt.Sprintf("%s_summary.csv", time.Now().UTC().Format("20060102_150405")))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create summary: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"config_id", "pattern", "b_strategy", "benchmark",
		"n_total", "n_correct", "n_error",
		"accuracy", "accuracy_95ci_low", "accuracy_95ci_high",
		"avg_latency_ms", "avg_tokens_input", "avg_tokens_output",
	}
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, row := range rows {
		err := w.Write([]string{
			row.ConfigID, row.Pattern, row.Strategy, row.Benchmark,
			fmt.Sprintf("%d", row.Total), fmt.Sprintf("%d", row.Correct), fmt.Sprintf("%d", row.Errors),
			fmt.Sprintf("%.4f", row.Accuracy), fmt.Sprintf("%.4f", row.CILow), fmt.Sprintf("%.4f", row.CIHigh),
			fmt.Sprintf("%.1f", row.AvgLatency), fmt.Sprintf("%.1f", row.AvgTokIn), fmt.Sprintf("%.1f", row.AvgTokOut),
		})
		if err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

// WilsonCI is the Wilson score 95% confidence interval for a binomial
// proportion.
func WilsonCI(successes, n int) (low, high float64) {
	if n == 0 {
		return 0, 0
	}
	const z = 1.96
	p := float64(successes) / float64(n)
	nf := float64(n)
	denom := 1 + z*z/nf
	center := (p + z*z/(2*nf)) / denom
	margin := z * math.Sqrt(p*(1-p)/nf+z*z/(4*nf*nf)) / denom
	return math.Max(0, center-margin), math.Min(1, center+margin)
}

// sanitize maps a worker ID to a safe file name component
func sanitize(worker string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, worker)
}
