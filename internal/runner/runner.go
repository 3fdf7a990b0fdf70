// Package runner executes one claimed slice: it walks the benchmark items,
// assembles the repeated prompt, queries the model and records every
// outcome. Item failures are data, not aborts; the only way a run stops
// early is context cancellation or a broken log.
package runner

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/re3-harness/internal/bench"
	"github.com/hochfrequenz/re3-harness/internal/domain"
	"github.com/hochfrequenz/re3-harness/internal/evaluate"
	"github.com/hochfrequenz/re3-harness/internal/llm"
	"github.com/hochfrequenz/re3-harness/internal/merger"
	"github.com/hochfrequenz/re3-harness/internal/prompt"
	"github.com/hochfrequenz/re3-harness/internal/recorder"
	"github.com/hochfrequenz/re3-harness/internal/retok"
)

// Completer is the model side of the runner; satisfied by llm.Client
type Completer interface {
	Complete(ctx context.Context, prompt string) (llm.Response, error)
	ModelID() string
	Temperature() float64
}

// Publisher pushes progress mid-slice; optional
type Publisher interface {
	Publish(ctx context.Context, message string) error
}

// Options configures a Runner
type Options struct {
	DataDir      string
	Worker       string
	Phase        int
	MaxPending   int    // concurrent in-flight model calls, default 4
	Separator    string // default prompt.DefaultSeparator
	PublishEvery int    // records between progress pushes, default 100
}

// Runner executes slices for one worker
type Runner struct {
	client    Completer
	rec       *recorder.Recorder
	prompts   *prompt.Loader
	publisher Publisher // may be nil
	opts      Options
}

// Result summarizes one slice execution
type Result struct {
	SliceKey  string
	Skipped   int // items already recorded by anyone
	Completed int // items executed this run
	Errors    int
	Correct   int
	AvgLatMS  float64
	// Invalid marks a run where every item failed instantly, which points
	// at a broken endpoint rather than a hard slice
	Invalid bool
}

// New wires a runner
func New(client Completer, rec *recorder.Recorder, prompts *prompt.Loader, publisher Publisher, opts Options) *Runner {
	if opts.MaxPending == 0 {
		opts.MaxPending = 4
	}
	if opts.Separator == "" {
		opts.Separator = prompt.DefaultSeparator
	}
	if opts.PublishEvery == 0 {
		opts.PublishEvery = 100
	}
	return &Runner{client: client, rec: rec, prompts: prompts, publisher: publisher, opts: opts}
}

// RunSlice executes the slice over the given items. Items already present
// in the merged run log are skipped, so a crashed or duplicated run
// resumes instead of redoing work.
func (r *Runner) RunSlice(ctx context.Context, s domain.Slice, items []bench.Item) (Result, error) {
	result := Result{SliceKey: s.Key()}

	done, err := r.recordedItems(s.Key())
	if err != nil {
		return result, err
	}

	if s.Target > 0 && len(items) > s.Target {
		items = items[:s.Target]
	}

	var mu sync.Mutex
	var latencySum int64
	published := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxPending)

	for i, item := range items {
		if done[item.ID] {
			result.Skipped++
			continue
		}

		i, item := i, item
		g.Go(func() error {
			rec, err := r.runItem(gctx, s, item, i)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			result.Completed++
			latencySum += int64(rec.LatencyMs)
			if rec.Failed() {
				result.Errors++
			} else if rec.Correct {
				result.Correct++
			}

			if r.publisher != nil && (result.Completed-published) >= r.opts.PublishEvery {
				published = result.Completed
				if err := r.publisher.Publish(gctx, fmt.Sprintf("Progress %s: %d items (%s)", s.Key(), result.Completed, r.opts.Worker)); err != nil {
					log.Printf("runner: progress push failed: %v", err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	if result.Completed > 0 {
		result.AvgLatMS = float64(latencySum) / float64(result.Completed)
	}
	// Every item erroring out near-instantly means the model endpoint was
	// never really reached; the data says nothing about the slice.
	if result.Completed > 0 && result.Errors == result.Completed && result.AvgLatMS < 100 {
		result.Invalid = true
	}
	return result, nil
}

// recordedItems returns the item IDs already present for the slice in the
// merged run log.
func (r *Runner) recordedItems(sliceKey string) (map[string]bool, error) {
	runs, err := recorder.LoadRuns(r.opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load run logs: %w", err)
	}
	done := make(map[string]bool)
	for _, rec := range merger.DedupeRuns(runs) {
		if rec.SliceKey() == sliceKey {
			done[rec.ItemID] = true
		}
	}
	return done, nil
}

// runItem executes one benchmark item end to end and appends the record.
// Model and assembly failures are captured inside the record.
func (r *Runner) runItem(ctx context.Context, s domain.Slice, item bench.Item, index int) (domain.RunRecord, error) {
	rec := domain.RunRecord{
		Phase:       r.opts.Phase,
		ConfigID:    s.ConfigID,
		Pattern:     s.Pattern,
		Strategy:    s.Strategy,
		Benchmark:   s.Benchmark,
		Subset:      item.Subset,
		ItemID:      item.ID,
		ItemIndex:   index,
		Separator:   r.opts.Separator,
		ModelID:     r.client.ModelID(),
		Temperature: r.client.Temperature(),
		Worker:      r.opts.Worker,
	}

	promptA, err := r.prompts.Format(item)
	if err != nil {
		return r.appendError(rec, fmt.Sprintf("format prompt: %v", err))
	}
	rec.PromptA = promptA
	rec.TokensA = domain.EstimateTokens(promptA)

	if s.UsesVariant() {
		promptB, err := retok.Apply(promptA, s.Strategy)
		if err != nil {
			return r.appendError(rec, fmt.Sprintf("transform prompt: %v", err))
		}
		rec.PromptB = promptB
		rec.TokensB = domain.EstimateTokens(promptB)
	}

	assembled, err := prompt.Assemble(rec.PromptA, rec.PromptB, s.Pattern, r.opts.Separator)
	if err != nil {
		return r.appendError(rec, fmt.Sprintf("assemble prompt: %v", err))
	}
	rec.Assembled = assembled
	rec.TokensInput = domain.EstimateTokens(assembled)

	resp, err := r.client.Complete(ctx, assembled)
	rec.LatencyMs = int(resp.LatencyMS)
	if err != nil {
		if ctx.Err() != nil {
			return rec, ctx.Err()
		}
		return r.appendError(rec, err.Error())
	}

	rec.Response = resp.Text
	rec.TokensOutput = resp.CompletionTokens
	if rec.TokensOutput == 0 {
		rec.TokensOutput = domain.EstimateTokens(resp.Text)
	}

	expected := item.Answer
	if s.Benchmark == "niah" && expected == "" {
		expected = item.NeedleContent
	}
	eval, err := evaluate.Evaluate(resp.Text, evaluate.Item{
		Benchmark: s.Benchmark,
		Expected:  expected,
		Choices:   item.Choices,
		Endings:   item.Endings,
		Needle:    needleContent(item),
	})
	if err != nil {
		return r.appendError(rec, fmt.Sprintf("evaluate: %v", err))
	}

	rec.Expected = eval.Expected
	rec.Extracted = eval.Extracted
	rec.ExtractionMethod = eval.Method
	rec.Correct = eval.Correct

	stored, err := r.rec.AppendRun(rec)
	if err != nil {
		return rec, fmt.Errorf("append run record: %w", err)
	}
	return stored, nil
}

func (r *Runner) appendError(rec domain.RunRecord, message string) (domain.RunRecord, error) {
	rec.Error = message
	rec.ExtractionMethod = "error"
	stored, err := r.rec.AppendRun(rec)
	if err != nil {
		return rec, fmt.Errorf("append run record: %w", err)
	}
	return stored, nil
}

func needleContent(item bench.Item) string {
	if item.NeedleContent != "" {
		return item.NeedleContent
	}
	return item.Needle
}
