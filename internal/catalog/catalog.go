// Package catalog defines the slice universe: which (configuration,
// strategy, benchmark) triples are valid experimental units. The universe
// is data, not code; it lives in an embedded YAML manifest and is validated
// at load time.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/re3-harness/internal/domain"
)

//go:embed manifest.yaml
var manifestYAML []byte

// Config is a prompt repetition pattern
type Config struct {
	ID      string `yaml:"id"`
	Pattern string `yaml:"pattern"`
}

// Strategy is a re-tokenization strategy. An empty Benchmarks list means
// the strategy applies to every benchmark.
type Strategy struct {
	ID         string   `yaml:"id"`
	Benchmarks []string `yaml:"benchmarks"`
}

// Phase is a priority ordering for phased execution
type Phase struct {
	ID              string   `yaml:"id"`
	BaselineConfigs []string `yaml:"baseline_configs"`
	KeyConfigs      []string `yaml:"key_configs"`
	TopStrategies   []string `yaml:"top_strategies"`
	FillBenchmark   string   `yaml:"fill_benchmark"`
}

type manifest struct {
	Configs    []Config   `yaml:"configs"`
	Strategies []Strategy `yaml:"strategies"`
	Benchmarks []string   `yaml:"benchmarks"`
	Phases     []Phase    `yaml:"phases"`
}

// Catalog is the validated slice universe
type Catalog struct {
	Configs    []Config
	Strategies []Strategy
	Benchmarks []string

	patterns   map[string]string
	strategies map[string]Strategy
	benchmarks map[string]bool
	phases     map[string]Phase
}

// Load parses and validates the embedded manifest. Any reference to an
// unknown config, strategy or benchmark is an error; callers treat it as
// fatal at startup.
func Load() (*Catalog, error) {
	return parse(manifestYAML)
}

func parse(data []byte) (*Catalog, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse catalog manifest: %w", err)
	}
	if len(m.Configs) == 0 || len(m.Strategies) == 0 || len(m.Benchmarks) == 0 {
		return nil, fmt.Errorf("catalog manifest incomplete: needs configs, strategies and benchmarks")
	}

	c := &Catalog{
		Configs:    m.Configs,
		Strategies: m.Strategies,
		Benchmarks: m.Benchmarks,
		patterns:   make(map[string]string),
		strategies: make(map[string]Strategy),
		benchmarks: make(map[string]bool),
		phases:     make(map[string]Phase),
	}

	for _, b := range m.Benchmarks {
		if c.benchmarks[b] {
			return nil, fmt.Errorf("catalog: duplicate benchmark %q", b)
		}
		c.benchmarks[b] = true
	}
	for _, cfg := range m.Configs {
		if _, dup := c.patterns[cfg.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate config %q", cfg.ID)
		}
		if cfg.Pattern == "" || len(cfg.Pattern) > 3 || strings.Trim(cfg.Pattern, "AB") != "" {
			return nil, fmt.Errorf("catalog: config %q has invalid pattern %q", cfg.ID, cfg.Pattern)
		}
		c.patterns[cfg.ID] = cfg.Pattern
	}
	for _, s := range m.Strategies {
		if _, dup := c.strategies[s.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate strategy %q", s.ID)
		}
		for _, b := range s.Benchmarks {
			if !c.benchmarks[b] {
				return nil, fmt.Errorf("catalog: strategy %q restricted to unknown benchmark %q", s.ID, b)
			}
		}
		c.strategies[s.ID] = s
	}
	for _, p := range m.Phases {
		for _, id := range append(append([]string{}, p.BaselineConfigs...), p.KeyConfigs...) {
			if _, ok := c.patterns[id]; !ok {
				return nil, fmt.Errorf("catalog: phase %q references unknown config %q", p.ID, id)
			}
		}
		for _, id := range p.TopStrategies {
			if _, ok := c.strategies[id]; !ok {
				return nil, fmt.Errorf("catalog: phase %q references unknown strategy %q", p.ID, id)
			}
		}
		if p.FillBenchmark != "" && !c.benchmarks[p.FillBenchmark] {
			return nil, fmt.Errorf("catalog: phase %q references unknown benchmark %q", p.ID, p.FillBenchmark)
		}
		c.phases[p.ID] = p
	}

	return c, nil
}

// Pattern returns the repetition pattern for a config ID
func (c *Catalog) Pattern(configID string) (string, bool) {
	p, ok := c.patterns[configID]
	return p, ok
}

// applicable implements the pairing rules: the baseline strategy "none"
// pairs exactly with the patterns that have no B segment, and a
// benchmark-restricted strategy only pairs with its listed benchmarks.
func (c *Catalog) applicable(pattern, strategyID, benchmark string) bool {
	usesB := strings.Contains(pattern, "B")
	if (strategyID == "none") == usesB {
		return false
	}
	s, ok := c.strategies[strategyID]
	if !ok {
		return false
	}
	if len(s.Benchmarks) > 0 {
		for _, b := range s.Benchmarks {
			if b == benchmark {
				return true
			}
		}
		return false
	}
	return c.benchmarks[benchmark]
}

// Slices enumerates every valid slice in deterministic manifest order,
// each with the given target item count.
func (c *Catalog) Slices(target int) []domain.Slice {
	var out []domain.Slice
	for _, cfg := range c.Configs {
		for _, s := range c.Strategies {
			for _, b := range c.Benchmarks {
				if !c.applicable(cfg.Pattern, s.ID, b) {
					continue
				}
				out = append(out, domain.Slice{
					ConfigID:  cfg.ID,
					Pattern:   cfg.Pattern,
					Strategy:  s.ID,
					Benchmark: b,
					Target:    target,
				})
			}
		}
	}
	return out
}

// Find resolves a slice key against the universe
func (c *Catalog) Find(key string, target int) (domain.Slice, error) {
	configID, strategy, benchmark, err := domain.ParseSliceKey(key)
	if err != nil {
		return domain.Slice{}, err
	}
	pattern, ok := c.patterns[configID]
	if !ok {
		return domain.Slice{}, fmt.Errorf("unknown config %q in slice %q", configID, key)
	}
	if !c.applicable(pattern, strategy, benchmark) {
		return domain.Slice{}, fmt.Errorf("slice %q is not in the universe", key)
	}
	return domain.Slice{
		ConfigID:  configID,
		Pattern:   pattern,
		Strategy:  strategy,
		Benchmark: benchmark,
		Target:    target,
	}, nil
}

// Priority returns slice keys in execution priority order for a phase:
// baselines across all benchmarks, then key configs with the phase's top
// strategies, then the remaining configs on the fill benchmark only.
// An unknown phase yields an empty list.
func (c *Catalog) Priority(phase string) []string {
	p, ok := c.phases[phase]
	if !ok {
		return nil
	}

	var keys []string
	seen := func(configID string, ids []string) bool {
		for _, id := range ids {
			if id == configID {
				return true
			}
		}
		return false
	}

	for _, b := range c.Benchmarks {
		for _, id := range p.BaselineConfigs {
			keys = append(keys, fmt.Sprintf("%s_none_%s", id, b))
		}
	}

	for _, id := range p.KeyConfigs {
		pattern := c.patterns[id]
		for _, s := range p.TopStrategies {
			for _, b := range c.Benchmarks {
				if c.applicable(pattern, s, b) {
					keys = append(keys, fmt.Sprintf("%s_%s_%s", id, s, b))
				}
			}
		}
	}

	if p.FillBenchmark != "" {
		for _, cfg := range c.Configs {
			if seen(cfg.ID, p.BaselineConfigs) || seen(cfg.ID, p.KeyConfigs) {
				continue
			}
			if strings.Contains(cfg.Pattern, "B") {
				for _, s := range p.TopStrategies {
					if c.applicable(cfg.Pattern, s, p.FillBenchmark) {
						keys = append(keys, fmt.Sprintf("%s_%s_%s", cfg.ID, s, p.FillBenchmark))
					}
				}
			} else {
				keys = append(keys, fmt.Sprintf("%s_none_%s", cfg.ID, p.FillBenchmark))
			}
		}
	}

	return keys
}
