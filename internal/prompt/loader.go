package prompt

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/re3-harness/internal/bench"
)

// DefaultSeparator sits between repetitions of the prompt
const DefaultSeparator = "\n\nRead the question again:\n\n"

// TemplateMeta holds frontmatter metadata for a prompt template
type TemplateMeta struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Loader resolves prompt templates, checking override directories before
// the embedded defaults.
type Loader struct {
	overrideDirs []string
	cache        map[string]*template.Template
	metaCache    map[string]*TemplateMeta
	mu           sync.RWMutex
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*TemplateMeta),
	}
}

// DefaultLoader checks the repo-local .re3/prompts/ directory, then
// ~/.config/re3/prompts/, before the embedded templates.
func DefaultLoader(repoRoot string) *Loader {
	home, _ := os.UserHomeDir()
	var dirs []string
	if repoRoot != "" {
		dirs = append(dirs, filepath.Join(repoRoot, ".re3", "prompts"))
	}
	dirs = append(dirs, filepath.Join(home, ".config", "re3", "prompts"))
	return NewLoader(dirs...)
}

func (l *Loader) loadContent(path string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, filepath.Base(path))); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, path)
}

// parseFrontmatter splits content into frontmatter and body
func parseFrontmatter(content []byte) (*TemplateMeta, string, error) {
	str := string(content)
	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil
	}
	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil
	}

	var meta TemplateMeta
	if err := yaml.Unmarshal([]byte(str[4:4+end]), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return &meta, str[4+end+5:], nil
}

// LoadTemplate loads and compiles the template for a benchmark
func (l *Loader) LoadTemplate(benchmark string) (*template.Template, *TemplateMeta, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[benchmark]; ok {
		meta := l.metaCache[benchmark]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	path := "templates/" + benchmark + ".md"
	content, err := l.loadContent(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	tmpl, err := template.New(benchmark).Parse(strings.TrimRight(body, "\n"))
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[benchmark] = tmpl
	l.metaCache[benchmark] = meta
	l.mu.Unlock()
	return tmpl, meta, nil
}

type templateData struct {
	Question string
	Context  string
	Choices  string
	Endings  string
}

// Format renders a benchmark item into the prompt text sent to the model
func (l *Loader) Format(item bench.Item) (string, error) {
	tmpl, _, err := l.LoadTemplate(item.Benchmark)
	if err != nil {
		return "", err
	}

	data := templateData{Question: item.Question, Context: item.Context}
	if len(item.Choices) > 0 {
		var lines []string
		for i, c := range item.Choices {
			lines = append(lines, fmt.Sprintf("%c. %s", 'A'+i, c))
		}
		data.Choices = strings.Join(lines, "\n")
	}
	if len(item.Endings) > 0 {
		var lines []string
		for i, e := range item.Endings {
			lines = append(lines, fmt.Sprintf("%d. %s", i, e))
		}
		data.Endings = strings.Join(lines, "\n")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s template: %w", item.Benchmark, err)
	}
	return buf.String(), nil
}

// ClearCache drops compiled templates so overrides are re-read
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.metaCache = make(map[string]*TemplateMeta)
	l.mu.Unlock()
}

// Assemble builds the repeated prompt from pattern characters: 'A' emits
// the original text, 'B' the re-tokenized variant.
func Assemble(promptA, promptB, pattern, separator string) (string, error) {
	parts := make([]string, 0, len(pattern))
	for _, ch := range pattern {
		switch ch {
		case 'A':
			parts = append(parts, promptA)
		case 'B':
			if promptB == "" {
				return "", fmt.Errorf("pattern %q requires a B variant", pattern)
			}
			parts = append(parts, promptB)
		default:
			return "", fmt.Errorf("invalid pattern character %q in %q", ch, pattern)
		}
	}
	return strings.Join(parts, separator), nil
}
