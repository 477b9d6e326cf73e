// Package ai turns a reader's reflections into summaries, themes and book
// suggestions using a hosted language model.
package ai

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/candicemama-blip/thirdshelf/internal/metrics"
)

// Completer sends one prompt to a language model and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

var (
	// ErrNoReflections is returned when there is nothing to work from.
	ErrNoReflections = errors.New("ai: no reflections")
	// ErrUnavailable wraps every provider failure.
	ErrUnavailable = errors.New("ai: unavailable")
)

// MaxFallbackThemes caps the line-split fallback of ExtractThemes.
const MaxFallbackThemes = 5

// Book is the context a prompt is rendered with.
type Book struct {
	Title    string
	Author   string
	Thoughts string
}

// Suggestion is one recommended book.
type Suggestion struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Reason string `json:"reason"`
}

//go:embed prompts.yaml
var promptsYAML []byte

type promptSet struct {
	Summary     string `yaml:"summary"`
	Themes      string `yaml:"themes"`
	Suggestions string `yaml:"suggestions"`
}

type prompts struct {
	summary     *template.Template
	themes      *template.Template
	suggestions *template.Template
}

func loadPrompts(raw []byte) (prompts, error) {
	var set promptSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return prompts{}, fmt.Errorf("parse prompts: %w", err)
	}
	var p prompts
	for _, entry := range []struct {
		name string
		text string
		dst  **template.Template
	}{
		{"summary", set.Summary, &p.summary},
		{"themes", set.Themes, &p.themes},
		{"suggestions", set.Suggestions, &p.suggestions},
	} {
		if strings.TrimSpace(entry.text) == "" {
			return prompts{}, fmt.Errorf("prompt %q is empty", entry.name)
		}
		tmpl, err := template.New(entry.name).Option("missingkey=error").Parse(entry.text)
		if err != nil {
			return prompts{}, fmt.Errorf("parse prompt %q: %w", entry.name, err)
		}
		*entry.dst = tmpl
	}
	return p, nil
}

// Assistant renders prompts, calls the model and parses its replies.
type Assistant struct {
	completer Completer
	prompts   prompts
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewAssistant builds an Assistant allowing ratePerMin calls per minute
// across all callers.
func NewAssistant(c Completer, ratePerMin int, logger *zap.Logger) (*Assistant, error) {
	if c == nil {
		return nil, fmt.Errorf("ai: completer is required")
	}
	if ratePerMin <= 0 {
		ratePerMin = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p, err := loadPrompts(promptsYAML)
	if err != nil {
		return nil, err
	}
	return &Assistant{
		completer: c,
		prompts:   p,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMin)), ratePerMin),
		logger:    logger.Named("ai"),
	}, nil
}

// Summarise writes a short capsule review of the reflections.
func (a *Assistant) Summarise(ctx context.Context, b Book) (string, error) {
	raw, err := a.call(ctx, "summary", a.prompts.summary, b)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// ExtractThemes returns the themes the model found. A reply that is not a
// JSON array falls back to its first non-empty lines.
func (a *Assistant) ExtractThemes(ctx context.Context, b Book) ([]string, error) {
	raw, err := a.call(ctx, "themes", a.prompts.themes, b)
	if err != nil {
		return nil, err
	}
	return ParseThemes(raw), nil
}

// SuggestBooks returns recommendations. A malformed reply yields an empty
// list.
func (a *Assistant) SuggestBooks(ctx context.Context, b Book) ([]Suggestion, error) {
	raw, err := a.call(ctx, "suggestions", a.prompts.suggestions, b)
	if err != nil {
		return nil, err
	}
	return ParseSuggestions(raw), nil
}

func (a *Assistant) call(ctx context.Context, feature string, tmpl *template.Template, b Book) (string, error) {
	if strings.TrimSpace(b.Thoughts) == "" {
		return "", ErrNoReflections
	}

	var prompt bytes.Buffer
	if err := tmpl.Execute(&prompt, b); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", feature, err)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		metrics.AICalls.WithLabelValues(feature, "throttled").Inc()
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	start := time.Now()
	raw, err := a.completer.Complete(ctx, prompt.String())
	metrics.AICalls.WithLabelValues(feature, metrics.Outcome(err)).Inc()
	if err != nil {
		a.logger.Warn("completion failed", zap.String("feature", feature), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	a.logger.Debug("completion", zap.String("feature", feature), zap.Duration("elapsed", time.Since(start)))
	return raw, nil
}

// stripFences removes markdown code fences the model sometimes adds.
func stripFences(raw string) string {
	clean := strings.ReplaceAll(raw, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")
	return strings.TrimSpace(clean)
}

// ParseThemes decodes a JSON string array, falling back to the first
// MaxFallbackThemes non-empty lines of raw.
func ParseThemes(raw string) []string {
	var themes []string
	if err := json.Unmarshal([]byte(stripFences(raw)), &themes); err == nil && themes != nil {
		return themes
	}
	out := make([]string, 0, MaxFallbackThemes)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == MaxFallbackThemes {
			break
		}
	}
	return out
}

// ParseSuggestions decodes a JSON array of suggestions. Anything else yields
// an empty list.
func ParseSuggestions(raw string) []Suggestion {
	var out []Suggestion
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil || out == nil {
		return []Suggestion{}
	}
	return out
}
