// Package catalog loads the question bank: question ids, option labels and the
// per-option dimension weights used by the local scorer.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

var (
	// ErrUnknownQuestion is returned for an answer keyed by a question id the catalog does not have.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrUnknownOption is returned for an option label the question does not offer.
	ErrUnknownOption = errors.New("unknown option")
	// ErrIncomplete is returned when RequireAll is set and a question is unanswered.
	ErrIncomplete = errors.New("missing answers")
	// ErrInvalidCatalog is returned for malformed catalog documents.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// Option is one selectable answer.
type Option struct {
	Label string         `yaml:"label" json:"label"`
	Text  string         `yaml:"text" json:"text"`
	Score map[string]int `yaml:"score" json:"-"`
}

// Question is one catalog entry.
type Question struct {
	ID        string   `yaml:"id" json:"id"`
	Text      string   `yaml:"text" json:"text"`
	Dimension string   `yaml:"dimension" json:"dimension,omitempty"`
	Options   []Option `yaml:"options" json:"options"`
}

// TagRule awards Tag when a dimension's combined score is above a threshold.
type TagRule struct {
	Dimension string `yaml:"dimension" json:"dimension"`
	Above     int    `yaml:"above" json:"above"`
	Tag       string `yaml:"tag" json:"tag"`
}

// Catalog is an immutable, validated question bank.
type Catalog struct {
	Version    string     `yaml:"version" json:"version"`
	Questions  []Question `yaml:"questions" json:"questions"`
	Tags       []TagRule  `yaml:"tags" json:"-"`
	DefaultTag string     `yaml:"default_tag" json:"-"`

	// RequireAll makes ValidateAnswers reject submissions that skip a question.
	RequireAll bool `yaml:"-" json:"-"`

	index map[string]map[string]Option
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default is invalid: %v", err))
	}
	return c
}

// Load reads a YAML catalog from path. An empty path returns Default().
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(c.Questions) == 0 {
		return nil, fmt.Errorf("%w: no questions", ErrInvalidCatalog)
	}

	c.index = make(map[string]map[string]Option, len(c.Questions))
	for _, q := range c.Questions {
		if strings.TrimSpace(q.ID) == "" {
			return nil, fmt.Errorf("%w: question without id", ErrInvalidCatalog)
		}
		if _, dup := c.index[q.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate question %q", ErrInvalidCatalog, q.ID)
		}
		if len(q.Options) < 2 {
			return nil, fmt.Errorf("%w: question %q needs at least two options", ErrInvalidCatalog, q.ID)
		}
		opts := make(map[string]Option, len(q.Options))
		for _, o := range q.Options {
			if strings.TrimSpace(o.Label) == "" {
				return nil, fmt.Errorf("%w: question %q has an option without label", ErrInvalidCatalog, q.ID)
			}
			if _, dup := opts[o.Label]; dup {
				return nil, fmt.Errorf("%w: question %q repeats option %q", ErrInvalidCatalog, q.ID, o.Label)
			}
			opts[o.Label] = o
		}
		c.index[q.ID] = opts
	}
	return &c, nil
}

// ValidateAnswers checks every answer references a known question and option.
// It does not interpret the answers.
func (c *Catalog) ValidateAnswers(answers map[string]string) error {
	ids := make([]string, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		opts, ok := c.index[id]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownQuestion, id)
		}
		if _, ok := opts[answers[id]]; !ok {
			return fmt.Errorf("%w: %q for question %q", ErrUnknownOption, answers[id], id)
		}
	}
	if c.RequireAll {
		for _, q := range c.Questions {
			if _, ok := answers[q.ID]; !ok {
				return fmt.Errorf("%w: %q", ErrIncomplete, q.ID)
			}
		}
	}
	return nil
}

// Weights returns the dimension weights of an option (nil if unknown).
func (c *Catalog) Weights(questionID, label string) map[string]int {
	opts, ok := c.index[questionID]
	if !ok {
		return nil
	}
	return opts[label].Score
}

// Dimensions lists every dimension weighted by any option, sorted.
func (c *Catalog) Dimensions() []string {
	seen := make(map[string]struct{})
	for _, q := range c.Questions {
		for _, o := range q.Options {
			for d := range o.Score {
				seen[d] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// MaxScore is the highest total a single participant can reach on dim.
func (c *Catalog) MaxScore(dim string) int {
	total := 0
	for _, q := range c.Questions {
		best := 0
		for _, o := range q.Options {
			if v := o.Score[dim]; v > best {
				best = v
			}
		}
		total += best
	}
	return total
}
