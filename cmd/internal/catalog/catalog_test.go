package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	c := Default()
	if len(c.Questions) == 0 {
		t.Fatalf("expected default questions")
	}
	want := []string{"conflict_direct", "frugality", "independence", "intimacy"}
	if got := c.Dimensions(); !slices.Equal(got, want) {
		t.Fatalf("Dimensions()=%v want %v", got, want)
	}
	if got := c.MaxScore("intimacy"); got != 5+0+2+3+5+0 {
		t.Fatalf("MaxScore(intimacy)=%d", got)
	}
}

func TestValidateAnswers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		requireAll bool
		answers    map[string]string
		want       error
	}{
		{name: "subset ok", answers: map[string]string{"q1": "A", "q2": "B"}},
		{name: "unknown question", answers: map[string]string{"q99": "A"}, want: ErrUnknownQuestion},
		{name: "unknown option", answers: map[string]string{"q1": "Z"}, want: ErrUnknownOption},
		{name: "require all missing", requireAll: true, answers: map[string]string{"q1": "A"}, want: ErrIncomplete},
		{
			name:       "require all complete",
			requireAll: true,
			answers:    map[string]string{"q1": "A", "q2": "A", "q3": "B", "q4": "C", "q5": "A", "q6": "B"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			c.RequireAll = tc.requireAll
			err := c.ValidateAnswers(tc.answers)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":        `version: x`,
		"duplicate id": "questions:\n  - id: a\n    options: [{label: A}, {label: B}]\n  - id: a\n    options: [{label: A}, {label: B}]\n",
		"one option":   "questions:\n  - id: a\n    options: [{label: A}]\n",
		"dup label":    "questions:\n  - id: a\n    options: [{label: A}, {label: A}]\n",
		"bad yaml":     "questions: [",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalidCatalog) {
			t.Fatalf("%s: err=%v want ErrInvalidCatalog", name, err)
		}
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := "questions:\n  - id: x1\n    options:\n      - {label: A, score: {warmth: 2}}\n      - {label: B, score: {warmth: 4}}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.Weights("x1", "B")["warmth"]; got != 4 {
		t.Fatalf("weight=%d want 4", got)
	}
	if c.Weights("nope", "A") != nil {
		t.Fatalf("expected nil weights for unknown question")
	}
}
