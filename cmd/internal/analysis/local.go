package analysis

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"duet/cmd/internal/catalog"
)

// fallbackTag is used when no catalog rule matches and the catalog names no default.
const fallbackTag = "Balanced Pair"

// LocalAnalyzer scores a pair against the catalog weights without any network call.
type LocalAnalyzer struct {
	catalog *catalog.Catalog
}

// NewLocalAnalyzer returns a scorer backed by c. A nil catalog uses catalog.Default().
func NewLocalAnalyzer(c *catalog.Catalog) *LocalAnalyzer {
	if c == nil {
		c = catalog.Default()
	}
	return &LocalAnalyzer{catalog: c}
}

// Analyze never fails for well-formed input; it honors ctx cancellation only.
func (a *LocalAnalyzer) Analyze(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s := a.Score(in)
	return Result{
		Score:      s.Score,
		Title:      titleFor(s.Score),
		Analysis:   narrative(in, s),
		Tags:       s.Tags,
		Dimensions: s.Dimensions,
		Card:       card(in, s),
	}, nil
}

// Scores is the numeric part of a Result.
type Scores struct {
	Score      int
	Tags       []string
	Dimensions map[string]int
	// Gaps holds the absolute per-dimension difference between the two participants.
	Gaps map[string]int
}

// Score computes headline score, radar dimensions and tags.
func (a *LocalAnalyzer) Score(in Input) Scores {
	left := a.sums(in.Initiator.Answers)
	right := a.sums(in.Partner.Answers)

	dims := a.catalog.Dimensions()
	out := Scores{
		Dimensions: make(map[string]int, len(dims)),
		Gaps:       make(map[string]int, len(dims)),
	}

	var gapSum float64
	weighted := 0
	for _, d := range dims {
		l, r := left[d], right[d]
		out.Dimensions[d] = int(math.Round(float64(l+r) / 2))
		gap := l - r
		if gap < 0 {
			gap = -gap
		}
		out.Gaps[d] = gap

		ceiling := a.catalog.MaxScore(d)
		if ceiling <= 0 || (l == 0 && r == 0) {
			continue
		}
		gapSum += float64(gap) / float64(ceiling)
		weighted++
	}

	if weighted > 0 {
		out.Score = clampScore(int(math.Round(100 - 100*gapSum/float64(weighted))))
	} else {
		out.Score = agreement(in.Initiator.Answers, in.Partner.Answers)
	}

	for _, rule := range a.catalog.Tags {
		if out.Dimensions[rule.Dimension] > rule.Above {
			out.Tags = append(out.Tags, rule.Tag)
		}
	}
	if len(out.Tags) == 0 {
		tag := a.catalog.DefaultTag
		if tag == "" {
			tag = fallbackTag
		}
		out.Tags = []string{tag}
	}
	return out
}

func (a *LocalAnalyzer) sums(answers map[string]string) map[string]int {
	out := make(map[string]int)
	for qid, label := range answers {
		for d, v := range a.catalog.Weights(qid, label) {
			out[d] += v
		}
	}
	return out
}

// agreement is the share of common questions answered identically, 0-100.
func agreement(a, b map[string]string) int {
	common, same := 0, 0
	for k, v := range a {
		w, ok := b[k]
		if !ok {
			continue
		}
		common++
		if v == w {
			same++
		}
	}
	if common == 0 {
		return 0
	}
	return clampScore(int(math.Round(100 * float64(same) / float64(common))))
}

func clampScore(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func titleFor(score int) string {
	switch {
	case score >= 85:
		return "Two Halves of One Map"
	case score >= 70:
		return "Steady Harbor"
	case score >= 50:
		return "Learning Each Other's Language"
	default:
		return "Opposites in Orbit"
	}
}

func narrative(in Input, s Scores) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s and %s share a %d%% match. ", in.Initiator.Name, in.Partner.Name, s.Score)

	if widest, gap := widestGap(s.Gaps); gap > 0 {
		fmt.Fprintf(&b, "Your biggest difference is %s, worth an honest conversation before it turns into friction. ",
			strings.ReplaceAll(widest, "_", " "))
	} else {
		b.WriteString("Your answers line up closely across every area we looked at. ")
	}
	fmt.Fprintf(&b, "What defines you: %s.", strings.Join(s.Tags, ", "))
	return b.String()
}

func card(in Input, s Scores) string {
	return fmt.Sprintf("%s & %s · %d%% · %s", in.Initiator.Name, in.Partner.Name, s.Score, strings.Join(s.Tags, " / "))
}

func widestGap(gaps map[string]int) (string, int) {
	keys := make([]string, 0, len(gaps))
	for k := range gaps {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	best, bestGap := "", 0
	for _, k := range keys {
		if gaps[k] > bestGap {
			best, bestGap = k, gaps[k]
		}
	}
	return best, bestGap
}
