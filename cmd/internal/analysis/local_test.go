package analysis

import (
	"context"
	"slices"
	"strings"
	"testing"
)

func TestLocalAnalyzer_IdenticalAnswersScoreFull(t *testing.T) {
	t.Parallel()

	answers := map[string]string{"q1": "A", "q2": "B", "q3": "A", "q4": "C", "q5": "A", "q6": "B"}
	in := Input{
		SessionID: "s1",
		Initiator: Participant{Name: "Alice", Answers: answers},
		Partner:   Participant{Name: "Bob", Answers: answers},
	}

	res, err := NewLocalAnalyzer(nil).Analyze(context.Background(), in)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Score != 100 {
		t.Fatalf("score=%d want 100", res.Score)
	}
	if res.Title == "" || res.Analysis == "" || res.Card == "" {
		t.Fatalf("expected title, analysis and card, got %+v", res)
	}
	if !strings.Contains(res.Analysis, "Alice") || !strings.Contains(res.Analysis, "Bob") {
		t.Fatalf("narrative should name both participants: %q", res.Analysis)
	}
	// intimacy: q1 A(3)+q3 A(2)+q5 A(5) = 10 for both
	if got := res.Dimensions["intimacy"]; got != 10 {
		t.Fatalf("intimacy=%d want 10", got)
	}
	if !slices.Contains(res.Tags, "Inseparable") {
		t.Fatalf("expected Inseparable tag, got %v", res.Tags)
	}
}

func TestLocalAnalyzer_DifferentAnswersLowerScore(t *testing.T) {
	t.Parallel()

	in := Input{
		Initiator: Participant{Name: "A", Answers: map[string]string{"q1": "A", "q2": "A", "q5": "B"}},
		Partner:   Participant{Name: "B", Answers: map[string]string{"q1": "B", "q2": "B", "q5": "A"}},
	}
	a := NewLocalAnalyzer(nil)
	s := a.Score(in)
	if s.Score <= 0 || s.Score >= 100 {
		t.Fatalf("score=%d want strictly between 0 and 100", s.Score)
	}
	if s.Gaps["intimacy"] == 0 {
		t.Fatalf("expected an intimacy gap, got %v", s.Gaps)
	}
}

func TestLocalAnalyzer_UnknownQuestionsFallBackToAgreement(t *testing.T) {
	t.Parallel()

	in := Input{
		Initiator: Participant{Answers: map[string]string{"x1": "A", "x2": "B"}},
		Partner:   Participant{Answers: map[string]string{"x1": "A", "x2": "A"}},
	}
	s := NewLocalAnalyzer(nil).Score(in)
	if s.Score != 50 {
		t.Fatalf("score=%d want 50", s.Score)
	}
	if len(s.Tags) != 1 || s.Tags[0] != "Balanced Pair" {
		t.Fatalf("tags=%v want default tag", s.Tags)
	}
}

func TestLocalAnalyzer_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLocalAnalyzer(nil).Analyze(ctx, Input{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestTitleFor_Bands(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, s := range []int{100, 85, 70, 50, 0} {
		seen[titleFor(s)] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected four distinct titles, got %v", seen)
	}
}
