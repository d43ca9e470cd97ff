package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fakeCompletion(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return body
}

func testInput() Input {
	return Input{
		SessionID: "s1",
		Initiator: Participant{Name: "Alice", Answers: map[string]string{"q1": "A", "q2": "B"}},
		Partner:   Participant{Name: "Bob", Answers: map[string]string{"q1": "A", "q2": "A"}},
	}
}

func TestOpenAIAnalyzer_ParsesFencedReply(t *testing.T) {
	t.Parallel()

	var gotAuth, gotTitle atomic.Value
	var gotPrompt atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		gotAuth.Store(r.Header.Get("Authorization"))
		gotTitle.Store(r.Header.Get("X-Title"))
		body, _ := io.ReadAll(r.Body)
		gotPrompt.Store(string(body))

		reply := "Here you go:\n```json\n{\"title\":\"Quiet Harbor\",\"analysis\":\"You two fit.\",\"card\":\"A & B\"}\n```"
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(fakeCompletion(reply))
	}))
	defer srv.Close()

	a, err := NewOpenAIAnalyzer(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
		Title:   "duet",
	}, nil)
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}

	res, err := a.Analyze(context.Background(), testInput())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Title != "Quiet Harbor" || res.Analysis != "You two fit." || res.Card != "A & B" {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := NewLocalAnalyzer(nil).Score(testInput())
	if res.Score != want.Score {
		t.Fatalf("score=%d want local score %d", res.Score, want.Score)
	}
	if got := gotAuth.Load().(string); got != "Bearer sk-test" {
		t.Fatalf("authorization=%q", got)
	}
	if got := gotTitle.Load().(string); got != "duet" {
		t.Fatalf("x-title=%q", got)
	}
	if prompt := gotPrompt.Load().(string); !strings.Contains(prompt, "Alice") {
		t.Fatalf("prompt should mention participants: %s", prompt)
	}
}

func TestOpenAIAnalyzer_FailuresAreTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write(fakeCompletion("sorry, I cannot help with that"))
			},
		},
		{
			name: "missing analysis",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write(fakeCompletion(`{"title":"x"}`))
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			a, err := NewOpenAIAnalyzer(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Timeout: 5 * time.Second}, nil)
			if err != nil {
				t.Fatalf("new analyzer: %v", err)
			}
			_, err = a.Analyze(context.Background(), testInput())
			if !errors.Is(err, ErrTransientUpstream) {
				t.Fatalf("err=%v want ErrTransientUpstream", err)
			}
		})
	}
}

func TestNewOpenAIAnalyzer_RequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewOpenAIAnalyzer(OpenAIConfig{}, nil); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestParseReport_ToleratesSurroundingProse(t *testing.T) {
	t.Parallel()

	r, err := parseReport(`prefix {"analysis":"ok"} suffix`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.analysis != "ok" || r.title != "" {
		t.Fatalf("unexpected report: %+v", r)
	}
}
