package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
)

const (
	// DefaultBaseURL points at OpenRouter's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	// DefaultModel is the chat model requested when none is configured.
	DefaultModel = "google/gemini-2.0-flash-exp:free"

	defaultRequestTimeout = 30 * time.Second
	defaultTemperature    = 0.7
)

const systemPrompt = "You are a warm, perceptive relationship counselor. You never sound like a machine."

// OpenAIConfig configures OpenAIAnalyzer.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration

	// Referer and Title are sent as OpenRouter attribution headers when set.
	Referer string
	Title   string
}

// OpenAIAnalyzer asks an OpenAI-compatible chat model for the narrative parts of a
// Result. Numbers and tags always come from the local scorer so the model never
// invents a score.
type OpenAIAnalyzer struct {
	client openai.Client
	model  string
	scorer *LocalAnalyzer
}

// NewOpenAIAnalyzer builds an analyzer. Retries are left to the Dispatcher.
func NewOpenAIAnalyzer(cfg OpenAIConfig, scorer *LocalAnalyzer) (*OpenAIAnalyzer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("analysis: api key is required")
	}
	if scorer == nil {
		scorer = NewLocalAnalyzer(nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.Referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.Referer))
	}
	if cfg.Title != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.Title))
	}

	return &OpenAIAnalyzer{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		scorer: scorer,
	}, nil
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, in Input) (Result, error) {
	scores := a.scorer.Score(in)

	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(in, scores)),
		},
		Temperature: openai.Float(defaultTemperature),
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: chat completion: %v", ErrTransientUpstream, err)
	}
	if len(completion.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: empty completion", ErrTransientUpstream)
	}

	text, err := parseReport(completion.Choices[0].Message.Content)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTransientUpstream, err)
	}

	out := Result{
		Score:      scores.Score,
		Title:      text.title,
		Analysis:   text.analysis,
		Tags:       scores.Tags,
		Dimensions: scores.Dimensions,
		Card:       text.card,
	}
	if out.Title == "" {
		out.Title = titleFor(scores.Score)
	}
	if out.Card == "" {
		out.Card = card(in, scores)
	}
	return out, nil
}

func buildPrompt(in Input, s Scores) string {
	dims, _ := json.Marshal(s.Dimensions)
	gaps, _ := json.Marshal(s.Gaps)

	var b strings.Builder
	fmt.Fprintf(&b, "Write a short relationship report for %s and %s.\n\n", in.Initiator.Name, in.Partner.Name)
	fmt.Fprintf(&b, "Match score: %d/100\n", s.Score)
	fmt.Fprintf(&b, "Core tags: %s\n", strings.Join(s.Tags, ", "))
	fmt.Fprintf(&b, "Dimension averages: %s\n", dims)
	fmt.Fprintf(&b, "Dimension gaps: %s\n\n", gaps)
	b.WriteString("Requirements:\n")
	b.WriteString("1. First paragraph: a vivid picture of how they are together.\n")
	b.WriteString("2. Second paragraph: name exactly one risk, based on the largest gap.\n")
	b.WriteString("3. Close with one gentle sentence of encouragement.\n")
	b.WriteString("4. Plain text only, about 200 words.\n\n")
	b.WriteString(`Reply with a single JSON object: {"title": string, "analysis": string, "card": string}. ` +
		"The card is one line suitable for sharing.")
	return b.String()
}

type report struct {
	title    string
	analysis string
	card     string
}

// parseReport extracts the JSON object from a model reply, tolerating code fences
// and surrounding prose.
func parseReport(content string) (report, error) {
	raw := extractObject(content)
	if raw == "" || !gjson.Valid(raw) {
		return report{}, errors.New("model reply is not a JSON object")
	}

	fields := gjson.GetMany(raw, "title", "analysis", "card")
	out := report{
		title:    strings.TrimSpace(fields[0].String()),
		analysis: strings.TrimSpace(fields[1].String()),
		card:     strings.TrimSpace(fields[2].String()),
	}
	if out.analysis == "" {
		return report{}, errors.New("model reply has no analysis text")
	}
	return out, nil
}

func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
