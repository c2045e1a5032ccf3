package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// Suggestion is one actionable item extracted from the assistant's spoken
// feedback.
type Suggestion struct {
	Text string
}

// generator is the narrow slice of the text model the extractor needs.
// The genai client implements it; tests substitute a canned one.
type generator interface {
	generate(ctx context.Context, prompt string) (string, error)
}

// Extractor turns flushed assistant utterances into suggestions via a text
// model. Extraction failures are logged and dropped, never fatal to the
// session.
type Extractor struct {
	gen    generator
	logger *slog.Logger
}

const extractPrompt = `The following is something a code reviewer said aloud during a live review.
Extract the concrete, actionable suggestions as a list, one per line, each
line starting with "- ". If nothing actionable was said, reply with exactly
"NONE".

Reviewer said:
%s`

// NewExtractor builds an extractor over the Gemini API.
func NewExtractor(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Extractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init suggestion model client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		gen:    &genaiGenerator{client: client, model: model},
		logger: logger,
	}, nil
}

// newExtractorWithGenerator is the test seam.
func newExtractorWithGenerator(gen generator, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{gen: gen, logger: logger}
}

// Extract pulls actionable suggestions from one utterance. Short
// interjections are skipped without a model call.
func (e *Extractor) Extract(ctx context.Context, utterance string) ([]Suggestion, error) {
	utterance = strings.TrimSpace(utterance)
	if len(utterance) < 20 {
		return nil, nil
	}

	reply, err := e.gen.generate(ctx, fmt.Sprintf(extractPrompt, utterance))
	if err != nil {
		return nil, fmt.Errorf("extract suggestions: %w", err)
	}
	return parseSuggestions(reply), nil
}

// Sink adapts the extractor to a per-utterance callback. Failures are
// logged and the utterance is dropped.
func (e *Extractor) Sink(ctx context.Context, out func(Suggestion)) func(string) {
	return func(utterance string) {
		suggestions, err := e.Extract(ctx, utterance)
		if err != nil {
			e.logger.Warn("suggestion extraction failed", "error", err)
			return
		}
		for _, s := range suggestions {
			out(s)
		}
	}
}

func parseSuggestions(reply string) []Suggestion {
	reply = strings.TrimSpace(reply)
	if reply == "" || strings.EqualFold(reply, "NONE") {
		return nil
	}
	var out []Suggestion
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line == "" || strings.EqualFold(line, "NONE") {
			continue
		}
		out = append(out, Suggestion{Text: line})
	}
	return out
}

// genaiGenerator backs the extractor with Models.GenerateContent.
type genaiGenerator struct {
	client *genai.Client
	model  string
}

func (g *genaiGenerator) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
