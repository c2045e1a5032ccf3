// Package review builds the priming instruction for a review session and
// extracts actionable suggestions from the assistant's spoken feedback.
package review

import (
	"context"
	"fmt"
	"strings"
)

// RepoFetcher retrieves repository content as a text blob for prompt
// construction. Purely a data source; never part of the protocol core.
type RepoFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// maxRepoContextBytes bounds how much repository text goes into the
// priming instruction.
const maxRepoContextBytes = 64 * 1024

// Template is a named system-priming template for a review style.
type Template struct {
	Name        string
	Description string
	Instruction string
}

var builtins = []Template{
	{
		Name:        "general",
		Description: "balanced review of correctness, clarity and structure",
		Instruction: "You are an experienced software engineer doing a live, spoken code review. " +
			"The user shares their screen and talks through the code. Speak naturally and briefly, " +
			"one observation at a time. Point at concrete lines. Prioritize correctness issues, " +
			"then clarity, then structure.",
	},
	{
		Name:        "security",
		Description: "focus on injection, authz and data handling flaws",
		Instruction: "You are a security engineer doing a live, spoken code review. " +
			"The user shares their screen and talks through the code. Look specifically for " +
			"injection, missing authorization checks, unsafe deserialization and mishandled secrets. " +
			"Speak briefly and name the exact line when you flag something.",
	},
	{
		Name:        "performance",
		Description: "focus on allocation, contention and query patterns",
		Instruction: "You are a performance engineer doing a live, spoken code review. " +
			"The user shares their screen and talks through the code. Look for needless allocation, " +
			"lock contention, unbounded growth and chatty I/O patterns. " +
			"Suggest the cheaper alternative when you flag something.",
	},
}

// Lookup finds a built-in template by name.
func Lookup(name string) (Template, bool) {
	for _, t := range builtins {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}

// Templates lists the built-in templates.
func Templates() []Template {
	out := make([]Template, len(builtins))
	copy(out, builtins)
	return out
}

// BuildInstruction renders the final priming instruction, appending fetched
// repository context when a URL is given. Oversized context is truncated
// rather than rejected.
func BuildInstruction(ctx context.Context, t Template, fetcher RepoFetcher, repoURL string) (string, error) {
	instruction := t.Instruction
	if repoURL == "" {
		return instruction, nil
	}
	if fetcher == nil {
		return "", fmt.Errorf("repository URL given but no fetcher configured")
	}

	content, err := fetcher.Fetch(ctx, repoURL)
	if err != nil {
		return "", fmt.Errorf("fetch repository context: %w", err)
	}
	if len(content) > maxRepoContextBytes {
		content = content[:maxRepoContextBytes]
	}
	if strings.TrimSpace(content) == "" {
		return instruction, nil
	}
	return instruction + "\n\nRepository context:\n" + content, nil
}
