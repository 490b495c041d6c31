// Package mock provides an ai.Client with canned responses for local
// development and tests.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"studysum/internal/ai"
)

var _ ai.Client = (*Client)(nil)

// Client returns deterministic artifacts without calling any remote service.
type Client struct {
	delay  time.Duration
	prefix string
}

func New(delay time.Duration, prefix string) *Client {
	if prefix == "" {
		prefix = "[mock]"
	}
	return &Client{delay: delay, prefix: prefix}
}

func (c *Client) Available() bool { return true }

func (c *Client) Generate(ctx context.Context, kind ai.Kind, text string) (ai.Artifact, error) {
	clean := ai.CleanForModel(text)
	if strings.TrimSpace(clean) == "" {
		return ai.Artifact{}, ai.ErrEmptySanitized
	}

	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return ai.Artifact{}, ctx.Err()
		case <-time.After(c.delay):
		}
	}

	switch kind {
	case ai.KindSummary:
		return ai.Artifact{
			Kind: kind,
			Text: fmt.Sprintf("%s # Summary\n\nThe document contains %d characters of extracted text.", c.prefix, len(clean)),
		}, nil
	case ai.KindMindMap:
		return ai.Artifact{Kind: kind, JSON: mustJSON(map[string]any{
			"name": c.prefix + " Mind Map",
			"children": []map[string]any{
				{"name": "Topic A", "children": []any{}},
				{"name": "Topic B", "children": []any{}},
			},
		})}, nil
	case ai.KindFlashcards:
		return ai.Artifact{Kind: kind, JSON: mustJSON([]map[string]string{
			{"front": c.prefix + " What is the main topic?", "back": "See document."},
		})}, nil
	case ai.KindQuiz:
		return ai.Artifact{Kind: kind, JSON: mustJSON([]map[string]any{
			{
				"question":      c.prefix + " Which option is correct?",
				"options":       []string{"A", "B", "C", "D"},
				"correctAnswer": "A",
			},
		})}, nil
	default:
		return ai.Artifact{}, fmt.Errorf("unknown artifact kind %q", kind)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
