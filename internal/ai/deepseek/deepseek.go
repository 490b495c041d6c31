// Package deepseek implements ai.Client against the DeepSeek chat
// completions API (OpenAI-compatible wire format).
package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"studysum/internal/ai"
	"studysum/internal/config"
)

var _ ai.Client = (*Client)(nil)

const (
	endpointChatCompletions = "chat/completions"

	errorSnippetLimit = 400
)

// Per-kind system prompts. The instruction travels in the user message with
// the sanitized document text appended.
const (
	systemSummary = "You are an excellent academic content summarizer. Create comprehensive, clear, and informative summaries that capture all key concepts, main points, and important details from the provided text. Structure your response with proper markdown formatting including headings, subheadings, bullet points, and paragraphs to make it well-organized and easy to read. Ensure the summary represents the entire document content, not just the beginning."
	systemMindMap = "You are an excellent academic content analyzer. Create a well-structured mind map in JSON format that represents the key concepts and their hierarchical relationships from the provided text. The JSON must be valid and have 'name' and 'children' properties for each node. Return ONLY the JSON object with no additional text."
	systemCards   = "You are an excellent academic content analyzer. Create a set of high-quality flashcards in JSON format from the provided text. The JSON must be valid and have a 'flashcards' property which is an array of objects with 'front' and 'back' properties. Return ONLY the JSON object with no additional text."
	systemQuiz    = "You are an excellent academic content analyzer. Create a high-quality multiple-choice quiz in JSON format from the provided text. The JSON must be valid and follow the specified structure exactly. Return ONLY the JSON object with no additional text."

	promptSummary = "Generate a comprehensive and informative summary of the following academic content. Include all key concepts, main points, and important details from the entire document. Structure the summary with clear headings, bullet points, and paragraphs as appropriate. Use markdown formatting to make the summary well-organized and easy to read:\n\n"
	promptMindMap = "Analyze the following academic content and convert it into a hierarchical mind map structure in JSON format. The mind map should have a central topic and multiple levels of branches. Each node should have a 'name' and a 'children' array. Return ONLY a valid JSON object:\n\n"
	promptCards   = "Analyze the following academic content and generate a set of flashcards. Each flashcard should have a 'front' (the question or concept) and a 'back' (the answer or definition). Return ONLY a valid JSON object with a 'flashcards' array:\n\n"
	promptQuiz    = "Analyze the following academic content and generate a multiple-choice quiz. Each question should have 4 options and a 'correctAnswer' that matches one of the options exactly. Return ONLY a valid JSON object with a 'quiz' array:\n\n"
)

// Client implements ai.Client by calling the DeepSeek API.
type Client struct {
	httpClient  *http.Client
	log         *slog.Logger
	baseURL     string
	apiKey      string
	model       string
	retries     int
	backoff     time.Duration
	cooldown    time.Duration
	temperature *float32
	maxTokens   *int

	mu          sync.Mutex
	lastFailure time.Time
}

// New creates a DeepSeek AI client.
func New(log *slog.Logger, cfg config.DeepSeekSettings) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		log:         log,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		retries:     cfg.Retries,
		backoff:     cfg.Backoff,
		cooldown:    cfg.Cooldown,
		temperature: optionalFloat32(cfg.Temperature),
		maxTokens:   optionalInt(cfg.MaxTokens),
	}
}

// Available reports false while the last transport failure is within the
// cooldown window.
func (c *Client) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastFailure.IsZero() {
		return true
	}
	return time.Since(c.lastFailure) >= c.cooldown
}

func (c *Client) markDown() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
}

func (c *Client) markUp() {
	c.mu.Lock()
	c.lastFailure = time.Time{}
	c.mu.Unlock()
}

// Generate sanitizes text, sends the per-kind prompt, and coerces the
// response to the requested artifact shape.
func (c *Client) Generate(ctx context.Context, kind ai.Kind, text string) (ai.Artifact, error) {
	clean := ai.CleanForModel(text)
	if strings.TrimSpace(clean) == "" {
		return ai.Artifact{}, ai.ErrEmptySanitized
	}

	content, err := c.complete(ctx, kind, clean)
	if err != nil {
		return ai.Artifact{}, err
	}

	if kind == ai.KindSummary {
		return ai.Artifact{Kind: kind, Text: ai.CleanResult(content)}, nil
	}

	normalized, err := normalizeJSONArtifact(kind, content)
	if err != nil {
		return ai.Artifact{}, err
	}
	return ai.Artifact{Kind: kind, JSON: normalized}, nil
}

func (c *Client) complete(ctx context.Context, kind ai.Kind, clean string) (string, error) {
	system, prompt := promptsFor(kind)

	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt + clean},
		},
		Stream: false,
	}
	if c.temperature != nil {
		reqBody.Temperature = c.temperature
	}
	if c.maxTokens != nil {
		reqBody.MaxTokens = c.maxTokens
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	u, err := url.JoinPath(c.baseURL, endpointChatCompletions)
	if err != nil {
		return "", fmt.Errorf("join url: %w", err)
	}

	var lastErr error
	backoff := c.backoff
	for attempt := 1; attempt <= c.retries; attempt++ {
		respBytes, status, err := c.send(ctx, u, bodyBytes, kind, attempt)
		if err == nil && status/100 == 2 {
			c.markUp()
			return parseCompletion(respBytes)
		}

		switch {
		case err != nil:
			// No response at all: transport failure or timeout.
			c.markDown()
			lastErr = fmt.Errorf("%w: %v", ai.ErrServiceUnavailable, err)
		case status >= http.StatusInternalServerError:
			lastErr = &ai.RemoteError{Status: status, Message: snippet(respBytes)}
		default:
			// 4xx is not retryable.
			return "", &ai.RemoteError{Status: status, Message: snippet(respBytes)}
		}

		if attempt < c.retries {
			c.log.Warn("ai request failed, retrying",
				"kind", string(kind), "attempt", attempt, "backoff", backoff, "err", lastErr)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ai.ErrServiceUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return "", lastErr
}

func (c *Client) send(ctx context.Context, u string, body []byte, kind ai.Kind, attempt int) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	c.log.Info("ai request", "kind", string(kind), "attempt", attempt, "content_length", len(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	c.log.Info("ai response",
		"kind", string(kind), "status", resp.StatusCode, "bytes", len(respBytes),
		"elapsed_ms", time.Since(start).Milliseconds())
	return respBytes, resp.StatusCode, nil
}

func promptsFor(kind ai.Kind) (system, prompt string) {
	switch kind {
	case ai.KindMindMap:
		return systemMindMap, promptMindMap
	case ai.KindFlashcards:
		return systemCards, promptCards
	case ai.KindQuiz:
		return systemQuiz, promptQuiz
	default:
		return systemSummary, promptSummary
	}
}

func parseCompletion(respBytes []byte) (string, error) {
	var comp chatCompletionResponse
	if err := json.Unmarshal(respBytes, &comp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(comp.Choices) == 0 || comp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("invalid response format from AI service")
	}
	return comp.Choices[0].Message.Content, nil
}

// normalizeJSONArtifact strips markdown code fences, parses the model output
// and coerces it to the expected shape for the kind: mindmap becomes an
// object with a root name, flashcards and quiz become arrays (a wrapping
// object with the matching key is unwrapped).
func normalizeJSONArtifact(kind ai.Kind, content string) (json.RawMessage, error) {
	text := stripCodeFences(content)

	switch kind {
	case ai.KindMindMap:
		var node map[string]any
		if err := json.Unmarshal([]byte(text), &node); err != nil {
			return nil, fmt.Errorf("parse %s json: %w", kind, err)
		}
		if _, ok := node["name"]; !ok {
			node = map[string]any{"name": "Mind Map", "children": node}
		}
		return json.Marshal(node)

	case ai.KindFlashcards, ai.KindQuiz:
		key := "flashcards"
		if kind == ai.KindQuiz {
			key = "quiz"
		}
		var arr []any
		if err := json.Unmarshal([]byte(text), &arr); err == nil {
			return json.Marshal(arr)
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil, fmt.Errorf("parse %s json: %w", kind, err)
		}
		inner, ok := obj[key]
		if !ok {
			return nil, fmt.Errorf("parse %s json: missing %q array", kind, key)
		}
		if err := json.Unmarshal(inner, &arr); err != nil {
			return nil, fmt.Errorf("parse %s json: %q is not an array", kind, key)
		}
		return inner, nil

	default:
		return nil, fmt.Errorf("kind %q has no json artifact", kind)
	}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "JSON")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func snippet(b []byte) string {
	s := string(b)
	if len(s) <= errorSnippetLimit {
		return s
	}
	return s[:errorSnippetLimit] + "..."
}

func optionalFloat32(v float32) *float32 {
	if v == 0 {
		return nil
	}
	return &v
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

// OpenAI-compatible Chat Completions request/response types

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Choices []chatCompletionChoice `json:"choices"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      responseMsg `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type responseMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
