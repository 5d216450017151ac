// Package promptopt rewrites a user's prompt before dispatch to an
// image-generation provider: translating non-English prompts and
// expanding terse ones via an OpenAI-compatible chat-completions
// endpoint. Its HTTP client construction and error shape follow the
// same recipe as the teacher's per-vendor chat adapters.
package promptopt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultMaxLength  = 5000
	defaultTimeout    = 30 * time.Second
	translateASCIIMin = 0.70
)

// Config carries the subset of imggateway.PromptOptimizerConfig this
// package needs; the caller (the config store) supplies it per call so
// a hot-reloaded setting takes effect on the next request.
type Config struct {
	BaseURL            string
	APIKey             string
	Model              string
	EnableTranslate    bool
	EnableExpand       bool
	TranslatePrompt    string
	ExpandPrompt       string
	TranslateMaxLength int
	ExpandMaxLength    int
}

// Optimizer calls a chat-completions endpoint to translate and/or expand
// prompts.
type Optimizer struct {
	http *http.Client
}

// New returns an Optimizer using a client with the given timeout; zero
// uses defaultTimeout.
func New(timeout time.Duration) *Optimizer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Optimizer{http: &http.Client{Timeout: timeout}}
}

// Result is the per-image-index optimized prompt.
type Result struct {
	ImageIndex int
	Prompt     string
}

// OptimizeAll runs the configured translate/expand pipeline n times, once
// per image index, so a multi-image request can receive n independent
// expansions. strict, when true, propagates the last error instead of
// falling back to the original prompt (used by the admin test-connection
// endpoint).
func (o *Optimizer) OptimizeAll(ctx context.Context, cfg Config, prompt string, n int, strict bool) ([]Result, error) {
	if n < 1 {
		n = 1
	}
	results := make([]Result, n)
	var lastErr error
	for i := 0; i < n; i++ {
		out, err := o.optimizeOne(ctx, cfg, prompt, i)
		if err != nil {
			lastErr = err
			if strict {
				return nil, err
			}
			out = prompt
		}
		results[i] = Result{ImageIndex: i, Prompt: out}
	}
	if strict && lastErr != nil {
		return nil, lastErr
	}
	return results, nil
}

func (o *Optimizer) optimizeOne(ctx context.Context, cfg Config, prompt string, imageIndex int) (string, error) {
	current := prompt

	if cfg.EnableTranslate && !isEnglishLike(current) {
		translated, err := o.call(ctx, cfg, cfg.TranslatePrompt, truncate(current, cfg.TranslateMaxLength), imageIndex)
		if err != nil {
			return prompt, err
		}
		current = translated
	}

	if cfg.EnableExpand {
		expanded, err := o.call(ctx, cfg, cfg.ExpandPrompt, truncate(current, cfg.ExpandMaxLength), imageIndex)
		if err != nil {
			return current, err
		}
		current = stripMarkdown(expanded)
	}

	return current, nil
}

// isEnglishLike reports whether at least translateASCIIMin of prompt's
// bytes are ASCII, the heuristic the spec uses to decide whether
// translation is needed at all.
func isEnglishLike(prompt string) bool {
	if prompt == "" {
		return true
	}
	ascii := 0
	for i := 0; i < len(prompt); i++ {
		if prompt[i] < 0x80 {
			ascii++
		}
	}
	return float64(ascii)/float64(len(prompt)) >= translateASCIIMin
}

func truncate(s string, max int) string {
	if max <= 0 {
		max = defaultMaxLength
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}

var markdownStripers = []struct {
	old, new string
}{
	{"**", ""},
	{"__", ""},
	{"##", ""},
	{"#", ""},
	{"`", ""},
}

// stripMarkdown removes the common Markdown emphasis/heading/code markers
// and leading list bullets the optimizer's LLM tends to add.
func stripMarkdown(s string) string {
	for _, r := range markdownStripers {
		s = strings.ReplaceAll(s, r.old, r.new)
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		trimmed = strings.TrimPrefix(trimmed, "- ")
		trimmed = strings.TrimPrefix(trimmed, "* ")
		lines[i] = trimmed
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// call invokes the configured chat-completions endpoint once. On a
// connection-refused error against a localhost base URL it retries once
// against host.docker.internal, the fix for containers whose upstream
// runs on the host network namespace.
func (o *Optimizer) call(ctx context.Context, cfg Config, systemPrompt, userPrompt string, imageIndex int) (string, error) {
	url := completionsURL(cfg.BaseURL)
	content, err := o.post(ctx, url, cfg.APIKey, cfg.Model, systemPrompt, userPrompt, imageIndex)
	if err == nil {
		return content, nil
	}
	if !isConnRefused(err) || !isLocalhost(cfg.BaseURL) {
		return "", err
	}
	retryURL := completionsURL(strings.NewReplacer("localhost", "host.docker.internal", "127.0.0.1", "host.docker.internal").Replace(cfg.BaseURL))
	return o.post(ctx, retryURL, cfg.APIKey, cfg.Model, systemPrompt, userPrompt, imageIndex)
}

func (o *Optimizer) post(ctx context.Context, url, apiKey, model, systemPrompt, userPrompt string, imageIndex int) (string, error) {
	reqBody := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("[imageIndex=%d] %s", imageIndex, userPrompt)},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("promptopt: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("promptopt: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := o.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", fmt.Errorf("promptopt: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("promptopt: upstream returned %d: %s", resp.StatusCode, buf.String())
	}

	content := gjson.GetBytes(buf.Bytes(), "choices.0.message.content").String()
	if content == "" {
		return "", fmt.Errorf("promptopt: empty completion content")
	}
	return content, nil
}

// completionsURL derives the chat-completions endpoint from a configured
// base URL, handling the three shapes the spec calls out.
func completionsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasSuffix(base, "/chat/completions"):
		return base
	case strings.HasSuffix(base, "/v1"):
		return base + "/chat/completions"
	default:
		return base + "/v1/chat/completions"
	}
}

func isLocalhost(base string) bool {
	return strings.Contains(base, "localhost") || strings.Contains(base, "127.0.0.1")
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.ECONNREFUSED)
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
