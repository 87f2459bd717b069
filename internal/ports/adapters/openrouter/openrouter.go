// Package openrouter talks to the OpenRouter chat-completions endpoint.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/forPelevin/clipper/internal/ports"
)

const (
	DefaultModel = "google/gemini-2.5-flash"

	completionsPath = "/api/v1/chat/completions"
	requestTimeout  = 90 * time.Second
	maxErrorBody    = 64 << 10
	maxErrorRunes   = 400
)

// ErrEmptyReply means the model answered without any usable text.
var ErrEmptyReply = errors.New("openrouter: empty reply")

// StatusError is a non-2xx reply. Message is redacted and truncated.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openrouter status %d: %s", e.Code, e.Message)
}

// RateLimited reports whether the upstream asked us to back off.
func (e *StatusError) RateLimited() bool { return e.Code == http.StatusTooManyRequests }

type Adapter struct {
	key      string
	model    string
	endpoint string
	client   *http.Client
}

func New(apiKey, model, baseURL string) *Adapter {
	if model == "" {
		model = DefaultModel
	}
	return &Adapter{
		key:      apiKey,
		model:    model,
		endpoint: normalizeBaseURL(baseURL) + completionsPath,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Stream    bool          `json:"stream"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatReply struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate sends the prompt as a single user message and returns the reply
// text untouched. req.Model overrides the adapter's model when set.
func (a *Adapter) Generate(ctx context.Context, req ports.GenerateRequest) (ports.GenerateResponse, error) {
	model := a.model
	if req.Model != "" {
		model = req.Model
	}
	body, err := json.Marshal(chatRequest{
		Model:     model,
		Messages:  []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens: req.MaxOutputTokens,
	})
	if err != nil {
		return ports.GenerateResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	resp, err := a.post(reqCtx, body)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return ports.GenerateResponse{}, fmt.Errorf("openrouter timeout after %s (model=%s)", requestTimeout, model)
		}
		return ports.GenerateResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return ports.GenerateResponse{}, a.statusError(resp)
	}
	text, err := decodeReply(resp.Body)
	if err != nil {
		return ports.GenerateResponse{}, err
	}
	return ports.GenerateResponse{Text: text}, nil
}

func (a *Adapter) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", "clipper")
	return a.client.Do(req)
}

// statusError prefers the structured {"error":{"message":...}} body OpenRouter
// sends and falls back to the raw text.
func (a *Adapter) statusError(resp *http.Response) error {
	rb, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &StatusError{Code: resp.StatusCode, Message: "unreadable body: " + err.Error()}
	}
	msg := string(rb)
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(rb, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	return &StatusError{Code: resp.StatusCode, Message: truncate(redactSecrets(msg, a.key), maxErrorRunes)}
}

func decodeReply(r io.Reader) (string, error) {
	var reply chatReply
	if err := json.NewDecoder(r).Decode(&reply); err != nil {
		return "", fmt.Errorf("decode openrouter response: %w", err)
	}
	if len(reply.Choices) == 0 {
		return "", errors.New("openrouter: no choices")
	}
	return contentText(reply.Choices[0].Message.Content)
}

// contentText accepts either a plain string or an array of {type,text} parts.
// Parts without text are skipped.
func contentText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("openrouter: unexpected content %s", truncate(string(raw), 40))
	}
	var b strings.Builder
	for _, p := range parts {
		var part struct {
			Text string `json:"text"`
		}
		if json.Unmarshal(p, &part) == nil {
			b.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyReply
	}
	return b.String(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`), "${1}[REDACTED]"},
}

func redactSecrets(s, apiKey string) string {
	if apiKey != "" {
		s = strings.ReplaceAll(s, apiKey, "[REDACTED]")
	}
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}
