// Package suggest produces reply suggestions for a chat transcript.
package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/npezzotti/galchat/internal/types"
)

const (
	defaultModel       = "deepseek-chat"
	defaultTemperature = 0.75
	defaultMaxTokens   = 512
	defaultMaxRetries  = 4
	defaultTimeout     = 60 * time.Second
	retryBackoff       = 500 * time.Millisecond
)

const systemPrompt = `You help a participant of a group chat decide what to say next.
You are given the recent transcript, one "nickname: text" line per message, and
the nickname of the participant you write for. Propose three short, natural
replies in the language of the conversation. Answer with JSON only, shaped as
{"contents": ["reply one", "reply two", "reply three"]}.`

type Result struct {
	Contents []string `json:"contents"`
	Length   int      `json:"length"`
}

type Generator interface {
	Generate(ctx context.Context, transcript, localUser string) (*Result, error)
}

type Config struct {
	// BaseURL of an OpenAI compatible API, e.g. https://api.deepseek.com/v1.
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// ChatCompletionClient asks a chat completion endpoint for suggestions.
type ChatCompletionClient struct {
	log *log.Logger
	cfg Config
}

func NewChatCompletionClient(logger *log.Logger, cfg Config) *ChatCompletionClient {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &ChatCompletionClient{log: logger, cfg: cfg}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// errRetryable marks failures worth another attempt.
var errRetryable = errors.New("retryable")

func (c *ChatCompletionClient) Generate(ctx context.Context, transcript, localUser string) (*Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return &Result{Contents: []string{}}, nil
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("I am %s.\n\n%s", localUser, transcript)},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryBackoff

	content, err := backoff.Retry(ctx, func() (string, error) {
		content, err := c.complete(ctx, body)
		if err != nil && !errors.Is(err, errRetryable) {
			return "", backoff.Permanent(err)
		}
		return content, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Printf("suggest: attempt failed, retrying in %s: %v", next.Round(time.Millisecond), err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrService, err)
	}

	return parseResult(content)
}

func (c *ChatCompletionClient) complete(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError {
		io.Copy(io.Discard, res.Body)
		return "", fmt.Errorf("%w: status %d", errRetryable, res.StatusCode)
	}
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}

	var payload chatResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("empty response")
	}

	return payload.Choices[0].Message.Content, nil
}

// parseResult extracts the JSON object from a model reply, tolerating code
// fences and surrounding prose.
func parseResult(content string) (*Result, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: reply is not JSON", types.ErrService)
	}

	var r Result
	if err := json.Unmarshal([]byte(content[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("%w: decode reply: %v", types.ErrService, err)
	}
	if r.Contents == nil {
		r.Contents = []string{}
	}
	r.Length = len(r.Contents)

	return &r, nil
}

// Line is one transcript entry.
type Line struct {
	Nickname string
	Text     string
}

// Transcript renders lines as "nickname: text", one per line.
func Transcript(lines []Line) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Nickname)
		b.WriteString(": ")
		b.WriteString(l.Text)
	}
	return b.String()
}
