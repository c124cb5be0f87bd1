// Package llm calls the external model API and yields values conforming
// to declared schemas, retrying with a repair prompt on validation
// failure and exponential backoff on transient errors.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Config configures one Gateway instance.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	MaxRetries int
	Timeout    time.Duration
}

// Gateway is the structured-output LLM client. It owns a single
// net/http.Client and renders the OpenAI-compatible chat-completions
// request shape; the retry loop is hand-rolled, using
// github.com/cenkalti/backoff/v4 only for its exponential interval
// calculator (NextBackOff) rather than driving retries through the
// package's own Retry function.
type Gateway struct {
	cfg    Config
	client *http.Client
	log    *logrus.Entry
}

func New(cfg Config, log *logrus.Entry) *Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.WithField("component", "llm-gateway"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *responseFmt  `json:"response_format,omitempty"`
}

type responseFmt struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// RunForStructured calls the model with a JSON-output hint, parses the
// response into schema (a pointer to the destination struct), and on
// parse/validation failure appends the bad output plus a repair
// directive to the conversation before retrying, up to cfg.MaxRetries
// times with exponential backoff. HTTP 5xx and timeouts are retried;
// HTTP 4xx is not.
func (g *Gateway) RunForStructured(ctx context.Context, systemPrompt, userInput string, schema any) error {
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt + "\n\nRespond with a single JSON object matching the requested shape."},
		{Role: "user", Content: userInput},
	}

	var lastErr error
	attempt := 0
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 500 * time.Millisecond
	boff.MaxElapsedTime = 0 // bounded by MaxRetries, not wall-clock

	for attempt <= g.cfg.MaxRetries {
		content, err := g.complete(ctx, messages)
		if err != nil {
			var gwErr *Error
			if asError(err, &gwErr) && gwErr.Kind == ErrorHTTP4xx {
				return gwErr
			}
			lastErr = err
			if attempt == g.cfg.MaxRetries {
				break
			}
			g.sleep(ctx, boff)
			attempt++
			continue
		}

		if err := json.Unmarshal([]byte(content), schema); err != nil {
			lastErr = &Error{Kind: ErrorValidation, Message: "response did not match expected schema", Err: err}
			if attempt == g.cfg.MaxRetries {
				break
			}
			messages = append(messages,
				chatMessage{Role: "assistant", Content: content},
				chatMessage{Role: "user", Content: fmt.Sprintf("That response was not valid JSON matching the required shape (%v). Reply again with only the corrected JSON object.", err)},
			)
			g.sleep(ctx, boff)
			attempt++
			continue
		}
		return nil
	}

	if lastErr == nil {
		lastErr = &Error{Kind: ErrorOther, Message: "exhausted retries"}
	}
	return lastErr
}

// RunSimplePrompt invokes the model without JSON-schema enforcement,
// returning the raw text response. Used by synthesis, which does its own
// deterministic-fallback handling rather than schema validation.
func (g *Gateway) RunSimplePrompt(ctx context.Context, prompt string) (string, error) {
	return g.complete(ctx, []chatMessage{{Role: "user", Content: prompt}})
}

func (g *Gateway) complete(ctx context.Context, messages []chatMessage) (string, error) {
	reqBody := chatRequest{
		Model:       g.cfg.Model,
		Messages:    messages,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: 0.1,
	}
	if supportsJSONMode(g.cfg.Model) {
		reqBody.ResponseFormat = &responseFmt{Type: "json_object"}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Kind: ErrorOther, Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: ErrorOther, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &Error{Kind: ErrorTimeout, Message: "request timed out", Err: err}
		}
		return "", &Error{Kind: ErrorOther, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 {
		return "", &Error{Kind: ErrorHTTP5xx, Message: "server error", Status: resp.StatusCode, Err: fmt.Errorf("%s", body)}
	}
	if resp.StatusCode >= 400 {
		return "", &Error{Kind: ErrorHTTP4xx, Message: "client error", Status: resp.StatusCode, Err: fmt.Errorf("%s", body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Error{Kind: ErrorOther, Message: "decode response envelope", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &Error{Kind: ErrorOther, Message: "empty choices in response"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// sleep waits one computed backoff interval, or until ctx is cancelled.
// b supplies only the interval via NextBackOff; this loop is the retry
// driver, not backoff.Retry.
func (g *Gateway) sleep(ctx context.Context, b backoff.BackOff) {
	select {
	case <-ctx.Done():
	case <-time.After(b.NextBackOff()):
	}
}

func asError(err error, target **Error) bool {
	if e, ok := err.(*Error); ok {
		*target = e
		return true
	}
	return false
}

// supportsJSONMode allowlists models known to honor response_format:
// json_object, matching the original client's model-capability check.
func supportsJSONMode(model string) bool {
	switch model {
	case "gpt-4", "gpt-4-turbo", "gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo":
		return true
	default:
		return false
	}
}
