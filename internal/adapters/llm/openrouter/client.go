// Package openrouter implements ports.CodeGenerator against an
// OpenAI-compatible chat completion endpoint.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	v1 "scenegen/internal/contracts/openrouter/v1"
	"scenegen/internal/pkg/errors"
	"scenegen/internal/pkg/logger"
	"scenegen/internal/pkg/metrics"
)

// SystemPrompt constrains the model to a single short scene.
const SystemPrompt = `You are an expert Manim script writer.
Return valid Python 3.11 code that imports from manim, defines
class Scene0(Scene) with construct().
The scene must run in ≤ 15 seconds, 1920×1080, and use only core Manim primitives.
Respond with code only.`

const fixInstruction = "Here is the traceback. Fix all errors and resend only the corrected code.\n\n"

// APIKeyEnv names the credential in error messages.
const APIKeyEnv = "OPENROUTER_API_KEY"

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 64 << 10

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Referer string
	Timeout time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New builds a client. httpClient may be nil; m may be nil.
func New(cfg Config, httpClient *http.Client, log *logger.Logger, m *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		log:     log.WithComponent("openrouter"),
		metrics: m,
	}
}

// Generate asks the model for a script for prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, "generate", []v1.Message{
		{Role: v1.RoleSystem, Content: SystemPrompt},
		{Role: v1.RoleUser, Content: prompt},
	})
}

// Fix replays the conversation with the failing script as the assistant turn
// and asks for a corrected version.
func (c *Client) Fix(ctx context.Context, prompt, code, failure string) (string, error) {
	return c.complete(ctx, "fix", []v1.Message{
		{Role: v1.RoleSystem, Content: SystemPrompt},
		{Role: v1.RoleUser, Content: prompt},
		{Role: v1.RoleAssistant, Content: code},
		{Role: v1.RoleUser, Content: fixInstruction + failure},
	})
}

func (c *Client) complete(ctx context.Context, kind string, messages []v1.Message) (string, error) {
	op := "openrouter." + kind

	if c.cfg.APIKey == "" {
		c.metrics.RecordLLMRequest(ctx, kind, metrics.OutcomeFailure)
		return "", errors.MissingConfig(APIKeyEnv)
	}

	content, err := c.do(ctx, op, messages)
	if err != nil {
		c.metrics.RecordLLMRequest(ctx, kind, metrics.OutcomeFailure)
		return "", err
	}
	c.metrics.RecordLLMRequest(ctx, kind, metrics.OutcomeSuccess)
	return content, nil
}

func (c *Client) do(ctx context.Context, op string, messages []v1.Message) (string, error) {
	body, err := json.Marshal(v1.ChatRequest{Model: c.cfg.Model, Messages: messages})
	if err != nil {
		return "", errors.Wrap(err, op, "encode chat request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, op, "build chat request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", errors.WrapWithCode(err, errors.CodeTimeout, op,
				fmt.Sprintf("chat completion timed out after %s", c.cfg.Timeout))
		}
		return "", errors.WrapWithCode(err, errors.CodeUnavailable, op, "chat completion request failed")
	}
	defer res.Body.Close()

	c.log.FromContext(ctx).Debug("chat completion answered",
		"op", op,
		"status", res.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if res.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		e := errors.Upstream("openrouter", res.StatusCode, string(raw))
		e.Op = op
		return "", e
	}

	var out v1.ChatResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", errors.WrapWithCode(err, errors.CodeUpstream, op, "decode chat response")
	}
	if len(out.Choices) == 0 {
		e := errors.New(errors.CodeUpstream, "chat response contained no choices").
			WithField("model", c.cfg.Model)
		e.Op = op
		return "", e
	}

	return out.Choices[0].Message.Content, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
