package grader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrUnauthorized  = errors.New("grader rejected credentials")
	ErrModelNotFound = errors.New("grader assistant not found")
	ErrUnavailable   = errors.New("grader unavailable")
)

const completionsPath = "/v1/completions"

// Result is one assistant reply, before score extraction.
type Result struct {
	Reply string
	Shape ResponseShape
	// ShapeDrift is non-nil when the reply decoded but did not match any of
	// the documented formats exactly. Informational only.
	ShapeDrift error
}

// Client talks to the external grading service.
type Client interface {
	EvaluateText(ctx context.Context, assistantID, instructions, text string) (Result, error)
	VerifyModel(ctx context.Context, assistantID string) error
}

type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient builds a grader client for the given service base URL.
func NewClient(baseURL, token string, timeout time.Duration, logger zerolog.Logger) Client {
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "grader_client").Logger(),
	}
}

// ModelRef formats an assistant id into the model reference the service
// expects.
func ModelRef(assistantID string) string {
	return "lamb_assistant." + assistantID
}

func (c *httpClient) EvaluateText(ctx context.Context, assistantID, instructions, text string) (Result, error) {
	raw, err := c.complete(ctx, assistantID, buildPrompt(instructions, text))
	if err != nil {
		return Result{}, err
	}

	reply, shape, err := decodeReply(raw)
	if err != nil {
		return Result{}, fmt.Errorf("decode grader reply: %w", err)
	}
	if reply == "" {
		return Result{}, fmt.Errorf("grader reply carried no text")
	}

	result := Result{Reply: reply, Shape: shape}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if driftErr := validateReplyShape(decoded); driftErr != nil {
			result.ShapeDrift = driftErr
			c.logger.Warn().Err(driftErr).Str("shape", string(shape)).Msg("grader reply shape drifted")
		}
	}

	return result, nil
}

func (c *httpClient) VerifyModel(ctx context.Context, assistantID string) error {
	_, err := c.complete(ctx, assistantID, "ping")
	return err
}

func (c *httpClient) complete(ctx context.Context, assistantID, prompt string) ([]byte, error) {
	payload, err := json.Marshal(completionRequest{
		Model:  ModelRef(assistantID),
		Prompt: prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode grader request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build grader request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read grader reply: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, ModelRef(assistantID))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	return body, nil
}
