package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/temcen/carmatch/internal/config"
)

// ErrEmptyCompletion is returned when the provider answers without content.
var ErrEmptyCompletion = errors.New("text generator returned no content")

const systemPrompt = "You are an automotive sales expert who explains vehicle recommendations concisely and factually."

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
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// statusError is an unexpected HTTP status from the provider.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("text generator returned HTTP %d: %s", e.StatusCode, e.Body)
}

// LLMTextGenerator calls an OpenAI-compatible chat completions endpoint.
// Transient failures are retried with exponential backoff; repeated failures
// open a circuit breaker so callers fall back without waiting.
type LLMTextGenerator struct {
	cfg        config.LLMConfig
	endpoint   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]
	logger     *logrus.Logger
	metrics    *Metrics
}

func NewLLMTextGenerator(cfg config.LLMConfig, logger *logrus.Logger, metrics *Metrics) *LLMTextGenerator {
	g := &LLMTextGenerator{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		metrics:    metrics,
	}

	threshold := cfg.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	g.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "text-generator",
		MaxRequests: cfg.Breaker.HalfOpenRequests,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Text generator circuit breaker changed state")
			metrics.setBreakerState(float64(to))
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not a provider failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return g
}

// Generate sends prompt and returns the completion text.
func (g *LLMTextGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	text, err := g.breaker.Execute(func() (string, error) {
		return g.complete(ctx, prompt)
	})
	switch {
	case err == nil:
		g.metrics.recordGeneratorRequest("success")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		g.metrics.recordGeneratorRequest("rejected")
	default:
		g.metrics.recordGeneratorRequest("error")
	}
	return text, err
}

// BreakerState reports the circuit breaker state for health output.
func (g *LLMTextGenerator) BreakerState() string {
	return g.breaker.State().String()
}

func (g *LLMTextGenerator) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	resp, err := g.retryWithBackoff(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
		req.Header.Set("X-Title", "carmatch")
		return g.httpClient.Do(req)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", fmt.Errorf("text generator error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}

	return parsed.Choices[0].Message.Content, nil
}

func shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (g *LLMTextGenerator) backoff(attempt int) time.Duration {
	backoff := float64(g.cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	if g.cfg.MaxBackoff > 0 && backoff > float64(g.cfg.MaxBackoff) {
		backoff = float64(g.cfg.MaxBackoff)
	}
	return time.Duration(backoff)
}

// retryWithBackoff returns a 200 response or an error; the caller owns the
// response body.
func (g *LLMTextGenerator) retryWithBackoff(ctx context.Context, do func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := do()
		if err == nil && resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			lastErr = &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
			if !shouldRetry(resp.StatusCode) {
				return nil, lastErr
			}
		}

		if attempt == g.cfg.MaxRetries {
			break
		}

		wait := g.backoff(attempt)
		g.logger.WithError(lastErr).WithFields(logrus.Fields{
			"attempt":     attempt + 1,
			"max_retries": g.cfg.MaxRetries,
			"backoff":     wait.String(),
		}).Warn("Text generation request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("text generation failed after %d retries: %w", g.cfg.MaxRetries, lastErr)
}
