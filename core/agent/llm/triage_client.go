// Package llm implements the fallback classifier on top of an OpenAI-style
// chat completion API.
package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"triage_server/pkg/httputil"
	"triage_server/pkg/logger"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 20 * time.Second

	probeTimeout = 5 * time.Second
)

// ClientConfig configures the fallback client.
type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Client wraps the completion API with a bounded timeout and a circuit
// breaker. The breaker state backs the availability probe, so a flapping
// service stops receiving classification traffic quickly.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker
	log         *logger.Logger
}

// NewClient builds the fallback client.
func NewClient(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.HTTPClient = httputil.OpenAIClient()
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	log := logger.WithField("component", "llm_fallback")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-fallback",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
		timeout:     timeout,
		breaker:     breaker,
		log:         log,
	}
}

// complete runs one chat completion through the breaker with the bounded
// timeout applied.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       c.model,
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("empty completion response")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// IsAvailable is the cheap probe used before a full classification call. An
// open breaker short-circuits without touching the network.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c.breaker.State() == gobreaker.StateOpen {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if _, err := c.api.ListModels(probeCtx); err != nil {
		c.log.WithError(err).Warn("availability probe failed")
		return false
	}
	return true
}
