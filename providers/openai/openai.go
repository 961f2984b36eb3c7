// Package openai implements the completion-service client against an
// OpenAI-compatible chat completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/docent-ai/docent/logger"
	metrics "github.com/docent-ai/docent/metrics/prometheus"
	"github.com/docent-ai/docent/providers"
	"github.com/docent-ai/docent/types"
)

// Defaults applied when the config leaves them zero.
const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024

	// dialTimeout bounds connection establishment; the overall call is
	// bounded by the caller's context, not a client timeout, because a
	// healthy stream can legitimately run for the whole turn.
	dialTimeout = 15 * time.Second
)

// Config configures the client.
type Config struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int

	// RequestsPerSecond throttles calls to the completion service.
	// Zero means unlimited.
	RequestsPerSecond float64

	// HTTPClient overrides the default otel-instrumented client.
	HTTPClient *http.Client
}

// Provider is an OpenAI-compatible completion client. Safe for concurrent
// use; turns share only the client and its rate limiter.
type Provider struct {
	baseURL string
	model   string
	apiKey  string

	defaultTemperature float64
	defaultMaxTokens   int

	client  *http.Client
	limiter *rate.Limiter
}

// New creates a client. A missing API key is a config fault: terminal, never
// retried.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, providers.ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Provider{
		baseURL:            cfg.BaseURL,
		model:              cfg.Model,
		apiKey:             cfg.APIKey,
		defaultTemperature: cfg.Temperature,
		defaultMaxTokens:   cfg.MaxTokens,
		client:             client,
		limiter:            limiter,
	}, nil
}

// ID implements providers.Provider.
func (p *Provider) ID() string { return "openai" }

// Close implements providers.Provider.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
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
	Stream      bool          `json:"stream,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage chatUsage `json:"usage"`
}

type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *Provider) buildRequest(req providers.PredictionRequest, stream bool) chatRequest {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.defaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.defaultMaxTokens
	}

	out := chatRequest{
		Model:       p.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: types.RoleSystem, Content: req.System})
	}
	if req.Snapshot != nil {
		out.Messages = append(out.Messages, chatMessage{Role: types.RoleSystem, Content: req.Snapshot.Prompt()})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (p *Provider) do(ctx context.Context, req providers.PredictionRequest, stream bool) (*http.Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(p.buildRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		metrics.RecordProviderRequest(p.ID(), p.model, "error", time.Since(start).Seconds())
		return nil, &providers.Error{Class: providers.ClassTransient, Message: "request failed", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		_ = resp.Body.Close()
		perr := providers.ClassifyHTTP(resp.StatusCode, respBody)
		metrics.RecordProviderRequest(p.ID(), p.model, "error", time.Since(start).Seconds())
		logger.ProviderCall(p.ID(), p.model, len(req.Messages), "error", "class", perr.Class.String(), "status", resp.StatusCode)
		return nil, perr
	}

	// For streams this is time to first byte; the stream itself is metered
	// per chunk downstream.
	metrics.RecordProviderRequest(p.ID(), p.model, "success", time.Since(start).Seconds())
	return resp, nil
}

// Predict implements the blocking, non-streaming completion call.
func (p *Provider) Predict(ctx context.Context, req providers.PredictionRequest) (*providers.PredictionResponse, error) {
	start := time.Now()
	resp, err := p.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, &providers.Error{Class: providers.ClassUnknown, Message: "response carried no choices"}
	}

	logger.ProviderCall(p.ID(), p.model, len(req.Messages), "ok", "duration", time.Since(start))
	metrics.RecordProviderTokens(p.ID(), p.model, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)

	return &providers.PredictionResponse{
		Content:      parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// PredictStream implements the streaming completion call. The returned
// channel closes after the terminal chunk.
func (p *Provider) PredictStream(ctx context.Context, req providers.PredictionRequest) (<-chan providers.StreamChunk, error) {
	resp, err := p.do(ctx, req, true)
	if err != nil {
		return nil, err
	}

	out := make(chan providers.StreamChunk)
	go p.streamResponse(ctx, resp.Body, out)
	return out, nil
}

// streamResponse decodes the SSE stream and forwards deltas. The text
// increments it emits have boundaries unrelated to anything in the prose;
// downstream buffering owns reassembly.
func (p *Provider) streamResponse(ctx context.Context, body io.ReadCloser, out chan<- providers.StreamChunk) {
	defer close(out)
	defer body.Close()

	scanner := providers.NewSSEScanner(body)
	accumulated := ""
	totalTokens := 0
	finished := false

	// The streaming API reports no usage; the delta count is the closest
	// output measure available.
	defer func() { metrics.RecordProviderTokens(p.ID(), p.model, 0, totalTokens) }()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			out <- providers.StreamChunk{
				Content:      accumulated,
				Err:          ctx.Err(),
				FinishReason: providers.StringPtr(providers.FinishReasonCanceled),
			}
			return
		default:
		}

		data := scanner.Data()
		if data == "[DONE]" {
			break
		}

		var event chatStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip malformed frames
		}
		if len(event.Choices) == 0 {
			continue
		}
		choice := event.Choices[0]

		if choice.Delta.Content != "" {
			accumulated += choice.Delta.Content
			totalTokens++
			out <- providers.StreamChunk{
				Content:     accumulated,
				Delta:       choice.Delta.Content,
				TokenCount:  totalTokens,
				DeltaTokens: 1,
			}
		}

		if choice.FinishReason != "" {
			finished = true
			out <- providers.StreamChunk{
				Content:      accumulated,
				TokenCount:   totalTokens,
				FinishReason: providers.StringPtr(choice.FinishReason),
			}
		}
	}

	if err := scanner.Err(); err != nil {
		out <- providers.StreamChunk{
			Content:      accumulated,
			Err:          &providers.Error{Class: providers.ClassTransient, Message: "stream read failed", Err: err},
			FinishReason: providers.StringPtr(providers.FinishReasonError),
		}
		return
	}

	if !finished {
		out <- providers.StreamChunk{
			Content:      accumulated,
			TokenCount:   totalTokens,
			FinishReason: providers.StringPtr(providers.FinishReasonStop),
		}
	}
}
