// Package llm wraps the generative backend behind a small gateway interface.
// The backend is any OpenAI-compatible chat-completions endpoint; the rest of
// the application never sees a vendor response shape, only Completion.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tcmclinic/tcmclinic/internal/errs"
)

// Completion is the reply to a single prompt plus call metadata.
type Completion struct {
	Text    string
	Model   string
	Latency time.Duration
}

// Message is one turn of a chat exchange.
type Message struct {
	Role    string
	Content string
}

// Chat roles, matching the wire values of the completions API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Gateway sends one prompt to the generative backend. Implementations own
// transport-level timeout and retry; a returned error is final.
type Gateway interface {
	Complete(ctx context.Context, prompt string, temperature float32) (Completion, error)
}

// ChatGateway sends a multi-turn exchange to the backend. ChatStream hands
// each content chunk to fn as it arrives and returns the assembled reply;
// a non-nil error from fn aborts the stream.
type ChatGateway interface {
	Chat(ctx context.Context, msgs []Message, temperature float32) (Completion, error)
	ChatStream(ctx context.Context, msgs []Message, temperature float32, fn func(chunk string) error) (Completion, error)
}

// Config holds the gateway settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Retries is the number of additional attempts after the first call
	// fails with a transient error.
	Retries int
	// Backoff is the initial delay between attempts; it doubles per retry.
	Backoff time.Duration
}

// OpenAIGateway talks to an OpenAI-compatible chat-completions API.
type OpenAIGateway struct {
	client  *openai.Client
	model   string
	retries int
	backoff time.Duration
}

func NewOpenAIGateway(cfg Config) *OpenAIGateway {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &OpenAIGateway{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		retries: cfg.Retries,
		backoff: backoff,
	}
}

// Model returns the configured model identifier.
func (g *OpenAIGateway) Model() string { return g.model }

// Complete sends the prompt as a single user message.
func (g *OpenAIGateway) Complete(ctx context.Context, prompt string, temperature float32) (Completion, error) {
	return g.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, temperature)
}

// Chat sends a multi-turn exchange. Transient failures (timeouts, 429, 5xx)
// are retried up to the configured count with doubling backoff; request
// errors (4xx) are not retried. Retries stay internal: the caller observes
// exactly one logical call.
func (g *OpenAIGateway) Chat(ctx context.Context, msgs []Message, temperature float32) (Completion, error) {
	var lastErr error
	backoff := g.backoff

	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Completion{}, classify(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		start := time.Now()
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       g.model,
			Messages:    wireMessages(msgs),
			Temperature: temperature,
		})
		if err == nil {
			if len(resp.Choices) == 0 {
				return Completion{}, fmt.Errorf("%w: backend returned no choices", errs.ErrUpstream)
			}
			model := resp.Model
			if model == "" {
				model = g.model
			}
			return Completion{
				Text:    resp.Choices[0].Message.Content,
				Model:   model,
				Latency: time.Since(start),
			}, nil
		}

		lastErr = err
		if !transient(err) {
			break
		}
	}

	return Completion{}, classify(lastErr)
}

// ChatStream opens a streaming completion and forwards content chunks to fn.
// Streams are not retried: once chunks have been delivered the exchange
// cannot be transparently replayed.
func (g *OpenAIGateway) ChatStream(ctx context.Context, msgs []Message, temperature float32, fn func(chunk string) error) (Completion, error) {
	start := time.Now()
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    wireMessages(msgs),
		Temperature: temperature,
		Stream:      true,
	})
	if err != nil {
		return Completion{}, classify(err)
	}
	defer stream.Close()

	var sb strings.Builder
	model := g.model
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Completion{}, classify(err)
		}
		if resp.Model != "" {
			model = resp.Model
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		sb.WriteString(chunk)
		if err := fn(chunk); err != nil {
			return Completion{}, err
		}
	}
	return Completion{Text: sb.String(), Model: model, Latency: time.Since(start)}, nil
}

func wireMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// transient reports whether the failure is worth another attempt.
func transient(err error) bool {
	if isTimeout(err) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classify folds a raw transport error into the gateway taxonomy.
func classify(err error) error {
	if err == nil {
		return fmt.Errorf("%w: no response from backend", errs.ErrUpstream)
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", errs.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", errs.ErrUpstream, err)
}
