// Package judge scores (query, post) relevance with a chat-completion
// model, caching every reply by prompt hash so identical questions
// never hit the network twice.
package judge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/asnar00/firefly/internal/telemetry"
)

// BatchSize is the maximum number of documents per judge call.
const BatchSize = 20

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxReplyTokens = 1024
)

// ErrUnavailable wraps any network, API or parse failure. The matcher
// treats it as a signal to fall back to dense similarity.
var ErrUnavailable = errors.New("judge unavailable")

// Score is one judged relevance result.
type Score struct {
	ID    int64 `json:"id"`
	Score int   `json:"score"`
}

// Cache is the durable prompt-reply store the judge consults before
// calling out.
type Cache interface {
	Get(ctx context.Context, promptHash, model string) (string, bool, error)
	Put(ctx context.Context, promptHash, model, results string) error
}

// Judge scores relevance via the Anthropic API.
type Judge struct {
	client         anthropic.Client
	model          anthropic.Model
	cache          Cache
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
}

// Config configures a Judge.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Cache   Cache
}

// New creates a judge. The API key is required; the model defaults to
// the caller's configured judge model.
func New(cfg Config) (*Judge, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("judge: API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("judge: model name is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cache := cfg.Cache
	if cache == nil {
		cache = nopCache{}
	}
	telemetry.Init()
	return &Judge{
		client:         anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:          anthropic.Model(cfg.Model),
		cache:          cache,
		timeout:        timeout,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// Rank scores up to BatchSize candidate posts against one query.
func (j *Judge) Rank(ctx context.Context, query Doc, candidates []Doc) ([]Score, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > BatchSize {
		return nil, fmt.Errorf("judge: %d candidates exceeds batch size %d", len(candidates), BatchSize)
	}
	prompt, err := renderRankPrompt(query, candidates)
	if err != nil {
		return nil, err
	}
	return j.judge(ctx, prompt)
}

// Evaluate scores one post against up to BatchSize queries.
func (j *Judge) Evaluate(ctx context.Context, queries []Doc, post Doc) ([]Score, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	if len(queries) > BatchSize {
		return nil, fmt.Errorf("judge: %d queries exceeds batch size %d", len(queries), BatchSize)
	}
	prompt, err := renderEvaluatePrompt(queries, post)
	if err != nil {
		return nil, err
	}
	return j.judge(ctx, prompt)
}

// judge answers a prompt from the cache or the API. The cached value is
// the extracted JSON array text, so a hit costs one parse.
func (j *Judge) judge(ctx context.Context, prompt string) ([]Score, error) {
	hash := promptHash(prompt)

	if cached, ok, err := j.cache.Get(ctx, hash, string(j.model)); err != nil {
		log.Warn().Err(err).Msg("Prompt cache read failed")
	} else if ok {
		telemetry.Instruments.JudgeCacheHits.Add(ctx, 1)
		var scores []Score
		if err := json.Unmarshal([]byte(cached), &scores); err == nil {
			return scores, nil
		}
		log.Warn().Str("hash", hash).Msg("Discarding unparseable cached judge reply")
	}

	reply, err := j.callWithRetry(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	arrayText, err := extractJSONArray(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var scores []Score
	if err := json.Unmarshal([]byte(arrayText), &scores); err != nil {
		return nil, fmt.Errorf("%w: parse reply: %v", ErrUnavailable, err)
	}

	if err := j.cache.Put(ctx, hash, string(j.model), arrayText); err != nil {
		log.Warn().Err(err).Msg("Prompt cache write failed")
	}
	return scores, nil
}

// nopCache stands in when no durable cache is configured.
type nopCache struct{}

func (nopCache) Get(context.Context, string, string) (string, bool, error) { return "", false, nil }
func (nopCache) Put(context.Context, string, string, string) error        { return nil }

func (j *Judge) callWithRetry(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:       j.model,
		MaxTokens:   maxReplyTokens,
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= j.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := j.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := j.client.Messages.New(ctx, params)
		if err == nil {
			telemetry.Instruments.JudgeCalls.Add(ctx, 1)
			telemetry.Instruments.JudgeInTokens.Add(ctx, message.Usage.InputTokens)
			telemetry.Instruments.JudgeOutTokens.Add(ctx, message.Usage.OutputTokens)

			if len(message.Content) == 0 {
				return "", fmt.Errorf("no content blocks in reply")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("reply is not a text block (type=%s)", content.Type)
			}
			return content.Text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", err
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("Judge call failed, retrying")
	}
	return "", fmt.Errorf("failed after %d attempts: %w", j.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
