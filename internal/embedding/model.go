// Package embedding turns posts into fragment vectors and keeps them on
// disk, one file per post.
package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Dim is the fragment vector dimension.
const Dim = 768

// EmbeddingModel encodes text into fixed-dimension vectors.
type EmbeddingModel interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// RESTConfig configures the OpenAI-compatible embedding endpoint
// (supports LiteLLM and local inference servers).
type RESTConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type restModel struct {
	client *http.Client
	cfg    RESTConfig
}

// NewRESTModel creates an embedding model backed by a REST endpoint.
func NewRESTModel(cfg RESTConfig) (EmbeddingModel, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding: base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding: model name is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &restModel{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
	}, nil
}

func (m *restModel) Dimensions() int { return Dim }
func (m *restModel) Close() error    { return nil }

type embedRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (m *restModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{
		Input:          texts,
		Model:          m.cfg.Model,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(m.cfg.BaseURL, "/")+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embedding request to %s: %w", m.cfg.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding API error (model=%s, status=%d): %s",
			m.cfg.Model, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d results for %d inputs (model=%s)",
			len(decoded.Data), len(texts), m.cfg.Model)
	}

	sort.Slice(decoded.Data, func(i, j int) bool {
		return decoded.Data[i].Index < decoded.Data[j].Index
	})
	out := make([][]float32, len(decoded.Data))
	for i, d := range decoded.Data {
		if len(d.Embedding) != Dim {
			return nil, fmt.Errorf("embedding API returned %d dims, want %d", len(d.Embedding), Dim)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// lazyModel defers construction to the first encode so startup does
// not pay for a model nobody uses. The composition root owns the one
// instance; the inner model is read-only after initialisation.
type lazyModel struct {
	factory func() (EmbeddingModel, error)

	mu    sync.Mutex
	inner EmbeddingModel
}

// NewLazy wraps a model constructor so the model is built on first use.
func NewLazy(factory func() (EmbeddingModel, error)) EmbeddingModel {
	return &lazyModel{factory: factory}
}

func (l *lazyModel) get() (EmbeddingModel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner == nil {
		m, err := l.factory()
		if err != nil {
			return nil, err
		}
		l.inner = m
	}
	return l.inner, nil
}

func (l *lazyModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m, err := l.get()
	if err != nil {
		return nil, fmt.Errorf("initialise embedding model: %w", err)
	}
	return m.EmbedBatch(ctx, texts)
}

func (l *lazyModel) Dimensions() int { return Dim }

func (l *lazyModel) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner == nil {
		return nil
	}
	return l.inner.Close()
}
