package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultModel     = "text-embedding-3-small"
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultCacheSize = 4096
	defaultAttempts  = 3
	maxBatchSize     = 100
)

// Config holds embedding configuration.
type Config struct {
	Model      string
	APIKey     string
	BaseURL    string // OpenAI-compatible endpoint root
	CacheSize int
	// Dimensions is sent to the endpoint when set and every returned vector
	// must have that length. Zero keeps the model's native size.
	Dimensions int
	// Backoff is the base delay between retries; it doubles per attempt.
	Backoff time.Duration
}

// Embedder generates text embeddings.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for up to 100 texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// httpEmbedder calls an OpenAI-compatible /embeddings endpoint.
type httpEmbedder struct {
	config     Config
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
}

// NewHTTPEmbedder creates an embedder backed by an OpenAI-compatible API.
func NewHTTPEmbedder(config Config) (Embedder, error) {
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.CacheSize <= 0 {
		config.CacheSize = defaultCacheSize
	}
	if config.Dimensions < 0 {
		config.Dimensions = 0
	}
	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}

	cache, err := lru.New[string, []float32](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	return &httpEmbedder{
		config:     config,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		cache:      cache,
	}, nil
}

func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (e *httpEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}
	if len(texts) > maxBatchSize {
		return nil, fmt.Errorf("batch size exceeds limit: %d > %d", len(texts), maxBatchSize)
	}

	results := make([][]float32, len(texts))
	var uncachedIndices []int
	var uncachedTexts []string
	for i, text := range texts {
		if cached, ok := e.cache.Get(text); ok {
			results[i] = cached
			continue
		}
		uncachedIndices = append(uncachedIndices, i)
		uncachedTexts = append(uncachedTexts, text)
	}
	if len(uncachedTexts) == 0 {
		return results, nil
	}

	var embeddings [][]float32
	var err error
	backoff := e.config.Backoff
	for attempt := 0; attempt < defaultAttempts; attempt++ {
		embeddings, err = e.callAPI(ctx, uncachedTexts)
		if err == nil {
			break
		}
		if attempt == defaultAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if err != nil {
		return nil, fmt.Errorf("embed batch after retries: %w", err)
	}

	for i, idx := range uncachedIndices {
		e.cache.Add(texts[idx], embeddings[i])
		results[idx] = embeddings[i]
	}
	return results, nil
}

func (e *httpEmbedder) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]any{
		"model": e.config.Model,
		"input": texts,
	}
	if e.config.Dimensions > 0 {
		payload["dimensions"] = e.config.Dimensions
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range apiResp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("invalid index: %d", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}
	for i, emb := range embeddings {
		if len(emb) == 0 {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
		if e.config.Dimensions > 0 && len(emb) != e.config.Dimensions {
			return nil, fmt.Errorf("embedding for input %d has %d dimensions, want %d", i, len(emb), e.config.Dimensions)
		}
	}
	return embeddings, nil
}
