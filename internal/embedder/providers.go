package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"
)

// Environment variables consulted by NewFromEnv.
const (
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Provider names, default models, and their native dimensions.
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"

	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	JinaMaxInputTokens   = 8192
	OpenAIMaxInputTokens = 8191
	LocalMaxInputTokens  = 8192

	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

// JinaProvider embeds text via the Jina AI embeddings API.
type JinaProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
	cache      *Cache
}

// NewJinaProvider builds a JinaProvider, falling back to EnvJinaAPIKey
// when apiKey is empty.
func NewJinaProvider(apiKey string, cache *Cache) (*JinaProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvJinaAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	return &JinaProvider{
		apiKey:     apiKey,
		model:      DefaultJinaModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache,
	}, nil
}

// EmbedBatch embeds texts in order, serving cached entries without a
// network call and only requesting the uncached remainder.
func (j *JinaProvider) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	results, misses, missIdx := j.lookupCache(texts)

	if len(misses) > 0 {
		config := DefaultRetryConfig()
		embeddings, err := retryWithBackoff(ctx, config, func() ([]*Embedding, error) {
			return j.callAPI(ctx, misses, j.model)
		})
		if err != nil {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrProviderFailed, MaxRetries, err)
		}
		for i, emb := range embeddings {
			hash := ComputeHash(misses[i])
			emb.Hash = hash
			if j.cache != nil {
				j.cache.Set(hash, emb)
			}
			results[missIdx[i]] = emb
		}
	}
	return results, nil
}

// lookupCache splits texts into already-cached results and the subset
// that still needs a provider call, recording where each miss belongs
// in the final ordered result slice.
func (j *JinaProvider) lookupCache(texts []string) (results []*Embedding, misses []string, missIdx []int) {
	results = make([]*Embedding, len(texts))
	for i, text := range texts {
		hash := ComputeHash(text)
		if j.cache != nil {
			if emb, ok := j.cache.Get(hash); ok {
				results[i] = emb
				continue
			}
		}
		misses = append(misses, text)
		missIdx = append(missIdx, i)
	}
	return results, misses, missIdx
}

func (j *JinaProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	reqBody := map[string]any{"input": texts, "model": model}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.jina.ai/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{Vector: data.Embedding, Dimension: len(data.Embedding), Provider: ProviderJina, Model: apiResp.Model}
	}
	return embeddings, nil
}

func (j *JinaProvider) Dimension() int       { return JinaDimension }
func (j *JinaProvider) MaxInputTokens() int  { return JinaMaxInputTokens }
func (j *JinaProvider) ProviderName() string { return ProviderJina }
func (j *JinaProvider) Close() error {
	j.httpClient.CloseIdleConnections()
	return nil
}

// OpenAIProvider embeds text via the OpenAI embeddings API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
	cache      *Cache
}

// NewOpenAIProvider builds an OpenAIProvider, falling back to
// EnvOpenAIAPIKey when apiKey is empty.
func NewOpenAIProvider(apiKey string, cache *Cache) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      DefaultOpenAIModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache,
	}, nil
}

func (o *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	results := make([]*Embedding, len(texts))
	var misses []string
	var missIdx []int
	for i, text := range texts {
		hash := ComputeHash(text)
		if o.cache != nil {
			if emb, ok := o.cache.Get(hash); ok {
				results[i] = emb
				continue
			}
		}
		misses = append(misses, text)
		missIdx = append(missIdx, i)
	}

	if len(misses) > 0 {
		config := DefaultRetryConfig()
		embeddings, err := retryWithBackoff(ctx, config, func() ([]*Embedding, error) {
			return o.callAPI(ctx, misses, o.model)
		})
		if err != nil {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrProviderFailed, MaxRetries, err)
		}
		for i, emb := range embeddings {
			hash := ComputeHash(misses[i])
			emb.Hash = hash
			if o.cache != nil {
				o.cache.Set(hash, emb)
			}
			results[missIdx[i]] = emb
		}
	}
	return results, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	reqBody := map[string]any{"input": texts, "model": model}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{Vector: data.Embedding, Dimension: len(data.Embedding), Provider: ProviderOpenAI, Model: apiResp.Model}
	}
	return embeddings, nil
}

func (o *OpenAIProvider) Dimension() int       { return OpenAIDimension }
func (o *OpenAIProvider) MaxInputTokens() int  { return OpenAIMaxInputTokens }
func (o *OpenAIProvider) ProviderName() string { return ProviderOpenAI }
func (o *OpenAIProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider is a dependency-free embedder: it derives a
// deterministic vector from the SHA-256 of the text. It exists so the
// engine is usable (and testable) without any external credentials.
type LocalProvider struct {
	model string
	cache *Cache
}

// NewLocalProvider builds a LocalProvider.
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{model: "local-deterministic-v1", cache: cache}, nil
}

func (l *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}
	embeddings := make([]*Embedding, len(texts))
	for i, text := range texts {
		embeddings[i] = l.embedOne(text)
	}
	return embeddings, nil
}

func (l *LocalProvider) embedOne(text string) *Embedding {
	hash := ComputeHash(text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb
		}
	}

	vector := make([]float32, LocalDimension)
	digest := sha256.Sum256([]byte(text))
	for i := range vector {
		vector[i] = float32(digest[i%len(digest)]) / 255.0
	}

	emb := &Embedding{Vector: vector, Dimension: LocalDimension, Provider: ProviderLocal, Model: l.model, Hash: hash}
	if l.cache != nil {
		l.cache.Set(hash, emb)
	}
	return emb
}

func (l *LocalProvider) Dimension() int       { return LocalDimension }
func (l *LocalProvider) MaxInputTokens() int  { return LocalMaxInputTokens }
func (l *LocalProvider) ProviderName() string { return ProviderLocal }
func (l *LocalProvider) Close() error         { return nil }

// NormalizeVector returns a unit-length copy of v. The store does not
// call this at upsert time (see DESIGN.md); it's exposed for providers
// or callers that want cosine similarity expressed as a dot product.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}
