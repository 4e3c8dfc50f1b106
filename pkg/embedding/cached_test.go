package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edu-smart-go/internal/config"
)

// fakeProvider 是可编程的 provider 测试替身，记录每次外部调用。
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	dims  int
	// failuresBefore 表示前 N 次调用返回 failErr
	failuresBefore int
	failErr        error
}

func (f *fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failuresBefore {
		return nil, f.failErr
	}
	// 不同文本返回可区分的向量
	vector := make([]float32, f.dims)
	vector[0] = float32(len(text))
	return vector, nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (f *fakeProvider) Dimensions() int { return f.dims }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testEmbeddingConfig() config.EmbeddingConfig {
	return config.EmbeddingConfig{
		Dimensions:    8,
		BatchSize:     5,
		BatchDelayMS:  1,
		CacheCapacity: 4,
	}
}

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxRetries:     3,
		InitialDelayMS: 1,
		MaxDelayMS:     5,
		Multiplier:     2.0,
	}
}

func TestEmbedCacheHitSkipsProvider(t *testing.T) {
	provider := &fakeProvider{dims: 8}
	client := NewCachedClient(provider, testEmbeddingConfig(), testRetryConfig())

	first, err := client.Embed(context.Background(), "binary search trees")
	require.NoError(t, err)
	require.Equal(t, 1, provider.callCount())

	// 第二次完全相同的文本必须命中缓存，不产生外部调用
	second, err := client.Embed(context.Background(), "binary search trees")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.callCount())
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	provider := &fakeProvider{dims: 8}
	client := NewCachedClient(provider, testEmbeddingConfig(), testRetryConfig())

	_, err := client.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 0, provider.callCount())
}

func TestEmbedCacheEvictsOldestEntry(t *testing.T) {
	provider := &fakeProvider{dims: 8}
	cfg := testEmbeddingConfig()
	cfg.CacheCapacity = 2
	client := NewCachedClient(provider, cfg, testRetryConfig())

	ctx := context.Background()
	_, err := client.Embed(ctx, "alpha")
	require.NoError(t, err)
	_, err = client.Embed(ctx, "beta")
	require.NoError(t, err)
	_, err = client.Embed(ctx, "gamma") // 淘汰 alpha
	require.NoError(t, err)
	assert.Equal(t, 2, client.CacheLen())

	// alpha 已被淘汰，需要重新调用外部服务
	_, err = client.Embed(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 4, provider.callCount())
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	provider := &fakeProvider{
		dims:           8,
		failuresBefore: 2,
		failErr:        &ProviderError{StatusCode: 503, Status: "503 Service Unavailable"},
	}
	client := NewCachedClient(provider, testEmbeddingConfig(), testRetryConfig())

	// 前两次失败，第三次成功：共 3 次外部调用
	_, err := client.Embed(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Equal(t, 3, provider.callCount())
}

func TestEmbedReturnsFinalProviderErrorUnmodified(t *testing.T) {
	finalErr := &ProviderError{StatusCode: 500, Status: "500 Internal Server Error"}
	provider := &fakeProvider{dims: 8, failuresBefore: 100, failErr: finalErr}
	client := NewCachedClient(provider, testEmbeddingConfig(), testRetryConfig())

	_, err := client.Embed(context.Background(), "always fails")
	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Same(t, finalErr, pe)
	// 初始调用 + 3 次重试
	assert.Equal(t, 4, provider.callCount())
}

func TestEmbedDoesNotRetryAuthErrors(t *testing.T) {
	provider := &fakeProvider{
		dims:           8,
		failuresBefore: 100,
		failErr:        &ProviderError{StatusCode: 401, Status: "401 Unauthorized"},
	}
	client := NewCachedClient(provider, testEmbeddingConfig(), testRetryConfig())

	_, err := client.Embed(context.Background(), "bad key")
	require.Error(t, err)
	assert.Equal(t, 1, provider.callCount())
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	provider := &fakeProvider{dims: 8}
	cfg := testEmbeddingConfig()
	cfg.BatchSize = 2
	client := NewCachedClient(provider, cfg, testRetryConfig())

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := client.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "vector %d out of order", i)
	}
}

func TestEmbedBatchFailsWholeSubBatch(t *testing.T) {
	provider := &fakeProvider{
		dims:           8,
		failuresBefore: 100,
		failErr:        &ProviderError{StatusCode: 400, Status: "400 Bad Request"},
	}
	client := NewCachedClient(provider, testEmbeddingConfig(), testRetryConfig())

	_, err := client.EmbedBatch(context.Background(), []string{"x", "y", "z"})
	require.Error(t, err)
	var pe *ProviderError
	assert.ErrorAs(t, err, &pe)
}

func TestEmbedBatchRejectsEmptyTexts(t *testing.T) {
	provider := &fakeProvider{dims: 8}
	client := NewCachedClient(provider, testEmbeddingConfig(), testRetryConfig())

	_, err := client.EmbedBatch(context.Background(), []string{"ok", ""})
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 0, provider.callCount())
}

func TestEmbedBatchThrottlesBetweenSubBatches(t *testing.T) {
	provider := &fakeProvider{dims: 8}
	cfg := testEmbeddingConfig()
	cfg.BatchSize = 1
	cfg.BatchDelayMS = 20
	client := NewCachedClient(provider, cfg, testRetryConfig())

	start := time.Now()
	_, err := client.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	// 3 个子批次之间有 2 次固定等待
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestIsRetryableClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limit", &ProviderError{StatusCode: 429}, true},
		{"server error", &ProviderError{StatusCode: 502}, true},
		{"auth error", &ProviderError{StatusCode: 401}, false},
		{"validation error", &ProviderError{StatusCode: 422}, false},
		{"network error", errors.New("connection refused"), true},
		{"empty vector", ErrEmptyVector, false},
		{"empty input", ErrEmptyInput, false},
		{"dimension mismatch", fmt.Errorf("%w: expected 768, got 512", ErrDimensionMismatch), false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
		})
	}
}
