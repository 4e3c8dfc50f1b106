package embedding

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"edu-smart-go/internal/config"
	"edu-smart-go/pkg/log"
	"edu-smart-go/pkg/resilience"
)

// DefaultCacheCapacity is the fallback cache size when config omits it.
// At 768 dimensions * 4 bytes * 1000 entries ≈ 3MB memory.
const DefaultCacheCapacity = 1000

// CachedClient wraps a provider Client with an in-process LRU cache,
// rate-limited sub-batching, retry-with-backoff and a circuit breaker.
// 构造独立实例注入调用方，便于测试隔离，不做包级单例。
type CachedClient struct {
	inner      Client
	cache      *lru.Cache[string, []float32]
	breaker    *resilience.CircuitBreaker
	retryCfg   resilience.RetryConfig
	batchSize  int
	batchDelay time.Duration
}

// NewCachedClient creates a cached embedding client around the given provider client.
func NewCachedClient(inner Client, embCfg config.EmbeddingConfig, retryCfg config.RetryConfig) *CachedClient {
	capacity := embCfg.CacheCapacity
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	batchSize := embCfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	// lru.New 仅在 capacity <= 0 时报错，上面已经兜底
	cache, _ := lru.New[string, []float32](capacity)

	return &CachedClient{
		inner:   inner,
		cache:   cache,
		breaker: resilience.NewCircuitBreaker("embedding-provider"),
		retryCfg: resilience.RetryConfig{
			MaxRetries:   retryCfg.MaxRetries,
			InitialDelay: retryCfg.InitialDelay(),
			MaxDelay:     retryCfg.MaxDelay(),
			Multiplier:   retryCfg.Multiplier,
			IsRetryable:  IsRetryable,
		},
		batchSize:  batchSize,
		batchDelay: embCfg.BatchDelay(),
	}
}

// embedUncached 调用外部服务获取向量，带重试与断路器保护。
func (c *CachedClient) embedUncached(ctx context.Context, text string) ([]float32, error) {
	return resilience.RetryWithResult(ctx, c.retryCfg, func() ([]float32, error) {
		return resilience.ExecuteWithResult(c.breaker, func() ([]float32, error) {
			return c.inner.Embed(ctx, text)
		})
	})
}

// Embed returns the cached vector if available, otherwise calls the provider
// and stores the result, evicting the oldest entry when the cache is full.
func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	// 缓存键就是原始文本：命中即返回，不发起外部调用
	if vector, ok := c.cache.Get(text); ok {
		log.Debugf("[EmbeddingCache] 缓存命中, input_len: %d", len(text))
		return vector, nil
	}

	vector, err := c.embedUncached(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(text, vector)
	return vector, nil
}

// EmbedBatch embeds texts in order-preserving fashion. Texts are partitioned
// into fixed-size sub-batches; within one sub-batch every call runs
// concurrently, and a fixed delay separates consecutive sub-batches to
// throttle the request rate against the provider.
func (c *CachedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for _, text := range texts {
		if text == "" {
			return nil, ErrEmptyInput
		}
	}

	vectors := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += c.batchSize {
		if start > 0 && c.batchDelay > 0 {
			// 子批次之间固定等待，作为对外部服务请求速率的背压
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.batchDelay):
			}
		}

		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		log.Debugf("[EmbeddingCache] 开始处理子批次 %d-%d / %d", start+1, end, len(texts))

		// 子批次内全部并发；任一失败则整个子批次失败并向上传播
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				vector, err := c.Embed(gctx, texts[i])
				if err != nil {
					return err
				}
				vectors[i] = vector
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return vectors, nil
}

// Dimensions returns the provider vector dimension (passthrough to inner).
func (c *CachedClient) Dimensions() int {
	return c.inner.Dimensions()
}

// CacheLen 返回当前缓存条目数，主要供测试使用。
func (c *CachedClient) CacheLen() int {
	return c.cache.Len()
}
