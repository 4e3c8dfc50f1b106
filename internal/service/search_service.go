// Package service 提供了检索与资料管理相关的业务逻辑。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"edu-smart-go/internal/config"
	"edu-smart-go/internal/model"
	"edu-smart-go/internal/repository"
	"edu-smart-go/pkg/embedding"
	"edu-smart-go/pkg/es"
	"edu-smart-go/pkg/log"
)

// 校验类错误，直接同步返回给调用方，不做任何重试。
var (
	ErrEmptyQuery    = errors.New("search query is empty")
	ErrInvalidTopK   = errors.New("topK is out of range")
	ErrChunkNotFound = errors.New("chunk not found")
	ErrNoEmbedding   = errors.New("chunk has no embedding yet")
)

// SearchOptions 控制单次检索的行为。
// 字段为 nil 时使用配置默认值；显式传入的越界值会触发校验错误。
type SearchOptions struct {
	TopK          *int
	MinSimilarity *float64
}

// SearchService 接口定义了面向下游答疑模块的检索操作。
type SearchService interface {
	// Search 在整个课程范围内做语义检索。
	Search(ctx context.Context, courseID, query string, opts SearchOptions) ([]model.SearchResult, error)
	// SearchMaterials 将候选集收窄到指定资料列表的语义检索。
	SearchMaterials(ctx context.Context, courseID string, materialIDs []string, query string, opts SearchOptions) ([]model.SearchResult, error)
	// FindSimilarChunks 以已入库分块自身的向量为查询，返回同课程内
	// 与其相似的其他分块，结果不包含该分块本身。
	FindSimilarChunks(ctx context.Context, materialID string, chunkID int, opts SearchOptions) ([]model.SearchResult, error)
	// KeywordSearch 在课程范围内做 BM25 关键词检索。
	KeywordSearch(ctx context.Context, courseID, query string, topK int) ([]model.SearchResult, error)
}

// KeywordSearcher 抽象 ES 关键词检索，便于在测试中替换。
type KeywordSearcher func(ctx context.Context, indexName, courseID, query string, topK int) ([]model.EsChunkDocument, error)

type searchService struct {
	embeddingClient embedding.Client
	chunkRepo       repository.ChunkRepository
	materialRepo    repository.MaterialRepository
	searchCfg       config.SearchConfig
	esIndexName     string
	keywordSearch   KeywordSearcher
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(
	embeddingClient embedding.Client,
	chunkRepo repository.ChunkRepository,
	materialRepo repository.MaterialRepository,
	searchCfg config.SearchConfig,
	esCfg config.ElasticsearchConfig,
) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		chunkRepo:       chunkRepo,
		materialRepo:    materialRepo,
		searchCfg:       searchCfg,
		esIndexName:     esCfg.IndexName,
		keywordSearch:   es.KeywordSearch,
	}
}

// Search 执行课程范围内的语义检索。
func (s *searchService) Search(ctx context.Context, courseID, query string, opts SearchOptions) ([]model.SearchResult, error) {
	return s.SearchMaterials(ctx, courseID, nil, query, opts)
}

// SearchMaterials 执行限定资料范围的语义检索。materialIDs 为空时等价于全课程检索。
func (s *searchService) SearchMaterials(ctx context.Context, courseID string, materialIDs []string, query string, opts SearchOptions) ([]model.SearchResult, error) {
	log.Infof("[SearchService] 开始执行语义检索, course: %s, query_len: %d, materials: %d", courseID, len(query), len(materialIDs))

	// 1. 参数校验
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	topK, minSimilarity, err := s.resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	// 2. 向量化查询（命中 embedding 缓存时不产生外部调用）
	log.Info("[SearchService] 步骤1: 向量化查询")
	queryVector, err := s.embeddingClient.Embed(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	// 3. 在 Postgres 中做余弦相似度检索
	log.Infof("[SearchService] 步骤2: 执行向量检索, topK: %d, minSimilarity: %.2f", topK, minSimilarity)
	scored, err := s.chunkRepo.SearchSimilar(courseID, materialIDs, pgvector.NewVector(queryVector), topK, minSimilarity)
	if err != nil {
		log.Errorf("[SearchService] 向量检索失败: %v", err)
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results, err := s.assembleResults(scored)
	if err != nil {
		return nil, err
	}
	log.Infof("[SearchService] 语义检索完成, 返回 %d 条结果", len(results))
	return results, nil
}

// FindSimilarChunks 查找与给定分块相似的其他分块（"更多类似内容"）。
func (s *searchService) FindSimilarChunks(ctx context.Context, materialID string, chunkID int, opts SearchOptions) ([]model.SearchResult, error) {
	log.Infof("[SearchService] 查找相似分块, material: %s, chunk: %d", materialID, chunkID)

	topK, minSimilarity, err := s.resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	source, err := s.chunkRepo.FindByMaterialAndChunk(materialID, chunkID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%d", ErrChunkNotFound, materialID, chunkID)
	}
	if source.Embedding == nil {
		return nil, ErrNoEmbedding
	}

	// 以分块自身的向量为查询，仅排除 (materialID, chunkID) 这一个分块。
	// 其他资料中编号相同的分块、同一资料中的其他分块都属于合法结果。
	scored, err := s.chunkRepo.SearchSimilarExcluding(source.CourseID, materialID, chunkID, *source.Embedding, topK, minSimilarity)
	if err != nil {
		log.Errorf("[SearchService] 相似分块检索失败: %v", err)
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results, err := s.assembleResults(scored)
	if err != nil {
		return nil, err
	}
	log.Infof("[SearchService] 相似分块检索完成, 返回 %d 条结果", len(results))
	return results, nil
}

// KeywordSearch 执行课程范围内的 BM25 关键词检索，作为语义检索的补充。
func (s *searchService) KeywordSearch(ctx context.Context, courseID, query string, topK int) ([]model.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = s.searchCfg.DefaultTopK
	}
	if topK > s.searchCfg.MaxTopK {
		return nil, fmt.Errorf("%w: %d (must be within [1,%d])", ErrInvalidTopK, topK, s.searchCfg.MaxTopK)
	}

	docs, err := s.keywordSearch(ctx, s.esIndexName, courseID, query, topK)
	if err != nil {
		log.Errorf("[SearchService] 关键词检索失败: %v", err)
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	results := make([]model.SearchResult, 0, len(docs))
	for _, doc := range docs {
		results = append(results, model.SearchResult{
			MaterialID:  doc.MaterialID,
			FileName:    doc.FileName,
			CourseID:    doc.CourseID,
			ChunkID:     doc.ChunkID,
			TextContent: doc.TextContent,
			Page:        doc.Page,
		})
	}
	return results, nil
}

// resolveOptions 应用默认值并校验 topK 与相似度下限。
func (s *searchService) resolveOptions(opts SearchOptions) (int, float64, error) {
	topK := s.searchCfg.DefaultTopK
	if opts.TopK != nil {
		topK = *opts.TopK
	}
	if topK < 1 || topK > s.searchCfg.MaxTopK {
		return 0, 0, fmt.Errorf("%w: %d (must be within [1,%d])", ErrInvalidTopK, topK, s.searchCfg.MaxTopK)
	}

	minSimilarity := s.searchCfg.MinSimilarity
	if opts.MinSimilarity != nil {
		minSimilarity = *opts.MinSimilarity
	}
	if minSimilarity < 0 || minSimilarity > 1 {
		return 0, 0, fmt.Errorf("minSimilarity %.2f is out of range [0,1]", minSimilarity)
	}
	return topK, minSimilarity, nil
}

// assembleResults 批量补齐文件名并组装最终结果，相似度收敛到 [0,1]。
func (s *searchService) assembleResults(scored []repository.ScoredChunk) ([]model.SearchResult, error) {
	if len(scored) == 0 {
		return []model.SearchResult{}, nil
	}

	// 按资料去重后批量查文件名
	uniqueIDs := make(map[string]struct{}, len(scored))
	for _, chunk := range scored {
		uniqueIDs[chunk.MaterialID] = struct{}{}
	}
	idList := make([]string, 0, len(uniqueIDs))
	for id := range uniqueIDs {
		idList = append(idList, id)
	}

	materials, err := s.materialRepo.FindBatchByIDs(idList)
	if err != nil {
		log.Errorf("[SearchService] 批量查询资料信息失败: %v", err)
		return nil, fmt.Errorf("批量查询资料信息失败: %w", err)
	}
	fileNameMap := make(map[string]string, len(materials))
	for _, m := range materials {
		fileNameMap[m.MaterialID] = m.FileName
	}

	results := make([]model.SearchResult, 0, len(scored))
	for _, chunk := range scored {
		fileName := fileNameMap[chunk.MaterialID]
		if fileName == "" {
			log.Warnf("[SearchService] 未找到资料 '%s' 对应的文件名", chunk.MaterialID)
		}
		results = append(results, model.SearchResult{
			MaterialID:  chunk.MaterialID,
			FileName:    fileName,
			CourseID:    chunk.CourseID,
			ChunkID:     chunk.ChunkID,
			TextContent: chunk.TextContent,
			Page:        chunk.Metadata.Page,
			Similarity:  clampSimilarity(chunk.Similarity),
		})
	}
	return results, nil
}

// clampSimilarity 将 1-距离 的取值收敛到 [0,1]。
func clampSimilarity(similarity float64) float64 {
	if similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}
