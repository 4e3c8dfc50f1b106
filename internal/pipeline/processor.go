// Package pipeline 定义了课程资料入库的核心流程。
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/pgvector/pgvector-go"

	"edu-smart-go/internal/chunker"
	"edu-smart-go/internal/config"
	"edu-smart-go/internal/extractor"
	"edu-smart-go/internal/model"
	"edu-smart-go/internal/repository"
	"edu-smart-go/pkg/embedding"
	"edu-smart-go/pkg/es"
	"edu-smart-go/pkg/log"
	"edu-smart-go/pkg/storage"
	"edu-smart-go/pkg/tasks"
)

// DocumentExtractor 抽象文本提取器，便于在测试中替换。
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType, fileName string) extractor.ExtractedDocument
}

// ObjectFetcher 从对象存储读取资料的原始字节。
type ObjectFetcher func(ctx context.Context, bucket, objectName string) ([]byte, error)

// KeywordIndexer 抽象 Elasticsearch 关键词索引的写入与清理。
type KeywordIndexer interface {
	Index(ctx context.Context, doc model.EsChunkDocument) error
	DeleteByMaterial(ctx context.Context, materialID string) error
}

// esIndexer 是 KeywordIndexer 的默认实现，委托给 pkg/es。
type esIndexer struct {
	indexName string
}

func (e esIndexer) Index(ctx context.Context, doc model.EsChunkDocument) error {
	return es.IndexDocument(ctx, e.indexName, doc)
}

func (e esIndexer) DeleteByMaterial(ctx context.Context, materialID string) error {
	return es.DeleteByMaterialID(ctx, e.indexName, materialID)
}

// Processor 封装了资料入库的所有依赖和逻辑。
type Processor struct {
	extractor       DocumentExtractor
	chunker         *chunker.Chunker
	embeddingClient embedding.Client
	materialRepo    repository.MaterialRepository
	chunkRepo       repository.ChunkRepository
	indexer         KeywordIndexer
	fetchObject     ObjectFetcher
	bucketName      string
}

// NewProcessor 创建一个新的 Processor 实例，对象存储与 ES 使用全局客户端。
func NewProcessor(
	docExtractor DocumentExtractor,
	textChunker *chunker.Chunker,
	embeddingClient embedding.Client,
	materialRepo repository.MaterialRepository,
	chunkRepo repository.ChunkRepository,
	esCfg config.ElasticsearchConfig,
	minioCfg config.MinIOConfig,
) *Processor {
	return &Processor{
		extractor:       docExtractor,
		chunker:         textChunker,
		embeddingClient: embeddingClient,
		materialRepo:    materialRepo,
		chunkRepo:       chunkRepo,
		indexer:         esIndexer{indexName: esCfg.IndexName},
		fetchObject:     storage.FetchObject,
		bucketName:      minioCfg.BucketName,
	}
}

// Process 是资料入库的主函数。返回 nil 表示消息可以提交；
// 返回 error 会触发 Kafka 层面的重投递（嵌入失败等可恢复场景）。
// 提取失败是确定性的，重试没有意义，标记状态后按成功提交处理。
func (p *Processor) Process(ctx context.Context, task tasks.MaterialIngestTask) error {
	log.Infof("[Processor] 开始处理资料, MaterialID: %s, FileName: %s, CourseID: %s", task.MaterialID, task.FileName, task.CourseID)
	p.setStatus(ctx, task.MaterialID, model.MaterialStatusProcessing, "")

	// 1. 从 MinIO 下载资料原始字节
	log.Infof("[Processor] 步骤1: 从MinIO下载资料, Bucket: %s, Object: %s", p.bucketName, task.ObjectName)
	data, err := p.fetchObject(ctx, p.bucketName, task.ObjectName)
	if err != nil {
		log.Errorf("[Processor] 从MinIO下载资料失败, Object: %s, Error: %v", task.ObjectName, err)
		return fmt.Errorf("从 MinIO 下载资料失败: %w", err)
	}
	log.Infof("[Processor] 步骤1: 资料下载成功, 大小: %d字节", len(data))

	// 2. 提取文本。提取器从不向外抛错，失败体现在 Error 标记上
	log.Infof("[Processor] 步骤2: 提取文本内容, mime: %s", task.MimeType)
	doc := p.extractor.Extract(ctx, data, task.MimeType, task.FileName)
	if doc.Error != "" {
		log.Errorf("[Processor] 提取文本失败, MaterialID: %s, Method: %s, Error: %s", task.MaterialID, doc.Method, doc.Error)
		p.setStatus(ctx, task.MaterialID, model.MaterialStatusFailedExtraction, doc.Error)
		// 确定性失败，重投递不会改变结果，按处理完成提交
		return nil
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, method: %s, 长度: %d 字符", doc.Method, len(doc.Text))

	// 3. 文本分块
	chunks := p.chunker.Split(doc.Text)
	log.Infof("[Processor] 步骤3: 文本分块完成, 共生成 %d 个分块", len(chunks))

	// 4. 幂等清理：重新入库时先删除该资料既有的分块与索引文档
	log.Info("[Processor] 步骤4: 清理该资料的旧分块与索引")
	if err := p.chunkRepo.DeleteByMaterialID(task.MaterialID); err != nil {
		log.Errorf("[Processor] 清理旧分块失败, MaterialID: %s, Error: %v", task.MaterialID, err)
		return fmt.Errorf("清理旧分块失败: %w", err)
	}
	if err := p.indexer.DeleteByMaterial(ctx, task.MaterialID); err != nil {
		log.Warnf("[Processor] 清理旧索引文档失败, MaterialID: %s, Error: %v", task.MaterialID, err)
	}

	if len(chunks) == 0 {
		// 图片无文字等合法的空文本场景：资料记为完成，分块数为 0
		log.Warnf("[Processor] 资料无可检索文本, MaterialID: %s", task.MaterialID)
		p.finishMaterial(ctx, task.MaterialID, 0)
		return nil
	}

	// 阶段一：先将分块文本与元数据落库（向量为空），保证嵌入失败后
	// 文本仍然保留，可以只重做向量化
	log.Info("[Processor] 阶段一: 将分块文本存入数据库")
	rows := make([]*model.KnowledgeChunk, 0, len(chunks))
	for _, chunk := range chunks {
		rows = append(rows, &model.KnowledgeChunk{
			MaterialID:  task.MaterialID,
			ChunkID:     chunk.Index,
			CourseID:    task.CourseID,
			TextContent: chunk.Text,
			Metadata: model.ChunkMetadata{
				Page:        pageForOffset(doc.PageOffsets, chunk.StartOffset),
				StartOffset: chunk.StartOffset,
				EndOffset:   chunk.EndOffset,
				Method:      doc.Method,
			},
		})
	}
	if err := p.chunkRepo.BatchCreate(rows); err != nil {
		log.Errorf("[Processor] 阶段一: 批量保存分块失败, Error: %v", err)
		return fmt.Errorf("批量保存分块失败: %w", err)
	}
	log.Infof("[Processor] 阶段一: 成功保存 %d 个分块", len(rows))

	// 阶段二：从数据库读回分块，批量向量化并写回，同时镜像到 ES 关键词索引
	log.Info("[Processor] 阶段二: 开始从数据库读取分块并进行向量化")
	savedRows, err := p.chunkRepo.FindByMaterialID(task.MaterialID)
	if err != nil {
		log.Errorf("[Processor] 阶段二: 从数据库读取分块失败, MaterialID: %s, Error: %v", task.MaterialID, err)
		return fmt.Errorf("从数据库读取分块失败: %w", err)
	}
	rows = savedRows
	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = row.TextContent
	}
	vectors, err := p.embeddingClient.EmbedBatch(ctx, texts)
	if err != nil {
		log.Errorf("[Processor] 阶段二: 批量向量化失败, MaterialID: %s, Error: %v", task.MaterialID, err)
		p.setStatus(ctx, task.MaterialID, model.MaterialStatusFailedEmbedding, err.Error())
		// 文本已落库，返回错误触发重投递以便稍后重做向量化
		return fmt.Errorf("批量向量化失败: %w", err)
	}

	for i, row := range rows {
		vec := pgvector.NewVector(vectors[i])
		if err := p.chunkRepo.UpdateEmbedding(row.MaterialID, row.ChunkID, vec); err != nil {
			log.Errorf("[Processor] 写回分块向量失败, ChunkID: %d, Error: %v", row.ChunkID, err)
			return fmt.Errorf("写回分块 %d 向量失败: %w", row.ChunkID, err)
		}
		esDoc := model.EsChunkDocument{
			DocID:       fmt.Sprintf("%s_%d", row.MaterialID, row.ChunkID),
			MaterialID:  row.MaterialID,
			CourseID:    row.CourseID,
			ChunkID:     row.ChunkID,
			TextContent: row.TextContent,
			FileName:    task.FileName,
			Page:        row.Metadata.Page,
		}
		if err := p.indexer.Index(ctx, esDoc); err != nil {
			log.Errorf("[Processor] 索引分块 %d 到Elasticsearch失败, Error: %v", row.ChunkID, err)
			return fmt.Errorf("索引块 %d 到 Elasticsearch 失败: %w", row.ChunkID, err)
		}
	}
	log.Info("[Processor] 阶段二: 所有分块向量化并索引完毕")

	p.finishMaterial(ctx, task.MaterialID, len(rows))
	log.Infof("[Processor] 资料处理成功完成, MaterialID: %s, 分块数: %d", task.MaterialID, len(rows))
	return nil
}

// setStatus 同时更新数据库与 Redis 中的资料状态。
func (p *Processor) setStatus(ctx context.Context, materialID, status, lastError string) {
	if err := p.materialRepo.UpdateStatus(materialID, status, lastError); err != nil {
		log.Warnf("[Processor] 更新资料状态失败, MaterialID: %s, Status: %s, Error: %v", materialID, status, err)
	}
	if err := p.materialRepo.SetStatusCache(ctx, materialID, status); err != nil {
		log.Warnf("[Processor] 写入状态缓存失败, MaterialID: %s, Error: %v", materialID, err)
	}
}

func (p *Processor) finishMaterial(ctx context.Context, materialID string, chunkCount int) {
	if err := p.materialRepo.UpdateChunkCount(materialID, chunkCount); err != nil {
		log.Warnf("[Processor] 更新分块数量失败, MaterialID: %s, Error: %v", materialID, err)
	}
	p.setStatus(ctx, materialID, model.MaterialStatusCompleted, "")
}

// pageForOffset 根据每页起始偏移反查字符偏移所在的页码（1 起算）。
// 没有分页信息的格式返回 0。
func pageForOffset(pageOffsets []int, offset int) int {
	if len(pageOffsets) == 0 {
		return 0
	}
	// 找到第一个大于 offset 的页起点，前一页即为所在页
	idx := sort.SearchInts(pageOffsets, offset+1)
	if idx == 0 {
		return 1
	}
	return idx
}
