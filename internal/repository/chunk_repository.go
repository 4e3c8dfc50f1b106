package repository

import (
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"edu-smart-go/internal/model"
)

// ScoredChunk 是相似度查询的结果行：分块本身加上 [0,1] 的相似度得分。
type ScoredChunk struct {
	model.KnowledgeChunk
	Similarity float64 `gorm:"column:similarity"`
}

// ChunkRepository 接口定义了对 knowledge_chunks 表的数据操作。
type ChunkRepository interface {
	BatchCreate(chunks []*model.KnowledgeChunk) error
	FindByMaterialID(materialID string) ([]*model.KnowledgeChunk, error)
	FindByMaterialAndChunk(materialID string, chunkID int) (*model.KnowledgeChunk, error)
	UpdateEmbedding(materialID string, chunkID int, embedding pgvector.Vector) error
	DeleteByMaterialID(materialID string) error
	CountByMaterialID(materialID string) (int64, error)

	// SearchSimilar 在课程范围内按余弦相似度检索分块。
	// materialIDs 不为空时将候选集进一步收窄到这些资料。
	SearchSimilar(courseID string, materialIDs []string, query pgvector.Vector, topK int, minSimilarity float64) ([]ScoredChunk, error)
	// SearchSimilarExcluding 与 SearchSimilar 相同，但排除指定的那一个分块，
	// 用于"查找相似分块"。排除条件必须精确到 (material_id, chunk_id) 整体。
	SearchSimilarExcluding(courseID, excludeMaterialID string, excludeChunkID int, query pgvector.Vector, topK int, minSimilarity float64) ([]ScoredChunk, error)
}

// chunkRepository 是 ChunkRepository 接口的 GORM+pgvector 实现。
type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// BatchCreate 批量创建分块记录。
func (r *chunkRepository) BatchCreate(chunks []*model.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error // 每100条记录一批
}

// FindByMaterialID 根据资料 ID 查找其全部分块，按 chunk_id 升序。
func (r *chunkRepository) FindByMaterialID(materialID string) ([]*model.KnowledgeChunk, error) {
	var chunks []*model.KnowledgeChunk
	err := r.db.Where("material_id = ?", materialID).Order("chunk_id ASC").Find(&chunks).Error
	return chunks, err
}

// FindByMaterialAndChunk 按 (material_id, chunk_id) 业务主键查找单个分块。
func (r *chunkRepository) FindByMaterialAndChunk(materialID string, chunkID int) (*model.KnowledgeChunk, error) {
	var chunk model.KnowledgeChunk
	err := r.db.Where("material_id = ? AND chunk_id = ?", materialID, chunkID).First(&chunk).Error
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// UpdateEmbedding 为已入库的分块写入向量。
func (r *chunkRepository) UpdateEmbedding(materialID string, chunkID int, embedding pgvector.Vector) error {
	return r.db.Model(&model.KnowledgeChunk{}).
		Where("material_id = ? AND chunk_id = ?", materialID, chunkID).
		Update("embedding", embedding).Error
}

// DeleteByMaterialID 根据资料 ID 删除所有相关的分块记录（幂等重建与级联删除）。
func (r *chunkRepository) DeleteByMaterialID(materialID string) error {
	return r.db.Where("material_id = ?", materialID).Delete(&model.KnowledgeChunk{}).Error
}

// CountByMaterialID 统计某个资料当前的分块行数。
func (r *chunkRepository) CountByMaterialID(materialID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.KnowledgeChunk{}).Where("material_id = ?", materialID).Count(&count).Error
	return count, err
}

// SearchSimilar 在课程范围内按余弦相似度检索分块。
// 相似度 = 1 - 余弦距离（pgvector 的 <=> 运算符），并以 id 升序保证同分结果
// 按入库顺序稳定排序，使同一查询在语料不变时结果完全可复现。
func (r *chunkRepository) SearchSimilar(courseID string, materialIDs []string, query pgvector.Vector, topK int, minSimilarity float64) ([]ScoredChunk, error) {
	tx := r.db.Model(&model.KnowledgeChunk{}).
		Select("*, 1 - (embedding <=> ?) AS similarity", query).
		Where("course_id = ?", courseID).
		Where("embedding IS NOT NULL").
		Where("1 - (embedding <=> ?) >= ?", query, minSimilarity)

	if len(materialIDs) > 0 {
		tx = tx.Where("material_id IN ?", materialIDs)
	}

	var results []ScoredChunk
	err := tx.Order("similarity DESC, id ASC").Limit(topK).Find(&results).Error
	return results, err
}

// SearchSimilarExcluding 排除且仅排除 (excludeMaterialID, excludeChunkID) 这一个分块。
func (r *chunkRepository) SearchSimilarExcluding(courseID, excludeMaterialID string, excludeChunkID int, query pgvector.Vector, topK int, minSimilarity float64) ([]ScoredChunk, error) {
	var results []ScoredChunk
	err := r.db.Model(&model.KnowledgeChunk{}).
		Select("*, 1 - (embedding <=> ?) AS similarity", query).
		Where("course_id = ?", courseID).
		Where("embedding IS NOT NULL").
		Where("1 - (embedding <=> ?) >= ?", query, minSimilarity).
		Where("NOT (material_id = ? AND chunk_id = ?)", excludeMaterialID, excludeChunkID).
		Order("similarity DESC, id ASC").
		Limit(topK).
		Find(&results).Error
	return results, err
}
