// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"edu-smart-go/internal/model"
)

// 资料状态在 Redis 中的保留时间，仅用于轻量的进度查询。
const materialStatusTTL = 7 * 24 * time.Hour

// MaterialRepository 接口定义了课程资料相关的数据持久化操作。
type MaterialRepository interface {
	Upsert(material *model.Material) error
	FindByID(materialID string) (*model.Material, error)
	FindBatchByIDs(materialIDs []string) ([]*model.Material, error)
	UpdateStatus(materialID, status, lastError string) error
	UpdateChunkCount(materialID string, chunkCount int) error
	Delete(materialID string) error

	// Material status operations (Redis)
	SetStatusCache(ctx context.Context, materialID, status string) error
	GetStatusCache(ctx context.Context, materialID string) (string, error)
}

// materialRepository 是 MaterialRepository 接口的 GORM+Redis 实现。
type materialRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewMaterialRepository 创建一个新的 MaterialRepository 实例。
func NewMaterialRepository(db *gorm.DB, redisClient *redis.Client) MaterialRepository {
	return &materialRepository{db: db, redisClient: redisClient}
}

// getRedisStatusKey generates the redis key for material ingest status.
func (r *materialRepository) getRedisStatusKey(materialID string) string {
	return "material:status:" + materialID
}

// Upsert 创建或更新一条资料记录（重新入库时覆盖声明格式与大小）。
func (r *materialRepository) Upsert(material *model.Material) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "material_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"course_id", "file_name", "mime_type", "size_bytes", "status", "updated_at"}),
	}).Create(material).Error
}

// FindByID 根据资料 ID 检索资料记录。
func (r *materialRepository) FindByID(materialID string) (*model.Material, error) {
	var material model.Material
	err := r.db.Where("material_id = ?", materialID).First(&material).Error
	if err != nil {
		return nil, err
	}
	return &material, nil
}

// FindBatchByIDs finds material records by a slice of material IDs.
func (r *materialRepository) FindBatchByIDs(materialIDs []string) ([]*model.Material, error) {
	var materials []*model.Material
	if len(materialIDs) == 0 {
		return materials, nil
	}
	err := r.db.Where("material_id IN ?", materialIDs).Find(&materials).Error
	return materials, err
}

// UpdateStatus 更新资料的处理状态与最近一次错误信息。
func (r *materialRepository) UpdateStatus(materialID, status, lastError string) error {
	return r.db.Model(&model.Material{}).
		Where("material_id = ?", materialID).
		Updates(map[string]interface{}{"status": status, "last_error": lastError}).Error
}

// UpdateChunkCount 更新资料的分块数量。
func (r *materialRepository) UpdateChunkCount(materialID string, chunkCount int) error {
	return r.db.Model(&model.Material{}).
		Where("material_id = ?", materialID).
		Update("chunk_count", chunkCount).Error
}

// Delete 删除资料记录本身（分块由 ChunkRepository 级联清理）。
func (r *materialRepository) Delete(materialID string) error {
	return r.db.Where("material_id = ?", materialID).Delete(&model.Material{}).Error
}

// SetStatusCache 将资料的入库状态写入 Redis，供按文件粒度的进度上报使用。
func (r *materialRepository) SetStatusCache(ctx context.Context, materialID, status string) error {
	return r.redisClient.Set(ctx, r.getRedisStatusKey(materialID), status, materialStatusTTL).Err()
}

// GetStatusCache 读取资料的入库状态；键不存在时返回空字符串。
func (r *materialRepository) GetStatusCache(ctx context.Context, materialID string) (string, error) {
	status, err := r.redisClient.Get(ctx, r.getRedisStatusKey(materialID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return status, err
}
