package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"edu-smart-go/internal/config"
	"edu-smart-go/internal/model"
	"edu-smart-go/internal/repository"
	"edu-smart-go/pkg/es"
	"edu-smart-go/pkg/kafka"
	"edu-smart-go/pkg/log"
	"edu-smart-go/pkg/storage"
	"edu-smart-go/pkg/tasks"
)

// MaterialStatus 是按文件粒度的入库进度上报结果。
type MaterialStatus struct {
	MaterialID string `json:"materialId"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunkCount"`
	LastError  string `json:"lastError,omitempty"`
}

// IngestService 接口定义了资料的入库触发、删除与状态查询。
type IngestService interface {
	// IngestBytes 将一份资料写入对象存储并投递入库任务。
	// 相同 courseID+fileName 的再次提交会替换而不是追加。
	IngestBytes(ctx context.Context, courseID, fileName, mimeType string, data []byte) (string, error)
	// ImportSeedDir 启动时导入本地种子目录，已完成的资料自动跳过。
	ImportSeedDir(ctx context.Context, courseID, dir string) error
	// DeleteMaterial 级联删除一份资料：分块与向量、关键词索引、
	// 对象存储中的原始文件以及资料记录本身。
	DeleteMaterial(ctx context.Context, materialID string) error
	// Status 查询资料的入库状态，优先读 Redis，未命中回落到数据库。
	Status(ctx context.Context, materialID string) (*MaterialStatus, error)
}

// TaskProducer 投递入库任务，默认实现走 Kafka。
type TaskProducer func(task tasks.MaterialIngestTask) error

type ingestService struct {
	materialRepo repository.MaterialRepository
	chunkRepo    repository.ChunkRepository
	minioCfg     config.MinIOConfig
	esIndexName  string
	produceTask  TaskProducer
	putObject    func(ctx context.Context, bucket, objectName string, data []byte) error
	removeObject func(ctx context.Context, bucket, objectName string) error
	deleteIndex  func(ctx context.Context, indexName, materialID string) error
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(
	materialRepo repository.MaterialRepository,
	chunkRepo repository.ChunkRepository,
	minioCfg config.MinIOConfig,
	esCfg config.ElasticsearchConfig,
) IngestService {
	return &ingestService{
		materialRepo: materialRepo,
		chunkRepo:    chunkRepo,
		minioCfg:     minioCfg,
		esIndexName:  esCfg.IndexName,
		produceTask:  kafka.ProduceIngestTask,
		putObject:    storage.PutObject,
		removeObject: storage.RemoveObject,
		deleteIndex:  es.DeleteByMaterialID,
	}
}

// materialIDFor 由课程与文件名派生稳定的资料标识，
// 同一路径重复导入时命中同一条资料记录，实现替换式重建。
func materialIDFor(courseID, fileName string) string {
	sum := md5.Sum([]byte(courseID + "/" + fileName))
	return hex.EncodeToString(sum[:])
}

// IngestBytes 上传资料字节并投递异步入库任务，返回资料标识。
func (s *ingestService) IngestBytes(ctx context.Context, courseID, fileName, mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("资料 '%s' 内容为空", fileName)
	}
	materialID := materialIDFor(courseID, fileName)
	objectName := fmt.Sprintf("%s/%s/%s", courseID, materialID, fileName)
	log.Infof("[IngestService] 接收资料, MaterialID: %s, FileName: %s, Size: %d", materialID, fileName, len(data))

	// 1. 原始字节写入对象存储
	if err := s.putObject(ctx, s.minioCfg.BucketName, objectName, data); err != nil {
		log.Errorf("[IngestService] 上传资料到对象存储失败, Object: %s, Error: %v", objectName, err)
		return "", err
	}

	// 2. 登记资料记录并标记待处理
	material := &model.Material{
		MaterialID: materialID,
		CourseID:   courseID,
		FileName:   fileName,
		MimeType:   mimeType,
		SizeBytes:  int64(len(data)),
		Status:     model.MaterialStatusPending,
	}
	if err := s.materialRepo.Upsert(material); err != nil {
		log.Errorf("[IngestService] 登记资料记录失败, MaterialID: %s, Error: %v", materialID, err)
		return "", fmt.Errorf("登记资料记录失败: %w", err)
	}
	if err := s.materialRepo.SetStatusCache(ctx, materialID, model.MaterialStatusPending); err != nil {
		log.Warnf("[IngestService] 写入状态缓存失败, MaterialID: %s, Error: %v", materialID, err)
	}

	// 3. 投递入库任务
	task := tasks.MaterialIngestTask{
		MaterialID: materialID,
		CourseID:   courseID,
		ObjectName: objectName,
		FileName:   fileName,
		MimeType:   mimeType,
		SizeBytes:  int64(len(data)),
	}
	if err := s.produceTask(task); err != nil {
		log.Errorf("[IngestService] 投递入库任务失败, MaterialID: %s, Error: %v", materialID, err)
		return "", fmt.Errorf("投递入库任务失败: %w", err)
	}

	log.Infof("[IngestService] 入库任务已投递, MaterialID: %s", materialID)
	return materialID, nil
}

// ImportSeedDir 遍历种子目录逐个导入文件。单个文件失败不影响其余文件，
// 与批量上传"按文件粒度报告成败"的约定一致。
func (s *ingestService) ImportSeedDir(ctx context.Context, courseID, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("读取种子目录失败: %w", err)
	}
	log.Infof("[IngestService] 开始导入种子目录 '%s', 共 %d 个条目", dir, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()

		// 已完成的资料跳过，保证重复启动不触发重复入库
		materialID := materialIDFor(courseID, fileName)
		if existing, err := s.materialRepo.FindByID(materialID); err == nil &&
			existing.Status == model.MaterialStatusCompleted {
			log.Infof("[IngestService] 种子文件 '%s' 已完成入库, 跳过", fileName)
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, fileName))
		if err != nil {
			log.Errorf("[IngestService] 读取种子文件失败, File: %s, Error: %v", fileName, err)
			continue
		}
		mimeType := mime.TypeByExtension(filepath.Ext(fileName))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		if _, err := s.IngestBytes(ctx, courseID, fileName, mimeType, data); err != nil {
			log.Errorf("[IngestService] 导入种子文件失败, File: %s, Error: %v", fileName, err)
		}
	}
	return nil
}

// DeleteMaterial 级联删除一份资料的全部数据。
func (s *ingestService) DeleteMaterial(ctx context.Context, materialID string) error {
	material, err := s.materialRepo.FindByID(materialID)
	if err != nil {
		return fmt.Errorf("资料不存在: %w", err)
	}
	log.Infof("[IngestService] 开始级联删除资料, MaterialID: %s, FileName: %s", materialID, material.FileName)

	// 1. 删除分块与向量
	chunkCount, err := s.chunkRepo.CountByMaterialID(materialID)
	if err != nil {
		chunkCount = 0
	}
	if err := s.chunkRepo.DeleteByMaterialID(materialID); err != nil {
		return fmt.Errorf("删除资料分块失败: %w", err)
	}
	log.Infof("[IngestService] 已删除 %d 个分块, MaterialID: %s", chunkCount, materialID)
	// 2. 删除关键词索引文档
	if err := s.deleteIndex(ctx, s.esIndexName, materialID); err != nil {
		log.Warnf("[IngestService] 删除关键词索引文档失败, MaterialID: %s, Error: %v", materialID, err)
	}
	// 3. 删除对象存储中的原始文件
	objectName := fmt.Sprintf("%s/%s/%s", material.CourseID, materialID, material.FileName)
	if err := s.removeObject(ctx, s.minioCfg.BucketName, objectName); err != nil {
		log.Warnf("[IngestService] 删除对象存储文件失败, Object: %s, Error: %v", objectName, err)
	}
	// 4. 删除资料记录
	if err := s.materialRepo.Delete(materialID); err != nil {
		return fmt.Errorf("删除资料记录失败: %w", err)
	}

	log.Infof("[IngestService] 资料删除完成, MaterialID: %s", materialID)
	return nil
}

// Status 返回资料当前的入库状态。
func (s *ingestService) Status(ctx context.Context, materialID string) (*MaterialStatus, error) {
	material, err := s.materialRepo.FindByID(materialID)
	if err != nil {
		return nil, fmt.Errorf("资料不存在: %w", err)
	}

	status := material.Status
	if cached, err := s.materialRepo.GetStatusCache(ctx, materialID); err == nil && cached != "" {
		// Redis 中的状态由处理管道实时更新，比数据库更新鲜
		status = cached
	}

	return &MaterialStatus{
		MaterialID: materialID,
		Status:     status,
		ChunkCount: material.ChunkCount,
		LastError:  material.LastError,
	}, nil
}
