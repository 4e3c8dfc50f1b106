package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edu-smart-go/internal/config"
	"edu-smart-go/internal/model"
	"edu-smart-go/pkg/tasks"
)

// recordingMaterialRepo 记录写操作并可预置查询结果。
type recordingMaterialRepo struct {
	stubMaterialRepo
	byID        map[string]*model.Material
	upserted    []*model.Material
	deleted     []string
	cacheStatus map[string]string
}

func newRecordingMaterialRepo() *recordingMaterialRepo {
	return &recordingMaterialRepo{
		byID:        make(map[string]*model.Material),
		cacheStatus: make(map[string]string),
	}
}

func (r *recordingMaterialRepo) Upsert(material *model.Material) error {
	r.upserted = append(r.upserted, material)
	r.byID[material.MaterialID] = material
	return nil
}

func (r *recordingMaterialRepo) FindByID(materialID string) (*model.Material, error) {
	if m, ok := r.byID[materialID]; ok {
		return m, nil
	}
	return nil, errors.New("record not found")
}

func (r *recordingMaterialRepo) Delete(materialID string) error {
	r.deleted = append(r.deleted, materialID)
	return nil
}

func (r *recordingMaterialRepo) SetStatusCache(_ context.Context, materialID, status string) error {
	r.cacheStatus[materialID] = status
	return nil
}

func (r *recordingMaterialRepo) GetStatusCache(_ context.Context, materialID string) (string, error) {
	return r.cacheStatus[materialID], nil
}

type recordingIngestEnv struct {
	service      *ingestService
	materialRepo *recordingMaterialRepo
	chunkRepo    *stubChunkRepo

	putObjects     map[string][]byte
	removedObjects []string
	deletedIndex   []string
	producedTasks  []tasks.MaterialIngestTask
	produceErr     error
}

func newIngestEnv() *recordingIngestEnv {
	env := &recordingIngestEnv{
		materialRepo: newRecordingMaterialRepo(),
		chunkRepo:    &stubChunkRepo{},
		putObjects:   make(map[string][]byte),
	}
	env.service = &ingestService{
		materialRepo: env.materialRepo,
		chunkRepo:    env.chunkRepo,
		minioCfg:     config.MinIOConfig{BucketName: "edu-materials"},
		esIndexName:  "course_chunks",
		produceTask: func(task tasks.MaterialIngestTask) error {
			if env.produceErr != nil {
				return env.produceErr
			}
			env.producedTasks = append(env.producedTasks, task)
			return nil
		},
		putObject: func(_ context.Context, _, objectName string, data []byte) error {
			env.putObjects[objectName] = data
			return nil
		},
		removeObject: func(_ context.Context, _, objectName string) error {
			env.removedObjects = append(env.removedObjects, objectName)
			return nil
		},
		deleteIndex: func(_ context.Context, _, materialID string) error {
			env.deletedIndex = append(env.deletedIndex, materialID)
			return nil
		},
	}
	return env
}

func TestIngestBytesUploadsAndProducesTask(t *testing.T) {
	env := newIngestEnv()

	materialID, err := env.service.IngestBytes(context.Background(), "course-1", "trees.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NotEmpty(t, materialID)

	// 对象存储中保存了原始字节
	require.Len(t, env.putObjects, 1)
	for objectName, data := range env.putObjects {
		assert.Contains(t, objectName, "course-1/")
		assert.Contains(t, objectName, "trees.pdf")
		assert.Equal(t, []byte("%PDF-1.4"), data)
	}

	// 资料记录登记为待处理
	require.Len(t, env.materialRepo.upserted, 1)
	material := env.materialRepo.upserted[0]
	assert.Equal(t, materialID, material.MaterialID)
	assert.Equal(t, model.MaterialStatusPending, material.Status)
	assert.Equal(t, model.MaterialStatusPending, env.materialRepo.cacheStatus[materialID])

	// 入库任务字段完整
	require.Len(t, env.producedTasks, 1)
	task := env.producedTasks[0]
	assert.Equal(t, materialID, task.MaterialID)
	assert.Equal(t, "course-1", task.CourseID)
	assert.Equal(t, "trees.pdf", task.FileName)
	assert.Equal(t, "application/pdf", task.MimeType)
	assert.Equal(t, int64(8), task.SizeBytes)
}

func TestIngestBytesMaterialIDIsStable(t *testing.T) {
	env := newIngestEnv()

	first, err := env.service.IngestBytes(context.Background(), "course-1", "trees.pdf", "application/pdf", []byte("v1"))
	require.NoError(t, err)
	second, err := env.service.IngestBytes(context.Background(), "course-1", "trees.pdf", "application/pdf", []byte("v2 updated"))
	require.NoError(t, err)

	// 同一课程下同名文件命中同一条资料记录，实现替换式重建
	assert.Equal(t, first, second)

	other, err := env.service.IngestBytes(context.Background(), "course-2", "trees.pdf", "application/pdf", []byte("v1"))
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestIngestBytesRejectsEmptyContent(t *testing.T) {
	env := newIngestEnv()

	_, err := env.service.IngestBytes(context.Background(), "course-1", "empty.txt", "text/plain", nil)
	require.Error(t, err)
	assert.Empty(t, env.putObjects)
	assert.Empty(t, env.producedTasks)
}

func TestIngestBytesProduceFailurePropagates(t *testing.T) {
	env := newIngestEnv()
	env.produceErr = errors.New("kafka: broker unreachable")

	_, err := env.service.IngestBytes(context.Background(), "course-1", "trees.pdf", "application/pdf", []byte("%PDF"))
	assert.Error(t, err)
}

func TestImportSeedDirSkipsCompletedMaterials(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "done.txt"), []byte("already ingested"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("fresh content"), 0o644))

	env := newIngestEnv()
	doneID := materialIDFor("course-1", "done.txt")
	env.materialRepo.byID[doneID] = &model.Material{
		MaterialID: doneID,
		Status:     model.MaterialStatusCompleted,
	}

	require.NoError(t, env.service.ImportSeedDir(context.Background(), "course-1", dir))

	// 只有未完成的文件被导入
	require.Len(t, env.producedTasks, 1)
	assert.Equal(t, "new.txt", env.producedTasks[0].FileName)
	assert.Equal(t, "text/plain; charset=utf-8", env.producedTasks[0].MimeType)
}

func TestImportSeedDirMissingDirectory(t *testing.T) {
	env := newIngestEnv()
	err := env.service.ImportSeedDir(context.Background(), "course-1", "/nonexistent/seed")
	assert.Error(t, err)
}

func TestDeleteMaterialCascades(t *testing.T) {
	env := newIngestEnv()
	materialID, err := env.service.IngestBytes(context.Background(), "course-1", "trees.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)

	require.NoError(t, env.service.DeleteMaterial(context.Background(), materialID))

	assert.Equal(t, []string{materialID}, env.deletedIndex)
	assert.Equal(t, []string{materialID}, env.materialRepo.deleted)
	require.Len(t, env.removedObjects, 1)
	assert.Contains(t, env.removedObjects[0], "trees.pdf")
}

func TestDeleteMaterialMissing(t *testing.T) {
	env := newIngestEnv()
	assert.Error(t, env.service.DeleteMaterial(context.Background(), "nope"))
}

func TestStatusPrefersFreshCache(t *testing.T) {
	env := newIngestEnv()
	materialID, err := env.service.IngestBytes(context.Background(), "course-1", "trees.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)

	// 处理管道把 Redis 中的状态推进到 processing，数据库仍是 pending
	env.materialRepo.cacheStatus[materialID] = model.MaterialStatusProcessing

	status, err := env.service.Status(context.Background(), materialID)
	require.NoError(t, err)
	assert.Equal(t, model.MaterialStatusProcessing, status.Status)

	_, err = env.service.Status(context.Background(), "unknown")
	assert.Error(t, err)
}
