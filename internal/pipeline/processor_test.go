package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edu-smart-go/internal/chunker"
	"edu-smart-go/internal/extractor"
	"edu-smart-go/internal/model"
	"edu-smart-go/internal/repository"
	"edu-smart-go/pkg/tasks"
)

// --- 测试替身 ---

type fakeExtractor struct {
	doc extractor.ExtractedDocument
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte, _, _ string) extractor.ExtractedDocument {
	return f.doc
}

type fakeMaterialRepo struct {
	statuses    []string
	lastError   string
	chunkCount  int
	cacheStatus string
}

func (f *fakeMaterialRepo) Upsert(*model.Material) error                  { return nil }
func (f *fakeMaterialRepo) FindByID(string) (*model.Material, error)      { return nil, nil }
func (f *fakeMaterialRepo) FindBatchByIDs([]string) ([]*model.Material, error) {
	return nil, nil
}
func (f *fakeMaterialRepo) UpdateStatus(_, status, lastError string) error {
	f.statuses = append(f.statuses, status)
	f.lastError = lastError
	return nil
}
func (f *fakeMaterialRepo) UpdateChunkCount(_ string, chunkCount int) error {
	f.chunkCount = chunkCount
	return nil
}
func (f *fakeMaterialRepo) Delete(string) error { return nil }
func (f *fakeMaterialRepo) SetStatusCache(_ context.Context, _, status string) error {
	f.cacheStatus = status
	return nil
}
func (f *fakeMaterialRepo) GetStatusCache(context.Context, string) (string, error) {
	return f.cacheStatus, nil
}

func (f *fakeMaterialRepo) finalStatus() string {
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type fakeChunkRepo struct {
	deleted    []string
	created    []*model.KnowledgeChunk
	lastBatch  []*model.KnowledgeChunk
	embeddings map[int]pgvector.Vector
}

func (f *fakeChunkRepo) BatchCreate(chunks []*model.KnowledgeChunk) error {
	f.created = append(f.created, chunks...)
	f.lastBatch = chunks
	return nil
}
func (f *fakeChunkRepo) FindByMaterialID(string) ([]*model.KnowledgeChunk, error) {
	return f.lastBatch, nil
}
func (f *fakeChunkRepo) FindByMaterialAndChunk(string, int) (*model.KnowledgeChunk, error) {
	return nil, nil
}
func (f *fakeChunkRepo) UpdateEmbedding(_ string, chunkID int, embedding pgvector.Vector) error {
	if f.embeddings == nil {
		f.embeddings = make(map[int]pgvector.Vector)
	}
	f.embeddings[chunkID] = embedding
	return nil
}
func (f *fakeChunkRepo) DeleteByMaterialID(materialID string) error {
	f.deleted = append(f.deleted, materialID)
	return nil
}
func (f *fakeChunkRepo) CountByMaterialID(string) (int64, error) { return 0, nil }
func (f *fakeChunkRepo) SearchSimilar(string, []string, pgvector.Vector, int, float64) ([]repository.ScoredChunk, error) {
	return nil, nil
}
func (f *fakeChunkRepo) SearchSimilarExcluding(string, string, int, pgvector.Vector, int, float64) ([]repository.ScoredChunk, error) {
	return nil, nil
}

type fakeIndexer struct {
	indexed []model.EsChunkDocument
	deleted []string
}

func (f *fakeIndexer) Index(_ context.Context, doc model.EsChunkDocument) error {
	f.indexed = append(f.indexed, doc)
	return nil
}
func (f *fakeIndexer) DeleteByMaterial(_ context.Context, materialID string) error {
	f.deleted = append(f.deleted, materialID)
	return nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text))}, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = []float32{float32(len(t))}
	}
	return vectors, nil
}
func (f *fakeEmbedder) Dimensions() int { return 1 }

func newTestProcessor(doc extractor.ExtractedDocument, embedder *fakeEmbedder) (*Processor, *fakeMaterialRepo, *fakeChunkRepo, *fakeIndexer) {
	materialRepo := &fakeMaterialRepo{}
	chunkRepo := &fakeChunkRepo{}
	indexer := &fakeIndexer{}
	p := &Processor{
		extractor:       &fakeExtractor{doc: doc},
		chunker:         chunker.New(WithTestChunking()...),
		embeddingClient: embedder,
		materialRepo:    materialRepo,
		chunkRepo:       chunkRepo,
		indexer:         indexer,
		fetchObject: func(context.Context, string, string) ([]byte, error) {
			return []byte("raw bytes"), nil
		},
		bucketName: "edu-materials",
	}
	return p, materialRepo, chunkRepo, indexer
}

// WithTestChunking 使用较小的分块参数，便于构造多分块场景。
func WithTestChunking() []chunker.Option {
	return []chunker.Option{
		chunker.WithTargetWords(10),
		chunker.WithOverlapWords(4),
		chunker.WithWordBounds(1, 20),
	}
}

func testTask() tasks.MaterialIngestTask {
	return tasks.MaterialIngestTask{
		MaterialID: "mat-1",
		CourseID:   "course-1",
		ObjectName: "course-1/mat-1/lecture.txt",
		FileName:   "lecture.txt",
		MimeType:   "text/plain",
		SizeBytes:  9,
	}
}

// 构造 3 个段落共 18 词的文本，目标 10 词会切出 2 个分块。
func multiChunkText() string {
	paras := []string{
		"one two three four five six",
		"seven eight nine ten eleven twelve",
		"thirteen fourteen fifteen sixteen seventeen eighteen",
	}
	return strings.Join(paras, "\n\n")
}

func TestProcessSuccessPersistsChunksAndVectors(t *testing.T) {
	doc := extractor.ExtractedDocument{Text: multiChunkText(), Method: extractor.MethodText}
	embedder := &fakeEmbedder{}
	p, materialRepo, chunkRepo, indexer := newTestProcessor(doc, embedder)

	err := p.Process(context.Background(), testTask())
	require.NoError(t, err)

	// 旧数据先被幂等清理
	assert.Equal(t, []string{"mat-1"}, chunkRepo.deleted)
	assert.Equal(t, []string{"mat-1"}, indexer.deleted)

	// 阶段一：文本行入库，向量为空
	require.NotEmpty(t, chunkRepo.created)
	for i, row := range chunkRepo.created {
		assert.Equal(t, "mat-1", row.MaterialID)
		assert.Equal(t, "course-1", row.CourseID)
		assert.Equal(t, i, row.ChunkID)
		assert.Nil(t, row.Embedding)
		assert.Equal(t, extractor.MethodText, row.Metadata.Method)
	}

	// 阶段二：每个分块写回向量并镜像到 ES
	assert.Len(t, chunkRepo.embeddings, len(chunkRepo.created))
	require.Len(t, indexer.indexed, len(chunkRepo.created))
	assert.Equal(t, "mat-1_0", indexer.indexed[0].DocID)
	assert.Equal(t, "lecture.txt", indexer.indexed[0].FileName)

	assert.Equal(t, model.MaterialStatusCompleted, materialRepo.finalStatus())
	assert.Equal(t, len(chunkRepo.created), materialRepo.chunkCount)
	assert.Equal(t, model.MaterialStatusCompleted, materialRepo.cacheStatus)
}

func TestProcessReingestReplacesRatherThanDuplicates(t *testing.T) {
	doc := extractor.ExtractedDocument{Text: multiChunkText(), Method: extractor.MethodText}
	p, _, chunkRepo, _ := newTestProcessor(doc, &fakeEmbedder{})

	require.NoError(t, p.Process(context.Background(), testTask()))
	firstCount := len(chunkRepo.created)
	require.NoError(t, p.Process(context.Background(), testTask()))

	// 每次处理前都删除旧分块，再次入库不会累计
	assert.Equal(t, []string{"mat-1", "mat-1"}, chunkRepo.deleted)
	assert.Equal(t, firstCount*2, len(chunkRepo.created))
}

func TestProcessExtractionFailureIsTerminal(t *testing.T) {
	doc := extractor.ExtractedDocument{Method: extractor.MethodPDF, Error: "failed to open pdf"}
	p, materialRepo, chunkRepo, _ := newTestProcessor(doc, &fakeEmbedder{})

	// 提取失败是确定性的：标记状态后返回 nil，让消息被提交
	err := p.Process(context.Background(), testTask())
	require.NoError(t, err)

	assert.Equal(t, model.MaterialStatusFailedExtraction, materialRepo.finalStatus())
	assert.Equal(t, "failed to open pdf", materialRepo.lastError)
	assert.Empty(t, chunkRepo.created)
}

func TestProcessEmbeddingFailureKeepsTextRows(t *testing.T) {
	doc := extractor.ExtractedDocument{Text: multiChunkText(), Method: extractor.MethodText}
	embedder := &fakeEmbedder{err: errors.New("embedding api returned non-200 status: 503")}
	p, materialRepo, chunkRepo, indexer := newTestProcessor(doc, embedder)

	// 向量化失败要向上返回错误触发重投递
	err := p.Process(context.Background(), testTask())
	require.Error(t, err)

	assert.Equal(t, model.MaterialStatusFailedEmbedding, materialRepo.finalStatus())
	// 阶段一的文本行保留，后续只需重做向量化
	assert.NotEmpty(t, chunkRepo.created)
	assert.Empty(t, chunkRepo.embeddings)
	assert.Empty(t, indexer.indexed)
}

func TestProcessFetchFailurePropagates(t *testing.T) {
	doc := extractor.ExtractedDocument{Text: "anything", Method: extractor.MethodText}
	p, _, chunkRepo, _ := newTestProcessor(doc, &fakeEmbedder{})
	p.fetchObject = func(context.Context, string, string) ([]byte, error) {
		return nil, fmt.Errorf("object not found")
	}

	err := p.Process(context.Background(), testTask())
	require.Error(t, err)
	assert.Empty(t, chunkRepo.created)
}

func TestProcessEmptyTextCompletesWithZeroChunks(t *testing.T) {
	// 图片中没有文字：提取成功但文本为空
	doc := extractor.ExtractedDocument{Method: extractor.MethodOCR}
	p, materialRepo, chunkRepo, _ := newTestProcessor(doc, &fakeEmbedder{})

	err := p.Process(context.Background(), testTask())
	require.NoError(t, err)

	assert.Equal(t, model.MaterialStatusCompleted, materialRepo.finalStatus())
	assert.Equal(t, 0, materialRepo.chunkCount)
	assert.Empty(t, chunkRepo.created)
}

func TestProcessAssignsPagesFromOffsets(t *testing.T) {
	// 两页文本，第二页从偏移 40 开始
	text := multiChunkText()
	doc := extractor.ExtractedDocument{
		Text:        text,
		Method:      extractor.MethodPDF,
		PageCount:   2,
		PageOffsets: []int{0, 40},
	}
	p, _, chunkRepo, _ := newTestProcessor(doc, &fakeEmbedder{})

	require.NoError(t, p.Process(context.Background(), testTask()))
	require.NotEmpty(t, chunkRepo.created)

	assert.Equal(t, 1, chunkRepo.created[0].Metadata.Page)
	last := chunkRepo.created[len(chunkRepo.created)-1]
	assert.Equal(t, 2, last.Metadata.Page)
}

func TestPageForOffset(t *testing.T) {
	offsets := []int{0, 100, 250}
	cases := []struct {
		offset int
		want   int
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{249, 2},
		{250, 3},
		{9999, 3},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, pageForOffset(offsets, tc.offset), "offset %d", tc.offset)
	}
	assert.Equal(t, 0, pageForOffset(nil, 42))
}
