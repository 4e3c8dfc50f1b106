// Package main 是资料入库与检索 worker 的入口点。
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"edu-smart-go/internal/chunker"
	"edu-smart-go/internal/config"
	"edu-smart-go/internal/extractor"
	"edu-smart-go/internal/model"
	"edu-smart-go/internal/pipeline"
	"edu-smart-go/internal/repository"
	"edu-smart-go/internal/service"
	"edu-smart-go/pkg/database"
	"edu-smart-go/pkg/embedding"
	"edu-smart-go/pkg/es"
	"edu-smart-go/pkg/kafka"
	"edu-smart-go/pkg/llm"
	"edu-smart-go/pkg/log"
	"edu-smart-go/pkg/storage"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储、ES 与 Kafka
	database.InitPostgres(cfg.Database.Postgres.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	if err := database.DB.AutoMigrate(&model.Material{}, &model.KnowledgeChunk{}); err != nil {
		log.Fatal("数据库表结构迁移失败", err)
	}

	// 4. 初始化 Repository
	materialRepo := repository.NewMaterialRepository(database.DB, database.RDB)
	chunkRepo := repository.NewChunkRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	visionClient := llm.NewVisionClient(cfg.OCR)
	embeddingClient := embedding.NewCachedClient(embedding.NewClient(cfg.Embedding), cfg.Embedding, cfg.Retry)
	docExtractor := extractor.New(visionClient)
	textChunker := chunker.New(
		chunker.WithTargetWords(cfg.Chunker.TargetWords),
		chunker.WithOverlapWords(cfg.Chunker.OverlapWords),
		chunker.WithWordBounds(cfg.Chunker.MinWords, cfg.Chunker.MaxWords),
	)
	ingestService := service.NewIngestService(materialRepo, chunkRepo, cfg.MinIO, cfg.Elasticsearch)

	// 6. 初始化资料处理管道 (Processor)
	processor := pipeline.NewProcessor(
		docExtractor,
		textChunker,
		embeddingClient,
		materialRepo,
		chunkRepo,
		cfg.Elasticsearch,
		cfg.MinIO,
	)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7.1 初始化导入种子目录：每个一级子目录视为一门课程，已完成的资料跳过
	seedCtx, cancelSeed := context.WithCancel(context.Background())
	defer cancelSeed()
	go importSeedCourses(seedCtx, cfg.Server.SeedDir, ingestService)

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭 worker...")

	// Kafka 消费者的 Fetch 循环会随进程退出自然结束，
	// 未提交 offset 的在途任务由下一次启动重新消费。
	log.Info("worker 已退出")
}

// importSeedCourses 扫描种子目录并按课程导入其中的文件（幂等）。
func importSeedCourses(ctx context.Context, dir string, ingestService service.IngestService) {
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("importSeedCourses: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warnf("importSeedCourses: 读取种子目录失败: %v", err)
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		courseID := entry.Name()
		coursePath := filepath.Join(dir, courseID)
		log.Infof("importSeedCourses: 导入课程 '%s' 的种子资料", courseID)
		if err := ingestService.ImportSeedDir(ctx, courseID, coursePath); err != nil {
			log.Warnf("importSeedCourses: 课程 '%s' 导入失败: %v", courseID, err)
		}
	}
}
