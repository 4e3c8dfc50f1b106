// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	OCR           OCRConfig           `mapstructure:"ocr"`
	Chunker       ChunkerConfig       `mapstructure:"chunker"`
	Search        SearchConfig        `mapstructure:"search"`
	Retry         RetryConfig         `mapstructure:"retry"`
}

// ServerConfig 存储 worker 进程相关的配置。
type ServerConfig struct {
	Mode    string `mapstructure:"mode"`
	SeedDir string `mapstructure:"seed_dir"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig 存储 Postgres 数据库的配置。
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey        string `mapstructure:"api_key"`
	BaseURL       string `mapstructure:"base_url"`
	Model         string `mapstructure:"model"`
	Dimensions    int    `mapstructure:"dimensions"`
	BatchSize     int    `mapstructure:"batch_size"`
	BatchDelayMS  int    `mapstructure:"batch_delay_ms"`
	CacheCapacity int    `mapstructure:"cache_capacity"`
}

// BatchDelay 返回子批次之间的节流间隔。
func (c EmbeddingConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

// OCRConfig 存储多模态 OCR 模型相关的配置，用于图片类课件的文字提取。
type OCRConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// ChunkerConfig 存储文本分块相关的配置。
type ChunkerConfig struct {
	TargetWords  int `mapstructure:"target_words"`
	OverlapWords int `mapstructure:"overlap_words"`
	MaxWords     int `mapstructure:"max_words"`
	MinWords     int `mapstructure:"min_words"`
}

// SearchConfig 存储相似度搜索相关的配置。
type SearchConfig struct {
	DefaultTopK             int     `mapstructure:"default_top_k"`
	MaxTopK                 int     `mapstructure:"max_top_k"`
	MinSimilarity           float64 `mapstructure:"min_similarity"`
	HighPrecisionSimilarity float64 `mapstructure:"high_precision_similarity"`
}

// RetryConfig 存储外部调用重试相关的配置。
type RetryConfig struct {
	MaxRetries     int     `mapstructure:"max_retries"`
	InitialDelayMS int     `mapstructure:"initial_delay_ms"`
	MaxDelayMS     int     `mapstructure:"max_delay_ms"`
	Multiplier     float64 `mapstructure:"multiplier"`
}

// InitialDelay 返回首次重试前的等待时长。
func (c RetryConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMS) * time.Millisecond
}

// MaxDelay 返回重试等待时长的上限。
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

// setDefaults 注册所有可识别配置项的默认值。
func setDefaults() {
	viper.SetDefault("chunker.target_words", 300)
	viper.SetDefault("chunker.overlap_words", 150)
	viper.SetDefault("chunker.max_words", 500)
	viper.SetDefault("chunker.min_words", 50)

	viper.SetDefault("search.default_top_k", 20)
	viper.SetDefault("search.max_top_k", 100)
	viper.SetDefault("search.min_similarity", 0.5)
	viper.SetDefault("search.high_precision_similarity", 0.7)

	viper.SetDefault("embedding.dimensions", 768)
	viper.SetDefault("embedding.batch_size", 5)
	viper.SetDefault("embedding.batch_delay_ms", 500)
	viper.SetDefault("embedding.cache_capacity", 1000)

	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.initial_delay_ms", 1000)
	viper.SetDefault("retry.max_delay_ms", 10000)
	viper.SetDefault("retry.multiplier", 2.0)

	viper.SetDefault("kafka.group_id", "edu-smart-go-consumer")
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 环境变量（前缀 EDUSMART_）可覆盖文件中的同名配置项。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("EDUSMART")
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
