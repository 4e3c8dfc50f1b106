package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/pgvector/pgvector-go"
)

// ChunkMetadata 是分块的 JSON 元数据列，记录页码、字符偏移与提取方式。
type ChunkMetadata struct {
	Page        int    `json:"page,omitempty"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Method      string `json:"method,omitempty"`
}

// Value 实现 driver.Valuer，使元数据以 JSON 形式写入数据库。
func (m ChunkMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner，从 JSON 列读回元数据。
func (m *ChunkMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = ChunkMetadata{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("unsupported type for ChunkMetadata")
	}
}

// KnowledgeChunk 对应于数据库中的 knowledge_chunks 表。
// 以 (material_id, chunk_id) 作为业务主键，重新入库时旧记录整体替换。
// Embedding 为空表示文本已入库但尚未向量化（等待重新 embedding）。
type KnowledgeChunk struct {
	ID          uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	MaterialID  string           `gorm:"type:varchar(64);not null;uniqueIndex:idx_material_chunk;column:material_id" json:"materialId"`
	ChunkID     int              `gorm:"not null;uniqueIndex:idx_material_chunk;column:chunk_id" json:"chunkId"`
	CourseID    string           `gorm:"type:varchar(64);not null;index;column:course_id" json:"courseId"`
	TextContent string           `gorm:"type:text;not null;column:text_content" json:"textContent"`
	Metadata    ChunkMetadata    `gorm:"type:jsonb" json:"metadata"`
	Embedding   *pgvector.Vector `gorm:"type:vector(768)" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (KnowledgeChunk) TableName() string {
	return "knowledge_chunks"
}
