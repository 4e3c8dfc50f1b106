// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Material 的处理状态。
const (
	MaterialStatusPending          = "pending"
	MaterialStatusProcessing       = "processing"
	MaterialStatusCompleted        = "completed"
	MaterialStatusFailedExtraction = "failed_extraction"
	MaterialStatusFailedEmbedding  = "failed_embedding"
)

// Material 对应于数据库中的 materials 表。
// 一条记录代表一份已上传的课程资料，删除时级联删除其全部分块与向量。
type Material struct {
	MaterialID string    `gorm:"primaryKey;type:varchar(64);column:material_id" json:"materialId"`
	CourseID   string    `gorm:"type:varchar(64);not null;index;column:course_id" json:"courseId"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	MimeType   string    `gorm:"type:varchar(128);not null" json:"mimeType"`
	SizeBytes  int64     `gorm:"not null" json:"sizeBytes"`
	Status     string    `gorm:"type:varchar(32);not null;default:pending" json:"status"`
	ChunkCount int       `gorm:"not null;default:0" json:"chunkCount"`
	LastError  string    `gorm:"type:text" json:"lastError"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Material) TableName() string {
	return "materials"
}
