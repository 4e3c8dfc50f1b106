// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// MaterialIngestTask represents the data structure for a material ingestion job.
// The raw bytes live in object storage; the task only carries the object name.
type MaterialIngestTask struct {
	MaterialID string `json:"material_id"`
	CourseID   string `json:"course_id"`
	ObjectName string `json:"object_name"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
}
