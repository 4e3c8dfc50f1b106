package model

// SearchResult 定义了返回给下游 AI 答疑模块的检索结果结构。
// 下游引用分块内容时必须按文件名与页码进行溯源标注。
type SearchResult struct {
	MaterialID  string  `json:"materialId"`
	FileName    string  `json:"fileName"`
	CourseID    string  `json:"courseId"`
	ChunkID     int     `json:"chunkId"`
	TextContent string  `json:"textContent"`
	Page        int     `json:"page,omitempty"`
	Similarity  float64 `json:"similarity"`
}

// EsChunkDocument 定义了存储在 Elasticsearch 关键词索引中的文档结构。
// 向量保存在 Postgres 中，这里只保留可供 BM25 检索的文本与过滤字段。
type EsChunkDocument struct {
	DocID       string `json:"doc_id"` // 唯一标识，例如 materialId_chunkId
	MaterialID  string `json:"material_id"`
	CourseID    string `json:"course_id"`
	ChunkID     int    `json:"chunk_id"`
	TextContent string `json:"text_content"`
	FileName    string `json:"file_name"`
	Page        int    `json:"page"`
}
