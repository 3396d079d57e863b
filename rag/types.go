package rag

// Document 待入库的原始文档
type Document struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	SourceURL string         `json:"source_url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Chunk 文档块。HeadingPath 记录从文档根到所在章节的标题链
// （" > " 连接），检索命中后用于还原上下文。
type Chunk struct {
	Content     string         `json:"content"`
	HeadingPath string         `json:"heading_path"`
	SourceID    string         `json:"source_id"`
	SourceTitle string         `json:"source_title,omitempty"`
	ChunkIndex  int            `json:"chunk_index"`
	TotalChunks int            `json:"total_chunks"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// StoredDocument 向量存储中的一条记录
type StoredDocument struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float64      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SearchResult 向量搜索结果
type SearchResult struct {
	Document StoredDocument `json:"document"`
	Score    float64        `json:"score"`
	Distance float64        `json:"distance"`
}
