package model

// ScriptDocument 定义了存储在 Elasticsearch 中的脚本文档结构。
type ScriptDocument struct {
	ScriptID    string `json:"script_id"`
	UserID      uint   `json:"user_id"`
	Language    string `json:"language"`
	Description string `json:"description"`
	Code        string `json:"code"`
	ObjectName  string `json:"object_name"`
	Timestamp   int64  `json:"timestamp"`
}

// SearchResponseDTO 定义了返回给前端的搜索结果结构。
type SearchResponseDTO struct {
	ScriptID    string  `json:"scriptId"`
	Language    string  `json:"language"`
	Description string  `json:"description"`
	Snippet     string  `json:"snippet"`
	Score       float64 `json:"score"`
	Timestamp   int64   `json:"timestamp"`
}
