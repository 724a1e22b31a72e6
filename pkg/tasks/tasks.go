// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "fmt"

// 脚本事件类型。
const (
	ScriptUpserted = "upserted"
	ScriptDeleted  = "deleted"
)

// ScriptEvent 描述脚本库中的一次变更，由索引流水线异步消费。
type ScriptEvent struct {
	Type        string `json:"type"`
	ScriptID    string `json:"script_id"`
	UserID      uint   `json:"user_id"`
	Language    string `json:"language"`
	Description string `json:"description,omitempty"`
	Code        string `json:"code,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// Key 返回事件的分区键与重试计数键，同一脚本的事件落在同一分区。
func (e ScriptEvent) Key() string {
	return fmt.Sprintf("%d:%s", e.UserID, e.ScriptID)
}
