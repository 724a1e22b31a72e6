// Package model 包含了应用的数据模型定义。
package model

import "time"

// 对话角色。
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ChatTurn 代表一次对话中的单条消息，追加后不可修改。
type ChatTurn struct {
	Role string `json:"role"` // "user" 或 "model"
	Text string `json:"text"`
}

// ScriptRecord 是一次生成（或后续修改）最终落盘的脚本。
// Code 始终等于 History 中最后一条 model 消息解析出的代码正文。
type ScriptRecord struct {
	ID          string     `json:"id"`
	UserID      uint       `json:"userId"`
	Language    string     `json:"language"`
	Code        string     `json:"code"`
	Description string     `json:"description"`
	Timestamp   int64      `json:"timestamp"` // 毫秒时间戳
	History     []ChatTurn `json:"history"`
}

// CreatedAt 返回记录的创建时间。
func (r *ScriptRecord) CreatedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Clone 返回一个深拷贝，History 切片不与原记录共享底层数组。
func (r *ScriptRecord) Clone() *ScriptRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.History = append([]ChatTurn(nil), r.History...)
	return &c
}
