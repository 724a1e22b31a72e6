// Package conversation 实现单个用户会话内的生成状态机：
// Idle → Streaming → (Settled | Failed) → Idle。
package conversation

import (
	"errors"
	"fmt"

	"syntax-ai-go/internal/model"
)

// Phase 是状态机所处的阶段。Settled 与 Failed 只会出现在回调快照中，
// 状态机本身在发布之后立即回到 Idle。
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStreaming Phase = "streaming"
	PhaseSettled   Phase = "settled"
	PhaseFailed    Phase = "failed"
)

// State 是对外可见的状态快照。
type State struct {
	Phase            Phase               `json:"phase"`
	IsGenerating     bool                `json:"isGenerating"`
	Error            string              `json:"error,omitempty"`
	Raw              string              `json:"raw"`
	DetectedLanguage string              `json:"detectedLanguage"`
	CurrentStream    string              `json:"currentStream"`
	Active           *model.ScriptRecord `json:"active,omitempty"`
	PendingID        string              `json:"pendingId,omitempty"`
}

// Observer 在每次状态变化后被调用，调用时不持有状态机的锁。
type Observer func(State)

var (
	// ErrEmptyPrompt 表示触发文本为空或全是空白。
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrBusy 表示已有一次生成（或保存重试）正在进行。
	ErrBusy = errors.New("a generation is already in progress")
	// ErrNoActiveScript 表示修改请求没有可修改的脚本。
	ErrNoActiveScript = errors.New("no active script to update")
	// ErrNothingPending 表示没有待重试保存的记录。
	ErrNothingPending = errors.New("no pending script to persist")
)

// FaultKind 区分故障来源。
type FaultKind string

const (
	SourceFault      FaultKind = "source"
	PersistenceFault FaultKind = "persistence"
)

// Fault 包装生成或保存阶段的外部错误。
type Fault struct {
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string {
	switch f.Kind {
	case PersistenceFault:
		return fmt.Sprintf("保存脚本失败: %v", f.Err)
	default:
		return fmt.Sprintf("生成服务不可用: %v", f.Err)
	}
}

func (f *Fault) Unwrap() error { return f.Err }

// IsFault 判断 err 是否为指定类型的故障。
func IsFault(err error, kind FaultKind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == kind
}
