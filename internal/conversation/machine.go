package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"syntax-ai-go/internal/model"
	"syntax-ai-go/internal/stream"

	"github.com/google/uuid"
)

// Mode 区分新生成与在已有脚本上的修改。
type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeUpdate   Mode = "update"
)

// Request 描述一次对生成服务的调用。
type Request struct {
	Mode     Mode
	Language string
	Prompt   string
	// History 仅在 ModeUpdate 时非空，按原始顺序排列。
	History []model.ChatTurn
}

// Stream 是一次调用返回的一次性分块序列。Next 在结束时返回 io.EOF。
type Stream interface {
	Next() (string, error)
	Close() error
}

// Source 为每个请求打开一个新的分块序列。
type Source interface {
	Open(ctx context.Context, req Request) (Stream, error)
}

// Store 持久化最终的脚本记录。
type Store interface {
	Save(ctx context.Context, record *model.ScriptRecord) error
}

// Option 用于定制 Machine。
type Option func(*Machine)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithIDGenerator 替换记录 ID 生成器。
func WithIDGenerator(newID func() string) Option {
	return func(m *Machine) { m.newID = newID }
}

// Machine 是单个用户会话的生成状态机。同一时刻最多只有一次生成在进行，
// 并发的请求会被拒绝而不是排队。
type Machine struct {
	mu     sync.Mutex
	userID uint
	source Source
	store  Store
	now    func() time.Time
	newID  func() string

	phase    Phase
	saving   bool
	errMsg   string
	raw      string
	language string
	code     string
	active   *model.ScriptRecord
	pending  *model.ScriptRecord
}

// NewMachine 为 userID 创建一个处于 Idle 的状态机。
func NewMachine(userID uint, source Source, store Store, opts ...Option) *Machine {
	m := &Machine{
		userID: userID,
		source: source,
		store:  store,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		phase:  PhaseIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UserID 返回状态机所属的用户。
func (m *Machine) UserID() uint { return m.userID }

// State 返回当前状态快照。
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.phase)
}

// Generate 发起一次新生成。成功时返回已持久化的新记录，它同时成为当前活动脚本。
func (m *Machine) Generate(ctx context.Context, language, prompt string, observe Observer) (*model.ScriptRecord, error) {
	if language == "" {
		language = model.AutoDetect
	}
	return m.run(ctx, Request{Mode: ModeGenerate, Language: language, Prompt: prompt}, observe)
}

// Update 在当前活动脚本上发起修改，新的一问一答追加到原有历史之后。
func (m *Machine) Update(ctx context.Context, prompt string, observe Observer) (*model.ScriptRecord, error) {
	return m.run(ctx, Request{Mode: ModeUpdate, Prompt: prompt}, observe)
}

func (m *Machine) run(ctx context.Context, req Request, observe Observer) (*model.ScriptRecord, error) {
	m.mu.Lock()
	if strings.TrimSpace(req.Prompt) == "" {
		m.mu.Unlock()
		return nil, ErrEmptyPrompt
	}
	if m.busyLocked() {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	var base *model.ScriptRecord
	if req.Mode == ModeUpdate {
		if m.active == nil {
			m.mu.Unlock()
			return nil, ErrNoActiveScript
		}
		base = m.active.Clone()
		req.Language = base.Language
		req.History = base.History
	}
	m.phase = PhaseStreaming
	m.errMsg = ""
	m.raw, m.code = "", ""
	m.language = req.Language
	started := m.snapshotLocked(PhaseStreaming)
	m.mu.Unlock()
	notify(observe, started)

	demux := stream.NewDemux(req.Language)
	result, err := m.consume(ctx, req, demux, observe)
	if err != nil {
		return nil, m.fail(&Fault{Kind: SourceFault, Err: err}, nil, observe)
	}

	record := m.buildRecord(req, base, result)
	// 原始请求被取消时仍然保存已经生成完成的结果
	if err := m.store.Save(context.WithoutCancel(ctx), record); err != nil {
		return record, m.fail(&Fault{Kind: PersistenceFault, Err: err}, record, observe)
	}

	m.mu.Lock()
	m.settleLocked(record)
	settled := m.snapshotLocked(PhaseSettled)
	m.mu.Unlock()
	notify(observe, settled)
	return record.Clone(), nil
}

func (m *Machine) consume(ctx context.Context, req Request, demux *stream.Demux, observe Observer) (stream.Result, error) {
	src, err := m.source.Open(ctx, req)
	if err != nil {
		return stream.Result{}, err
	}
	defer src.Close()

	return demux.Consume(ctx, src, func(s stream.Snapshot) {
		m.mu.Lock()
		m.raw, m.language, m.code = s.Raw, s.Language, s.Code
		snap := m.snapshotLocked(PhaseStreaming)
		m.mu.Unlock()
		notify(observe, snap)
	})
}

func (m *Machine) buildRecord(req Request, base *model.ScriptRecord, result stream.Result) *model.ScriptRecord {
	code := result.Raw
	if result.TagFound {
		code = stream.ExtractBody(result.Raw)
	}
	turns := []model.ChatTurn{
		{Role: model.RoleUser, Text: req.Prompt},
		{Role: model.RoleModel, Text: result.Raw},
	}

	if base != nil {
		base.Code = code
		base.History = append(base.History, turns...)
		return base
	}
	return &model.ScriptRecord{
		ID:          m.newID(),
		UserID:      m.userID,
		Language:    model.ResolveLanguage(result.Language),
		Code:        code,
		Description: req.Prompt,
		Timestamp:   m.now().UnixMilli(),
		History:     turns,
	}
}

// fail 记录故障并回到 Idle。源故障保留部分输出供查看；保存故障把记录留作待重试。
func (m *Machine) fail(fault *Fault, pending *model.ScriptRecord, observe Observer) error {
	m.mu.Lock()
	m.phase = PhaseIdle
	m.saving = false
	m.errMsg = fault.Error()
	if pending != nil {
		m.pending = pending.Clone()
	}
	failed := m.snapshotLocked(PhaseFailed)
	m.mu.Unlock()
	notify(observe, failed)
	return fault
}

func (m *Machine) settleLocked(record *model.ScriptRecord) {
	m.phase = PhaseIdle
	m.saving = false
	m.errMsg = ""
	m.raw, m.language, m.code = "", "", ""
	m.active = record.Clone()
	if m.pending != nil && m.pending.ID == record.ID {
		m.pending = nil
	}
}

// RetryPersist 重新写入上次保存失败的记录。
func (m *Machine) RetryPersist(ctx context.Context, observe Observer) (*model.ScriptRecord, error) {
	m.mu.Lock()
	if m.busyLocked() {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	if m.pending == nil {
		m.mu.Unlock()
		return nil, ErrNothingPending
	}
	record := m.pending.Clone()
	m.saving = true
	m.mu.Unlock()

	if err := m.store.Save(ctx, record); err != nil {
		return record, m.fail(&Fault{Kind: PersistenceFault, Err: err}, record, observe)
	}

	m.mu.Lock()
	m.settleLocked(record)
	settled := m.snapshotLocked(PhaseSettled)
	m.mu.Unlock()
	notify(observe, settled)
	return record.Clone(), nil
}

// DiscardPending 丢弃待重试的记录。
func (m *Machine) DiscardPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
}

// SetActive 切换当前活动脚本，生成进行中时拒绝。
func (m *Machine) SetActive(record *model.ScriptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busyLocked() {
		return ErrBusy
	}
	m.active = record.Clone()
	return nil
}

// ClearActive 开始一个新项目：清空活动脚本。
func (m *Machine) ClearActive() error {
	return m.SetActive(nil)
}

// Forget 在脚本被删除后清除对它的引用。
func (m *Machine) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.ID == id {
		m.active = nil
	}
	if m.pending != nil && m.pending.ID == id {
		m.pending = nil
	}
}

// ClearError 清除对外可见的错误信息。
func (m *Machine) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errMsg = ""
}

// Busy 报告是否有生成或保存重试正在进行。
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busyLocked()
}

func (m *Machine) busyLocked() bool {
	return m.phase == PhaseStreaming || m.saving
}

func (m *Machine) snapshotLocked(phase Phase) State {
	s := State{
		Phase:            phase,
		IsGenerating:     phase == PhaseStreaming,
		Error:            m.errMsg,
		Raw:              m.raw,
		DetectedLanguage: m.language,
		CurrentStream:    m.code,
		Active:           m.active.Clone(),
	}
	if m.pending != nil {
		s.PendingID = m.pending.ID
	}
	return s
}

func notify(observe Observer, s State) {
	if observe != nil {
		observe(s)
	}
}
