// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"syntax-ai-go/internal/conversation"
	"syntax-ai-go/internal/model"
	"syntax-ai-go/internal/repository"
	"syntax-ai-go/pkg/log"
	"syntax-ai-go/pkg/tasks"
)

// ErrUnsupportedLanguage 表示请求的目标语言不在可选列表中。
var ErrUnsupportedLanguage = errors.New("unsupported language")

// EventPublisher 发布脚本变更事件，由 kafka.Producer 实现。
type EventPublisher interface {
	PublishScriptEvent(ctx context.Context, event tasks.ScriptEvent) error
}

// WorkspaceService 为每个已登录用户维护一个生成状态机。
// 状态机在会话开始（或首次访问）时创建，在登出时销毁。
type WorkspaceService interface {
	Open(userID uint) *conversation.Machine
	Close(userID uint)
	State(userID uint) conversation.State
	Generate(ctx context.Context, userID uint, language, prompt string, observe conversation.Observer) (*model.ScriptRecord, error)
	Update(ctx context.Context, userID uint, prompt string, observe conversation.Observer) (*model.ScriptRecord, error)
	RetryPersist(ctx context.Context, userID uint) (*model.ScriptRecord, error)
	Select(ctx context.Context, userID uint, scriptID string) (*model.ScriptRecord, error)
	NewProject(userID uint) error
	ClearError(userID uint)
	// DiscardPending 放弃因存储故障未能落盘的记录。
	DiscardPending(userID uint)
	// Forget 在脚本被删除后清除工作区对它的引用，工作区不存在时什么也不做。
	Forget(userID uint, scriptID string)
}

type workspaceService struct {
	mu       sync.Mutex
	machines map[uint]*conversation.Machine
	// closing 记录已登出但仍有生成在进行的工作区，生成结束后再销毁
	closing   map[uint]bool
	source    conversation.Source
	scripts   repository.ScriptRepository
	publisher EventPublisher
}

// NewWorkspaceService 创建一个新的 WorkspaceService 实例。publisher 可以为 nil。
func NewWorkspaceService(source conversation.Source, scripts repository.ScriptRepository, publisher EventPublisher) WorkspaceService {
	return &workspaceService{
		machines:  make(map[uint]*conversation.Machine),
		closing:   make(map[uint]bool),
		source:    source,
		scripts:   scripts,
		publisher: publisher,
	}
}

// Open 返回用户的工作区，必要时创建。重新登录会取消尚未执行的销毁。
func (s *workspaceService) Open(userID uint) *conversation.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.closing, userID)
	return s.machineLocked(userID)
}

func (s *workspaceService) machine(userID uint) *conversation.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machineLocked(userID)
}

func (s *workspaceService) machineLocked(userID uint) *conversation.Machine {
	m, ok := s.machines[userID]
	if !ok {
		store := &scriptStore{scripts: s.scripts, publisher: s.publisher}
		m = conversation.NewMachine(userID, s.source, store)
		s.machines[userID] = m
		log.Infof("[WorkspaceService] 为用户 %d 创建工作区", userID)
	}
	return m
}

// Close 销毁用户的工作区。有生成正在进行时推迟到它结束，
// 期间同一用户的新请求仍然落在原状态机上并被拒绝。
func (s *workspaceService) Close(userID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[userID]
	if !ok {
		return
	}
	if m.Busy() {
		s.closing[userID] = true
		log.Infof("[WorkspaceService] 用户 %d 的生成仍在进行，工作区将在结束后销毁", userID)
		return
	}
	delete(s.machines, userID)
	delete(s.closing, userID)
}

// release 在一次生成或保存结束后执行被推迟的销毁。
func (s *workspaceService) release(userID uint, m *conversation.Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closing[userID] || s.machines[userID] != m || m.Busy() {
		return
	}
	delete(s.machines, userID)
	delete(s.closing, userID)
	log.Infof("[WorkspaceService] 用户 %d 的工作区已销毁", userID)
}

func (s *workspaceService) State(userID uint) conversation.State {
	return s.machine(userID).State()
}

func (s *workspaceService) Generate(ctx context.Context, userID uint, language, prompt string, observe conversation.Observer) (*model.ScriptRecord, error) {
	if language != "" && !model.IsSupportedLanguage(language) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	m := s.machine(userID)
	defer s.release(userID, m)
	return m.Generate(ctx, canonicalLanguage(language), prompt, observe)
}

func (s *workspaceService) Update(ctx context.Context, userID uint, prompt string, observe conversation.Observer) (*model.ScriptRecord, error) {
	m := s.machine(userID)
	defer s.release(userID, m)
	return m.Update(ctx, prompt, observe)
}

func (s *workspaceService) RetryPersist(ctx context.Context, userID uint) (*model.ScriptRecord, error) {
	m := s.machine(userID)
	defer s.release(userID, m)
	return m.RetryPersist(ctx, nil)
}

// Select 从脚本库载入一条记录作为活动脚本。
func (s *workspaceService) Select(ctx context.Context, userID uint, scriptID string) (*model.ScriptRecord, error) {
	record, err := s.scripts.Get(ctx, userID, scriptID)
	if err != nil {
		return nil, err
	}
	if err := s.machine(userID).SetActive(record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *workspaceService) NewProject(userID uint) error {
	return s.machine(userID).ClearActive()
}

func (s *workspaceService) ClearError(userID uint) {
	s.machine(userID).ClearError()
}

func (s *workspaceService) DiscardPending(userID uint) {
	s.machine(userID).DiscardPending()
}

func (s *workspaceService) Forget(userID uint, scriptID string) {
	s.mu.Lock()
	m, ok := s.machines[userID]
	s.mu.Unlock()
	if ok {
		m.Forget(scriptID)
	}
}

// canonicalLanguage 把大小写不同的输入统一为列表中的写法。
func canonicalLanguage(language string) string {
	for _, l := range model.Languages {
		if strings.EqualFold(l, language) {
			return l
		}
	}
	return language
}

// scriptStore 先写脚本库，再尽力发布变更事件。
type scriptStore struct {
	scripts   repository.ScriptRepository
	publisher EventPublisher
}

func (s *scriptStore) Save(ctx context.Context, record *model.ScriptRecord) error {
	if err := s.scripts.Put(ctx, record); err != nil {
		return err
	}
	publish(ctx, s.publisher, tasks.ScriptEvent{
		Type:        tasks.ScriptUpserted,
		ScriptID:    record.ID,
		UserID:      record.UserID,
		Language:    record.Language,
		Description: record.Description,
		Code:        record.Code,
		Timestamp:   record.Timestamp,
	})
	return nil
}

func publish(ctx context.Context, publisher EventPublisher, event tasks.ScriptEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.PublishScriptEvent(ctx, event); err != nil {
		log.Errorf("[WorkspaceService] 发布脚本事件失败, type: %s, script: %s, error: %v", event.Type, event.ScriptID, err)
	}
}
