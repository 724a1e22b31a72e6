package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"syntax-ai-go/internal/model"
	"syntax-ai-go/internal/repository"
	"syntax-ai-go/pkg/log"
	"syntax-ai-go/pkg/storage"
	"syntax-ai-go/pkg/tasks"
)

// ErrEmptyQuery 表示搜索关键字为空。
var ErrEmptyQuery = errors.New("search query is empty")

// downloadURLExpiry 是导出文件预签名链接的有效期。
const downloadURLExpiry = time.Hour

// ScriptSearcher 在用户脚本中做全文检索，由 es.ScriptIndex 实现。
type ScriptSearcher interface {
	SearchScripts(ctx context.Context, userID uint, query string, topK int) ([]model.SearchResponseDTO, error)
}

// URLSigner 为对象生成临时下载链接，由 storage.ObjectStore 实现。
type URLSigner interface {
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// DownloadInfo 是脚本导出文件的下载信息。
type DownloadInfo struct {
	FileName string `json:"fileName"`
	URL      string `json:"url"`
}

// ScriptService 接口定义了脚本库的浏览、删除、搜索与导出操作。
type ScriptService interface {
	List(ctx context.Context, userID uint) ([]*model.ScriptRecord, error)
	Get(ctx context.Context, userID uint, scriptID string) (*model.ScriptRecord, error)
	Delete(ctx context.Context, userID uint, scriptID string) error
	Search(ctx context.Context, userID uint, query string, topK int) ([]model.SearchResponseDTO, error)
	Download(ctx context.Context, userID uint, scriptID string) (*DownloadInfo, error)
}

type scriptService struct {
	scripts    repository.ScriptRepository
	workspaces WorkspaceService
	publisher  EventPublisher
	searcher   ScriptSearcher
	signer     URLSigner
}

// NewScriptService 创建一个新的 ScriptService 实例。publisher、searcher、signer 可以为 nil。
func NewScriptService(scripts repository.ScriptRepository, workspaces WorkspaceService, publisher EventPublisher, searcher ScriptSearcher, signer URLSigner) ScriptService {
	return &scriptService{
		scripts:    scripts,
		workspaces: workspaces,
		publisher:  publisher,
		searcher:   searcher,
		signer:     signer,
	}
}

func (s *scriptService) List(ctx context.Context, userID uint) ([]*model.ScriptRecord, error) {
	return s.scripts.List(ctx, userID)
}

func (s *scriptService) Get(ctx context.Context, userID uint, scriptID string) (*model.ScriptRecord, error) {
	return s.scripts.Get(ctx, userID, scriptID)
}

// Delete 删除脚本，清除工作区对它的引用，并通知索引流水线清理导出文件与索引。
func (s *scriptService) Delete(ctx context.Context, userID uint, scriptID string) error {
	record, err := s.scripts.Get(ctx, userID, scriptID)
	if err != nil {
		return err
	}
	if err := s.scripts.Delete(ctx, userID, scriptID); err != nil {
		return err
	}
	s.workspaces.Forget(userID, scriptID)
	log.Infof("[ScriptService] 用户 %d 删除脚本 %s", userID, scriptID)

	publish(ctx, s.publisher, tasks.ScriptEvent{
		Type:      tasks.ScriptDeleted,
		ScriptID:  record.ID,
		UserID:    record.UserID,
		Language:  record.Language,
		Timestamp: record.Timestamp,
	})
	return nil
}

func (s *scriptService) Search(ctx context.Context, userID uint, query string, topK int) ([]model.SearchResponseDTO, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if s.searcher == nil {
		return nil, errors.New("search is not configured")
	}
	return s.searcher.SearchScripts(ctx, userID, query, topK)
}

// Download 返回导出文件的预签名链接。导出由索引流水线异步完成。
func (s *scriptService) Download(ctx context.Context, userID uint, scriptID string) (*DownloadInfo, error) {
	record, err := s.scripts.Get(ctx, userID, scriptID)
	if err != nil {
		return nil, err
	}
	if s.signer == nil {
		return nil, errors.New("object storage is not configured")
	}
	objectName := storage.ScriptObjectName(record.UserID, record.ID, record.Language)
	url, err := s.signer.PresignedURL(ctx, objectName, downloadURLExpiry)
	if err != nil {
		return nil, err
	}
	return &DownloadInfo{
		FileName: record.ID + model.FileExtension(record.Language),
		URL:      url,
	}, nil
}
