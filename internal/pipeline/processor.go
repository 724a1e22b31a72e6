// Package pipeline 定义了脚本索引的核心流程：导出文件到对象存储并写入检索索引。
package pipeline

import (
	"context"
	"fmt"

	"syntax-ai-go/internal/model"
	"syntax-ai-go/pkg/log"
	"syntax-ai-go/pkg/storage"
	"syntax-ai-go/pkg/tasks"
)

// ObjectWriter 是对象存储的最小写接口。
type ObjectWriter interface {
	PutText(ctx context.Context, objectName, content string) error
	Remove(ctx context.Context, objectName string) error
}

// DocumentIndexer 是检索索引的最小写接口。
type DocumentIndexer interface {
	IndexScript(ctx context.Context, doc model.ScriptDocument) error
	DeleteScript(ctx context.Context, scriptID string) error
}

// Processor 封装了脚本索引的所有依赖和逻辑。
type Processor struct {
	objects ObjectWriter
	index   DocumentIndexer
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(objects ObjectWriter, index DocumentIndexer) *Processor {
	return &Processor{objects: objects, index: index}
}

// Process 处理一个脚本事件。两个步骤都是幂等的，失败后整体重试是安全的。
func (p *Processor) Process(ctx context.Context, event tasks.ScriptEvent) error {
	objectName := storage.ScriptObjectName(event.UserID, event.ScriptID, event.Language)

	switch event.Type {
	case tasks.ScriptUpserted:
		log.Infof("[Processor] 导出脚本, ScriptID: %s, Object: %s", event.ScriptID, objectName)
		if err := p.objects.PutText(ctx, objectName, event.Code); err != nil {
			return err
		}
		doc := model.ScriptDocument{
			ScriptID:    event.ScriptID,
			UserID:      event.UserID,
			Language:    event.Language,
			Description: event.Description,
			Code:        event.Code,
			ObjectName:  objectName,
			Timestamp:   event.Timestamp,
		}
		if err := p.index.IndexScript(ctx, doc); err != nil {
			return fmt.Errorf("索引脚本失败: %w", err)
		}
	case tasks.ScriptDeleted:
		log.Infof("[Processor] 清理脚本, ScriptID: %s", event.ScriptID)
		if err := p.index.DeleteScript(ctx, event.ScriptID); err != nil {
			return fmt.Errorf("删除索引失败: %w", err)
		}
		if err := p.objects.Remove(ctx, objectName); err != nil {
			return err
		}
	default:
		log.Warnf("[Processor] 忽略未知事件类型: %s", event.Type)
	}
	return nil
}
