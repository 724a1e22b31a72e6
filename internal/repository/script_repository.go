// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"syntax-ai-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// ErrScriptNotFound 表示脚本不存在或不属于当前用户。
var ErrScriptNotFound = errors.New("script not found")

// ScriptRepository 定义了脚本库的操作接口。每个用户的脚本按创建时间倒序排列。
type ScriptRepository interface {
	Put(ctx context.Context, record *model.ScriptRecord) error
	Get(ctx context.Context, userID uint, scriptID string) (*model.ScriptRecord, error)
	List(ctx context.Context, userID uint) ([]*model.ScriptRecord, error)
	Delete(ctx context.Context, userID uint, scriptID string) error
}

type redisScriptRepository struct {
	redisClient *redis.Client
}

// NewScriptRepository 创建一个新的 ScriptRepository 实例。
func NewScriptRepository(redisClient *redis.Client) ScriptRepository {
	return &redisScriptRepository{redisClient: redisClient}
}

func scriptKey(scriptID string) string {
	return fmt.Sprintf("script:%s", scriptID)
}

func userScriptsKey(userID uint) string {
	return fmt.Sprintf("user:%d:scripts", userID)
}

// Put 写入（或覆盖）一条脚本记录。索引分值取创建时间，修改不会改变排序位置。
func (r *redisScriptRepository) Put(ctx context.Context, record *model.ScriptRecord) error {
	jsonData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal script: %w", err)
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, scriptKey(record.ID), jsonData, 0)
		pipe.ZAdd(ctx, userScriptsKey(record.UserID), &redis.Z{Score: float64(record.Timestamp), Member: record.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save script: %w", err)
	}
	return nil
}

// Get 读取一条属于 userID 的脚本记录。
func (r *redisScriptRepository) Get(ctx context.Context, userID uint, scriptID string) (*model.ScriptRecord, error) {
	jsonData, err := r.redisClient.Get(ctx, scriptKey(scriptID)).Result()
	if err == redis.Nil {
		return nil, ErrScriptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get script: %w", err)
	}
	var record model.ScriptRecord
	if err := json.Unmarshal([]byte(jsonData), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal script: %w", err)
	}
	if record.UserID != userID {
		return nil, ErrScriptNotFound
	}
	return &record, nil
}

// List 返回用户的全部脚本，最新创建的在前。
func (r *redisScriptRepository) List(ctx context.Context, userID uint) ([]*model.ScriptRecord, error) {
	ids, err := r.redisClient.ZRevRange(ctx, userScriptsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list script ids: %w", err)
	}
	records := make([]*model.ScriptRecord, 0, len(ids))
	if len(ids) == 0 {
		return records, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = scriptKey(id)
	}
	values, err := r.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load scripts: %w", err)
	}
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// 索引中残留的已删除条目
			continue
		}
		var record model.ScriptRecord
		if err := json.Unmarshal([]byte(s), &record); err != nil {
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}

// Delete 删除一条属于 userID 的脚本记录。
func (r *redisScriptRepository) Delete(ctx context.Context, userID uint, scriptID string) error {
	if _, err := r.Get(ctx, userID, scriptID); err != nil {
		return err
	}
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, scriptKey(scriptID))
		pipe.ZRem(ctx, userScriptsKey(userID), scriptID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete script: %w", err)
	}
	return nil
}
