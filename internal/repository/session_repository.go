package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// SessionRepository 维护会话标志与 token 黑名单。
type SessionRepository interface {
	// Activate 标记用户会话为活跃，记录当前这对 token 的 jti，覆盖之前的会话。
	Activate(ctx context.Context, userID uint, tokens SessionTokens, ttl time.Duration) error
	IsActive(ctx context.Context, userID uint) (bool, error)
	// CurrentTokens 返回活跃会话的 jti，会话不存在时返回零值。
	CurrentTokens(ctx context.Context, userID uint) (SessionTokens, error)
	Deactivate(ctx context.Context, userID uint) error
	Blacklist(ctx context.Context, tokenString string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, tokenString string) (bool, error)
}

// SessionTokens 是一个会话绑定的 access/refresh token 的 jti。
type SessionTokens struct {
	AccessID  string
	RefreshID string
}

const (
	sessionAccessField  = "access"
	sessionRefreshField = "refresh"
)

type redisSessionRepository struct {
	redisClient *redis.Client
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(redisClient *redis.Client) SessionRepository {
	return &redisSessionRepository{redisClient: redisClient}
}

func sessionKey(userID uint) string {
	return fmt.Sprintf("session:%d", userID)
}

func (r *redisSessionRepository) Activate(ctx context.Context, userID uint, tokens SessionTokens, ttl time.Duration) error {
	key := sessionKey(userID)
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, sessionAccessField, tokens.AccessID, sessionRefreshField, tokens.RefreshID)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set session flag: %w", err)
	}
	return nil
}

func (r *redisSessionRepository) CurrentTokens(ctx context.Context, userID uint) (SessionTokens, error) {
	fields, err := r.redisClient.HGetAll(ctx, sessionKey(userID)).Result()
	if err != nil {
		return SessionTokens{}, fmt.Errorf("failed to read session flag: %w", err)
	}
	return SessionTokens{AccessID: fields[sessionAccessField], RefreshID: fields[sessionRefreshField]}, nil
}

func (r *redisSessionRepository) IsActive(ctx context.Context, userID uint) (bool, error) {
	n, err := r.redisClient.Exists(ctx, sessionKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session flag: %w", err)
	}
	return n > 0, nil
}

func (r *redisSessionRepository) Deactivate(ctx context.Context, userID uint) error {
	return r.redisClient.Del(ctx, sessionKey(userID)).Err()
}

// Blacklist 将 token 加入黑名单，ttl 取 token 的剩余有效期。
func (r *redisSessionRepository) Blacklist(ctx context.Context, tokenString string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.redisClient.Set(ctx, "blacklist:"+tokenString, "true", ttl).Err()
}

func (r *redisSessionRepository) IsBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, "blacklist:"+tokenString).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
