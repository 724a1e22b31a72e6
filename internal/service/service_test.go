package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"syntax-ai-go/internal/conversation"
	"syntax-ai-go/internal/model"
	"syntax-ai-go/internal/repository"
	"syntax-ai-go/pkg/tasks"
	"syntax-ai-go/pkg/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	mr         *miniredis.Miniredis
	db         *gorm.DB
	users      repository.UserRepository
	keys       repository.AccessKeyRepository
	sessions   repository.SessionRepository
	scripts    repository.ScriptRepository
	jwt        *token.JWTManager
	source     *scriptedSource
	events     *eventRecorder
	workspaces WorkspaceService
	auth       AuthService
	admin      AdminService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.AccessKey{}))

	env := &testEnv{
		mr:       mr,
		db:       db,
		users:    repository.NewUserRepository(db),
		keys:     repository.NewAccessKeyRepository(db),
		sessions: repository.NewSessionRepository(rdb),
		scripts:  repository.NewScriptRepository(rdb),
		jwt:      token.NewJWTManager("test-secret", 1, 7),
		source:   &scriptedSource{},
		events:   &eventRecorder{},
	}
	env.workspaces = NewWorkspaceService(env.source, env.scripts, env.events)
	env.auth = NewAuthService(env.users, env.keys, env.sessions, env.workspaces, env.jwt, time.Hour)
	env.admin = NewAdminService(env.keys, env.users)
	return env
}

// scriptedSource 依次返回预先设定的分块序列。
type scriptedSource struct {
	mu      sync.Mutex
	replies [][]string
}

func (s *scriptedSource) push(chunks ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, chunks)
}

func (s *scriptedSource) Open(_ context.Context, _ conversation.Request) (conversation.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return nil, fmt.Errorf("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return &chunkStream{chunks: r}, nil
}

type chunkStream struct{ chunks []string }

func (c *chunkStream) Next() (string, error) {
	if len(c.chunks) == 0 {
		return "", io.EOF
	}
	next := c.chunks[0]
	c.chunks = c.chunks[1:]
	return next, nil
}

func (c *chunkStream) Close() error { return nil }

type eventRecorder struct {
	mu     sync.Mutex
	events []tasks.ScriptEvent
	err    error
}

func (r *eventRecorder) PublishScriptEvent(_ context.Context, e tasks.ScriptEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) all() []tasks.ScriptEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tasks.ScriptEvent(nil), r.events...)
}
