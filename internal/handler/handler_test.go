package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"syntax-ai-go/internal/conversation"
	"syntax-ai-go/internal/model"
	"syntax-ai-go/internal/repository"
	"syntax-ai-go/internal/service"
	"syntax-ai-go/pkg/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type cannedSource struct {
	mu      sync.Mutex
	replies [][]string
}

func (s *cannedSource) push(chunks ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, chunks)
}

func (s *cannedSource) Open(_ context.Context, _ conversation.Request) (conversation.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return nil, fmt.Errorf("upstream unavailable")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return &cannedStream{chunks: r}, nil
}

type cannedStream struct{ chunks []string }

func (c *cannedStream) Next() (string, error) {
	if len(c.chunks) == 0 {
		return "", io.EOF
	}
	next := c.chunks[0]
	c.chunks = c.chunks[1:]
	return next, nil
}

func (c *cannedStream) Close() error { return nil }

type testServer struct {
	mr     *miniredis.Miniredis
	router *gin.Engine
	source *cannedSource
	keys   repository.AccessKeyRepository
	admin  service.AdminService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	users := repository.NewUserRepository(db)
	keys := repository.NewAccessKeyRepository(db)
	scripts := repository.NewScriptRepository(rdb)
	source := &cannedSource{}

	workspaces := service.NewWorkspaceService(source, scripts, nil)
	auth := service.NewAuthService(users, keys, repository.NewSessionRepository(rdb), workspaces,
		token.NewJWTManager("test-secret", 1, 7), time.Hour)
	admin := service.NewAdminService(keys, users)

	router := NewRouter(auth, Handlers{
		Auth:      NewAuthHandler(auth),
		Script:    NewScriptHandler(service.NewScriptService(scripts, workspaces, nil, nil, nil)),
		Workspace: NewWorkspaceHandler(workspaces),
		Generate:  NewGenerateHandler(auth, workspaces),
		Admin:     NewAdminHandler(admin),
	})
	return &testServer{mr: mr, router: router, source: source, keys: keys, admin: admin}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

// signUp 注册一个新用户并返回其 access token。
func (s *testServer) signUp(t *testing.T, email, key string) string {
	t.Helper()
	require.NoError(t, s.keys.Create(&model.AccessKey{KeyCode: key}))
	code, env := s.do(t, http.MethodPost, "/api/v1/auth/signup", "", gin.H{"email": email, "password": "pw", "accessToken": key})
	require.Equal(t, http.StatusOK, code, env.Message)
	var session struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &session))
	return session.Token
}

func TestAuthRoutes(t *testing.T) {
	s := newTestServer(t)
	accessToken := s.signUp(t, "dev@example.com", "KEY-1")

	code, env := s.do(t, http.MethodPost, "/api/v1/auth/signup", "", gin.H{"email": "x@example.com", "password": "pw"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Please fill in all fields.", env.Message)

	code, env = s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "dev@example.com", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid email or password.", env.Message)

	code, _ = s.do(t, http.MethodGet, "/api/v1/auth/session", accessToken, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/logout", accessToken, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/api/v1/auth/session", accessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRoutesRequireBearer(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, http.MethodGet, "/api/v1/scripts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "请求未包含授权头", env.Message)

	code, _ = s.do(t, http.MethodGet, "/api/v1/scripts", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/languages", "", nil)
	assert.Equal(t, http.StatusOK, code)
	var langs []string
	require.NoError(t, json.Unmarshal(env.Data, &langs))
	assert.Equal(t, model.AutoDetect, langs[0])
}

func TestWorkspaceAndScriptRoutes(t *testing.T) {
	s := newTestServer(t)
	accessToken := s.signUp(t, "dev@example.com", "KEY-1")

	code, env := s.do(t, http.MethodPost, "/api/v1/workspace/retry", accessToken, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, conversation.ErrNothingPending.Error(), env.Message)

	code, _ = s.do(t, http.MethodPut, "/api/v1/workspace/active", accessToken, gin.H{"scriptId": "missing"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodDelete, "/api/v1/scripts/missing", accessToken, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/scripts/search?q=", accessToken, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.ErrEmptyQuery.Error(), env.Message)

	code, env = s.do(t, http.MethodGet, "/api/v1/workspace", accessToken, nil)
	assert.Equal(t, http.StatusOK, code)
	var state conversation.State
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.Equal(t, conversation.PhaseIdle, state.Phase)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	userToken := s.signUp(t, "dev@example.com", "KEY-1")

	code, _ := s.do(t, http.MethodGet, "/api/v1/admin/access-keys", userToken, nil)
	assert.Equal(t, http.StatusForbidden, code)

	require.NoError(t, s.admin.EnsureAdmin("root@example.com", "secret"))
	code, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "root@example.com", "password": "secret"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var session struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &session))

	code, env = s.do(t, http.MethodPost, "/api/v1/admin/access-keys", session.Token, gin.H{"count": 3})
	require.Equal(t, http.StatusOK, code, env.Message)
	var issued []service.AccessKeyResponse
	require.NoError(t, json.Unmarshal(env.Data, &issued))
	assert.Len(t, issued, 3)

	code, _ = s.do(t, http.MethodPost, "/api/v1/admin/access-keys", session.Token, gin.H{"count": 1000})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/admin/users/list?page=1&size=10", session.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var users service.UserListResponse
	require.NoError(t, json.Unmarshal(env.Data, &users))
	assert.Equal(t, int64(2), users.TotalElements)
}

type serverFrame struct {
	Type    string              `json:"type"`
	Message string              `json:"message"`
	State   conversation.State  `json:"state"`
	Script  *model.ScriptRecord `json:"script"`
}

func TestGenerateWebsocket(t *testing.T) {
	s := newTestServer(t)
	accessToken := s.signUp(t, "dev@example.com", "KEY-1")
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/generate/"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+accessToken, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() serverFrame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f serverFrame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}
	// 连接建立后先推送一次当前状态
	assert.Equal(t, frameState, read().Type)

	s.source.push("Python--\n", "print('hi')")
	require.NoError(t, conn.WriteJSON(gin.H{"type": "generate", "language": "Python", "prompt": "greet"}))

	var completion serverFrame
	states := 0
	for {
		f := read()
		if f.Type == frameState {
			states++
			continue
		}
		completion = f
		break
	}
	assert.Greater(t, states, 0)
	require.Equal(t, frameCompletion, completion.Type, completion.Message)
	assert.Equal(t, "print('hi')", completion.Script.Code)
	assert.Equal(t, "Python", completion.Script.Language)

	// 上游不可用时返回 error 帧，连接保持可用
	require.NoError(t, conn.WriteJSON(gin.H{"type": "update", "prompt": "more"}))
	var failure serverFrame
	for {
		f := read()
		if f.Type != frameState {
			failure = f
			break
		}
	}
	assert.Equal(t, frameError, failure.Type)
	assert.Equal(t, "AI服务暂时不可用，请稍后重试", failure.Message)
	assert.NotContains(t, failure.Message, "upstream unavailable")

	require.NoError(t, conn.WriteJSON(gin.H{"type": "bogus"}))
	assert.Equal(t, frameError, read().Type)
}

func TestGenerateWebsocketHidesStorageErrors(t *testing.T) {
	s := newTestServer(t)
	accessToken := s.signUp(t, "dev@example.com", "KEY-1")
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/generate/"+accessToken, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() serverFrame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f serverFrame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}
	assert.Equal(t, frameState, read().Type)

	s.source.push("Go--package main")
	s.mr.SetError("READONLY storage is read-only")
	require.NoError(t, conn.WriteJSON(gin.H{"type": "generate", "language": "Go", "prompt": "main"}))

	var failure serverFrame
	for {
		f := read()
		if f.Type != frameState {
			failure = f
			break
		}
	}
	assert.Equal(t, frameError, failure.Type)
	assert.Equal(t, "保存脚本失败，请稍后重试", failure.Message)
	assert.NotContains(t, failure.Message, "READONLY")
}

func TestFrameErrorMessage(t *testing.T) {
	assert.Equal(t, conversation.ErrBusy.Error(), frameErrorMessage(conversation.ErrBusy, statusFor(conversation.ErrBusy)))
	fault := &conversation.Fault{Kind: conversation.PersistenceFault, Err: fmt.Errorf("dial tcp 10.0.0.1:6379: refused")}
	assert.Equal(t, "保存脚本失败，请稍后重试", frameErrorMessage(fault, statusFor(fault)))
}
