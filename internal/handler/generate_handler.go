package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"syntax-ai-go/internal/conversation"
	"syntax-ai-go/internal/model"
	"syntax-ai-go/internal/service"
	"syntax-ai-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// 客户端帧类型
const (
	frameGenerate = "generate"
	frameUpdate   = "update"
)

// 服务端帧类型
const (
	frameState      = "state"
	frameCompletion = "completion"
	frameError      = "error"
)

// clientFrame 是客户端发来的一条生成或修改请求。
type clientFrame struct {
	Type     string `json:"type"`
	Language string `json:"language"`
	Prompt   string `json:"prompt"`
}

// GenerateHandler 通过 WebSocket 推送流式生成的中间状态。
type GenerateHandler struct {
	authService service.AuthService
	workspaces  service.WorkspaceService
}

// NewGenerateHandler 创建一个新的 GenerateHandler。
func NewGenerateHandler(authService service.AuthService, workspaces service.WorkspaceService) *GenerateHandler {
	return &GenerateHandler{authService: authService, workspaces: workspaces}
}

// frameWriter 串行化对同一连接的写入。
type frameWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *frameWriter) write(frame gin.H) error {
	frame["timestamp"] = time.Now().UnixMilli()
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

// Handle 处理一个传入的 WebSocket 连接。token 通过路径参数传入。
func (h *GenerateHandler) Handle(c *gin.Context) {
	user, _, err := h.authService.Authenticate(c.Request.Context(), c.Param("token"))
	if err != nil {
		status := statusFor(err)
		c.JSON(status, gin.H{"code": status, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", user.Email)
	w := &frameWriter{conn: conn}
	_ = w.write(gin.H{"type": frameState, "state": h.workspaces.State(user.ID)})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			_ = w.write(gin.H{"type": frameError, "message": "无效的消息格式"})
			continue
		}
		if err := h.dispatch(c, user, frame, w); err != nil {
			log.Warnf("写入 WebSocket 失败: %v", err)
			return
		}
	}
}

// dispatch 执行一次生成或修改，并把结果写回连接。只有写连接失败才返回错误。
func (h *GenerateHandler) dispatch(c *gin.Context, user *model.User, frame clientFrame, w *frameWriter) error {
	observe := func(s conversation.State) {
		if err := w.write(gin.H{"type": frameState, "state": s}); err != nil {
			log.Warnf("推送状态失败: %v", err)
		}
	}

	var (
		record *model.ScriptRecord
		err    error
	)
	ctx := c.Request.Context()
	switch frame.Type {
	case frameGenerate:
		record, err = h.workspaces.Generate(ctx, user.ID, frame.Language, frame.Prompt, observe)
	case frameUpdate:
		record, err = h.workspaces.Update(ctx, user.ID, frame.Prompt, observe)
	default:
		return w.write(gin.H{"type": frameError, "message": "未知的消息类型: " + frame.Type})
	}

	if err != nil {
		log.Warnw("生成失败", "user", user.ID, "type", frame.Type, "error", err)
		status := statusFor(err)
		return w.write(gin.H{"type": frameError, "message": frameErrorMessage(err, status), "status": status})
	}
	return w.write(gin.H{"type": frameCompletion, "script": record})
}

// frameErrorMessage 返回写给客户端的错误文本，5xx 不暴露底层错误。
func frameErrorMessage(err error, status int) string {
	if status < http.StatusInternalServerError {
		return err.Error()
	}
	if conversation.IsFault(err, conversation.PersistenceFault) {
		return "保存脚本失败，请稍后重试"
	}
	return "AI服务暂时不可用，请稍后重试"
}
