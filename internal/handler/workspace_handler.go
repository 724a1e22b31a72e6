package handler

import (
	"net/http"

	"syntax-ai-go/internal/model"
	"syntax-ai-go/internal/service"
	"syntax-ai-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// WorkspaceHandler 暴露工作区（生成状态机）的查询与非流式操作。
type WorkspaceHandler struct {
	workspaces service.WorkspaceService
}

// NewWorkspaceHandler 创建一个新的 WorkspaceHandler 实例。
func NewWorkspaceHandler(workspaces service.WorkspaceService) *WorkspaceHandler {
	return &WorkspaceHandler{workspaces: workspaces}
}

// SetActiveRequest 定义了切换活动脚本的请求体结构。
type SetActiveRequest struct {
	ScriptID string `json:"scriptId" binding:"required"`
}

// ListLanguages 返回可选的目标语言。
func ListLanguages(c *gin.Context) {
	respondOK(c, "success", model.Languages)
}

// Get 返回当前工作区的状态快照。
func (h *WorkspaceHandler) Get(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	respondOK(c, "success", h.workspaces.State(user.ID))
}

// SetActive 把脚本库中的一个脚本设为活动脚本。
func (h *WorkspaceHandler) SetActive(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：scriptId 不能为空", "data": nil})
		return
	}
	if _, err := h.workspaces.Select(c.Request.Context(), user.ID, req.ScriptID); err != nil {
		log.Warnf("SetActive: user=%d, script=%s, error: %v", user.ID, req.ScriptID, err)
		respondError(c, err, "切换脚本失败")
		return
	}
	respondOK(c, "success", h.workspaces.State(user.ID))
}

// NewProject 清空活动脚本，下一次生成将创建新脚本。
func (h *WorkspaceHandler) NewProject(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	if err := h.workspaces.NewProject(user.ID); err != nil {
		respondError(c, err, "操作失败")
		return
	}
	respondOK(c, "success", h.workspaces.State(user.ID))
}

// ClearError 清除工作区上显示的错误。
func (h *WorkspaceHandler) ClearError(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	h.workspaces.ClearError(user.ID)
	respondOK(c, "success", h.workspaces.State(user.ID))
}

// DiscardPending 放弃待重试保存的脚本。
func (h *WorkspaceHandler) DiscardPending(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	h.workspaces.DiscardPending(user.ID)
	respondOK(c, "success", h.workspaces.State(user.ID))
}

// Retry 重新保存因存储故障未能落盘的脚本。
func (h *WorkspaceHandler) Retry(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	record, err := h.workspaces.RetryPersist(c.Request.Context(), user.ID)
	if err != nil {
		log.Warnf("RetryPersist: user=%d, error: %v", user.ID, err)
		respondError(c, err, "保存脚本失败，请稍后重试")
		return
	}
	respondOK(c, "保存成功", record)
}
