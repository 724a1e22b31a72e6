package handler

import (
	"net/http"
	"strconv"

	"syntax-ai-go/internal/service"
	"syntax-ai-go/pkg/log"

	"github.com/gin-gonic/gin"
)

const defaultSearchTopK = 10

// ScriptHandler 负责脚本库的浏览、删除、搜索与下载。
type ScriptHandler struct {
	scriptService service.ScriptService
}

// NewScriptHandler 创建一个新的 ScriptHandler 实例。
func NewScriptHandler(scriptService service.ScriptService) *ScriptHandler {
	return &ScriptHandler{scriptService: scriptService}
}

// List 按创建时间倒序返回当前用户的全部脚本。
func (h *ScriptHandler) List(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	scripts, err := h.scriptService.List(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("ListScripts: user=%d, error: %v", user.ID, err)
		respondError(c, err, "获取脚本列表失败")
		return
	}
	respondOK(c, "success", scripts)
}

// Get 返回单个脚本。
func (h *ScriptHandler) Get(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	script, err := h.scriptService.Get(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err, "获取脚本失败")
		return
	}
	respondOK(c, "success", script)
}

// Delete 删除脚本，若它是当前活动脚本则一并清空工作区。
func (h *ScriptHandler) Delete(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	scriptID := c.Param("id")
	if err := h.scriptService.Delete(c.Request.Context(), user.ID, scriptID); err != nil {
		log.Warnf("DeleteScript: user=%d, script=%s, error: %v", user.ID, scriptID, err)
		respondError(c, err, "删除脚本失败")
		return
	}
	respondOK(c, "删除成功", nil)
}

// Download 返回脚本导出文件的预签名链接。
func (h *ScriptHandler) Download(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	info, err := h.scriptService.Download(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		log.Warnf("DownloadScript: user=%d, error: %v", user.ID, err)
		respondError(c, err, "生成下载链接失败")
		return
	}
	respondOK(c, "success", info)
}

// Search 在当前用户的脚本中做全文检索。
func (h *ScriptHandler) Search(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	topK := defaultSearchTopK
	if raw := c.Query("topK"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "topK 必须是正整数", "data": nil})
			return
		}
		topK = n
	}
	results, err := h.scriptService.Search(c.Request.Context(), user.ID, c.Query("q"), topK)
	if err != nil {
		log.Warnf("SearchScripts: user=%d, error: %v", user.ID, err)
		respondError(c, err, "搜索服务暂时不可用")
		return
	}
	respondOK(c, "success", results)
}
