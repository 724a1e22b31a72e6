package handler

import (
	"net/http"
	"strconv"

	"syntax-ai-go/internal/service"
	"syntax-ai-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理所有与管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// IssueAccessKeysRequest 定义了签发访问令牌 API 的请求体结构。
type IssueAccessKeysRequest struct {
	Count int `json:"count" binding:"required"`
}

// IssueAccessKeys 签发一批一次性访问令牌。
func (h *AdminHandler) IssueAccessKeys(c *gin.Context) {
	var req IssueAccessKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("IssueAccessKeys: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}
	creator := mustUser(c)
	if creator == nil {
		return
	}

	keys, err := h.adminService.IssueAccessKeys(creator, req.Count)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}
	respondOK(c, "访问令牌签发成功", keys)
}

// ListAccessKeys 返回全部访问令牌及其消费状态。
func (h *AdminHandler) ListAccessKeys(c *gin.Context) {
	keys, err := h.adminService.ListAccessKeys()
	if err != nil {
		log.Error("ListAccessKeys: Failed to list access keys", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取访问令牌列表失败", "data": nil})
		return
	}
	respondOK(c, "success", keys)
}

// ListUsers 分页返回用户列表。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))

	users, err := h.adminService.ListUsers(page, size)
	if err != nil {
		log.Error("ListUsers: Failed to list users", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取用户列表失败", "data": nil})
		return
	}
	respondOK(c, "success", users)
}
