// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"syntax-ai-go/internal/conversation"
	"syntax-ai-go/internal/model"
	"syntax-ai-go/internal/repository"
	"syntax-ai-go/internal/service"

	"github.com/gin-gonic/gin"
)

// statusFor 把业务错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrMissingCredential),
		errors.Is(err, service.ErrUnsupportedLanguage),
		errors.Is(err, service.ErrEmptyQuery),
		errors.Is(err, conversation.ErrEmptyPrompt):
		return http.StatusBadRequest
	case service.IsAuthRejected(err):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrScriptNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrBusy),
		errors.Is(err, conversation.ErrNoActiveScript),
		errors.Is(err, conversation.ErrNothingPending):
		return http.StatusConflict
	case conversation.IsFault(err, conversation.SourceFault):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError 写出统一的错误响应。5xx 时使用 fallback 文本，不暴露内部错误。
func respondError(c *gin.Context, err error, fallback string) {
	status := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = fallback
	}
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

func respondOK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": message, "data": data})
}

// currentUser 取出 AuthMiddleware 存入上下文的用户。
func currentUser(c *gin.Context) (*model.User, bool) {
	value, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	user, ok := value.(*model.User)
	return user, ok
}

// mustUser 与 currentUser 相同，但在取不到用户时直接写出 401。
func mustUser(c *gin.Context) *model.User {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无法获取用户信息", "data": nil})
		return nil
	}
	return user
}
