package handler

import (
	"net/http"

	"syntax-ai-go/internal/model"
	"syntax-ai-go/internal/service"
	"syntax-ai-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// authUnavailable 是认证依赖的存储不可用时返回给用户的文本。
const authUnavailable = "Database connection failed."

// AuthHandler 负责注册、登录、刷新 token 与登出。
type AuthHandler struct {
	authService service.AuthService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(authService service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// SignUpRequest 定义了注册 API 的请求体结构。
type SignUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	AccessToken string `json:"accessToken"`
}

// LoginRequest 定义了登录 API 的请求体结构。
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshTokenRequest 定义了刷新 token API 的请求体结构。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// SignUp 消费访问令牌建档，成功后直接开始会话。
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("SignUp: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": service.ErrMissingCredential.Error(), "data": nil})
		return
	}

	user, err := h.authService.SignUp(c.Request.Context(), service.Credential{
		Email:       req.Email,
		Password:    req.Password,
		AccessToken: req.AccessToken,
	})
	if err != nil {
		log.Warnf("SignUp: email=%s, error: %v", req.Email, err)
		respondError(c, err, authUnavailable)
		return
	}
	h.startSession(c, user, "Registration successful")
}

// Login 校验凭证并开始会话。
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": service.ErrMissingCredential.Error(), "data": nil})
		return
	}

	user, err := h.authService.Verify(c.Request.Context(), service.Credential{Email: req.Email, Password: req.Password})
	if err != nil {
		log.Warnf("Login: email=%s, error: %v", req.Email, err)
		respondError(c, err, authUnavailable)
		return
	}
	h.startSession(c, user, "Login successful")
}

// RefreshToken 处理刷新 token 的请求。旧的 refresh token 随即失效。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("RefreshToken: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：refreshToken 不能为空", "data": nil})
		return
	}

	session, err := h.authService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		log.Warnf("RefreshToken: Failed to refresh token, error: %v", err)
		respondError(c, err, authUnavailable)
		return
	}
	log.Info("Token refreshed successfully")
	respondOK(c, "Token refreshed successfully", session)
}

// Session 返回当前会话的用户档案。
func (h *AuthHandler) Session(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	respondOK(c, "success", user)
}

// Logout 结束当前会话。
func (h *AuthHandler) Logout(c *gin.Context) {
	user := mustUser(c)
	if user == nil {
		return
	}
	if err := h.authService.EndSession(c.Request.Context(), user.ID, c.GetString("accessToken")); err != nil {
		log.Errorf("Logout: user=%d, error: %v", user.ID, err)
		respondError(c, err, authUnavailable)
		return
	}
	respondOK(c, "Logout successful", nil)
}

func (h *AuthHandler) startSession(c *gin.Context, user *model.User, message string) {
	session, err := h.authService.StartSession(c.Request.Context(), user)
	if err != nil {
		log.Errorf("StartSession: user=%s, error: %v", user.Email, err)
		respondError(c, err, authUnavailable)
		return
	}
	respondOK(c, message, session)
}
