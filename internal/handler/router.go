package handler

import (
	"syntax-ai-go/internal/middleware"
	"syntax-ai-go/internal/service"

	"github.com/gin-gonic/gin"
)

// Handlers 汇总所有路由需要的控制器。
type Handlers struct {
	Auth      *AuthHandler
	Script    *ScriptHandler
	Workspace *WorkspaceHandler
	Generate  *GenerateHandler
	Admin     *AdminHandler
}

// NewRouter 创建路由引擎并注册 /api/v1 下的全部路由。
func NewRouter(authService service.AuthService, h Handlers) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/languages", ListLanguages)

		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/signup", h.Auth.SignUp)
			auth.POST("/login", h.Auth.Login)
			auth.POST("/refreshToken", h.Auth.RefreshToken)

			authed := auth.Group("/")
			authed.Use(middleware.AuthMiddleware(authService))
			{
				authed.GET("/session", h.Auth.Session)
				authed.POST("/logout", h.Auth.Logout)
			}
		}

		// Scripts 路由组，需要认证
		scripts := apiV1.Group("/scripts")
		scripts.Use(middleware.AuthMiddleware(authService))
		{
			scripts.GET("", h.Script.List)
			scripts.GET("/search", h.Script.Search)
			scripts.GET("/:id", h.Script.Get)
			scripts.DELETE("/:id", h.Script.Delete)
			scripts.GET("/:id/download", h.Script.Download)
		}

		// Workspace 路由组，需要认证
		workspace := apiV1.Group("/workspace")
		workspace.Use(middleware.AuthMiddleware(authService))
		{
			workspace.GET("", h.Workspace.Get)
			workspace.PUT("/active", h.Workspace.SetActive)
			workspace.DELETE("/active", h.Workspace.NewProject)
			workspace.DELETE("/error", h.Workspace.ClearError)
			workspace.POST("/retry", h.Workspace.Retry)
			workspace.DELETE("/pending", h.Workspace.DiscardPending)
		}

		// 生成路由 (WebSocket)，token 通过路径参数传入
		apiV1.GET("/generate/:token", h.Generate.Handle)

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(middleware.AuthMiddleware(authService), middleware.AdminAuthMiddleware())
		{
			admin.GET("/users/list", h.Admin.ListUsers)
			admin.POST("/access-keys", h.Admin.IssueAccessKeys)
			admin.GET("/access-keys", h.Admin.ListAccessKeys)
		}
	}
	return r
}
