// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"syntax-ai-go/internal/config"
	"syntax-ai-go/internal/handler"
	"syntax-ai-go/internal/pipeline"
	"syntax-ai-go/internal/repository"
	"syntax-ai-go/internal/service"
	"syntax-ai-go/pkg/database"
	"syntax-ai-go/pkg/es"
	"syntax-ai-go/pkg/kafka"
	"syntax-ai-go/pkg/llm"
	"syntax-ai-go/pkg/log"
	"syntax-ai-go/pkg/storage"
	"syntax-ai-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与索引流水线依赖
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	keyRepo := repository.NewAccessKeyRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.RDB)
	scriptRepo := repository.NewScriptRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	objectStore := storage.NewObjectStore(storage.MinioClient, cfg.MinIO.BucketName)
	scriptIndex := es.NewScriptIndex(es.ESClient, cfg.Elasticsearch.IndexName)

	workspaceService := service.NewWorkspaceService(service.NewGenerationSource(llmClient, cfg.LLM), scriptRepo, producer)
	authService := service.NewAuthService(userRepo, keyRepo, sessionRepo, workspaceService, jwtManager,
		time.Duration(cfg.Session.TTLHours)*time.Hour)
	adminService := service.NewAdminService(keyRepo, userRepo)
	scriptService := service.NewScriptService(scriptRepo, workspaceService, producer, scriptIndex, objectStore)

	if err := adminService.EnsureAdmin(cfg.Admin.Email, cfg.Admin.Password); err != nil {
		log.Fatalf("初始化管理员账号失败: %v", err)
	}

	// 6. 启动后台 Kafka 消费者：导出到 MinIO 并写入搜索索引
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	processor := pipeline.NewProcessor(objectStore, scriptIndex)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		kafka.NewConsumer(cfg.Kafka, processor, database.RDB).Run(consumerCtx)
	}()

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(authService, handler.Handlers{
		Auth:      handler.NewAuthHandler(authService),
		Script:    handler.NewScriptHandler(scriptService),
		Workspace: handler.NewWorkspaceHandler(workspaceService),
		Generate:  handler.NewGenerateHandler(authService, workspaceService),
		Admin:     handler.NewAdminHandler(adminService),
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	stopConsumer()
	select {
	case <-consumerDone:
	case <-ctx.Done():
		log.Warnf("等待 Kafka 消费者退出超时")
	}
	log.Info("服务已优雅关闭")
}
