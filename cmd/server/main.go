// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"upload-validator-go/internal/config"
	"upload-validator-go/internal/handler"
	"upload-validator-go/internal/middleware"
	"upload-validator-go/internal/model"
	"upload-validator-go/internal/pipeline"
	"upload-validator-go/internal/repository"
	"upload-validator-go/internal/service"
	"upload-validator-go/pkg/cryptox"
	"upload-validator-go/pkg/database"
	"upload-validator-go/pkg/kafka"
	"upload-validator-go/pkg/log"
	"upload-validator-go/pkg/storage"
	"upload-validator-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if cfg.Database.MySQL.AutoMigrate {
		database.AutoMigrate(
			&model.Upload{},
			&model.UploadSchema{},
			&model.HealthDataRecord{},
			&model.HealthDataAttachment{},
			&model.Participant{},
		)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	kafka.InitProducer(cfg.Kafka)

	decryptor, err := cryptox.NewStudyDecryptor(cfg.Crypto.MasterSecret)
	if err != nil {
		log.Fatal("初始化上传解密器失败", err)
	}

	// 4. 初始化 Repository
	uploadRepo := repository.NewUploadRepository(database.DB)
	schemaRepo := repository.NewSchemaRepository(database.DB)
	healthDataRepo := repository.NewHealthDataRepository(database.DB)
	participantRepo := repository.NewParticipantRepository(database.DB)
	dedupeRepo := repository.NewDedupeRepository(database.RDB, cfg.Upload.DedupeTTL)

	// 4.1 导入 schema 目录，已存在的 revision 跳过
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 30*time.Second)
	if n, err := service.SeedSchemas(seedCtx, cfg.Server.SchemaDir, schemaRepo); err != nil {
		log.Errorf("schema 导入失败: %v", err)
	} else {
		log.Infof("schema 导入完成, 新增 %d 个", n)
	}
	cancelSeed()

	// 5. 组装校验流水线与 Service
	task := pipeline.NewValidationTask(pipeline.Dependencies{
		Store:            storage.NewMinioStore(storage.MinioClient),
		Decryptor:        decryptor,
		Schemas:          schemaRepo,
		Dedupe:           dedupeRepo,
		Records:          healthDataRepo,
		Participants:     participantRepo,
		Uploads:          uploadRepo,
		UploadBucket:     cfg.MinIO.UploadBucket,
		AttachmentBucket: cfg.MinIO.AttachmentBucket,
		Config:           cfg.Upload,
	})
	validationService := service.NewValidationService(
		uploadRepo,
		service.NewConfigStudyProvider(cfg.Studies),
		task,
		kafka.ProduceUploadTask,
	)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)

	// 6. 启动后台 Kafka 消费者
	consumerCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()
	consumersDone := make(chan struct{})
	go func() {
		kafka.StartConsumers(consumerCtx, cfg.Kafka, validationService, kafka.NewRedisAttemptCounter(database.RDB))
		close(consumersDone)
	}()

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	r.GET("/healthz", handler.Healthz)
	uploadHandler := handler.NewUploadHandler(validationService)
	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		uploads := apiV1.Group("/uploads")
		{
			uploads.POST("", middleware.RoleAuthMiddleware(token.RoleWorker, token.RoleAdmin), uploadHandler.RegisterUpload)
			uploads.POST("/:uploadId/validate", middleware.RoleAuthMiddleware(token.RoleAdmin, token.RoleWorker), uploadHandler.RequestValidation)
			uploads.GET("/:uploadId/status", uploadHandler.GetStatus)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// 取消消费者上下文并等待正在处理的上传完成
	stopConsumers()
	<-consumersDone
	kafka.CloseProducer()
	log.Info("服务已优雅关闭")
}
