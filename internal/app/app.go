package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"selfinsight_backend/internal/config"
	"selfinsight_backend/internal/controller"
	"selfinsight_backend/internal/repository"
	"selfinsight_backend/internal/service"
	"selfinsight_backend/pkg/database"
	"selfinsight_backend/pkg/logger"
	"selfinsight_backend/pkg/monitoring"
	"selfinsight_backend/pkg/security"
	"selfinsight_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	configCallbacks []func(*config.Config)

	autosaveCancel context.CancelFunc
}

type repositories struct {
	snapshot   *repository.SessionSnapshotRepository
	submission *repository.SubmissionRepository
}

type services struct {
	catalog    *service.CatalogService
	session    *service.SessionService
	scoring    service.ScoringClient
	archive    *service.ArchiveService
	submission *service.SubmissionService
}

type controllers struct {
	assessment *controller.AssessmentController
	submission *controller.SubmissionController
	health     *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

// ApplyConfig 配置热更新入口，由配置文件监听协程调用
func (a *App) ApplyConfig(cfg *config.Config) {
	a.Config = cfg
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
	logger.Log.Info("Config reloaded")
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *repositories {
	return &repositories{
		snapshot:   repository.NewSessionSnapshotRepository(rdb, time.Duration(cfg.Assessment.SnapshotTTLHours)*time.Hour),
		submission: repository.NewSubmissionRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config) *services {
	s := &services{}

	s.catalog = service.NewCatalogService(cfg.Assessment.CatalogPath)
	s.session = service.NewSessionService(s.catalog, repos.snapshot)
	s.scoring = service.NewHTTPScoringClient(cfg.Scoring)

	// 归档是尽力而为的旁路，MinIO 不可用时不阻塞提交链路
	var archiver service.PayloadArchiver
	if cfg.Storage.ArchiveEnabled {
		archive, err := service.NewArchiveService(&cfg.Storage)
		if err != nil {
			logger.Log.Warn("Archive storage unavailable, submissions will not be archived", zap.Error(err))
		} else {
			s.archive = archive
			archiver = archive
		}
	}

	s.submission = service.NewSubmissionService(s.session, repos.snapshot, s.scoring, repos.submission, archiver)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		assessment: controller.NewAssessmentController(s.catalog, s.session, s.submission),
		submission: controller.NewSubmissionController(s.submission, s.session),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 10000
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db, rdb, cfg)
	services := app.initServices(repos, cfg)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()

	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("assessment-engine", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
			}
		}()
	}

	app.registerRoutes(router, controllers, cfg)

	// 会话快照的防抖自动落盘
	autosaveCtx, cancel := context.WithCancel(context.Background())
	app.autosaveCancel = cancel
	services.session.StartAutosave(autosaveCtx, time.Duration(cfg.Assessment.AutosaveSeconds)*time.Second)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 停止自动落盘并把在内存中的会话全部刷入 Redis
	if a.services != nil && a.services.session != nil {
		a.services.session.StopAutosave()
		if a.autosaveCancel != nil {
			a.autosaveCancel()
		}
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 3*time.Second)
		a.services.session.FlushAll(flushCtx)
		flushCancel()
	}

	// 关闭服务
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
