package app

import (
	"selfinsight_backend/docs"
	"selfinsight_backend/internal/config"
	"selfinsight_backend/internal/middleware"
	"selfinsight_backend/internal/model"
	"selfinsight_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
	}

	// 2. 测评会话路由，须携带外部签发的 JWT
	assessment := router.Group("/api/assessment")
	assessment.Use(middleware.AuthMiddleware(cfg))
	{
		assessment.GET("/catalog", c.assessment.GetCatalog)

		session := assessment.Group("/session")
		{
			session.POST("/start", c.assessment.StartSession)
			session.GET("", c.assessment.GetSession)
			session.POST("/advance", c.assessment.Advance)
			session.POST("/retreat", c.assessment.Retreat)
			session.POST("/jump", c.assessment.JumpTo)
			session.POST("/section", c.assessment.ChangeSection)
			session.POST("/response", c.assessment.RecordResponse)
			session.POST("/view", c.assessment.BeginView)
			session.POST("/flush", c.assessment.Flush)
			session.GET("/completeness", c.assessment.Completeness)
			session.POST("/abandon", c.assessment.Abandon)
		}

		assessment.POST("/submit", c.submission.Submit)
	}

	// 3. 运营/管理路由
	admin := router.Group("/api/assessment/submissions")
	admin.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Operator, model.Admin))
	{
		admin.GET("", c.submission.ListSubmissions)
		admin.GET("/:id", c.submission.GetSubmission)
	}
}
