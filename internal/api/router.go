package api

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/porto-trajectory-go/internal/config"
	"github.com/jengzang/porto-trajectory-go/internal/handler"
	"github.com/jengzang/porto-trajectory-go/internal/metrics"
	"github.com/jengzang/porto-trajectory-go/internal/middleware"
	"github.com/jengzang/porto-trajectory-go/internal/repository"
	"github.com/jengzang/porto-trajectory-go/internal/service"
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, db *sql.DB, m *metrics.Collector, tasks *service.AnalysisTaskService) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger())

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+middleware.RequestIDHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	tripRepo := repository.NewTripRepository(db)
	pathRepo := repository.NewMatchedPathRepository(db)

	tripHandler := handler.NewTripHandler(service.NewTripService(tripRepo, pathRepo))
	edgeHandler := handler.NewEdgeHandler(service.NewEdgeStatService(repository.NewEdgeStatRepository(db), cfg.TopK))
	taskHandler := handler.NewAnalysisTaskHandler(tasks)

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Porto trajectory API is running",
		})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	// API 路由组
	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateWindow))
	{
		api.GET("/overview", tripHandler.GetCleaningOverview)

		// 行程
		trips := api.Group("/trips")
		{
			trips.GET("", tripHandler.GetTrips)
			trips.GET("/:id", tripHandler.GetTripByID)
		}

		// 路段排行
		api.GET("/edges/top", edgeHandler.GetTopEdges)

		// 分析任务
		analysisGroup := api.Group("/analysis")
		{
			analysisGroup.GET("/tasks", taskHandler.ListTasks)
			analysisGroup.GET("/tasks/:id", taskHandler.GetTask)

			admin := analysisGroup.Group("", middleware.JWTAuth(cfg.JWTSecret))
			admin.POST("/tasks", taskHandler.CreateTask)
			admin.DELETE("/tasks/:id", taskHandler.CancelTask)
			admin.POST("/trigger-chain", taskHandler.TriggerAnalysisChain)
		}
	}

	return r
}
