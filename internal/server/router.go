package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/azhengyongqin/lecture-hub/internal/healthcheck"
	"github.com/azhengyongqin/lecture-hub/internal/middleware"
	"github.com/azhengyongqin/lecture-hub/internal/server/handler"
	"github.com/azhengyongqin/lecture-hub/internal/service"
)

type Deps struct {
	// Service 讲座任务服务
	Service *service.LectureService

	// HealthChecker 健康检查器
	HealthChecker *healthcheck.HealthChecker
}

// NewRouter 提供 Gin HTTP API
// @title Lecture-Hub API
// @version 1.0.0
// @description 讲座视频处理任务系统 API
// @BasePath /api/v1
// @schemes http https
func NewRouter(deps Deps) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	// 全局中间件
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.PrometheusMiddleware())
	r.Use(middleware.PayloadSizeLimit(middleware.MaxPayloadSize))
	r.Use(middleware.CORSMiddleware())

	// 创建各个 handler 实例
	healthHandler := handler.NewHealthHandler(deps.HealthChecker)
	lectureHandler := handler.NewLectureHandler(deps.Service)

	// 健康检查路由
	r.GET("/healthz", healthHandler.Liveness)
	r.GET("/readyz", healthHandler.Readiness)

	// Prometheus metrics 端点
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger API 文档
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API 路由
	api := r.Group("/api/v1")
	{
		api.POST("/lectures", lectureHandler.Submit)
		api.GET("/lectures", lectureHandler.List)
		api.GET("/lectures/:task_id", middleware.ValidateTaskIDParam(), lectureHandler.Get)
		api.GET("/lectures/:task_id/artifacts/:kind",
			middleware.ValidateTaskIDParam(), middleware.ValidateArtifactKindParam(), lectureHandler.GetArtifact)
		api.DELETE("/lectures/:task_id", middleware.ValidateTaskIDParam(), lectureHandler.Delete)
	}

	return r
}
