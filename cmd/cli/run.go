package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"opsdesk/internal/auth"
	"opsdesk/internal/config"
	"opsdesk/internal/handlers"
	"opsdesk/internal/middleware"
	"opsdesk/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the opsdesk API server",
	Long:  `Run the opsdesk API server`,
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	// 加载配置
	cfg := config.Load()

	// 初始化日志系统
	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// 追踪
	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Fatalf("Failed to setup tracing: %v", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}

	tokens, err := auth.NewManager(cfg.JWT)
	if err != nil {
		appLogger.Fatalf("Failed to init token manager: %v", err)
	}

	svc := buildServices(db, cfg, appLogger)

	// 设置 Gin 模式
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, tokens, svc, handlers.NewHealthHandler(db, Version), appLogger)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		appLogger.Errorf("Tracing shutdown: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	appLogger.Info("Server exited")
}

func setupRouter(cfg *config.Config, tokens *auth.Manager, svc *appServices, health *handlers.HealthHandler, log *logrus.Logger) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	if cfg.Security.CORS.Enabled {
		router.Use(corsMiddleware(cfg.Security.CORS))
	}
	if cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware(observability.ServiceName(cfg)))
	}

	// 健康检查
	router.GET("/health", health.Health)

	api := router.Group("/api/v1")
	// 认证前按 IP 限流，认证后按公司限流
	api.Use(middleware.RateLimitMiddleware(cfg, "ip"))
	api.Use(middleware.AuthMiddleware(tokens))
	api.Use(middleware.RateLimitMiddleware(cfg, "api"))
	{
		handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(svc.Automation, log))
		handlers.RegisterITRoutes(api, handlers.NewITHandler(svc.Tickets, svc.Assets, svc.Users))
	}

	return router
}

func corsMiddleware(cc config.CORSConfig) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]struct{}, len(cc.AllowedOrigins))
	for _, o := range cc.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	methods := strings.Join(append(append([]string{}, cc.AllowedMethods...), "OPTIONS"), ", ")
	headers := "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization"
	if len(cc.AllowedHeaders) > 0 && cc.AllowedHeaders[0] != "*" {
		headers = strings.Join(cc.AllowedHeaders, ", ")
	}
	return func(c *gin.Context) {
		// Access-Control-Allow-Origin 只能携带一个来源
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin := c.GetHeader("Origin"); origin != "" {
			c.Header("Vary", "Origin")
			if _, ok := allowed[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
			}
		}
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", headers)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
