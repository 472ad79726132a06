package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/middleware"
	"github.com/annel0/voxel-world/internal/presence"
	"github.com/annel0/voxel-world/internal/protocol"
)

// RestServer — HTTP-обвязка движка синхронизации поверх Gin.
type RestServer struct {
	router      *gin.Engine
	game        *GameServer
	broadcaster *presence.Broadcaster
	health      *HealthMetrics
	httpServer  *http.Server
	port        int
}

// NewRestServer собирает маршруты и observability-middleware.
func NewRestServer(game *GameServer, broadcaster *presence.Broadcaster, port int) *RestServer {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("world_api"))

	promMw := middleware.NewPrometheusMiddleware("world_api")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:      router,
		game:        game,
		broadcaster: broadcaster,
		health:      NewHealthMetrics(),
		port:        port,
	}
	rs.setupRoutes()
	return rs
}

func (rs *RestServer) setupRoutes() {
	api := rs.router.Group("/api")
	{
		api.POST("/connect", rs.handleConnect)
		api.POST("/disconnect", rs.handleDisconnect)
		api.POST("/position", rs.handlePosition)
		api.POST("/modifications", rs.handleModifications)
		api.POST("/chunks", rs.handleChunks)
		api.POST("/friends/add", rs.handleFriendAdd)
		api.POST("/friends/remove", rs.handleFriendRemove)
		api.POST("/upvote", rs.handleUpvote)
	}

	rs.router.GET("/health", rs.handleHealth)
}

func (rs *RestServer) handleConnect(c *gin.Context) {
	var req protocol.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := rs.game.HandleConnect(c.Request.Context(), &req)
	if err != nil {
		logging.Error("❌ Ошибка подключения %s к %s: %v", req.Username, req.Level, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connect failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (rs *RestServer) handleDisconnect(c *gin.Context) {
	var req protocol.DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rs.game.HandleDisconnect(c.Request.Context(), &req, rs.broadcaster))
}

func (rs *RestServer) handlePosition(c *gin.Context) {
	var req protocol.PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rs.game.HandlePosition(c.Request.Context(), &req))
}

func (rs *RestServer) handleModifications(c *gin.Context) {
	var req protocol.ModificationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rs.game.HandleModifications(c.Request.Context(), &req))
}

func (rs *RestServer) handleChunks(c *gin.Context) {
	var req protocol.ChunksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := rs.game.HandleChunks(c.Request.Context(), &req)
	if err != nil {
		logging.Error("❌ Ошибка чтения чанков уровня %s: %v", req.Level, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chunks read failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (rs *RestServer) handleFriendAdd(c *gin.Context) {
	var req protocol.FriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := rs.game.HandleFriendAdd(c.Request.Context(), &req)
	if err != nil {
		logging.Error("❌ Ошибка добавления друга: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "friend add failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (rs *RestServer) handleFriendRemove(c *gin.Context) {
	var req protocol.FriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := rs.game.HandleFriendRemove(c.Request.Context(), &req)
	if err != nil {
		logging.Error("❌ Ошибка удаления друга: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "friend remove failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (rs *RestServer) handleUpvote(c *gin.Context) {
	var req protocol.UpvoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rs.game.HandleUpvote(c.Request.Context(), &req))
}

// handleHealth возвращает состояние процесса: аптайм, память, CPU.
func (rs *RestServer) handleHealth(c *gin.Context) {
	memoryMB, _ := rs.health.MemoryUsageMB()
	cpuPercent, _ := rs.health.CPUUsagePercent()

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"uptime":      rs.health.Uptime(),
		"memory_mb":   fmt.Sprintf("%.2f", memoryMB),
		"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
		"goroutines":  rs.health.Goroutines(),
	})
}

// Start запускает HTTP-сервер (блокирующий вызов).
func (rs *RestServer) Start() error {
	rs.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", rs.port),
		Handler: rs.router,
	}
	logging.Info("🔄 REST API запущен на порту %d", rs.port)
	return rs.httpServer.ListenAndServe()
}

// Stop корректно останавливает HTTP-сервер.
func (rs *RestServer) Stop(ctx context.Context) error {
	if rs.httpServer == nil {
		return nil
	}
	return rs.httpServer.Shutdown(ctx)
}

// Router отдаёт роутер (для httptest в интеграционных тестах).
func (rs *RestServer) Router() *gin.Engine {
	return rs.router
}
