package handlers

import (
	"net/http"
	"strconv"

	"opsdesk/internal/auth"
	"opsdesk/internal/metrics"
	"opsdesk/internal/middleware"
	"opsdesk/internal/models"
	"opsdesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AutomationHandler 自动化规则的派发与管理
type AutomationHandler struct {
	service *services.AutomationService
	logger  *logrus.Logger
}

func NewAutomationHandler(service *services.AutomationService, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationHandler{service: service, logger: logger}
}

// DispatchRequest 手动派发事件
type DispatchRequest struct {
	Event   string          `json:"event" binding:"required"`
	Payload models.Document `json:"payload"`
}

// Dispatch 派发事件，执行本公司匹配的规则
func (h *AutomationHandler) Dispatch(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	payload := req.Payload
	if payload == nil {
		payload = models.Document{}
	}

	res, err := h.service.Execute(c.Request.Context(), sessionOf(c), req.Event, payload)
	if err != nil {
		h.logger.WithField("event", req.Event).Warnf("dispatch failed: %v", err)
		respondError(c, "Failed to execute automation", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListRules 获取规则列表
func (h *AutomationHandler) ListRules(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context(), sessionOf(c))
	if err != nil {
		respondError(c, "Failed to list automation rules", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule 创建规则
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.service.CreateRule(c.Request.Context(), sessionOf(c), &req)
	if err != nil {
		respondError(c, "Failed to create automation rule", err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule 更新规则
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	var req services.AutomationRuleUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.service.UpdateRule(c.Request.Context(), sessionOf(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, "Failed to update automation rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	if err := h.service.DeleteRule(c.Request.Context(), sessionOf(c), c.Param("id")); err != nil {
		respondError(c, "Failed to delete automation rule", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ListLogs 获取执行记录，?limit= 默认 50
func (h *AutomationHandler) ListLogs(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid limit", Message: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	logs, err := h.service.ListLogs(c.Request.Context(), sessionOf(c), limit)
	if err != nil {
		respondError(c, "Failed to list automation logs", err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// Stats 进程内自动化计数
func (h *AutomationHandler) Stats(c *gin.Context) {
	total, byScope := metrics.RateLimitSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"automation": metrics.Automation(),
		"rate_limit": gin.H{"dropped": total, "by_scope": byScope},
	})
}

// RegisterAutomationRoutes 注册路由；规则与日志仅限 IT_ADMIN
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.POST("/dispatch", handler.Dispatch)
		auto.GET("/stats", handler.Stats)

		admin := auto.Group("", middleware.RequireRolesAny(auth.RoleITAdmin))
		admin.GET("/rules", handler.ListRules)
		admin.POST("/rules", handler.CreateRule)
		admin.PUT("/rules/:id", handler.UpdateRule)
		admin.DELETE("/rules/:id", handler.DeleteRule)
		admin.GET("/logs", handler.ListLogs)
	}
}
