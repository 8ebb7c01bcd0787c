package handlers

import (
	"net/http"

	"opsdesk/internal/auth"
	"opsdesk/internal/middleware"
	"opsdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// ITHandler 工单、资产与用户接口
type ITHandler struct {
	tickets *services.TicketService
	assets  *services.AssetService
	users   *services.UserService
}

func NewITHandler(tickets *services.TicketService, assets *services.AssetService, users *services.UserService) *ITHandler {
	return &ITHandler{tickets: tickets, assets: assets, users: users}
}

// CreateTicket 创建工单
func (h *ITHandler) CreateTicket(c *gin.Context) {
	var req services.TicketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	ticket, err := h.tickets.CreateTicket(c.Request.Context(), sessionOf(c), &req)
	if err != nil {
		respondError(c, "Failed to create ticket", err)
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

// ListTickets 工单列表，?status= 可选
func (h *ITHandler) ListTickets(c *gin.Context) {
	tickets, err := h.tickets.ListTickets(c.Request.Context(), sessionOf(c), c.Query("status"))
	if err != nil {
		respondError(c, "Failed to list tickets", err)
		return
	}
	c.JSON(http.StatusOK, tickets)
}

// GetTicket 工单详情
func (h *ITHandler) GetTicket(c *gin.Context) {
	ticket, err := h.tickets.GetTicket(c.Request.Context(), sessionOf(c), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to get ticket", err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// UpdateTicketStatus 更新工单状态
func (h *ITHandler) UpdateTicketStatus(c *gin.Context) {
	var req services.TicketStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	ticket, err := h.tickets.UpdateTicketStatus(c.Request.Context(), sessionOf(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, "Failed to update ticket", err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// AssignRequest 指派请求；user_id 为空表示取消指派
type AssignRequest struct {
	UserID string `json:"user_id"`
}

// AssignTicket 指派工单
func (h *ITHandler) AssignTicket(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	ticket, err := h.tickets.AssignTicket(c.Request.Context(), sessionOf(c), c.Param("id"), req.UserID)
	if err != nil {
		respondError(c, "Failed to assign ticket", err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// ListAssets 资产列表，?status= 可选
func (h *ITHandler) ListAssets(c *gin.Context) {
	assets, err := h.assets.ListAssets(c.Request.Context(), sessionOf(c), c.Query("status"))
	if err != nil {
		respondError(c, "Failed to list assets", err)
		return
	}
	c.JSON(http.StatusOK, assets)
}

// CreateAsset 新建资产
func (h *ITHandler) CreateAsset(c *gin.Context) {
	var req services.AssetCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	asset, err := h.assets.CreateAsset(c.Request.Context(), sessionOf(c), &req)
	if err != nil {
		respondError(c, "Failed to create asset", err)
		return
	}
	c.JSON(http.StatusCreated, asset)
}

// UpdateAsset 更新资产
func (h *ITHandler) UpdateAsset(c *gin.Context) {
	var req services.AssetUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	asset, err := h.assets.UpdateAsset(c.Request.Context(), sessionOf(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, "Failed to update asset", err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// AssignAsset 分配资产
func (h *ITHandler) AssignAsset(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "user_id is required"})
		return
	}
	asset, err := h.assets.AssignAsset(c.Request.Context(), sessionOf(c), c.Param("id"), req.UserID)
	if err != nil {
		respondError(c, "Failed to assign asset", err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// UnassignAsset 回收资产
func (h *ITHandler) UnassignAsset(c *gin.Context) {
	asset, err := h.assets.UnassignAsset(c.Request.Context(), sessionOf(c), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to unassign asset", err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// CreateUser 创建用户
func (h *ITHandler) CreateUser(c *gin.Context) {
	var req services.UserCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	user, err := h.users.CreateUser(c.Request.Context(), sessionOf(c), &req)
	if err != nil {
		respondError(c, "Failed to create user", err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// RegisterITRoutes 注册路由
func RegisterITRoutes(r *gin.RouterGroup, handler *ITHandler) {
	tickets := r.Group("/tickets")
	{
		tickets.GET("", middleware.RequirePermissionsAny("tickets.read"), handler.ListTickets)
		tickets.POST("", middleware.RequirePermissionsAny("tickets.write"), handler.CreateTicket)
		tickets.GET("/:id", middleware.RequirePermissionsAny("tickets.read"), handler.GetTicket)
		tickets.PUT("/:id/status", middleware.RequirePermissionsAny("tickets.write"), handler.UpdateTicketStatus)
		tickets.PUT("/:id/assign", middleware.RequireRolesAny(auth.RoleITAdmin), handler.AssignTicket)
	}

	assets := r.Group("/assets")
	{
		assets.GET("", middleware.RequirePermissionsAny("assets.read"), handler.ListAssets)
		assets.POST("", middleware.RequireRolesAny(auth.RoleITAdmin), handler.CreateAsset)
		assets.PUT("/:id", middleware.RequireRolesAny(auth.RoleITAdmin), handler.UpdateAsset)
		assets.PUT("/:id/assign", middleware.RequireRolesAny(auth.RoleITAdmin), handler.AssignAsset)
		assets.DELETE("/:id/assign", middleware.RequireRolesAny(auth.RoleITAdmin), handler.UnassignAsset)
	}

	r.POST("/users", middleware.RequireRolesAny(auth.RoleITAdmin), handler.CreateUser)
}
