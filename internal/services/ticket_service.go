package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"opsdesk/internal/auth"
	"opsdesk/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	TicketStatusOpen       = "Open"
	TicketStatusInProgress = "In Progress"
	TicketStatusResolved   = "Resolved"
	TicketStatusClosed     = "Closed"

	defaultTicketPriority   = "Medium"
	defaultSLATargetMinutes = 480
)

// TicketService 工单管理服务
type TicketService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	priority   string
	slaMinutes int
	now        func() time.Time
}

// NewTicketService 创建工单服务
func NewTicketService(db *gorm.DB, logger *logrus.Logger) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}

	return &TicketService{
		db:         db,
		logger:     logger,
		priority:   defaultTicketPriority,
		slaMinutes: defaultSLATargetMinutes,
		now:        time.Now,
	}
}

// SetDefaults 覆盖默认优先级与 SLA 目标（分钟）
func (s *TicketService) SetDefaults(priority string, slaMinutes int) {
	if priority != "" {
		s.priority = priority
	}
	if slaMinutes > 0 {
		s.slaMinutes = slaMinutes
	}
}

// TicketCreateRequest 创建工单请求
type TicketCreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description" binding:"required"`
	Priority    string `json:"priority"`
}

// CreateTicket 创建工单；请求人取自会话
func (s *TicketService) CreateTicket(ctx context.Context, sess *auth.Session, req *TicketCreateRequest) (*models.Ticket, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	if req == nil || strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Description) == "" {
		return nil, invalid("Title and description are required")
	}

	priority := req.Priority
	if priority == "" {
		priority = s.priority
	}

	now := s.now().UTC()
	ticket := &models.Ticket{
		ID:              uuid.NewString(),
		CompanyID:       sess.TenantID,
		TicketNumber:    newTicketNumber(now),
		Title:           req.Title,
		Description:     req.Description,
		Priority:        priority,
		Status:          TicketStatusOpen,
		RequesterUserID: sess.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return nil, storeErr("create ticket", err)
	}

	// SLA 记录失败不影响工单本身
	sla := &models.SLAMetric{
		TicketID:                ticket.ID,
		CompanyID:               ticket.CompanyID,
		TargetResolutionMinutes: s.slaMinutes,
		CreatedAt:               now,
	}
	if err := s.db.WithContext(ctx).Create(sla).Error; err != nil {
		s.logger.WithField("ticket_id", ticket.ID).Warnf("Failed to create SLA metric: %v", err)
	}

	s.logger.WithFields(logrus.Fields{
		"ticket_id":     ticket.ID,
		"ticket_number": ticket.TicketNumber,
		"company_id":    ticket.CompanyID,
	}).Info("Created ticket")
	return ticket, nil
}

// GetTicket 获取本公司的工单
func (s *TicketService) GetTicket(ctx context.Context, sess *auth.Session, id string) (*models.Ticket, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	return s.findTicket(ctx, sess.TenantID, id)
}

// ListTickets 本公司全部工单，按创建时间倒序，?status= 可选
func (s *TicketService) ListTickets(ctx context.Context, sess *auth.Session, status string) ([]models.Ticket, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Where("company_id = ?", sess.TenantID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var tickets []models.Ticket
	if err := q.Order("created_at DESC").Find(&tickets).Error; err != nil {
		return nil, storeErr("list tickets", err)
	}
	return tickets, nil
}

// TicketStatusRequest 更新工单状态；AssignedUserID 非空时一并指派处理人
type TicketStatusRequest struct {
	Status         string `json:"status" binding:"required"`
	AssignedUserID string `json:"assigned_user_id"`
}

// UpdateTicketStatus 更新状态。Resolved/Closed 首次写入 resolved_at；
// 进入 Closed 时计算解决耗时并回写 SLA 记录，SLA 写入失败只记日志。
func (s *TicketService) UpdateTicketStatus(ctx context.Context, sess *auth.Session, id string, req *TicketStatusRequest) (*models.Ticket, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	if req == nil || !isTicketStatus(req.Status) {
		return nil, invalid("Status must be one of Open, In Progress, Resolved, Closed")
	}
	ticket, err := s.findTicket(ctx, sess.TenantID, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	oldStatus := ticket.Status
	ticket.Status = req.Status
	ticket.UpdatedAt = now
	if (req.Status == TicketStatusResolved || req.Status == TicketStatusClosed) && ticket.ResolvedAt == nil {
		ticket.ResolvedAt = &now
	}
	if req.Status == TicketStatusClosed {
		ticket.ClosedAt = &now
	}
	if req.AssignedUserID != "" {
		assignee := req.AssignedUserID
		ticket.AssignedUserID = &assignee
	}
	if err := s.db.WithContext(ctx).Save(ticket).Error; err != nil {
		return nil, storeErr("update ticket", err)
	}

	if req.Status == TicketStatusClosed && oldStatus != TicketStatusClosed {
		s.recordResolution(ctx, ticket, now)
	}
	return ticket, nil
}

// recordResolution 写入解决耗时（分钟，向下取整）与是否达标
func (s *TicketService) recordResolution(ctx context.Context, ticket *models.Ticket, closedAt time.Time) {
	minutes := int(closedAt.Sub(ticket.CreatedAt) / time.Minute)
	log := s.logger.WithField("ticket_id", ticket.ID)

	var sla models.SLAMetric
	err := s.db.WithContext(ctx).Where("ticket_id = ?", ticket.ID).First(&sla).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sla = models.SLAMetric{
			TicketID:                ticket.ID,
			CompanyID:               ticket.CompanyID,
			TargetResolutionMinutes: s.slaMinutes,
			CreatedAt:               closedAt,
		}
	case err != nil:
		log.Warnf("Failed to load SLA metric: %v", err)
		return
	}
	if sla.TargetResolutionMinutes <= 0 {
		sla.TargetResolutionMinutes = s.slaMinutes
	}
	met := minutes <= sla.TargetResolutionMinutes
	sla.TimeToResolveMinutes = &minutes
	sla.SLAMet = &met
	if err := s.db.WithContext(ctx).Save(&sla).Error; err != nil {
		log.Warnf("Failed to record SLA resolution: %v", err)
	}
}

// AssignTicket 指派工单，仅 IT_ADMIN；处理人必须是本公司的 IT_ADMIN。
// userID 为空表示取消指派。
func (s *TicketService) AssignTicket(ctx context.Context, sess *auth.Session, id, userID string) (*models.Ticket, error) {
	if err := sess.RequireRole(auth.RoleITAdmin); err != nil {
		return nil, err
	}
	ticket, err := s.findTicket(ctx, sess.TenantID, id)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		user, err := findCompanyUser(ctx, s.db, sess.TenantID, userID)
		if err != nil {
			return nil, err
		}
		if user.Role != auth.RoleITAdmin {
			return nil, invalid("Tickets can only be assigned to IT_ADMIN users")
		}
		ticket.AssignedUserID = &user.ID
	} else {
		ticket.AssignedUserID = nil
	}
	ticket.UpdatedAt = s.now().UTC()
	if err := s.db.WithContext(ctx).Save(ticket).Error; err != nil {
		return nil, storeErr("assign ticket", err)
	}
	return ticket, nil
}

func (s *TicketService) findTicket(ctx context.Context, tenantID, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).Where("id = ? AND company_id = ?", id, tenantID).First(&ticket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, storeErr("get ticket", err)
	}
	return &ticket, nil
}

func isTicketStatus(status string) bool {
	switch status {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// newTicketNumber 生成 TICK-<毫秒时间戳>-<6 位大写 base36>
func newTicketNumber(now time.Time) string {
	const space = 36 * 36 * 36 * 36 * 36 * 36
	suffix := strings.ToUpper(strconv.FormatInt(rand.Int63n(space), 36))
	for len(suffix) < 6 {
		suffix = "0" + suffix
	}
	return fmt.Sprintf("TICK-%d-%s", now.UnixMilli(), suffix)
}
