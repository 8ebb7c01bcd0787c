package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsdesk/internal/auth"
	"opsdesk/internal/metrics"
	"opsdesk/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Trigger events raised by other subsystems.
const (
	EventUserCreated         = "USER_CREATED"
	EventEmployeeTerminated  = "EMPLOYEE_TERMINATED"
	EventAssetStatusChange   = "ASSET_STATUS_CHANGE"
	defaultAutomationLogSize = 50
)

var tracer trace.Tracer = otel.Tracer("opsdesk/internal/services")

// EventDispatcher runs the automation rules of a tenant for one event.
// Subsystems that raise events depend on this rather than on AutomationService.
type EventDispatcher interface {
	Execute(ctx context.Context, sess *auth.Session, event string, payload models.Document) (*DispatchResult, error)
}

// RuleStore is the read contract the dispatcher needs from rule storage.
type RuleStore interface {
	// ListActive returns the active rules of tenantID whose trigger event
	// equals event exactly. An empty slice is not an error.
	ListActive(ctx context.Context, tenantID, event string) ([]models.AutomationRule, error)
}

type gormRuleStore struct {
	db *gorm.DB
}

func (s *gormRuleStore) ListActive(ctx context.Context, tenantID, event string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND trigger_event = ? AND is_active = ?", tenantID, event, true).
		Order("created_at ASC").
		Find(&rules).Error
	if err != nil {
		return nil, storeErr("list automation rules", err)
	}
	return rules, nil
}

// RuleResult is the outcome of one rule within a dispatch.
type RuleResult struct {
	RuleID   string        `json:"rule_id"`
	RuleName string        `json:"rule_name"`
	Status   string        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Result   *ActionResult `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// DispatchResult aggregates a dispatch. Executed+Skipped+Failed always
// equals len(Results), which equals the number of rules the store returned.
type DispatchResult struct {
	Success  bool         `json:"success"`
	Executed int          `json:"executed"`
	Skipped  int          `json:"skipped"`
	Failed   int          `json:"failed"`
	Message  string       `json:"message,omitempty"`
	Results  []RuleResult `json:"results"`
}

// AutomationService is the IT automation engine: rule store access,
// condition matching, action execution and the execution log.
//
// A dispatch runs rules one after another on the caller's goroutine. The
// rule read, the action side effect and the log write are independent
// writes with no enclosing transaction: an action may be performed without
// a log row if the process dies in between, and a log row may outlive its
// rule. Delivery is at-least-attempted, not exactly-once.
type AutomationService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	rules    RuleStore
	registry *ActionRegistry
	execLog  *ExecutionLogger
	logLimit int
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger, tickets TicketCreator, assets AssetUpdater) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	registry := NewActionRegistry()
	registerBuiltinActions(registry, tickets, assets)
	return &AutomationService{
		db:       db,
		logger:   logger,
		rules:    &gormRuleStore{db: db},
		registry: registry,
		execLog:  NewExecutionLogger(&gormExecutionLogStore{db: db}, logger),
		logLimit: defaultAutomationLogSize,
	}
}

// SetRuleStore replaces the rule source used by Execute.
func (s *AutomationService) SetRuleStore(store RuleStore) {
	s.rules = store
}

// SetExecutionLogStore replaces where execution rows are appended.
func (s *AutomationService) SetExecutionLogStore(store ExecutionLogStore) {
	s.execLog = NewExecutionLogger(store, s.logger)
}

// SetDefaultLogLimit sets the page size ListLogs uses when none is given.
func (s *AutomationService) SetDefaultLogLimit(n int) {
	if n > 0 {
		s.logLimit = n
	}
}

// Registry exposes the action registry so callers can add actions.
func (s *AutomationService) Registry() *ActionRegistry {
	return s.registry
}

// Execute dispatches event for the session's company.
//
// It returns an error only when the caller is not authenticated, the
// session has no company, or the rules cannot be loaded. Once rules are
// loaded every per-rule failure is absorbed into the result.
func (s *AutomationService) Execute(ctx context.Context, sess *auth.Session, event string, payload models.Document) (*DispatchResult, error) {
	ctx, span := tracer.Start(ctx, "automation.dispatch", trace.WithAttributes(attribute.String("automation.event", event)))
	defer span.End()

	if err := sess.Validate(); err != nil {
		metrics.IncDispatch(dispatchOutcome(err))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("automation.company_id", sess.TenantID))

	rules, err := s.rules.ListActive(ctx, sess.TenantID, event)
	if err != nil {
		metrics.IncDispatch("store_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "load rules")
		s.logger.WithFields(logrus.Fields{"company_id": sess.TenantID, "event": event}).
			Errorf("automation: load rules failed: %v", err)
		var se *StoreError
		if !errors.As(err, &se) {
			err = storeErr("list automation rules", err)
		}
		return nil, err
	}
	metrics.IncDispatch("ok")

	if len(rules) == 0 {
		return &DispatchResult{
			Success: true,
			Message: "No automation rules found for this event",
			Results: []RuleResult{},
		}, nil
	}

	out := &DispatchResult{Success: true, Results: make([]RuleResult, 0, len(rules))}
	for i := range rules {
		res := s.runRule(ctx, sess, &rules[i], event, payload)
		switch res.Status {
		case models.ExecutionSuccess:
			out.Executed++
		case models.ExecutionSkipped:
			out.Skipped++
		default:
			out.Failed++
		}
		metrics.IncRuleOutcome(res.Status)
		out.Results = append(out.Results, res)
	}

	span.SetAttributes(
		attribute.Int("automation.executed", out.Executed),
		attribute.Int("automation.skipped", out.Skipped),
		attribute.Int("automation.failed", out.Failed),
	)
	s.logger.WithFields(logrus.Fields{
		"company_id": sess.TenantID,
		"event":      event,
		"executed":   out.Executed,
		"skipped":    out.Skipped,
		"failed":     out.Failed,
	}).Info("automation: dispatch finished")
	return out, nil
}

// runRule evaluates and executes one rule. Panics from handlers are
// contained here so the remaining rules still run.
func (s *AutomationService) runRule(ctx context.Context, sess *auth.Session, rule *models.AutomationRule, event string, payload models.Document) (res RuleResult) {
	ctx, span := tracer.Start(ctx, "automation.rule", trace.WithAttributes(
		attribute.String("automation.rule_id", rule.ID),
		attribute.String("automation.action", rule.Action),
	))
	defer span.End()

	rec := ExecutionRecord{
		TenantID: sess.TenantID,
		RuleID:   rule.ID,
		Event:    event,
		Action:   rule.Action,
		Payload:  payload,
	}
	res = RuleResult{RuleID: rule.ID, RuleName: rule.Name}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			s.logger.WithFields(logrus.Fields{"rule_id": rule.ID, "company_id": sess.TenantID}).
				Errorf("automation: rule panicked: %s", msg)
			span.SetStatus(codes.Error, msg)
			rec.Status, rec.Result, rec.Error = models.ExecutionFailed, nil, msg
			s.execLog.Record(ctx, rec)
			res = RuleResult{RuleID: rule.ID, RuleName: rule.Name, Status: models.ExecutionFailed, Error: msg}
		}
	}()

	if !MatchConditions(rule.Conditions, payload) {
		rec.Status = models.ExecutionSkipped
		s.execLog.Record(ctx, rec)
		res.Status = models.ExecutionSkipped
		res.Reason = "Conditions not met"
		return res
	}

	result, err := s.registry.Execute(ctx, sess, rule.Action, rule.ActionConfig, payload, event)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"rule_id": rule.ID, "company_id": sess.TenantID}).
			Warnf("automation: rule %s failed: %v", rule.Name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rec.Status, rec.Error = models.ExecutionFailed, err.Error()
		s.execLog.Record(ctx, rec)
		res.Status = models.ExecutionFailed
		res.Error = err.Error()
		return res
	}

	rec.Result = result.Document()
	rec.Error = result.Error
	if result.Success {
		rec.Status = models.ExecutionSuccess
	} else {
		rec.Status = models.ExecutionFailed
		span.SetStatus(codes.Error, result.Error)
	}
	s.execLog.Record(ctx, rec)

	res.Status = rec.Status
	res.Result = &result
	return res
}

func dispatchOutcome(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, auth.ErrTenantMissing):
		return "tenant_missing"
	default:
		return "error"
	}
}

// AutomationRuleRequest creates a rule.
type AutomationRuleRequest struct {
	Name         string          `json:"name"`
	Description  *string         `json:"description"`
	TriggerEvent string          `json:"trigger_event"`
	Action       string          `json:"action"`
	ActionConfig models.Document `json:"action_config"`
	Conditions   models.Document `json:"conditions"`
	IsActive     *bool           `json:"is_active"`
}

// AutomationRuleUpdate changes selected fields of a rule. ClearConditions
// turns the rule back into an unconditional one.
type AutomationRuleUpdate struct {
	Name            *string          `json:"name"`
	Description     *string          `json:"description"`
	TriggerEvent    *string          `json:"trigger_event"`
	Action          *string          `json:"action"`
	ActionConfig    *models.Document `json:"action_config"`
	Conditions      *models.Document `json:"conditions"`
	ClearConditions bool             `json:"clear_conditions"`
	IsActive        *bool            `json:"is_active"`
}

// AutomationLogView is a log row with the rule name resolved when the rule still exists.
type AutomationLogView struct {
	models.AutomationLog
	RuleName string `json:"rule_name,omitempty"`
}

// CreateRule 新建自动化规则（仅 IT_ADMIN）
func (s *AutomationService) CreateRule(ctx context.Context, sess *auth.Session, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if err := sess.RequireRole(auth.RoleITAdmin); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, invalid("request required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || req.TriggerEvent == "" || req.Action == "" {
		return nil, invalid("Name, trigger event, and action are required")
	}
	if _, err := DecodeActionConfig(req.Action, req.ActionConfig); err != nil {
		return nil, invalid("%v", err)
	}

	cfg := req.ActionConfig
	if cfg == nil {
		cfg = models.Document{}
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	now := time.Now().UTC()
	rule := &models.AutomationRule{
		ID:              uuid.NewString(),
		CompanyID:       sess.TenantID,
		Name:            name,
		Description:     req.Description,
		TriggerEvent:    req.TriggerEvent,
		Action:          req.Action,
		ActionConfig:    cfg,
		Conditions:      req.Conditions,
		IsActive:        active,
		CreatedByUserID: sess.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// Select("*") so an explicit is_active=false is written as-is
	if err := s.db.WithContext(ctx).Select("*").Create(rule).Error; err != nil {
		return nil, storeErr("create automation rule", err)
	}
	return rule, nil
}

// ListRules 返回本公司所有规则，最新在前
func (s *AutomationService) ListRules(ctx context.Context, sess *auth.Session) ([]models.AutomationRule, error) {
	if err := sess.RequireRole(auth.RoleITAdmin); err != nil {
		return nil, err
	}
	var rules []models.AutomationRule
	if err := s.db.WithContext(ctx).
		Where("company_id = ?", sess.TenantID).
		Order("created_at DESC").
		Find(&rules).Error; err != nil {
		return nil, storeErr("list automation rules", err)
	}
	return rules, nil
}

// UpdateRule 更新规则；先校验规则属于当前公司
func (s *AutomationService) UpdateRule(ctx context.Context, sess *auth.Session, id string, req *AutomationRuleUpdate) (*models.AutomationRule, error) {
	if err := sess.RequireRole(auth.RoleITAdmin); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, invalid("request required")
	}

	rule, err := s.findRule(ctx, sess.TenantID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, invalid("name cannot be empty")
		}
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		rule.Description = req.Description
	}
	if req.TriggerEvent != nil {
		if *req.TriggerEvent == "" {
			return nil, invalid("trigger event cannot be empty")
		}
		rule.TriggerEvent = *req.TriggerEvent
	}
	if req.Action != nil {
		if *req.Action == "" {
			return nil, invalid("action cannot be empty")
		}
		rule.Action = *req.Action
	}
	if req.ActionConfig != nil {
		rule.ActionConfig = *req.ActionConfig
	}
	if req.ClearConditions {
		rule.Conditions = nil
	} else if req.Conditions != nil {
		rule.Conditions = *req.Conditions
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if _, err := DecodeActionConfig(rule.Action, rule.ActionConfig); err != nil {
		return nil, invalid("%v", err)
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := s.db.WithContext(ctx).
		Where("company_id = ?", sess.TenantID).
		Save(rule).Error; err != nil {
		return nil, storeErr("update automation rule", err)
	}
	return rule, nil
}

// DeleteRule 删除规则（租户隔离）
func (s *AutomationService) DeleteRule(ctx context.Context, sess *auth.Session, id string) error {
	if err := sess.RequireRole(auth.RoleITAdmin); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Where("id = ? AND company_id = ?", id, sess.TenantID).
		Delete(&models.AutomationRule{})
	if result.Error != nil {
		return storeErr("delete automation rule", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// ListLogs 返回本公司最近的执行记录
func (s *AutomationService) ListLogs(ctx context.Context, sess *auth.Session, limit int) ([]AutomationLogView, error) {
	if err := sess.RequireRole(auth.RoleITAdmin); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.logLimit
	}

	var logs []models.AutomationLog
	if err := s.db.WithContext(ctx).
		Where("company_id = ?", sess.TenantID).
		Order("executed_at DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, storeErr("list automation logs", err)
	}

	ids := make([]string, 0, len(logs))
	for _, l := range logs {
		if l.RuleID != nil {
			ids = append(ids, *l.RuleID)
		}
	}
	names := map[string]string{}
	if len(ids) > 0 {
		var rules []models.AutomationRule
		if err := s.db.WithContext(ctx).
			Select("id", "name").
			Where("company_id = ? AND id IN ?", sess.TenantID, ids).
			Find(&rules).Error; err != nil {
			return nil, storeErr("resolve automation rule names", err)
		}
		for _, r := range rules {
			names[r.ID] = r.Name
		}
	}

	out := make([]AutomationLogView, 0, len(logs))
	for _, l := range logs {
		v := AutomationLogView{AutomationLog: l}
		if l.RuleID != nil {
			v.RuleName = names[*l.RuleID]
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *AutomationService) findRule(ctx context.Context, tenantID, id string) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("id = ? AND company_id = ?", id, tenantID).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, storeErr("load automation rule", err)
	}
	return &rule, nil
}
