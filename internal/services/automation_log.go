package services

import (
	"context"
	"time"

	"opsdesk/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ExecutionLogStore appends execution log rows. It has no update or delete.
type ExecutionLogStore interface {
	Append(ctx context.Context, entry *models.AutomationLog) error
}

type gormExecutionLogStore struct {
	db *gorm.DB
}

func (s *gormExecutionLogStore) Append(ctx context.Context, entry *models.AutomationLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// ExecutionLogger records one audit row per evaluated rule. Recording is
// best-effort: a failed write is logged and never reaches the dispatcher.
type ExecutionLogger struct {
	store  ExecutionLogStore
	logger *logrus.Logger
	now    func() time.Time
}

func NewExecutionLogger(store ExecutionLogStore, logger *logrus.Logger) *ExecutionLogger {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExecutionLogger{store: store, logger: logger, now: time.Now}
}

// ExecutionRecord is the input to ExecutionLogger.Record.
type ExecutionRecord struct {
	TenantID string
	RuleID   string
	Event    string
	Action   string
	Status   string
	Result   models.Document
	Error    string
	Payload  models.Document
}

func (l *ExecutionLogger) Record(ctx context.Context, rec ExecutionRecord) {
	if l == nil || l.store == nil {
		return
	}
	entry := &models.AutomationLog{
		ID:              uuid.NewString(),
		CompanyID:       rec.TenantID,
		TriggerEvent:    rec.Event,
		Action:          rec.Action,
		ExecutionStatus: rec.Status,
		ExecutionResult: rec.Result,
		TriggeredByData: rec.Payload,
		ExecutedAt:      l.now().UTC(),
	}
	if rec.RuleID != "" {
		ruleID := rec.RuleID
		entry.RuleID = &ruleID
	}
	if rec.Error != "" {
		msg := rec.Error
		entry.ErrorMessage = &msg
	}
	if err := l.store.Append(ctx, entry); err != nil {
		l.logger.WithFields(logrus.Fields{
			"company_id": rec.TenantID,
			"rule_id":    rec.RuleID,
			"status":     rec.Status,
		}).Warnf("automation: record execution failed: %v", err)
	}
}
