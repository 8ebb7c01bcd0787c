package services

import (
	"io"
	"testing"
	"time"

	"opsdesk/internal/auth"
	"opsdesk/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// one connection, otherwise every new connection sees an empty :memory: db
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func adminSession(tenant string) *auth.Session {
	return &auth.Session{UserID: "admin-" + tenant, TenantID: tenant, Role: auth.RoleITAdmin}
}

func employeeSession(tenant string) *auth.Session {
	return &auth.Session{UserID: "emp-" + tenant, TenantID: tenant, Role: auth.RoleEmployee}
}

type testEnv struct {
	db         *gorm.DB
	tickets    *TicketService
	assets     *AssetService
	users      *UserService
	automation *AutomationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	log := quietLogger()
	tickets := NewTicketService(db, log)
	assets := NewAssetService(db, log)
	users := NewUserService(db, log)
	automation := NewAutomationService(db, log, tickets, assets)
	assets.SetDispatcher(automation)
	users.SetDispatcher(automation)
	return &testEnv{db: db, tickets: tickets, assets: assets, users: users, automation: automation}
}

// seedRule inserts a rule directly; created_at is offset so ordering is stable.
func seedRule(t *testing.T, db *gorm.DB, rule models.AutomationRule, offset time.Duration) models.AutomationRule {
	t.Helper()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Name == "" {
		rule.Name = "rule-" + rule.ID[:8]
	}
	if rule.ActionConfig == nil {
		rule.ActionConfig = models.Document{}
	}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset)
	rule.CreatedAt, rule.UpdatedAt = ts, ts
	if err := db.Select("*").Create(&rule).Error; err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return rule
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
