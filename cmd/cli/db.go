package cli

import (
	"fmt"

	"opsdesk/internal/config"
	"opsdesk/internal/services"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// postgresDSN 由配置构建 Postgres DSN
func postgresDSN(db config.DatabaseConfig) string {
	sslmode := db.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		db.Host, db.User, db.Password, db.Name, db.Port, sslmode,
	)
}

// openDatabase 连接数据库并设置连接池；启用追踪时挂载 gorm otel 插件
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.Log.Level == "debug" {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(postgresDSN(cfg.Database)), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("gorm tracing plugin: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	return db, nil
}

// appServices 组装业务服务与自动化引擎
type appServices struct {
	Tickets    *services.TicketService
	Assets     *services.AssetService
	Users      *services.UserService
	Automation *services.AutomationService
}

func buildServices(db *gorm.DB, cfg *config.Config, log *logrus.Logger) *appServices {
	tickets := services.NewTicketService(db, log)
	tickets.SetDefaults(cfg.Automation.DefaultTicketPriority, cfg.Automation.SLATargetMinutes)
	assets := services.NewAssetService(db, log)
	users := services.NewUserService(db, log)

	automation := services.NewAutomationService(db, log, tickets, assets)
	automation.SetDefaultLogLimit(cfg.Automation.DefaultLogLimit)

	if cfg.Automation.TriggerOnAssetStatus {
		assets.SetDispatcher(automation)
	}
	if cfg.Automation.TriggerOnUserCreated {
		users.SetDispatcher(automation)
	}
	return &appServices{Tickets: tickets, Assets: assets, Users: users, Automation: automation}
}
