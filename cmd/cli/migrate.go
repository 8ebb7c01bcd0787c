package cli

import (
	"context"
	"fmt"

	"opsdesk/internal/auth"
	"opsdesk/internal/config"
	"opsdesk/internal/models"
	"opsdesk/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	migrateSeed    bool
	migrateCompany string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if err := config.InitLogger(cfg); err != nil {
			return err
		}
		log := logrus.StandardLogger()

		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}

		log.Info("Starting database migration...")
		if err := db.AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("Database migration completed")

		if !migrateSeed {
			return nil
		}
		if migrateCompany == "" {
			return fmt.Errorf("--company is required with --seed")
		}
		svc := buildServices(db, cfg, log)
		n, err := seedRules(cmd.Context(), svc.Automation, migrateCompany)
		if err != nil {
			return err
		}
		log.Infof("Seeded %d automation rules for company %s", n, migrateCompany)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateSeed, "seed", false, "create the default automation rules")
	migrateCmd.Flags().StringVar(&migrateCompany, "company", "", "company id to seed rules for")
}

// seedRules 默认规则：入职建单、离职回收资产、资产送修建单
func seedRules(ctx context.Context, svc *services.AutomationService, companyID string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sess := &auth.Session{UserID: "system", TenantID: companyID, Role: auth.RoleITAdmin}
	defaults := []services.AutomationRuleRequest{
		{
			Name:         "Onboarding tickets",
			TriggerEvent: services.EventUserCreated,
			Action:       services.ActionCreateTicket,
			ActionConfig: models.Document{
				"title_template":       "Onboarding task {index}",
				"description_template": "Prepare equipment and accounts for new user: {event}",
				"count":                2,
			},
		},
		{
			Name:         "Retire assets on termination",
			TriggerEvent: services.EventEmployeeTerminated,
			Action:       services.ActionUpdateAsset,
			ActionConfig: models.Document{"status": "Retired"},
		},
		{
			Name:         "Repair follow-up",
			TriggerEvent: services.EventAssetStatusChange,
			Action:       services.ActionCreateTicket,
			ActionConfig: models.Document{"title": "Asset sent to repair", "priority": "High"},
			Conditions:   models.Document{"new_status": "Repair"},
		},
	}
	for i := range defaults {
		if _, err := svc.CreateRule(ctx, sess, &defaults[i]); err != nil {
			return i, fmt.Errorf("seed rule %q: %w", defaults[i].Name, err)
		}
	}
	return len(defaults), nil
}
