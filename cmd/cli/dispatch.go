package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"opsdesk/internal/auth"
	"opsdesk/internal/config"
	"opsdesk/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	dispatchCompany string
	dispatchUser    string
	dispatchRole    string
	dispatchEvent   string
	dispatchPayload string
)

// dispatchCmd fires one event for a company and prints the dispatch result.
var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Dispatch an automation event for a company",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := parsePayload(dispatchPayload)
		if err != nil {
			return err
		}

		cfg := config.Load()
		if err := config.InitLogger(cfg); err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		svc := buildServices(db, cfg, logrus.StandardLogger())

		sess := &auth.Session{UserID: dispatchUser, TenantID: dispatchCompany, Role: dispatchRole}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		res, err := svc.Automation.Execute(auth.WithSession(ctx, sess), sess, dispatchEvent, payload)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	dispatchCmd.Flags().StringVar(&dispatchCompany, "company", "", "company id")
	dispatchCmd.Flags().StringVar(&dispatchUser, "user", "system", "acting user id")
	dispatchCmd.Flags().StringVar(&dispatchRole, "role", auth.RoleITAdmin, "acting user role")
	dispatchCmd.Flags().StringVar(&dispatchEvent, "event", "", "trigger event, e.g. USER_CREATED")
	dispatchCmd.Flags().StringVar(&dispatchPayload, "payload", "{}", "event payload as a JSON object")
	_ = dispatchCmd.MarkFlagRequired("company")
	_ = dispatchCmd.MarkFlagRequired("event")
}

func parsePayload(s string) (models.Document, error) {
	if s == "" {
		return models.Document{}, nil
	}
	var doc models.Document
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("invalid --payload: %w", err)
	}
	if doc == nil {
		doc = models.Document{}
	}
	return doc, nil
}
