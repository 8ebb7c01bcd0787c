package cli

import (
	"fmt"
	"strings"
	"time"

	"opsdesk/internal/auth"
	"opsdesk/internal/config"

	"github.com/spf13/cobra"
)

var (
	flagUserID  string
	flagCompany string
	flagRole    string
	flagPerms   string
	flagTTLMin  int
)

// tokenCmd generates an access token for testing/admin usage.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a JWT (HS256) for API authentication",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		jc := cfg.JWT
		if flagTTLMin > 0 {
			jc.ExpiresIn = time.Duration(flagTTLMin) * time.Minute
		}
		m, err := auth.NewManager(jc)
		if err != nil {
			return err
		}
		if !auth.IsKnownRole(flagRole) {
			return fmt.Errorf("unknown role %q", flagRole)
		}
		tok, err := m.Issue(time.Now(), auth.Session{
			UserID:      flagUserID,
			TenantID:    flagCompany,
			Role:        flagRole,
			Permissions: splitList(flagPerms),
		})
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&flagUserID, "user-id", "admin", "user id to embed in token")
	tokenCmd.Flags().StringVar(&flagCompany, "company", "", "company id to embed in token")
	tokenCmd.Flags().StringVar(&flagRole, "role", auth.RoleITAdmin, "role (IT_ADMIN, HR_USER, FINANCE_MANAGER, EMPLOYEE)")
	tokenCmd.Flags().StringVar(&flagPerms, "perms", "", "comma-separated extra permissions")
	tokenCmd.Flags().IntVar(&flagTTLMin, "ttl", 0, "token time-to-live in minutes (default from jwt.expires_in)")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
