package cli

import (
	"fmt"
	"strings"
	"time"

	"techentry-bot/internal/auth"
	"techentry-bot/internal/config"
	"techentry-bot/internal/rbac"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an ops bearer token",
	Long:  "Signs a JWT with JWT_SECRET. The token is the only thing written to stdout.",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().String("operator", "", "Operator id (token subject)")
	tokenCmd.Flags().String("role", rbac.RoleOperator, "Role: admin, operator or viewer")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default JWT_ACCESS_TTL)")
}

func runToken(cmd *cobra.Command, args []string) error {
	operator, _ := cmd.Flags().GetString("operator")
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	operator = strings.TrimSpace(operator)
	if operator == "" {
		return fmt.Errorf("--operator is required")
	}
	if !rbac.IsKnown(role) {
		return fmt.Errorf("unknown role %q", role)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}
	tok, err := m.Issue(time.Now(), operator, role, ttl)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.ErrOrStderr(), color.GreenString("issued %s token for %s", role, operator))
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
