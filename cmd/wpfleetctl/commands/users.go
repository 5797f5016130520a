package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wpfleet/wpfleet/cmd/wpfleetctl/cmdutil"
	"github.com/wpfleet/wpfleet/internal/cli/output"
	"github.com/wpfleet/wpfleet/internal/cli/prompt"
	"github.com/wpfleet/wpfleet/pkg/models"
)

var listUsersCmd = &cobra.Command{
	Use:   "list-users",
	Short: "List operator accounts",
	Long: `List all operator accounts in the master database.

This command reads the master database directly and must run on the
master host.

Examples:
  wpfleetctl list-users
  wpfleetctl list-users --output json`,
	Args: cobra.NoArgs,
	RunE: runListUsers,
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password <email>",
	Short: "Reset an operator's password",
	Long: `Reset an operator account's password.

This is the break-glass recovery path when an operator is locked out;
it writes the master database directly and must run on the master host.
The new password is prompted for interactively.

Examples:
  wpfleetctl reset-password admin@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runResetPassword,
}

var disableMFACmd = &cobra.Command{
	Use:   "disable-mfa <email>",
	Short: "Disable MFA for an operator",
	Long: `Disable multi-factor authentication for an operator account.

Use this when an operator lost their authenticator. It writes the
master database directly and must run on the master host. The operator
can re-enroll MFA after logging in.

Examples:
  wpfleetctl disable-mfa admin@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runDisableMFA,
}

func runListUsers(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, _, err := cmdutil.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	table := output.NewTableData("ID", "EMAIL", "ROLE", "MFA", "ACTIVE", "LAST LOGIN")
	for _, u := range users {
		lastLogin := "-"
		if u.LastLogin != nil {
			lastLogin = u.LastLogin.Local().Format(time.RFC3339)
		}
		table.AddRow(
			strconv.FormatUint(uint64(u.ID), 10),
			u.Email,
			string(u.Role),
			cmdutil.BoolToYesNo(u.MFAEnabled),
			cmdutil.BoolToYesNo(u.IsActive),
			lastLogin,
		)
	}

	return cmdutil.PrintOutput(os.Stdout, users, len(users) == 0, "No users found.", table)
}

func runResetPassword(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	email := args[0]

	st, _, err := cmdutil.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if _, err := st.GetUser(ctx, email); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return cmdutil.Usagef("no user with email %q", email)
		}
		return err
	}

	password, err := prompt.PasswordWithConfirmation("New password", "Confirm password", 8)
	if err != nil {
		return handleAbort(err)
	}

	hash, err := models.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := st.UpdatePassword(ctx, email, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	cmdutil.LogActivity(ctx, st, "user.password_reset", "user", email, nil)
	cmdutil.PrintSuccess(fmt.Sprintf("Password for %s reset successfully", email))
	return nil
}

func runDisableMFA(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	email := args[0]

	st, _, err := cmdutil.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.DisableMFA(ctx, email); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return cmdutil.Usagef("no user with email %q", email)
		}
		return fmt.Errorf("failed to disable MFA: %w", err)
	}

	cmdutil.LogActivity(ctx, st, "user.mfa_disabled", "user", email, nil)
	cmdutil.PrintSuccess(fmt.Sprintf("MFA disabled for %s", email))
	return nil
}
