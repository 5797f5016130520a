// Package cmdutil provides shared utilities for wpfleetctl commands.
package cmdutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"time"

	"github.com/wpfleet/wpfleet/internal/cli/credentials"
	"github.com/wpfleet/wpfleet/internal/cli/output"
	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/pkg/apiclient"
	"github.com/wpfleet/wpfleet/pkg/config"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ServerURL  string
	Token      string
	ConfigPath string
	Output     string
	NoColor    bool
	Verbose    bool
}

// UsageError marks an operator mistake: bad arguments, malformed sizes,
// targets that do not exist. main exits 2 for these instead of 1.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// Usagef builds a UsageError.
func Usagef(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// GetAuthenticatedClient returns an API client configured from the current context.
// It uses the --server and --token flags if provided, otherwise falls back to stored credentials.
// If the access token is expired but a refresh token exists, it will automatically refresh.
func GetAuthenticatedClient(ctx context.Context) (*apiclient.Client, error) {
	if Flags.ServerURL != "" && Flags.Token != "" {
		return apiclient.New(Flags.ServerURL).WithToken(Flags.Token), nil
	}

	store, err := credentials.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}

	cred, err := store.GetCurrentContext()
	if err != nil {
		return nil, fmt.Errorf("not logged in. Run 'wpfleetctl login' first")
	}

	url := cred.ServerURL
	if Flags.ServerURL != "" {
		url = Flags.ServerURL
	}
	if url == "" {
		return nil, fmt.Errorf("no server URL configured. Run 'wpfleetctl login --server <url>' first")
	}

	tok := cred.AccessToken
	if Flags.Token != "" {
		tok = Flags.Token
	}

	if cred.IsExpired() && cred.HasRefreshToken() {
		client := apiclient.New(url)
		newTokens, err := client.RefreshToken(ctx, cred.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("session expired. Run 'wpfleetctl login' to re-authenticate")
		}

		if err := store.UpdateTokens(newTokens.AccessToken, newTokens.RefreshToken, newTokens.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to save refreshed tokens: %w", err)
		}

		tok = newTokens.AccessToken
	}

	if tok == "" {
		return nil, fmt.Errorf("no access token. Run 'wpfleetctl login' first")
	}

	return apiclient.New(url).WithToken(tok), nil
}

// OpenStore opens the master database for the break-glass commands that
// have no HTTP route. Requires running on the master host with read
// access to the master config.
func OpenStore() (*store.Store, *config.MasterConfig, error) {
	cfg, err := config.MustLoadMaster(Flags.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	// Commands run interactively; keep the store's log output quiet
	// unless asked for.
	if !Flags.Verbose {
		_ = logger.Init(logger.Config{Level: "ERROR", Format: "text", Output: "stderr"})
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open master database: %w", err)
	}
	return st, cfg, nil
}

// Operator returns the actor string recorded in the activity log for
// direct-store commands: "cli:<login>".
func Operator() string {
	if sudoer := os.Getenv("SUDO_USER"); sudoer != "" {
		return "cli:" + sudoer
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli:unknown"
}

// LogActivity appends an audit entry for a mutating direct-store
// command. Failures are reported but never abort the command; the
// operation itself already succeeded.
func LogActivity(ctx context.Context, st *store.Store, action, targetType, targetID string, detail map[string]any) {
	entry := &models.ActivityLog{
		Actor:      Operator(),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
	}
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			entry.Detail = string(raw)
		}
	}

	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.AppendActivity(lctx, entry); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record activity log entry: %v\n", err)
	}
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// IsColorDisabled returns whether color output is disabled.
func IsColorDisabled() bool {
	return Flags.NoColor
}

// PrintOutput prints data in the specified format (JSON, YAML, or table).
// For table format, it displays emptyMsg if data is empty, otherwise uses the tableRenderer.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, tableRenderer)
	}
}

// PrintSuccess prints a success message if the output format is table.
func PrintSuccess(msg string) {
	format, err := GetOutputFormatParsed()
	if err != nil || format != output.FormatTable {
		return
	}
	printer := output.NewPrinter(os.Stdout, format, !IsColorDisabled())
	printer.Success(msg)
}

// BoolToYesNo converts a boolean to "yes" or "no" string.
func BoolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// EmptyOr returns the value if not empty, otherwise returns the fallback.
// Useful for table display where empty fields should show "-".
func EmptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
