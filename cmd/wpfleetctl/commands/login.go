package commands

import (
	"context"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/wpfleet/wpfleet/internal/cli/credentials"
	"github.com/wpfleet/wpfleet/internal/cli/prompt"
	"github.com/wpfleet/wpfleet/pkg/apiclient"
)

var (
	loginServer   string
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with a wpfleet master",
	Long: `Authenticate with a wpfleet master and store credentials.

On first login, you must specify the master URL. Subsequent logins will
use the stored URL unless overridden. Accounts with MFA enabled are
prompted for their TOTP code.

Examples:
  # First login to a master
  wpfleetctl login --server https://backup.example.com --email admin@example.com

  # Re-login to stored master
  wpfleetctl login`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginServer, "server", "", "Master URL (required on first login)")
	loginCmd.Flags().StringVarP(&loginEmail, "email", "u", "", "Email address")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	// Determine server URL
	serverURLStr := loginServer
	if serverURLStr == "" {
		cred, err := store.GetCurrentContext()
		if err != nil || cred == nil || cred.ServerURL == "" {
			return fmt.Errorf("no server URL specified and no saved context found\n\n" +
				"Specify the master URL:\n" +
				"  wpfleetctl login --server https://backup.example.com")
		}
		serverURLStr = cred.ServerURL
	}

	parsedURL, err := url.Parse(serverURLStr)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if parsedURL.Scheme == "" {
		parsedURL.Scheme = "http"
		serverURLStr = parsedURL.String()
	}

	// Get email (prompt if not provided)
	email := loginEmail
	if email == "" {
		email, err = prompt.InputRequired("Email")
		if err != nil {
			return handleAbort(err)
		}
	}

	// Get password (prompt if not provided)
	password := loginPassword
	if password == "" {
		password, err = prompt.Password("Password")
		if err != nil {
			return handleAbort(err)
		}
	}

	client := apiclient.New(serverURLStr)

	fmt.Printf("Logging in to %s as %s...\n", serverURLStr, email)
	tokens, err := client.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	// Second factor when the account has MFA enabled
	if tokens.MFAPending() {
		code, err := prompt.InputRequired("TOTP code")
		if err != nil {
			return handleAbort(err)
		}
		tokens, err = client.VerifyMFA(ctx, tokens.MFAToken, code)
		if err != nil {
			return fmt.Errorf("MFA verification failed: %w", err)
		}
	}

	// Determine context name
	contextName := store.GetCurrentContextName()
	if contextName == "" {
		contextName = credentials.GenerateContextName(serverURLStr)
	}

	cred := &credentials.Context{
		ServerURL:    serverURLStr,
		Username:     email,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}

	if err := store.SetContext(contextName, cred); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	if err := store.UseContext(contextName); err != nil {
		return fmt.Errorf("failed to set current context: %w", err)
	}

	fmt.Printf("Logged in successfully as %s\n", email)
	fmt.Printf("Context: %s\n", contextName)
	fmt.Printf("Credentials saved to: %s\n", store.ConfigPath())

	return nil
}

// handleAbort turns a Ctrl+C during a prompt into a quiet exit.
func handleAbort(err error) error {
	if prompt.IsAborted(err) {
		fmt.Println("\nAborted.")
		return nil
	}
	return err
}
