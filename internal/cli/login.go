package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/textport/textport/internal/common/httpclient"
)

// loginResponse represents the response from the login endpoint
type loginResponse struct {
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`
	ExpiresIn    int64  `mapstructure:"expires_in"`
	UserID       string `mapstructure:"user_id"`
	Email        string `mapstructure:"email"`
}

// newLoginCmd creates and returns a new login command
func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the Textport API",
		Long: `Login to Textport and store session credentials in your configuration file.

You can authenticate two ways:
- With your account email and password (a session token pair is stored and
  refreshed automatically)
- With an API key via --api-key (the key is stored and used for all requests)

Example:
  textport login --email dev@example.com
  textport login --api-key sk_test_abc123`,
		RunE: runLogin,
	}

	cmd.Flags().String("email", "", "Account email address")
	cmd.Flags().String("password", "", "Account password (prompted when omitted)")
	cmd.Flags().String("api-key", "", "Store an API key instead of logging in with credentials")
	return cmd
}

// runLogin handles the login command execution
func runLogin(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey != "" {
		return storeAPIKey(cfg, apiKey)
	}

	email, _ := cmd.Flags().GetString("email")
	if email == "" {
		return fmt.Errorf("no email provided. Use --email or --api-key")
	}

	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		var err error
		password, err = promptPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
	}

	client := newClient()
	out, err := client.Request(cmd.Context(), "POST", "auth/login", &httpclient.RequestOptions{
		Body: map[string]any{
			"email":    email,
			"password": password,
		},
		NoAuth: true,
	})
	if err != nil {
		return err
	}

	var loginResp loginResponse
	if err := mapstructure.WeakDecode(out, &loginResp); err != nil {
		return fmt.Errorf("failed to parse login response: %w", err)
	}
	if loginResp.AccessToken == "" {
		return fmt.Errorf("login response did not include a session token")
	}

	// Replace any stored API key; the session pair is now the credential.
	cfg.APIKey = ""
	if err := cfg.SaveTokens(loginResp.AccessToken, loginResp.RefreshToken, loginResp.ExpiresIn, loginResp.UserID, loginResp.Email); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	if jsonOutput {
		kv := map[string]interface{}{
			"status":  "success",
			"message": "Login successful",
			"email":   loginResp.Email,
		}
		if loginResp.ExpiresIn > 0 {
			kv["expires_at"] = time.Now().Add(time.Duration(loginResp.ExpiresIn) * time.Second).Format(time.RFC3339)
		}
		printJSON(kv)
	} else {
		okLabel.Println("✓ Login successful")
		if loginResp.Email != "" {
			fmt.Printf("Logged in as: %s\n", loginResp.Email)
		}
	}

	return nil
}

// storeAPIKey persists an API key as the active credential, clearing any
// session token pair.
func storeAPIKey(cfg *Config, apiKey string) error {
	cfg.APIKey = apiKey
	cfg.AccessToken = ""
	cfg.RefreshToken = ""
	cfg.TokenExpiry = ""

	if err := cfg.WriteConfig(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	if jsonOutput {
		printJSON(map[string]string{
			"status":      "success",
			"message":     "API key stored",
			"environment": cfg.Environment(),
		})
	} else {
		okLabel.Println("✓ API key stored")
		if env := cfg.Environment(); env != "" {
			fmt.Printf("Environment: %s\n", env)
		}
	}
	return nil
}

// promptPassword reads a password without echo when stdin is a terminal,
// and falls back to a plain line read when it is not (pipes, CI).
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	if term.IsTerminal(int(syscall.Stdin)) {
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
