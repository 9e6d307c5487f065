package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// newLogoutCmd creates and returns a new logout command
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear stored credentials",
		Long: `Log out of Textport. The server session is revoked on a best-effort
basis and all stored credentials are removed from the configuration file.`,
		RunE: runLogout,
	}
}

// runLogout handles the logout command execution
func runLogout(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	// Best-effort server-side revocation. A dead server must not keep the
	// user logged in locally.
	if cfg.CurrentToken() != "" {
		client := newClient()
		if _, err := client.Post(cmd.Context(), "auth/logout", nil); err != nil {
			log.Debug().Err(err).Msg("session revocation failed")
		}
	}

	cfg.APIKey = ""
	cfg.AccessToken = ""
	cfg.RefreshToken = ""
	cfg.TokenExpiry = ""
	cfg.UserID = ""
	cfg.Email = ""

	if err := cfg.WriteConfig(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	if jsonOutput {
		printJSON(map[string]string{
			"status":  "success",
			"message": "Logged out",
		})
	} else {
		okLabel.Println("✓ Logged out")
	}
	return nil
}
