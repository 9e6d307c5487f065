package cli

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
)

// apiKey is the API representation of an API key. The secret is only
// present in the create response.
type apiKey struct {
	ID        string `mapstructure:"id" json:"id"`
	Name      string `mapstructure:"name" json:"name"`
	Prefix    string `mapstructure:"prefix" json:"prefix,omitempty"`
	Secret    string `mapstructure:"secret" json:"secret,omitempty"`
	CreatedAt string `mapstructure:"created_at" json:"created_at,omitempty"`
}

// apikeysCmd groups the API key subcommands
var apikeysCmd = &cobra.Command{
	Use:   "apikeys",
	Short: "Manage API keys",
	Long: `Manage API keys.

Examples:
  # Create a key for CI
  textport apikeys create --name ci

  # List keys
  textport apikeys list

  # Revoke a key
  textport apikeys revoke key_abc123`,
}

// newAPIKeysCreateCmd creates the apikeys create command
func newAPIKeysCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("no name provided. Use --name")
			}

			client := newClient()
			out, err := client.Post(cmd.Context(), "api_keys", map[string]any{"name": name})
			if err != nil {
				return err
			}

			var key apiKey
			if err := mapstructure.WeakDecode(out, &key); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			if jsonOutput {
				printJSON(key)
				return nil
			}
			okLabel.Printf("✓ Created API key %s\n", key.ID)
			if key.Secret != "" {
				fmt.Printf("Secret: %s\n", key.Secret)
				fmt.Println("Store this secret now. It will not be shown again.")
			}
			return nil
		},
	}
	cmd.Flags().String("name", "", "Display name for the key (required)")
	return cmd
}

// newAPIKeysListCmd creates the apikeys list command
func newAPIKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			out, err := client.Get(cmd.Context(), "api_keys", nil)
			if err != nil {
				return err
			}

			var wrapper struct {
				Data []apiKey `mapstructure:"data"`
			}
			if err := mapstructure.WeakDecode(out, &wrapper); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			if jsonOutput {
				printJSON(wrapper.Data)
				return nil
			}
			if len(wrapper.Data) == 0 {
				fmt.Println("No API keys")
				return nil
			}
			for _, k := range wrapper.Data {
				fmt.Printf("%s  %-20s  %s\n", k.ID, k.Name, k.Prefix)
			}
			return nil
		},
	}
}

// newAPIKeysRevokeCmd creates the apikeys revoke command
func newAPIKeysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.Delete(cmd.Context(), "api_keys/"+args[0]); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]string{"status": "success", "revoked": args[0]})
			} else {
				okLabel.Printf("✓ Revoked API key %s\n", args[0])
			}
			return nil
		},
	}
}

func init() {
	apikeysCmd.AddCommand(newAPIKeysCreateCmd())
	apikeysCmd.AddCommand(newAPIKeysListCmd())
	apikeysCmd.AddCommand(newAPIKeysRevokeCmd())
	rootCmd.AddCommand(apikeysCmd)
}
