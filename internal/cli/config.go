package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/textport/textport/internal/common/httpclient"
)

// DefaultConfigFile is the default name of the config file
const DefaultConfigFile = "config.yaml"

// DefaultAPIURL is used when neither the environment nor the config file
// names an API endpoint.
const DefaultAPIURL = "https://api.textport.com/v1"

// Environment variables overriding stored configuration. The environment
// always wins over the config file so CI and scripts never need a config
// file at all.
const (
	EnvAPIURL      = "TEXTPORT_API_URL"
	EnvAPIKey      = "TEXTPORT_API_KEY"
	EnvAccessToken = "TEXTPORT_ACCESS_TOKEN"
	EnvOrg         = "TEXTPORT_ORG"
)

// Config is the credential store for the Textport CLI. It holds either an
// API key or a session token pair, plus connection details. It implements
// httpclient.CredentialStore with environment-variable overrides resolved
// in the getters.
type Config struct {
	// Version of the configuration file format
	Version string `yaml:"version"`
	// APIURL is the base URL of the Textport API
	APIURL string `yaml:"api_url"`
	// APIKey is a long-lived credential; prefix sk_test_/sk_live_ selects the environment
	APIKey string `yaml:"api_key,omitempty"`
	// AccessToken is the session token issued by login
	AccessToken string `yaml:"access_token,omitempty"`
	// RefreshToken renews the session token
	RefreshToken string `yaml:"refresh_token,omitempty"`
	// TokenExpiry is when the access token expires (RFC3339)
	TokenExpiry string `yaml:"token_expiry,omitempty"`
	// UserID is the authenticated user, informational only
	UserID string `yaml:"user_id,omitempty"`
	// Email is the authenticated user's address, informational only
	Email string `yaml:"email,omitempty"`
	// Org is the active organization scope
	Org string `yaml:"org,omitempty"`

	path string // where this config was loaded from
}

var config *Config

// Compile-time check that the CLI config satisfies the client's store contract.
var _ httpclient.CredentialStore = &Config{}

// GetDefaultConfigPath returns the default path for the config file
// (e.g. ~/.config/textport/config.yaml on Linux).
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "textport", DefaultConfigFile), nil
}

// LoadConfig loads the configuration from the specified file. A missing
// file is not an error: environment variables can supply everything, and
// login creates the file on first use.
func LoadConfig(file string) error {
	if file == "" {
		var err error
		file, err = GetDefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get default config path: %w", err)
		}
	}

	c := Config{path: file}
	yamlStr, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			config = &c
			return nil
		}
		return fmt.Errorf("unable to read config file: %w", err)
	}
	if err = yaml.Unmarshal(yamlStr, &c); err != nil {
		return fmt.Errorf("unable to parse config file: %w", err)
	}
	c.path = file

	config = &c
	return nil
}

// GetConfig returns the current configuration
func GetConfig() *Config {
	return config
}

// WriteConfig writes the configuration to its backing file with owner-only
// permissions, since it holds credentials.
func (cfg *Config) WriteConfig() error {
	if cfg.path == "" {
		return errors.New("config has no backing file")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.path), os.ModePerm); err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}

	yamlStr, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("unable to generate configuration: %w", err)
	}
	if err := os.WriteFile(cfg.path, yamlStr, os.FileMode(0600)); err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}
	return nil
}

// morphServer normalizes a server URL: https:// is assumed when no scheme
// is given and trailing slashes are dropped.
func morphServer(server string) string {
	if server == "" {
		return server
	}
	server = strings.TrimRight(server, "/")
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "https://" + server
	}
	return server
}

// BaseURL returns the effective API base URL: environment, then config
// file, then the production default.
func (cfg *Config) BaseURL() string {
	if v := os.Getenv(EnvAPIURL); v != "" {
		return morphServer(v)
	}
	if cfg.APIURL != "" {
		return morphServer(cfg.APIURL)
	}
	return DefaultAPIURL
}

// CurrentAPIKey returns the effective API key. The environment wins over
// the config file; the key takes precedence over any session token.
func (cfg *Config) CurrentAPIKey() string {
	if v := os.Getenv(EnvAPIKey); v != "" {
		return v
	}
	return cfg.APIKey
}

// CurrentToken returns the effective session access token.
func (cfg *Config) CurrentToken() string {
	if v := os.Getenv(EnvAccessToken); v != "" {
		return v
	}
	return cfg.AccessToken
}

// CurrentRefreshToken returns the stored refresh token.
func (cfg *Config) CurrentRefreshToken() string {
	return cfg.RefreshToken
}

// ActiveOrg returns the effective organization scope, "" when none.
func (cfg *Config) ActiveOrg() string {
	if v := os.Getenv(EnvOrg); v != "" {
		return v
	}
	return cfg.Org
}

// SaveTokens persists a refreshed or newly issued token pair.
func (cfg *Config) SaveTokens(access, refresh string, expiresIn int64, userID, email string) error {
	cfg.AccessToken = access
	if refresh != "" {
		cfg.RefreshToken = refresh
	}
	if expiresIn > 0 {
		cfg.TokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second).Format(time.RFC3339)
	}
	if userID != "" {
		cfg.UserID = userID
	}
	if email != "" {
		cfg.Email = email
	}
	return cfg.WriteConfig()
}

// Environment reports which API environment the effective API key selects:
// "live", "test", or "" when no key is configured.
func (cfg *Config) Environment() string {
	key := cfg.CurrentAPIKey()
	switch {
	case strings.HasPrefix(key, "sk_live_"):
		return "live"
	case strings.HasPrefix(key, "sk_test_"):
		return "test"
	default:
		return ""
	}
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long:  `Manage CLI configuration settings like the API endpoint and active organization.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverFlag, _ := cmd.Flags().GetString("server")
		orgFlag, _ := cmd.Flags().GetString("org")
		if serverFlag == "" && orgFlag == "" {
			return printConfig()
		}

		cfg := GetConfig()
		if serverFlag != "" {
			cfg.APIURL = morphServer(serverFlag)
		}
		if orgFlag != "" {
			cfg.Org = orgFlag
		}
		if err := cfg.WriteConfig(); err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]string{"api_url": cfg.BaseURL(), "org": cfg.ActiveOrg()})
		} else {
			fmt.Printf("API endpoint: %s\n", cfg.BaseURL())
			if cfg.ActiveOrg() != "" {
				fmt.Printf("Organization: %s\n", cfg.ActiveOrg())
			}
		}
		return nil
	},
}

// printConfig shows the effective configuration with credentials redacted.
func printConfig() error {
	cfg := GetConfig()
	kv := map[string]string{
		"api_url":     cfg.BaseURL(),
		"environment": cfg.Environment(),
		"org":         cfg.ActiveOrg(),
		"api_key":     redact(cfg.CurrentAPIKey()),
		"email":       cfg.Email,
	}
	if jsonOutput {
		printJSON(kv)
		return nil
	}
	fmt.Printf("API endpoint: %s\n", kv["api_url"])
	if kv["environment"] != "" {
		fmt.Printf("Environment: %s\n", kv["environment"])
	}
	if kv["org"] != "" {
		fmt.Printf("Organization: %s\n", kv["org"])
	}
	if kv["api_key"] != "" {
		fmt.Printf("API key: %s\n", kv["api_key"])
	}
	if kv["email"] != "" {
		fmt.Printf("Logged in as: %s\n", kv["email"])
	}
	return nil
}

// redact keeps just enough of a credential to identify it.
func redact(s string) string {
	if len(s) <= 12 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return s[:12] + "..." + s[len(s)-4:]
}

func init() {
	configCmd.Flags().String("server", "", "Set the API endpoint (e.g. api.textport.com)")
	configCmd.Flags().String("org", "", "Set the active organization")
	rootCmd.AddCommand(configCmd)
}
