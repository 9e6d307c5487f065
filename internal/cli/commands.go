package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/textport/textport/internal/common/apperrors"
	"github.com/textport/textport/internal/common/httpclient"
)

var (
	// Global flags
	jsonOutput bool
	configFile string
)

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)
var hintLabel = color.New(color.FgYellow)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "textport [command] [flags]",
	Short: "Textport CLI - A command line interface for the Textport messaging platform",
	Long: `Textport CLI is a command line interface for the Textport messaging platform.
It lets you send and inspect messages, manage API keys, and relay webhook
events to a local endpoint during development.

Examples:
  # Authenticate with your account
  textport login --email dev@example.com

  # Send a message
  textport messages send --to +15550100 --body "hello"

  # Relay webhook events to a local server
  textport webhooks listen --forward-to http://localhost:3000/webhooks`,
	PersistentPreRun: preRunHandlePersistents,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	// Set up persistent flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file to override default")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	// Add commands
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true // Prevent Cobra from printing the error
	rootCmd.SilenceUsage = true  // Prevent Cobra from printing usage on error

	err := rootCmd.Execute()
	if err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			os.Exit(1)
		}
		printError(err)
		os.Exit(1)
	}
}

// printError renders an error to stderr, including the remediation hint
// when the API client attached one.
func printError(err error) {
	hint := ""
	var appErr apperrors.Error
	if errors.As(err, &appErr) {
		hint = appErr.Hint()
	}
	if jsonOutput {
		kv := map[string]string{
			"error": err.Error(),
		}
		if hint != "" {
			kv["hint"] = hint
		}
		printJSON(kv)
		return
	}
	errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
	if hint != "" {
		hintLabel.Fprintf(os.Stderr, "Hint: %s\n", hint)
	}
}

// preRunHandlePersistents handles persistent flags and configuration loading before command execution
func preRunHandlePersistents(cmd *cobra.Command, args []string) {
	if configFile == "" {
		var err error
		configFile, err = GetDefaultConfigPath()
		if err != nil {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if err := LoadConfig(configFile); err != nil {
		errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newClient builds the API client for the loaded configuration.
func newClient() httpclient.ClientInterface {
	return httpclient.New(GetConfig(),
		httpclient.WithUserAgent("textport/cli/"+getCLIVersion()),
	)
}

// newVersionCmd creates and returns a new version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of textport-cli",
		Run: func(cmd *cobra.Command, args []string) {
			// Get the config file path
			configPath, err := GetDefaultConfigPath()
			if err != nil {
				configPath = "unknown"
			}

			if jsonOutput {
				kv := map[string]string{
					"version":     getCLIVersion(),
					"config_file": configPath,
				}
				printJSON(kv)
			} else {
				cmd.Printf("textport CLI %s\n", getCLIVersion())
				cmd.Printf("Config file: %s\n", configPath)
			}
		},
	}
}

// printJSON prints the given map as JSON to stdout
func printJSON(data interface{}) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(jsonData))
}

// getCLIVersion returns the current CLI version
func getCLIVersion() string {
	return "0.3.0"
}
