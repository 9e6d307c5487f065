package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"

	"github.com/textport/textport/internal/common/httpclient"
)

// serverStatus represents the response from the /status endpoint
type serverStatus struct {
	ServerVersion string `mapstructure:"server_version" json:"server_version"`
	APIVersion    string `mapstructure:"api_version" json:"api_version"`
	ServerTime    string `mapstructure:"server_time" json:"server_time,omitempty"`
	MinCLIVersion string `mapstructure:"min_cli_version" json:"min_cli_version,omitempty"`
}

// accountStatus represents the response from the /account endpoint
type accountStatus struct {
	Name    string  `mapstructure:"name" json:"name,omitempty"`
	Plan    string  `mapstructure:"plan" json:"plan,omitempty"`
	Credits float64 `mapstructure:"credits" json:"credits"`
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, account, and rate-limit status",
	Long: `Show server, account, and rate-limit status. Each section is fetched
independently; a failing endpoint degrades its section instead of
failing the whole command.

Examples:
  # Show status
  textport status

  # Show status in JSON format
  textport status -j`,
	RunE: getStatus,
}

// getStatus handles retrieving server and account status
func getStatus(cmd *cobra.Command, args []string) error {
	client := newClient()
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	var (
		wg         sync.WaitGroup
		server     serverStatus
		serverErr  error
		account    accountStatus
		accountErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		server, serverErr = fetchServerStatus(ctx, client)
	}()
	go func() {
		defer wg.Done()
		account, accountErr = fetchAccountStatus(ctx, client)
	}()
	wg.Wait()

	rl, rlSeen := client.RateLimitInfo()

	if jsonOutput {
		out := map[string]any{
			"version_cli": getCLIVersion(),
		}
		if serverErr != nil {
			out["server_error"] = serverErr.Error()
		} else {
			out["server"] = server
		}
		if accountErr != nil {
			out["account_error"] = accountErr.Error()
		} else {
			out["account"] = account
		}
		if rlSeen {
			out["rate_limit"] = rl
		}
		printJSON(out)
		return nil
	}

	fmt.Printf("textport CLI %s\n", getCLIVersion())

	if serverErr != nil {
		errorLabel.Printf("Server: unreachable (%v)\n", serverErr)
	} else {
		printServerPretty(server)
	}

	fmt.Println()
	if accountErr != nil {
		errorLabel.Printf("Account: unavailable (%v)\n", accountErr)
	} else {
		printAccountPretty(account)
	}

	if rlSeen {
		fmt.Println()
		printRateLimitPretty(rl)
	}
	return nil
}

// fetchServerStatus retrieves and decodes the /status endpoint.
func fetchServerStatus(ctx context.Context, client httpclient.ClientInterface) (serverStatus, error) {
	out, err := client.Get(ctx, "status", nil)
	if err != nil {
		return serverStatus{}, err
	}
	var s serverStatus
	if err := mapstructure.WeakDecode(out, &s); err != nil {
		return serverStatus{}, fmt.Errorf("failed to parse status response: %w", err)
	}
	return s, nil
}

// fetchAccountStatus retrieves and decodes the /account endpoint.
func fetchAccountStatus(ctx context.Context, client httpclient.ClientInterface) (accountStatus, error) {
	out, err := client.Get(ctx, "account", nil)
	if err != nil {
		return accountStatus{}, err
	}
	var a accountStatus
	if err := mapstructure.WeakDecode(out, &a); err != nil {
		return accountStatus{}, fmt.Errorf("failed to parse account response: %w", err)
	}
	return a, nil
}

// cliOutdated reports whether the running CLI is older than the server's
// advertised minimum. Unparseable versions never flag an upgrade.
func cliOutdated(cliVersion, minVersion string) bool {
	if minVersion == "" {
		return false
	}
	cur, err := semver.NewVersion(cliVersion)
	if err != nil {
		return false
	}
	min, err := semver.NewVersion(minVersion)
	if err != nil {
		return false
	}
	return cur.LessThan(min)
}

// printServerPretty prints the server section in a human-readable format.
func printServerPretty(s serverStatus) {
	fmt.Printf("Server Version: %s\n", s.ServerVersion)
	fmt.Printf("API Version: %s\n", s.APIVersion)
	if s.ServerTime != "" {
		if serverTime, err := time.Parse(time.RFC3339, s.ServerTime); err == nil {
			fmt.Printf("Server Time: %s\n", serverTime.Local().Format("2006-01-02 15:04:05 MST"))
		} else {
			fmt.Printf("Server Time: %s\n", s.ServerTime)
		}
	}
	if cliOutdated(getCLIVersion(), s.MinCLIVersion) {
		errorLabel.Printf("Upgrade required: server needs CLI %s or newer\n", s.MinCLIVersion)
	}
}

// printAccountPretty prints the account section in a human-readable format.
func printAccountPretty(a accountStatus) {
	if a.Name != "" {
		fmt.Printf("Account: %s\n", a.Name)
	}
	if a.Plan != "" {
		fmt.Printf("Plan: %s\n", a.Plan)
	}
	fmt.Printf("Credits: %.2f\n", a.Credits)
}

// printRateLimitPretty prints the most recent rate-limit snapshot.
func printRateLimitPretty(rl httpclient.RateLimitInfo) {
	fmt.Printf("Rate limit: %d/%d remaining", rl.Remaining, rl.Limit)
	reset := time.Unix(rl.Reset, 0)
	if until := time.Until(reset); until > 0 {
		fmt.Printf(", resets in %s", until.Round(time.Second))
	}
	fmt.Println()
}

// init initializes the status command and adds it to the root command
func init() {
	rootCmd.AddCommand(statusCmd)
}
