package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/textport/textport/internal/relay"
)

// webhooksCmd groups the webhook subcommands
var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Relay webhook events to a local endpoint",
	Long: `Relay webhook events to a local endpoint during development.

The listen command registers a relay session, connects to the event
stream, verifies each event's signature, and forwards verified events
to your local server with the same headers production webhooks carry.

Examples:
  # Forward all message events to a local server
  textport webhooks listen --forward-to http://localhost:3000/webhooks

  # Forward only delivery events
  textport webhooks listen --forward-to http://localhost:3000/webhooks \
    --events message.delivered,message.failed`,
}

// newWebhooksListenCmd creates the webhooks listen command
func newWebhooksListenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream webhook events to a local endpoint",
		RunE:  runWebhooksListen,
	}
	cmd.Flags().String("forward-to", "", "Local URL receiving verified events (required)")
	cmd.Flags().StringSlice("events", nil, "Event types to subscribe to (defaults to all message events)")
	cmd.MarkFlagRequired("forward-to")
	return cmd
}

// runWebhooksListen handles the webhooks listen command execution
func runWebhooksListen(cmd *cobra.Command, args []string) error {
	forwardTo, _ := cmd.Flags().GetString("forward-to")
	events, _ := cmd.Flags().GetStringSlice("events")

	// Ctrl+C closes the stream cleanly and deletes the relay session.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := relay.Run(ctx, newClient(), relay.Config{
		ForwardURL: forwardTo,
		EventTypes: events,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func init() {
	webhooksCmd.AddCommand(newWebhooksListenCmd())
	rootCmd.AddCommand(webhooksCmd)
}
