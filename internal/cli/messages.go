package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"

	"github.com/textport/textport/internal/common/httpclient"
)

var validate = validator.New()

// Message is the API representation of a message.
type Message struct {
	ID        string `mapstructure:"id" json:"id"`
	To        string `mapstructure:"to" json:"to"`
	From      string `mapstructure:"from" json:"from,omitempty"`
	Body      string `mapstructure:"body" json:"body,omitempty"`
	MediaID   string `mapstructure:"media_id" json:"media_id,omitempty"`
	Status    string `mapstructure:"status" json:"status"`
	CreatedAt string `mapstructure:"created_at" json:"created_at,omitempty"`
}

// messagesCmd groups the message subcommands
var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Send and inspect messages",
	Long: `Send and inspect messages.

Examples:
  # Send a message
  textport messages send --to +15550100 --body "hello"

  # Send a message with an attachment
  textport messages send --to +15550100 --body "see attached" --media ./photo.png

  # List recent messages
  textport messages list --limit 20

  # Show one message
  textport messages get msg_abc123

  # Poll a message until it reaches a final status
  textport messages watch msg_abc123`,
}

// newMessagesSendCmd creates the messages send command
func newMessagesSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message",
		RunE:  runMessagesSend,
	}
	cmd.Flags().String("to", "", "Destination phone number in E.164 format (required)")
	cmd.Flags().String("from", "", "Sender number or alphanumeric ID")
	cmd.Flags().String("body", "", "Message body")
	cmd.Flags().String("media", "", "Path to a media file to attach")
	cmd.MarkFlagRequired("to")
	return cmd
}

// runMessagesSend handles the messages send command execution
func runMessagesSend(cmd *cobra.Command, args []string) error {
	to, _ := cmd.Flags().GetString("to")
	from, _ := cmd.Flags().GetString("from")
	body, _ := cmd.Flags().GetString("body")
	media, _ := cmd.Flags().GetString("media")

	if err := validate.Var(to, "required,e164"); err != nil {
		return fmt.Errorf("invalid --to %q: must be an E.164 phone number (e.g. +15550100)", to)
	}
	if body == "" && media == "" {
		return fmt.Errorf("nothing to send: provide --body, --media, or both")
	}

	client := newClient()

	payload := map[string]any{"to": to}
	if from != "" {
		payload["from"] = from
	}
	if body != "" {
		payload["body"] = body
	}

	if media != "" {
		mediaID, err := uploadMedia(cmd.Context(), client, media)
		if err != nil {
			return err
		}
		payload["media_id"] = mediaID
	}

	out, err := client.Post(cmd.Context(), "messages", payload)
	if err != nil {
		return err
	}

	msg, err := decodeMessage(out)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(msg)
	} else {
		okLabel.Printf("✓ Message %s %s\n", msg.ID, msg.Status)
	}
	return nil
}

// uploadMedia uploads a local file and returns the media ID to attach.
func uploadMedia(ctx context.Context, client httpclient.ClientInterface, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read media file: %w", err)
	}

	out, err := client.UploadFile(ctx, "media", httpclient.UploadSpec{
		Filename: filepath.Base(path),
		Content:  content,
	})
	if err != nil {
		return "", err
	}

	mediaID, _ := out["id"].(string)
	if mediaID == "" {
		return "", fmt.Errorf("upload response did not include a media ID")
	}
	return mediaID, nil
}

// newMessagesListCmd creates the messages list command
func newMessagesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent messages",
		RunE:  runMessagesList,
	}
	cmd.Flags().Int("limit", 10, "Maximum number of messages to return")
	cmd.Flags().String("status", "", "Filter by status (queued, sent, delivered, failed)")
	return cmd
}

// runMessagesList handles the messages list command execution
func runMessagesList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	status, _ := cmd.Flags().GetString("status")

	query := map[string]string{
		"limit":  strconv.Itoa(limit),
		"status": status,
	}

	client := newClient()
	out, err := client.Get(cmd.Context(), "messages", query)
	if err != nil {
		return err
	}

	msgs, err := decodeMessageList(out)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(msgs)
		return nil
	}
	if len(msgs) == 0 {
		fmt.Println("No messages")
		return nil
	}
	for _, m := range msgs {
		fmt.Println(formatMessageLine(m))
	}
	return nil
}

// newMessagesGetCmd creates the messages get command
func newMessagesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <message-id>",
		Short: "Show one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			out, err := client.Get(cmd.Context(), "messages/"+args[0], nil)
			if err != nil {
				return err
			}
			msg, err := decodeMessage(out)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(msg)
			} else {
				printMessagePretty(msg)
			}
			return nil
		},
	}
}

// newMessagesWatchCmd creates the messages watch command
func newMessagesWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <message-id>",
		Short: "Poll a message until it reaches a final status",
		Long: `Poll a message until it is delivered or failed. Press Ctrl+C to stop
watching; the message itself is unaffected.`,
		Args: cobra.ExactArgs(1),
		RunE: runMessagesWatch,
	}
	cmd.Flags().Duration("interval", 2*time.Second, "Poll interval")
	return cmd
}

// runMessagesWatch handles the messages watch command execution
func runMessagesWatch(cmd *cobra.Command, args []string) error {
	interval, _ := cmd.Flags().GetDuration("interval")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newClient()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastStatus := ""
	for {
		out, err := client.Get(ctx, "messages/"+args[0], nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		msg, err := decodeMessage(out)
		if err != nil {
			return err
		}
		if msg.Status != lastStatus {
			lastStatus = msg.Status
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), formatMessageLine(msg))
		}
		if isFinalStatus(msg.Status) {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// isFinalStatus reports whether a message status will never change again.
func isFinalStatus(status string) bool {
	return status == "delivered" || status == "failed"
}

// decodeMessage converts a decoded API response into a Message.
func decodeMessage(out map[string]any) (Message, error) {
	var msg Message
	if err := mapstructure.WeakDecode(out, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.ID == "" {
		return Message{}, fmt.Errorf("response did not include a message ID")
	}
	return msg, nil
}

// decodeMessageList extracts the messages array from a list response.
func decodeMessageList(out map[string]any) ([]Message, error) {
	var wrapper struct {
		Data []Message `mapstructure:"data"`
	}
	if err := mapstructure.WeakDecode(out, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse message list: %w", err)
	}
	return wrapper.Data, nil
}

// formatMessageLine renders one message as a single summary line.
func formatMessageLine(m Message) string {
	body := m.Body
	if len(body) > 40 {
		body = body[:37] + "..."
	}
	return fmt.Sprintf("%s  %-10s  %s  %q", m.ID, m.Status, m.To, body)
}

// printMessagePretty prints a message in a human-readable format.
func printMessagePretty(m Message) {
	fmt.Printf("ID:      %s\n", m.ID)
	fmt.Printf("To:      %s\n", m.To)
	if m.From != "" {
		fmt.Printf("From:    %s\n", m.From)
	}
	fmt.Printf("Status:  %s\n", m.Status)
	if m.Body != "" {
		fmt.Printf("Body:    %s\n", m.Body)
	}
	if m.MediaID != "" {
		fmt.Printf("Media:   %s\n", m.MediaID)
	}
	if m.CreatedAt != "" {
		fmt.Printf("Created: %s\n", m.CreatedAt)
	}
}

func init() {
	messagesCmd.AddCommand(newMessagesSendCmd())
	messagesCmd.AddCommand(newMessagesListCmd())
	messagesCmd.AddCommand(newMessagesGetCmd())
	messagesCmd.AddCommand(newMessagesWatchCmd())
	rootCmd.AddCommand(messagesCmd)
}
