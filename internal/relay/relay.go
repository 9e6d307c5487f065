// Package relay implements the live event relay: it registers a forwarding
// session with the API, holds a persistent websocket connection, verifies
// each pushed event against the session signing secret, and forwards
// verified events to the developer's local endpoint.
//
// The relay is the one long-lived component of the CLI. It blocks until the
// context is cancelled (operator interrupt) or the connection fails; one
// bad event never takes the session down.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/textport/textport/internal/common/httpclient"
)

const (
	defaultConnectTimeout = 30 * time.Second
	closeGracePeriod      = 5 * time.Second
	sessionsPath          = "webhook_sessions"

	messageTypeConnected = "cli_connected"
	messageTypeEvent     = "webhook_event"
)

// DefaultEventTypes is the subscription used when the operator does not
// name any event types.
var DefaultEventTypes = []string{
	"message.sent",
	"message.delivered",
	"message.failed",
	"message.received",
}

var (
	okLabel    = color.New(color.FgGreen)
	errorLabel = color.New(color.FgRed)
	validate   = validator.New()
)

// Config describes one relay session.
type Config struct {
	ForwardURL     string        // local endpoint receiving verified events
	EventTypes     []string      // defaults to DefaultEventTypes when empty
	ConnectTimeout time.Duration // defaults to 30s
	Output         io.Writer     // operator display, defaults to os.Stdout
}

// registration is the decoded response of POST /webhook_sessions.
type registration struct {
	SessionID     string `mapstructure:"session_id"`
	SigningSecret string `mapstructure:"signing_secret"`
	WebsocketURL  string `mapstructure:"websocket_url"`
}

// inboundMessage is the wire format of messages pushed over the websocket.
type inboundMessage struct {
	Type      string          `json:"type"`
	Event     json.RawMessage `json:"event"`
	Timestamp int64           `json:"timestamp"`
	Signature string          `json:"signature"`
}

// session is one registered relay session with its live connection state.
type session struct {
	client  httpclient.ClientInterface
	id      string
	secret  string
	wsURL   string
	forward *forwarder
	out     io.Writer
	timeout time.Duration
}

// Run registers a relay session and blocks relaying events until ctx is
// cancelled or the connection fails. A cancelled context is a normal
// shutdown and returns nil; connection-level failures are returned as
// errors, distinct from per-event forwarding failures which are only
// reported to the operator.
func Run(ctx context.Context, client httpclient.ClientInterface, cfg Config) error {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if err := validate.Var(cfg.ForwardURL, "required,url"); err != nil {
		return fmt.Errorf("invalid forward URL %q: must be a valid URL", cfg.ForwardURL)
	}
	eventTypes := cfg.EventTypes
	if len(eventTypes) == 0 {
		eventTypes = DefaultEventTypes
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	reg, err := register(ctx, client, cfg.ForwardURL, eventTypes)
	if err != nil {
		return err
	}

	// The secret is shown exactly once; it is never logged or re-requested.
	fmt.Fprintf(out, "Relay session %s registered.\n", reg.SessionID)
	fmt.Fprintf(out, "Signing secret (shown once): %s\n", reg.SigningSecret)
	fmt.Fprintf(out, "Forwarding %s events to %s\n", strings.Join(eventTypes, ", "), cfg.ForwardURL)

	s := &session{
		client:  client,
		id:      reg.SessionID,
		secret:  reg.SigningSecret,
		wsURL:   reg.WebsocketURL,
		forward: newForwarder(cfg.ForwardURL),
		out:     out,
		timeout: timeout,
	}

	err = s.connectAndListen(ctx)
	s.stop()
	return err
}

// register creates the session server-side and validates the response.
func register(ctx context.Context, client httpclient.ClientInterface, forwardURL string, eventTypes []string) (registration, error) {
	body := map[string]any{
		"forward_url": forwardURL,
		"event_types": eventTypes,
	}
	out, err := client.Post(ctx, sessionsPath, body)
	if err != nil {
		return registration{}, err
	}
	var reg registration
	if err := mapstructure.Decode(out, &reg); err != nil {
		return registration{}, fmt.Errorf("failed to decode session registration: %w", err)
	}
	if reg.SessionID == "" || reg.SigningSecret == "" || reg.WebsocketURL == "" {
		return registration{}, fmt.Errorf("incomplete session registration response")
	}
	return reg, nil
}

// connectAndListen opens the websocket, waits for the server
// acknowledgement, then relays events until ctx is cancelled or the
// connection fails.
func (s *session) connectAndListen(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.timeout}
	conn, resp, err := dialer.DialContext(ctx, s.wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer conn.Close()

	if err := s.awaitAck(conn); err != nil {
		return err
	}
	okLabel.Fprintln(s.out, "✓ Connected. Waiting for events...")

	done := make(chan error, 1)
	go func() { done <- s.readLoop(conn) }()

	select {
	case <-ctx.Done():
		// Operator-initiated shutdown: normal closure handshake, then
		// unblock the reader by closing the connection.
		deadline := time.Now().Add(closeGracePeriod)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown"), deadline)
		conn.Close()
		<-done
		fmt.Fprintln(s.out, "Relay session closed.")
		return nil
	case err := <-done:
		return err
	}
}

// awaitAck blocks until the server acknowledges the connection, bounded by
// the connect timeout. Anything else received before the acknowledgement
// is discarded.
func (s *session) awaitAck(conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("no acknowledgement from server: %w", err)
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == messageTypeConnected {
			return conn.SetReadDeadline(time.Time{})
		}
	}
}

// readLoop processes inbound messages in transport delivery order until
// the connection closes. It only returns on connection-level failure.
func (s *session) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("event stream closed unexpectedly: %w", err)
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("ignoring unparseable relay message")
			continue
		}
		switch msg.Type {
		case messageTypeEvent:
			s.handleEvent(msg)
		default:
			// Control message; nothing to do.
		}
	}
}

// handleEvent verifies and forwards one pushed event. Verification and
// forwarding failures are reported to the operator but never end the
// session.
func (s *session) handleEvent(msg inboundMessage) {
	s.displayEvent(msg.Event)

	if !VerifySignature(s.secret, msg.Timestamp, msg.Event, msg.Signature) {
		errorLabel.Fprintln(s.out, "  ✗ signature verification failed; event not forwarded")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()
	if err := s.forward.forward(ctx, msg.Event, msg.Signature, msg.Timestamp); err != nil {
		errorLabel.Fprintf(s.out, "  ✗ forward failed: %v\n", err)
		return
	}
	okLabel.Fprintf(s.out, "  ✓ forwarded to %s\n", s.forward.url)
}

// displayEvent prints one line per event, verified or not, so the operator
// sees everything the session receives.
func (s *session) displayEvent(event []byte) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), eventField(event, "type", "unknown"))
	if id := gjson.GetBytes(event, "id"); id.Exists() {
		line += " id=" + id.String()
	}
	if to := gjson.GetBytes(event, "to"); to.Exists() {
		line += " to=" + to.String()
	} else if to := gjson.GetBytes(event, "data.to"); to.Exists() {
		line += " to=" + to.String()
	}
	fmt.Fprintln(s.out, line)
}

func eventField(event []byte, path, fallback string) string {
	if v := gjson.GetBytes(event, path); v.Exists() {
		return v.String()
	}
	return fallback
}

// stop best-effort deallocates the session server-side. Failures are
// swallowed; the server expires idle sessions on its own.
func (s *session) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), closeGracePeriod)
	defer cancel()
	if _, err := s.client.Delete(ctx, sessionsPath+"/"+s.id); err != nil {
		log.Debug().Err(err).Str("session_id", s.id).Msg("failed to deallocate relay session")
	}
}
