package notifier

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/callout/internal/models"
)

// AMIConfig holds Asterisk Manager Interface connection settings.
type AMIConfig struct {
	Host     string
	Port     int
	Username string
	Secret   string
	CallerID string
	// Trunk is the SIP trunk channel suffix for originated calls.
	Trunk string
	// DialTimeout bounds connect plus login (default: 10s).
	DialTimeout time.Duration
	// ReadTimeout bounds each response read (default: 5s).
	ReadTimeout time.Duration
	// RingTimeout is the Originate ring timeout (default: 30s).
	RingTimeout time.Duration
}

// Validate validates the AMI configuration.
func (c *AMIConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("AMI host is required")
	}
	if c.Username == "" || c.Secret == "" {
		return fmt.Errorf("AMI credentials are required")
	}
	if c.Trunk == "" {
		return fmt.Errorf("AMI trunk is required")
	}
	return nil
}

func (c *AMIConfig) setDefaults() {
	if c.Port == 0 {
		c.Port = 5038
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.RingTimeout <= 0 {
		c.RingTimeout = 30 * time.Second
	}
}

// AMINotifier places calls through Asterisk's manager interface. Each
// call opens a fresh session: login, one async Originate, logoff.
type AMINotifier struct {
	config AMIConfig
}

// NewAMINotifier creates a new AMI voice notifier.
func NewAMINotifier(config AMIConfig) (*AMINotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AMI config: %w", err)
	}
	config.setDefaults()
	return &AMINotifier{config: config}, nil
}

// Name returns "ami".
func (a *AMINotifier) Name() string {
	return "ami"
}

// Close is a no-op; sessions are per call.
func (a *AMINotifier) Close() error {
	return nil
}

// newCallID builds a unique identifier for one originate attempt.
func newCallID() string {
	return fmt.Sprintf("notif_%s_%s", time.Now().Format("20060102_150405"), uuid.NewString()[:8])
}

// Call originates a playback call to the requested number. Any failure
// is captured in the result, never raised.
func (a *AMINotifier) Call(ctx context.Context, req models.CallRequest) models.CallResult {
	callID := newCallID()

	callerID := req.CallerID
	if callerID == "" {
		callerID = a.config.CallerID
	}

	sess, err := a.login(ctx)
	if err != nil {
		return models.CallResult{CallID: callID, Err: fmt.Errorf("AMI login: %w", err)}
	}
	defer sess.conn.Close()

	action := a.originateAction(callID, callerID, req)
	if err := a.send(sess, action); err != nil {
		return models.CallResult{CallID: callID, Err: fmt.Errorf("send originate: %w", err)}
	}

	resp, err := a.readResponse(sess)
	if err != nil {
		return models.CallResult{CallID: callID, Err: fmt.Errorf("read originate response: %w", err)}
	}

	// Best-effort logoff; the call is already queued.
	if err := a.send(sess, "Action: Logoff\r\n\r\n"); err != nil {
		log.Printf("[ami] logoff failed: %v", err)
	}

	if !strings.Contains(resp, "Success") {
		return models.CallResult{CallID: callID, Err: fmt.Errorf("originate rejected: %s", firstLine(resp))}
	}
	return models.CallResult{Success: true, CallID: callID}
}

// Ping verifies the manager interface accepts our credentials.
func (a *AMINotifier) Ping(ctx context.Context) error {
	sess, err := a.login(ctx)
	if err != nil {
		return err
	}
	defer sess.conn.Close()
	return a.send(sess, "Action: Logoff\r\n\r\n")
}

// session is one authenticated manager connection. The reader is shared
// across reads so buffered bytes are never lost.
type session struct {
	conn   net.Conn
	reader *bufio.Reader
}

// login dials the manager port and authenticates.
func (a *AMINotifier) login(ctx context.Context) (*session, error) {
	dialer := net.Dialer{Timeout: a.config.DialTimeout}
	addr := fmt.Sprintf("%s:%d", a.config.Host, a.config.Port)

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	sess := &session{conn: conn, reader: bufio.NewReader(conn)}

	// Banner line, e.g. "Asterisk Call Manager/5.0".
	conn.SetReadDeadline(time.Now().Add(a.config.ReadTimeout))
	if _, err := sess.reader.ReadString('\n'); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read banner: %w", err)
	}

	login := fmt.Sprintf("Action: Login\r\nUsername: %s\r\nSecret: %s\r\n\r\n",
		a.config.Username, a.config.Secret)
	if err := a.send(sess, login); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send login: %w", err)
	}

	resp, err := a.readResponse(sess)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read login response: %w", err)
	}
	if !strings.Contains(resp, "Success") && !strings.Contains(resp, "accepted") {
		conn.Close()
		return nil, fmt.Errorf("authentication rejected: %s", firstLine(resp))
	}

	return sess, nil
}

// originateAction formats the Originate action for a playback call.
func (a *AMINotifier) originateAction(callID, callerID string, req models.CallRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: Originate\r\n")
	fmt.Fprintf(&b, "ActionID: %s\r\n", callID)
	fmt.Fprintf(&b, "Channel: SIP/%s@%s\r\n", req.Number, a.config.Trunk)
	fmt.Fprintf(&b, "Application: Playback\r\n")
	fmt.Fprintf(&b, "Data: %s\r\n", req.MessageKey)
	fmt.Fprintf(&b, "CallerID: %s\r\n", callerID)
	fmt.Fprintf(&b, "Timeout: %d\r\n", a.config.RingTimeout.Milliseconds())
	fmt.Fprintf(&b, "Async: true\r\n")

	for key, value := range req.Variables {
		fmt.Fprintf(&b, "Variable: %s=%s\r\n", key, value)
	}
	fmt.Fprintf(&b, "Variable: NOTIF_ID=%s\r\n", callID)
	fmt.Fprintf(&b, "Variable: NOTIF_DEST=%s\r\n", req.Number)
	b.WriteString("\r\n")

	return b.String()
}

// send writes one action with a write deadline.
func (a *AMINotifier) send(sess *session, action string) error {
	sess.conn.SetWriteDeadline(time.Now().Add(a.config.ReadTimeout))
	_, err := sess.conn.Write([]byte(action))
	return err
}

// readResponse reads header lines until the blank terminator.
func (a *AMINotifier) readResponse(sess *session) (string, error) {
	sess.conn.SetReadDeadline(time.Now().Add(a.config.ReadTimeout))

	var b strings.Builder
	for {
		line, err := sess.reader.ReadString('\n')
		if err != nil {
			if b.Len() > 0 {
				// Partial response is still inspectable.
				return b.String(), nil
			}
			return "", err
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return b.String(), nil
		}
		b.WriteString(line)
	}
}

// firstLine trims a response to its first line for error messages.
func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
