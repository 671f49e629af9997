package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jwulff/callnotes/internal/recognizer"
)

var (
	// ErrConnectionClosed is returned when the daemon hangs up mid-read.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrMalformedMessage is returned by ReadMessage for a line that is not
	// a valid event. The stream itself is still usable.
	ErrMalformedMessage = errors.New("malformed event")
)

// DefaultCommandTimeout bounds a command round trip unless the Client's
// Timeout says otherwise.
const DefaultCommandTimeout = 5 * time.Second

// SocketPath returns the default daemon socket path. CALLNOTES_SOCKET
// overrides it.
func SocketPath() string {
	if p := os.Getenv("CALLNOTES_SOCKET"); p != "" {
		return p
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "callnotes", "recognizer.sock")
}

// Client communicates with the recognizer daemon over a Unix socket.
type Client struct {
	// Timeout bounds each SendCommand round trip. Zero waits forever.
	Timeout time.Duration

	conn    net.Conn
	scanner *bufio.Scanner
	mu      sync.Mutex
}

// Connect dials the daemon Unix socket.
func Connect(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer

	return &Client{Timeout: DefaultCommandTimeout, conn: conn, scanner: scanner}, nil
}

// Close shuts down the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SendCommand sends a command and reads one response line. A daemon that
// does not answer within Timeout yields an error wrapping
// os.ErrDeadlineExceeded; the connection should not be reused after that.
func (c *Client) SendCommand(cmd recognizer.Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}

	if c.Timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
			return Response{}, fmt.Errorf("set deadline: %w", err)
		}
		defer c.conn.SetDeadline(time.Time{})
	}

	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return Response{}, fmt.Errorf("write command: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		return Response{}, ErrConnectionClosed
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}

	return resp, nil
}

// ReadMessage reads the next NDJSON event line. Blocks until data arrives.
// After subscribing, use this in a loop to receive recognition events.
func (c *Client) ReadMessage() (recognizer.Message, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return recognizer.Message{}, fmt.Errorf("read event: %w", err)
		}
		return recognizer.Message{}, ErrConnectionClosed
	}

	var msg recognizer.Message
	if err := json.Unmarshal(c.scanner.Bytes(), &msg); err != nil {
		return recognizer.Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return msg, nil
}
