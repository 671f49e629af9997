// Package wsbridge drives a browser's speech recognizer over a WebSocket.
//
// The bridge serves a small page at / that runs the Web Speech API and
// connects back to /ws. Start and Stop are sent to the page as commands;
// the page forwards result, end and error messages. Only the most recently
// connected page is used.
package wsbridge

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/jwulff/callnotes/internal/recognizer"
)

// ErrNoPage is returned by Start when no browser page is connected.
var ErrNoPage = errors.New("wsbridge: no recognizer page connected; open the bridge URL in a browser")

const writeTimeout = 5 * time.Second

//go:embed page.html
var page []byte

// Bridge is a recognizer.Source fed by a browser page.
type Bridge struct {
	log zerolog.Logger

	events    chan recognizer.Event
	done      chan struct{}
	connected chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	listening bool
	closed    bool
	readers   sync.WaitGroup
}

// New returns a Bridge with no page attached.
func New(log zerolog.Logger) *Bridge {
	return &Bridge{
		log:       log.With().Str("component", "wsbridge").Logger(),
		events:    make(chan recognizer.Event, 64),
		done:      make(chan struct{}),
		connected: make(chan struct{}),
	}
}

// Handler serves the recognizer page at / and the WebSocket at /ws.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.serveWS)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	})
	return mux
}

// WaitConnected blocks until a page has connected at least once.
func (b *Bridge) WaitConnected(ctx context.Context) error {
	select {
	case <-b.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether a page is currently attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Events returns the channel recognition events are delivered on.
func (b *Bridge) Events() <-chan recognizer.Event { return b.events }

// Start tells the attached page to begin recognizing with cfg.
func (b *Bridge) Start(ctx context.Context, cfg recognizer.Config) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return recognizer.ErrClosed
	}
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return ErrNoPage
	}
	b.listening = true
	b.mu.Unlock()

	if err := b.command(ctx, conn, recognizer.StartCommand(cfg)); err != nil {
		b.mu.Lock()
		b.listening = false
		b.mu.Unlock()
		return err
	}
	b.log.Debug().Str("lang", cfg.Language).Msg("recognition started")
	return nil
}

// Stop tells the page to stop recognizing. Later messages are dropped.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	wasListening := b.listening
	b.listening = false
	conn := b.conn
	b.mu.Unlock()

	if !wasListening || conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return b.command(ctx, conn, recognizer.StopCommand())
}

// Close detaches the page and closes the event channel.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.listening = false
	conn := b.conn
	b.conn = nil
	close(b.done)
	b.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusGoingAway, "shutting down")
	}
	b.readers.Wait()
	close(b.events)
	return nil
}

func (b *Bridge) command(ctx context.Context, conn *websocket.Conn, cmd recognizer.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("wsbridge: marshal %s: %w", cmd.Cmd, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wsbridge: send %s: %w", cmd.Cmd, err)
	}
	return nil
}

func (b *Bridge) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	b.readers.Add(1)
	defer b.readers.Done()
	prev := b.conn
	b.conn = conn
	wasListening := b.listening
	b.listening = false
	select {
	case <-b.connected:
	default:
		close(b.connected)
	}
	b.mu.Unlock()

	if prev != nil {
		prev.Close(websocket.StatusPolicyViolation, "replaced by a newer page")
	}
	b.log.Info().Str("remote", r.RemoteAddr).Msg("recognizer page connected")
	if wasListening {
		// The old page was recognizing; surface an end so the session restarts
		// on the new one.
		b.deliver(recognizer.Event{Kind: recognizer.KindEnd})
	}

	b.readLoop(r.Context(), conn)
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			b.detach(conn, err)
			return
		}

		var msg recognizer.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.log.Warn().Err(err).Msg("malformed page message")
			continue
		}
		ev, ok, err := msg.ToEvent()
		if err != nil {
			b.log.Warn().Err(err).Msg("recognizer error")
			continue
		}
		if !ok {
			continue
		}

		b.mu.Lock()
		current := b.conn == conn && b.listening
		if current && ev.Kind == recognizer.KindEnd {
			b.listening = false
		}
		b.mu.Unlock()

		if current {
			b.deliver(ev)
		}
	}
}

func (b *Bridge) detach(conn *websocket.Conn, err error) {
	b.mu.Lock()
	current := b.conn == conn
	wasListening := current && b.listening
	if current {
		b.conn = nil
		b.listening = false
	}
	b.mu.Unlock()

	if !current {
		return
	}
	b.log.Info().Err(err).Msg("recognizer page disconnected")
	if wasListening {
		b.deliver(recognizer.Event{Kind: recognizer.KindEnd})
	}
}

func (b *Bridge) deliver(ev recognizer.Event) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

var _ recognizer.Source = (*Bridge)(nil)
