package daemon

import (
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jwulff/callnotes/internal/recognizer"
)

// startMockDaemon creates a Unix socket that accepts one connection,
// reads a command, and writes back a canned response.
func startMockDaemon(t *testing.T, response Response) (string, func()) {
	t.Helper()

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 4096)
		if _, err := conn.Read(buf); err != nil {
			return
		}

		data, _ := json.Marshal(response)
		conn.Write(append(data, '\n'))
	}()

	return sockPath, func() {
		ln.Close()
		os.Remove(sockPath)
	}
}

func TestClientSendCommand(t *testing.T) {
	sockPath, cleanup := startMockDaemon(t, Response{OK: true, Listening: recognizer.BoolPtr(true)})
	defer cleanup()

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	got, err := client.SendCommand(recognizer.StartCommand(recognizer.DefaultConfig()))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !got.OK {
		t.Error("ok = false, want true")
	}
	if got.Listening == nil || !*got.Listening {
		t.Errorf("listening = %v, want true", got.Listening)
	}
}

func TestClientConnectFailure(t *testing.T) {
	_, err := Connect("/nonexistent/path/recognizer.sock")
	if err == nil {
		t.Error("expected error connecting to nonexistent socket")
	}
}

// startMockEventStream creates a daemon that sends a subscribe response
// then streams messages and hangs up.
func startMockEventStream(t *testing.T, msgs []recognizer.Message) (string, func()) {
	t.Helper()

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 4096)
		conn.Read(buf)

		resp, _ := json.Marshal(Response{OK: true})
		conn.Write(append(resp, '\n'))

		for _, m := range msgs {
			data, _ := json.Marshal(m)
			conn.Write(append(data, '\n'))
		}
	}()

	return sockPath, func() {
		ln.Close()
		os.Remove(sockPath)
	}
}

func TestClientReadMessages(t *testing.T) {
	msgs := []recognizer.Message{
		recognizer.ResultMessage(recognizer.Result{Entries: []recognizer.Entry{{Transcript: "hello"}}}),
		recognizer.EndMessage(),
	}

	sockPath, cleanup := startMockEventStream(t, msgs)
	defer cleanup()

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if _, err := client.SendCommand(SubscribeCommand()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	m1, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read message 1: %v", err)
	}
	if m1.Event != "result" || len(m1.Results) != 1 || m1.Results[0].Transcript != "hello" {
		t.Errorf("message1 = %+v", m1)
	}

	m2, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read message 2: %v", err)
	}
	if m2.Event != "end" {
		t.Errorf("message2 = %+v", m2)
	}

	if _, err := client.ReadMessage(); err != ErrConnectionClosed {
		t.Errorf("read after hangup = %v, want ErrConnectionClosed", err)
	}
}

func TestSocketPathEnvOverride(t *testing.T) {
	t.Setenv("CALLNOTES_SOCKET", "/tmp/x.sock")
	if got := SocketPath(); got != "/tmp/x.sock" {
		t.Errorf("SocketPath = %q", got)
	}
}

func TestClientSendCommandTimesOut(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	held := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		held <- conn
	}()

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	client.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err = client.SendCommand(recognizer.StopCommand())
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Errorf("send = %v, want a deadline error", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("send took %v", elapsed)
	}

	select {
	case conn := <-held:
		conn.Close()
	default:
	}
}

func TestClientReadMessageMalformed(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := json.Marshal(recognizer.EndMessage())
		conn.Write([]byte("not json\n"))
		conn.Write(append(data, '\n'))
	}()

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if _, err := client.ReadMessage(); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("read = %v, want ErrMalformedMessage", err)
	}
	m, err := client.ReadMessage()
	if err != nil || m.Event != "end" {
		t.Errorf("read after bad line = %+v, %v", m, err)
	}
}
