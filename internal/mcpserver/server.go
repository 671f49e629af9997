// Package mcpserver exposes the listening session as MCP tools over stdio.
//
// Tools:
//
//	toggle_listening  start or stop listening
//	live_text         the in-progress text of the current call
//	list_notes        saved notes, newest first
//	status            listening flag, elapsed time and note count
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/jwulff/callnotes/internal/segment"
	"github.com/jwulff/callnotes/internal/session"
)

// Session is the part of session.Loop the tools need.
type Session interface {
	Toggle(ctx context.Context) (bool, error)
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

// Server wraps an MCP server bound to a Session.
type Server struct {
	sess Session
	log  zerolog.Logger
	mcp  *server.MCPServer
}

// Status is the JSON body returned by the status tool.
type Status struct {
	Listening bool   `json:"listening"`
	Elapsed   string `json:"elapsed"`
	Notes     int    `json:"notes"`
}

// New registers the tools on a fresh MCP server.
func New(sess Session, version string, log zerolog.Logger) *Server {
	s := &Server{
		sess: sess,
		log:  log.With().Str("component", "mcp").Logger(),
		mcp: server.NewMCPServer("callnotes", version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}

	s.mcp.AddTool(mcp.NewTool("toggle_listening",
		mcp.WithDescription("Start listening when idle, stop when listening. Stopping saves any pending text as a note."),
	), s.handleToggle)

	s.mcp.AddTool(mcp.NewTool("live_text",
		mcp.WithDescription("Return the in-progress text of the current call, including interim words."),
	), s.handleLiveText)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("Return saved notes, newest first. Each note starts with an [MM:SS] offset into its session."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of notes to return; 0 returns all."),
		),
	), s.handleListNotes)

	s.mcp.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report whether listening is active, the elapsed session time and the number of saved notes."),
	), s.handleStatus)

	return s
}

// Serve speaks MCP over in and out until ctx is cancelled or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.log.Info().Msg("serving MCP on stdio")
	stdio := server.NewStdioServer(s.mcp)
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

func (s *Server) handleToggle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	listening, err := s.sess.Toggle(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("toggle listening")
		return mcp.NewToolResultError(err.Error()), nil
	}
	if listening {
		return mcp.NewToolResultText("listening"), nil
	}
	return mcp.NewToolResultText("idle"), nil
}

func (s *Server) handleLiveText(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.sess.Snapshot(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(snap.LiveText), nil
}

func (s *Server) handleListNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}
	snap, err := s.sess.Snapshot(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	notes := snap.Notes
	if limit > 0 && len(notes) > limit {
		notes = notes[:limit]
	}
	return mcp.NewToolResultText(strings.Join(notes, "\n")), nil
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.sess.Snapshot(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := json.Marshal(Status{
		Listening: snap.Listening,
		Elapsed:   segment.Stamp(snap.Elapsed),
		Notes:     len(snap.Notes),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
