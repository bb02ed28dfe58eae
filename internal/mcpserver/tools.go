package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/perchlabs/perch/internal/parser"
	"github.com/perchlabs/perch/internal/session"
)

// --- Tool Definitions ---

func listSessionsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"list_sessions",
		"List all terminal sessions on this server with their geometry, command, and activity.",
		json.RawMessage(`{
			"type": "object",
			"properties": {}
		}`),
	)
}

func createSessionTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"create_session",
		"Create a new terminal session running a command under a PTY. Omitting the command starts the login shell.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {
					"type": "string",
					"description": "Session name (1-100 chars of [A-Za-z0-9._-]); auto-assigned when omitted"
				},
				"command": {
					"type": "string",
					"description": "Program to run (default: login shell)"
				},
				"args": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Arguments for the command"
				},
				"cwd": {
					"type": "string",
					"description": "Working directory for the child process"
				},
				"rows": {
					"type": "integer",
					"description": "Terminal rows (default 24)"
				},
				"cols": {
					"type": "integer",
					"description": "Terminal columns (default 80)"
				},
				"tags": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Free-form tags attached to the session"
				}
			}
		}`),
	)
}

func killSessionTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"kill_session",
		"Destroy a session: detach clients, terminate the child process, free resources.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session": {
					"type": "string",
					"description": "Session name"
				}
			},
			"required": ["session"]
		}`),
	)
}

func getScreenTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"get_screen",
		"Read the current terminal screen: lines, cursor, geometry, and alternate-screen flag.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session": {
					"type": "string",
					"description": "Session name"
				},
				"format": {
					"type": "string",
					"enum": ["plain", "styled"],
					"description": "plain returns strings, styled returns attributed spans (default plain)"
				}
			},
			"required": ["session"]
		}`),
	)
}

func getScrollbackTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"get_scrollback",
		"Read lines scrolled off the top of the screen, oldest first.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session": {
					"type": "string",
					"description": "Session name"
				},
				"offset": {
					"type": "integer",
					"description": "First scrollback line to return (default 0)"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum lines to return (default all)"
				},
				"format": {
					"type": "string",
					"enum": ["plain", "styled"],
					"description": "plain returns strings, styled returns attributed spans (default plain)"
				}
			},
			"required": ["session"]
		}`),
	)
}

func sendInputTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"send_input",
		"Write bytes to the session's stdin. Set base64 for binary-safe input.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session": {
					"type": "string",
					"description": "Session name"
				},
				"data": {
					"type": "string",
					"description": "Bytes to write; include a trailing newline to submit a command"
				},
				"base64": {
					"type": "boolean",
					"description": "Treat data as base64-encoded binary"
				}
			},
			"required": ["session", "data"]
		}`),
	)
}

func sendKeysTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"send_keys",
		"Send named keys to the session: enter, tab, escape, backspace, space, delete, arrows (up/down/left/right), home, end, pageup, pagedown, and ctrl+<letter>. Unrecognized names are sent literally.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session": {
					"type": "string",
					"description": "Session name"
				},
				"keys": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Key names, sent in order"
				}
			},
			"required": ["session", "keys"]
		}`),
	)
}

func awaitQuiesceTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"await_quiesce",
		"Block until the terminal has produced no output for timeout_ms of fresh wall-clock time, then return the settled screen. Use after send_input to read a command's result.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session": {
					"type": "string",
					"description": "Session name"
				},
				"timeout_ms": {
					"type": "integer",
					"description": "Required silence before the screen is considered settled (default 2000)"
				},
				"max_wait_ms": {
					"type": "integer",
					"description": "Upper bound on the whole wait (default 30000)"
				},
				"format": {
					"type": "string",
					"enum": ["plain", "styled"],
					"description": "plain returns strings, styled returns attributed spans (default plain)"
				}
			},
			"required": ["session"]
		}`),
	)
}

// --- Tool Handlers ---

// sessionSummary mirrors one list_sessions row.
type sessionSummary struct {
	Name           string   `json:"name"`
	PID            int      `json:"pid"`
	Command        string   `json:"command"`
	Rows           int      `json:"rows"`
	Cols           int      `json:"cols"`
	Clients        int      `json:"clients"`
	Tags           []string `json:"tags,omitempty"`
	LastActivityMS int64    `json:"last_activity_ms"`
}

func (s *Server) handleListSessions(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.reg.List()
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		rows, cols := sess.Size()
		out = append(out, sessionSummary{
			Name:           sess.Name(),
			PID:            sess.PID(),
			Command:        sess.Command(),
			Rows:           rows,
			Cols:           cols,
			Clients:        sess.Clients(),
			Tags:           sess.Tags(),
			LastActivityMS: sess.Activity.LastActivity().Milliseconds(),
		})
	}
	return resultJSON(out)
}

type createSessionArgs struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
	CWD     string   `json:"cwd"`
	Rows    int      `json:"rows"`
	Cols    int      `json:"cols"`
	Tags    []string `json:"tags"`
}

type createSessionResult struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

func (s *Server) handleCreateSession(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args createSessionArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	sess, err := s.reg.Create(session.Options{
		Command:    args.Command,
		Args:       args.Args,
		CWD:        args.CWD,
		Rows:       args.Rows,
		Cols:       args.Cols,
		Scrollback: s.scrollback,
		Tags:       args.Tags,
	}, args.Name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create session: %v", err)), nil
	}

	rows, cols := sess.Size()
	return resultJSON(createSessionResult{
		Name: sess.Name(),
		PID:  sess.PID(),
		Rows: rows,
		Cols: cols,
	})
}

type sessionArgs struct {
	Session string `json:"session"`
}

func (s *Server) handleKillSession(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args sessionArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Session == "" {
		return mcp.NewToolResultError("session is required"), nil
	}
	if err := s.reg.Remove(args.Session); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("kill session: %v", err)), nil
	}
	return resultJSON(map[string]bool{"killed": true})
}

type screenArgs struct {
	Session string `json:"session"`
	Format  string `json:"format"`
}

func (s *Server) handleGetScreen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args screenArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, format, errResult := s.lookupWithFormat(args.Session, args.Format)
	if errResult != nil {
		return errResult, nil
	}
	snap, err := sess.Parser().Snapshot(ctx, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read screen: %v", err)), nil
	}
	return resultJSON(snap)
}

type scrollbackArgs struct {
	Session string `json:"session"`
	Offset  int    `json:"offset"`
	Limit   *int   `json:"limit"`
	Format  string `json:"format"`
}

func (s *Server) handleGetScrollback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args scrollbackArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, format, errResult := s.lookupWithFormat(args.Session, args.Format)
	if errResult != nil {
		return errResult, nil
	}
	limit := 1 << 30
	if args.Limit != nil {
		limit = *args.Limit
	}
	chunk, err := sess.Parser().Scrollback(ctx, format, args.Offset, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read scrollback: %v", err)), nil
	}
	return resultJSON(chunk)
}

type sendInputArgs struct {
	Session string `json:"session"`
	Data    string `json:"data"`
	Base64  bool   `json:"base64"`
}

func (s *Server) handleSendInput(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args sendInputArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, err := s.reg.Get(args.Session)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data := []byte(args.Data)
	if args.Base64 {
		decoded, err := base64.StdEncoding.DecodeString(args.Data)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("decode base64 data: %v", err)), nil
		}
		data = decoded
	}
	if err := sess.SendInput(data); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("send input: %v", err)), nil
	}
	return resultJSON(map[string]int{"bytes": len(data)})
}

type sendKeysArgs struct {
	Session string   `json:"session"`
	Keys    []string `json:"keys"`
}

func (s *Server) handleSendKeys(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args sendKeysArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if len(args.Keys) == 0 {
		return mcp.NewToolResultError("keys is required"), nil
	}
	sess, err := s.reg.Get(args.Session)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var data []byte
	for _, key := range args.Keys {
		data = append(data, keyBytes(key)...)
	}
	if err := sess.SendInput(data); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("send keys: %v", err)), nil
	}
	return resultJSON(map[string]int{"bytes": len(data)})
}

type awaitQuiesceArgs struct {
	Session   string `json:"session"`
	TimeoutMS int    `json:"timeout_ms"`
	MaxWaitMS int    `json:"max_wait_ms"`
	Format    string `json:"format"`
}

func (s *Server) handleAwaitQuiesce(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args awaitQuiesceArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	sess, format, errResult := s.lookupWithFormat(args.Session, args.Format)
	if errResult != nil {
		return errResult, nil
	}

	timeoutMS := args.TimeoutMS
	if timeoutMS == 0 {
		timeoutMS = 2000
	}
	maxWaitMS := args.MaxWaitMS
	if maxWaitMS == 0 {
		maxWaitMS = 30000
	}
	if timeoutMS < 0 || maxWaitMS < 0 {
		return mcp.NewToolResultError("timeout_ms and max_wait_ms must be positive"), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(maxWaitMS)*time.Millisecond)
	defer cancel()

	if _, err := sess.Activity.WaitFreshIdle(waitCtx, time.Duration(timeoutMS)*time.Millisecond); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return mcp.NewToolResultError(fmt.Sprintf("terminal did not settle within %dms", maxWaitMS)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("await quiesce: %v", err)), nil
	}

	snap, err := sess.Parser().Snapshot(ctx, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read screen: %v", err)), nil
	}
	return resultJSON(map[string]any{
		"screen":           snap,
		"scrollback_lines": snap.FirstLineIndex,
	})
}

// lookupWithFormat resolves the session and format arguments shared by the
// read tools.
func (s *Server) lookupWithFormat(name, formatArg string) (*session.Session, parser.Format, *mcp.CallToolResult) {
	if name == "" {
		return nil, "", mcp.NewToolResultError("session is required")
	}
	sess, err := s.reg.Get(name)
	if err != nil {
		return nil, "", mcp.NewToolResultError(err.Error())
	}
	format, err := parser.ParseFormat(formatArg)
	if err != nil {
		return nil, "", mcp.NewToolResultError(err.Error())
	}
	return sess, format, nil
}

// namedKeys maps key names to the byte sequences a terminal would send.
var namedKeys = map[string][]byte{
	"enter":     {'\r'},
	"tab":       {'\t'},
	"space":     {' '},
	"escape":    {0x1b},
	"esc":       {0x1b},
	"backspace": {0x7f},
	"up":        []byte("\x1b[A"),
	"down":      []byte("\x1b[B"),
	"right":     []byte("\x1b[C"),
	"left":      []byte("\x1b[D"),
	"home":      []byte("\x1b[H"),
	"end":       []byte("\x1b[F"),
	"pageup":    []byte("\x1b[5~"),
	"pagedown":  []byte("\x1b[6~"),
	"delete":    []byte("\x1b[3~"),
}

// keyBytes translates one key name. Names are case-insensitive; ctrl+a
// through ctrl+z map to control bytes; anything else passes through
// literally so plain text can ride the same call.
func keyBytes(name string) []byte {
	lower := strings.ToLower(name)
	if seq, ok := namedKeys[lower]; ok {
		return seq
	}
	if rest, ok := strings.CutPrefix(lower, "ctrl+"); ok && len(rest) == 1 {
		if c := rest[0]; c >= 'a' && c <= 'z' {
			return []byte{c - 'a' + 1}
		}
	}
	return []byte(name)
}

// resultJSON marshals v to JSON and returns it as a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
