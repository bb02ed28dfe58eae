package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/perchlabs/perch/internal/session"
)

// --- Helpers ---

func newServer(t *testing.T) *Server {
	t.Helper()
	reg := session.NewRegistry(8)
	t.Cleanup(reg.Drain)
	return &Server{reg: reg, scrollback: 1000}
}

func makeRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("result content is %T, not TextContent", result.Content[0])
	}
	return tc.Text
}

func createCat(t *testing.T, s *Server) string {
	t.Helper()
	result, err := s.handleCreateSession(context.Background(), makeRequest("create_session", map[string]any{
		"command": "cat",
		"rows":    8,
		"cols":    40,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("create failed: %s", resultText(t, result))
	}
	var created createSessionResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &created); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	return created.Name
}

// --- Tests ---

func TestListSessions_ReflectsRegistry(t *testing.T) {
	s := newServer(t)

	result, err := s.handleListSessions(context.Background(), makeRequest("list_sessions", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultText(t, result) != "[]" {
		t.Errorf("expected empty list, got %s", resultText(t, result))
	}

	name := createCat(t, s)

	result, err = s.handleListSessions(context.Background(), makeRequest("list_sessions", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sessions []sessionSummary
	if err := json.Unmarshal([]byte(resultText(t, result)), &sessions); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Name != name {
		t.Errorf("expected name %s, got %s", name, sessions[0].Name)
	}
	if sessions[0].Command != "cat" {
		t.Errorf("expected command cat, got %s", sessions[0].Command)
	}
	if sessions[0].Rows != 8 || sessions[0].Cols != 40 {
		t.Errorf("expected 8x40, got %dx%d", sessions[0].Rows, sessions[0].Cols)
	}
}

func TestCreateSession_RejectsBadName(t *testing.T) {
	s := newServer(t)

	result, err := s.handleCreateSession(context.Background(), makeRequest("create_session", map[string]any{
		"command": "cat",
		"name":    "bad name with spaces",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for invalid session name")
	}
}

func TestKillSession_RemovesAndReportsMissing(t *testing.T) {
	s := newServer(t)
	name := createCat(t, s)

	result, err := s.handleKillSession(context.Background(), makeRequest("kill_session", map[string]any{
		"session": name,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("kill failed: %s", resultText(t, result))
	}
	if s.reg.Len() != 0 {
		t.Errorf("expected empty registry after kill, got %d", s.reg.Len())
	}

	result, err = s.handleKillSession(context.Background(), makeRequest("kill_session", map[string]any{
		"session": name,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error killing a missing session")
	}
}

func TestGetScreen_RejectsUnknownFormat(t *testing.T) {
	s := newServer(t)
	name := createCat(t, s)

	result, err := s.handleGetScreen(context.Background(), makeRequest("get_screen", map[string]any{
		"session": name,
		"format":  "html",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for unknown format")
	}
}

func TestSendKeys_NamedKeysReachTerminal(t *testing.T) {
	s := newServer(t)
	name := createCat(t, s)

	result, err := s.handleSendKeys(context.Background(), makeRequest("send_keys", map[string]any{
		"session": name,
		"keys":    []any{"marco", "enter"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("send_keys failed: %s", resultText(t, result))
	}

	result, err = s.handleAwaitQuiesce(context.Background(), makeRequest("await_quiesce", map[string]any{
		"session":     name,
		"timeout_ms":  200,
		"max_wait_ms": 5000,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("await_quiesce failed: %s", resultText(t, result))
	}

	var settled struct {
		Screen struct {
			Lines []string `json:"lines"`
		} `json:"screen"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &settled); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	joined := strings.Join(settled.Screen.Lines, "\n")
	if !strings.Contains(joined, "marco") {
		t.Errorf("expected settled screen to contain the echo, got:\n%s", joined)
	}
}

func TestAwaitQuiesce_TimesOutUnderLoad(t *testing.T) {
	s := newServer(t)
	name := createCat(t, s)

	sess, err := s.reg.Get(name)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}

	// Keep the activity clock hot so the screen never settles.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sess.Activity.Touch()
			}
		}
	}()

	result, err := s.handleAwaitQuiesce(context.Background(), makeRequest("await_quiesce", map[string]any{
		"session":     name,
		"timeout_ms":  300,
		"max_wait_ms": 500,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected timeout error")
	}
	if text := resultText(t, result); !strings.Contains(text, "settle") {
		t.Errorf("expected settle timeout message, got: %s", text)
	}
}

func TestKeyBytes_Translation(t *testing.T) {
	cases := []struct {
		name string
		want []byte
	}{
		{"enter", []byte{'\r'}},
		{"Escape", []byte{0x1b}},
		{"up", []byte("\x1b[A")},
		{"ctrl+c", []byte{0x03}},
		{"ctrl+z", []byte{0x1a}},
		{"pagedown", []byte("\x1b[6~")},
		{"hello", []byte("hello")},
	}
	for _, tc := range cases {
		if got := keyBytes(tc.name); !bytes.Equal(got, tc.want) {
			t.Errorf("keyBytes(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
