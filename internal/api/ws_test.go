package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/perchlabs/perch/internal/config"
)

func wsAddr(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// wsTestFrame is the superset of response and event fields the tests touch.
type wsTestFrame struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Event  string          `json:"event"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Text   *string         `json:"text"`
	Screen json.RawMessage `json:"screen"`
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var f wsTestFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal frame %q: %v", data, err)
	}
	return f
}

func TestTicket_SingleUseAcrossUpgrades(t *testing.T) {
	_, srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.Token = "sekrit"
	})
	_, body := doReq(t, srv, http.MethodPost, "/auth/ws-ticket", "sekrit", nil)
	var out struct {
		Ticket string `json:"ticket"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal ticket: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsAddr(srv, "/ws/json?ticket="+out.Ticket), nil)
	if err != nil {
		t.Fatalf("first upgrade with ticket: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	if _, _, err := websocket.Dial(ctx, wsAddr(srv, "/ws/json?ticket="+out.Ticket), nil); err == nil {
		t.Error("second upgrade with the same ticket succeeded, want rejection")
	}
}

func TestOrigin_ExactMatchOnUpgrades(t *testing.T) {
	_, srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.AllowedOrigins = []string{"http://app.example"}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	evil := http.Header{}
	evil.Set("Origin", "http://evil.example")
	if _, _, err := websocket.Dial(ctx, wsAddr(srv, "/ws/json"), &websocket.DialOptions{HTTPHeader: evil}); err == nil {
		t.Error("upgrade with disallowed origin succeeded, want 403")
	}

	good := http.Header{}
	good.Set("Origin", "http://app.example")
	conn, _, err := websocket.Dial(ctx, wsAddr(srv, "/ws/json"), &websocket.DialOptions{HTTPHeader: good})
	if err != nil {
		t.Fatalf("upgrade with allowed origin: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	conn, _, err = websocket.Dial(ctx, wsAddr(srv, "/ws/json"), nil)
	if err != nil {
		t.Fatalf("upgrade without origin header: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestWSJSON_SubscribeStreamsLines(t *testing.T) {
	_, srv := newTestServer(t, nil)
	name := createCat(t, srv, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsAddr(srv, "/sessions/"+name+"/ws/json"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	sendFrame(t, ctx, conn, map[string]any{"id": 1, "method": "subscribe"})

	ack := readFrame(t, ctx, conn)
	if ack.Method != "subscribe" || ack.Error != nil {
		t.Fatalf("first frame = %+v, want subscribe ack", ack)
	}
	sync := readFrame(t, ctx, conn)
	if sync.Event != "sync" {
		t.Fatalf("second frame event = %q, want sync", sync.Event)
	}
	if len(sync.Screen) == 0 {
		t.Error("sync frame carries no screen")
	}

	sendFrame(t, ctx, conn, map[string]any{"id": 2, "method": "send_input", "params": map[string]any{"data": "marco\n"}})

	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("no line frame carried the echoed input")
		}
		f := readFrame(t, ctx, conn)
		if f.Event == "line" && f.Text != nil && strings.Contains(*f.Text, "marco") {
			break
		}
	}
}

func TestWSJSON_DisconnectReleasesCapture(t *testing.T) {
	_, srv := newTestServer(t, nil)
	name := createCat(t, srv, "")
	base := "/sessions/" + name

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsAddr(srv, base+"/ws/json"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	sendFrame(t, ctx, conn, map[string]any{"id": 1, "method": "capture_input", "params": map[string]string{"owner": "A"}})
	reply := readFrame(t, ctx, conn)
	if reply.Error != nil {
		t.Fatalf("capture over ws failed: %+v", reply.Error)
	}

	resp, body := doReq(t, srv, http.MethodPost, base+"/input/capture", "", map[string]string{"owner": "B"})
	code, message := decodeErr(t, body)
	if resp.StatusCode != http.StatusBadRequest || code != "invalid_input_mode" {
		t.Errorf("conflicting capture = %d %q, want 400 invalid_input_mode", resp.StatusCode, code)
	}
	if !strings.Contains(message, "A") {
		t.Errorf("conflict message %q does not name owner A", message)
	}

	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(3 * time.Second)
	for {
		_, body := doReq(t, srv, http.MethodGet, base+"/input/mode", "", nil)
		var mode struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal(body, &mode); err != nil {
			t.Fatalf("unmarshal mode: %v", err)
		}
		if mode.Mode == "passthrough" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("input mode = %q after disconnect, want passthrough", mode.Mode)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWSRaw_PrimesThenEchoes(t *testing.T) {
	_, srv := newTestServer(t, nil)
	name := createCat(t, srv, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsAddr(srv, "/sessions/"+name+"/ws/raw"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	typ, prime, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read prime frame: %v", err)
	}
	if typ != websocket.MessageBinary {
		t.Errorf("prime frame type = %v, want binary", typ)
	}
	if !bytes.HasPrefix(prime, []byte("\x1b[2J\x1b[H")) {
		t.Errorf("prime frame starts %q, want clear+home replay", prime[:min(len(prime), 8)])
	}

	if err := conn.Write(ctx, websocket.MessageBinary, []byte("ping\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var seen []byte
	for {
		if time.Now().After(deadline) {
			t.Fatalf("no output frame carried the echo; saw %q", seen)
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		seen = append(seen, data...)
		if bytes.Contains(seen, []byte("ping")) {
			return
		}
	}
}
