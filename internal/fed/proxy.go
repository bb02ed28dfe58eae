package fed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coder/websocket"
)

// ProxyResult is a sanitized backend response ready to relay.
type ProxyResult struct {
	Status int
	Body   []byte
}

// ProxyHTTP forwards r to the backend, swaps in the backend's credential,
// and sanitizes the response body before it can reach the client. Session
// lists get the strict field allow-list; everything else the generic JSON
// check.
func ProxyHTTP(ctx context.Context, client *http.Client, b Backend, r *http.Request) (*ProxyResult, error) {
	outURL := b.Address + r.URL.Path
	query := r.URL.Query()
	query.Del("server")
	if encoded := query.Encode(); encoded != "" {
		outURL += "?" + encoded
	}

	var body io.Reader
	if r.Body != nil {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBytes))
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		if len(data) > 0 {
			body = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, outURL, body)
	if err != nil {
		return nil, err
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	if b.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	if len(raw) == 0 {
		return &ProxyResult{Status: resp.StatusCode}, nil
	}

	var clean []byte
	if r.Method == http.MethodGet && r.URL.Path == "/sessions" && resp.StatusCode == http.StatusOK {
		clean, err = SanitizeSessionList(raw, b.Hostname)
	} else {
		clean, err = SanitizeJSON(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", b.Hostname, err)
	}
	return &ProxyResult{Status: resp.StatusCode, Body: clean}, nil
}

// DialWS opens a WebSocket to the backend at the given path, carrying the
// backend's credential. The server query parameter is stripped so the peer
// treats the request as local.
func DialWS(ctx context.Context, client *http.Client, b Backend, path, rawQuery string) (*websocket.Conn, error) {
	target := wsURL(b.Address) + path
	if rawQuery != "" {
		q := stripServerParam(rawQuery)
		if q != "" {
			target += "?" + q
		}
	}
	opts := &websocket.DialOptions{
		HTTPClient: client,
		HTTPHeader: make(http.Header),
	}
	if b.Token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+b.Token)
	}
	conn, _, err := websocket.Dial(ctx, target, opts)
	if err != nil {
		return nil, fmt.Errorf("dial backend ws: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)
	return conn, nil
}

func stripServerParam(rawQuery string) string {
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, p := range parts {
		if strings.HasPrefix(p, "server=") || p == "server" {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "&")
}

// Bridge pumps frames between two WebSockets until either side closes or
// ctx is cancelled. Message types are preserved so raw binary streams
// survive the hop.
func Bridge(ctx context.Context, a, b *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	pump := func(dst, src *websocket.Conn) {
		for {
			typ, data, err := src.Read(ctx)
			if err != nil {
				errCh <- err
				return
			}
			if err := dst.Write(ctx, typ, data); err != nil {
				errCh <- err
				return
			}
		}
	}
	go pump(a, b)
	go pump(b, a)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
