package fed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/perchlabs/perch/internal/logger"
)

const (
	pingInterval   = 30 * time.Second
	pingTimeout    = 10 * time.Second
	infoTimeout    = 10 * time.Second
	wsReadLimit    = 512 * 1024
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// errSelfLoop aborts a supervisor permanently: the "remote" peer is us.
var errSelfLoop = errors.New("backend is this server")

// ServerInfo is the identity a peer reports at GET /server/info.
type ServerInfo struct {
	Hostname string `json:"hostname"`
	ServerID string `json:"server_id"`
}

// conn supervises one backend: dial, identify, hold the control channel
// open with pings, and reconnect with doubling backoff.
type conn struct {
	address string
	token   string
	localID string
	reg     *Registry
	client  *http.Client
}

// run loops until ctx is cancelled or the self-loop guard trips.
func (c *conn) run(ctx context.Context) {
	bo := backoff{base: initialBackoff, max: maxBackoff}
	for {
		if ctx.Err() != nil {
			return
		}
		c.reg.SetHealth(c.address, HealthConnecting)
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errSelfLoop) {
			logger.Warn("backend rejected: it is this server", "address", c.address)
			c.reg.SetHealth(c.address, HealthRejected)
			return
		}
		if connected {
			bo.reset()
		}
		c.reg.SetHealth(c.address, HealthUnavailable)
		delay := bo.next()
		logger.Warn("backend disconnected", "address", c.address, "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndServe performs one connection attempt. connected reports
// whether the dial succeeded, which resets the caller's backoff.
func (c *conn) connectAndServe(ctx context.Context) (connected bool, err error) {
	opts := &websocket.DialOptions{
		HTTPClient: c.client,
		HTTPHeader: make(http.Header),
	}
	if c.token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.token)
	}

	ws, _, dialErr := websocket.Dial(ctx, wsURL(c.address)+"/ws/json", opts)
	if dialErr != nil {
		return false, fmt.Errorf("dial: %w", dialErr)
	}
	ws.SetReadLimit(wsReadLimit)
	defer ws.CloseNow()
	connected = true

	info, err := c.fetchServerInfo(ctx)
	if err != nil {
		return connected, fmt.Errorf("server info: %w", err)
	}
	if info.ServerID != "" && info.ServerID == c.localID {
		return connected, errSelfLoop
	}
	if err := c.reg.SetHostname(c.address, info.Hostname); err != nil {
		return connected, err
	}
	c.reg.SetServerID(c.address, info.ServerID)
	c.reg.SetHealth(c.address, HealthHealthy)
	logger.Info("backend connected", "address", c.address, "hostname", info.Hostname)

	// Drain the channel so pings from the peer are answered; we carry no
	// application traffic over the control channel today.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return connected, ctx.Err()
		case err := <-readErr:
			return connected, fmt.Errorf("read: %w", err)
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return connected, fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (c *conn) fetchServerInfo(ctx context.Context) (*ServerInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.address+"/server/info", nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBytes))
	if err != nil {
		return nil, err
	}
	var info ServerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}
	if info.Hostname == "" {
		return nil, fmt.Errorf("peer reported no hostname")
	}
	return &info, nil
}

// wsURL converts an http(s) base URL to its ws(s) form.
func wsURL(base string) string {
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://")
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}
