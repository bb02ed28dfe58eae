package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Client speaks the framed protocol over the instance socket. Control
// calls are sequential request/response; after Attach the connection
// becomes a byte stream and SendStdin/SendResize/SendDetach may be called
// from different goroutines.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// call sends one control frame and decodes the typed reply. A nil req
// sends an empty payload.
func (c *Client) call(reqType FrameType, req any, wantType FrameType, out any) error {
	var payload []byte
	if req != nil {
		var err error
		payload, err = json.Marshal(req)
		if err != nil {
			return err
		}
	}
	if err := c.write(reqType, payload); err != nil {
		return err
	}
	f, err := ReadFrame(c.conn)
	if err != nil {
		return err
	}
	if f.Type != wantType {
		return fmt.Errorf("unexpected %s reply to %s", f.Type, reqType)
	}
	if err := json.Unmarshal(f.Payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", f.Type, err)
	}
	return nil
}

func (c *Client) write(t FrameType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.conn, t, payload)
}

func (c *Client) CreateSession(req CreateSessionRequest) (*CreateSessionResponse, error) {
	var resp CreateSessionResponse
	if err := c.call(FrameCreateSession, req, FrameCreateSessionResponse, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

func (c *Client) ListSessions() ([]SessionEntry, error) {
	var resp ListSessionsResponse
	if err := c.call(FrameListSessions, nil, FrameListSessionsResponse, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) KillSession(name string) error {
	var resp KillSessionResponse
	if err := c.call(FrameKillSession, KillSessionRequest{Name: name}, FrameKillSession, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

// Attach switches the connection into streaming mode. After a successful
// return the server sends PtyOutput and Detach frames; the caller pumps
// them with ReadFrame and writes input with SendStdin/SendResize.
func (c *Client) Attach(req AttachSessionRequest) (*AttachSessionResponse, error) {
	var resp AttachSessionResponse
	if err := c.call(FrameAttachSession, req, FrameAttachSessionResponse, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

// ReadFrame reads the next streaming frame. Only one goroutine may read.
func (c *Client) ReadFrame() (Frame, error) {
	return ReadFrame(c.conn)
}

func (c *Client) SendStdin(data []byte) error {
	return c.write(FrameStdinInput, data)
}

func (c *Client) SendResize(rows, cols int) error {
	payload, err := json.Marshal(ResizeRequest{Rows: rows, Cols: cols})
	if err != nil {
		return err
	}
	return c.write(FrameResize, payload)
}

func (c *Client) SendDetach() error {
	return c.write(FrameDetach, nil)
}
