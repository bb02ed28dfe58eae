// Package transport speaks the framed protocol on the per-instance unix
// socket: one byte of frame type, a 4-byte big-endian payload length, then
// the payload. Control frames carry JSON; StdinInput and PtyOutput carry
// raw bytes so the attach hot path never re-encodes terminal output.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// FrameType is the one-byte frame discriminator.
type FrameType byte

const (
	FrameCreateSession         FrameType = 1
	FrameCreateSessionResponse FrameType = 2
	FrameAttachSession         FrameType = 3
	FrameAttachSessionResponse FrameType = 4
	FrameListSessions          FrameType = 5
	FrameListSessionsResponse  FrameType = 6
	FrameKillSession           FrameType = 7
	FrameStdinInput            FrameType = 8
	FramePtyOutput             FrameType = 9
	FrameResize                FrameType = 10
	FrameDetach                FrameType = 11
)

func (t FrameType) String() string {
	switch t {
	case FrameCreateSession:
		return "create_session"
	case FrameCreateSessionResponse:
		return "create_session_response"
	case FrameAttachSession:
		return "attach_session"
	case FrameAttachSessionResponse:
		return "attach_session_response"
	case FrameListSessions:
		return "list_sessions"
	case FrameListSessionsResponse:
		return "list_sessions_response"
	case FrameKillSession:
		return "kill_session"
	case FrameStdinInput:
		return "stdin_input"
	case FramePtyOutput:
		return "pty_output"
	case FrameResize:
		return "resize"
	case FrameDetach:
		return "detach"
	}
	return fmt.Sprintf("frame(%d)", byte(t))
}

// maxPayload bounds a single frame. Scrollback replays are the largest
// legitimate payloads and stay well under this.
const maxPayload = 16 << 20

// Frame is one decoded unit off the wire.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// WriteFrame encodes one frame. The payload may be nil for signal-only
// frames such as Detach.
func WriteFrame(w io.Writer, t FrameType, payload []byte) error {
	if len(payload) > maxPayload {
		return fmt.Errorf("%s payload %d bytes exceeds %d limit", t, len(payload), maxPayload)
	}
	var hdr [5]byte
	hdr[0] = byte(t)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write %s header: %w", t, err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write %s payload: %w", t, err)
	}
	return nil
}

// ReadFrame decodes one frame, rejecting payloads over maxPayload before
// allocating.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxPayload {
		return Frame{}, fmt.Errorf("%s payload %d bytes exceeds %d limit", FrameType(hdr[0]), n, maxPayload)
	}
	f := Frame{Type: FrameType(hdr[0])}
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, fmt.Errorf("read %s payload: %w", f.Type, err)
		}
	}
	return f, nil
}

// Control payloads. Responses carry Error instead of a status code; an
// empty Error means success.

type CreateSessionRequest struct {
	Name    string            `json:"name,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	CWD     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Rows    int               `json:"rows,omitempty"`
	Cols    int               `json:"cols,omitempty"`
	Tags    []string          `json:"tags,omitempty"`
}

type CreateSessionResponse struct {
	Name  string `json:"name,omitempty"`
	PID   int    `json:"pid,omitempty"`
	Rows  int    `json:"rows,omitempty"`
	Cols  int    `json:"cols,omitempty"`
	Error string `json:"error,omitempty"`
}

type AttachSessionRequest struct {
	Name string `json:"name"`
	// Rows/Cols, when set, resize the session to the attaching terminal
	// before the screen replay.
	Rows int `json:"rows,omitempty"`
	Cols int `json:"cols,omitempty"`
}

type AttachSessionResponse struct {
	Name  string `json:"name,omitempty"`
	Rows  int    `json:"rows,omitempty"`
	Cols  int    `json:"cols,omitempty"`
	Error string `json:"error,omitempty"`
}

// SessionEntry is one row of a list response.
type SessionEntry struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Rows      int       `json:"rows"`
	Cols      int       `json:"cols"`
	Clients   int       `json:"clients"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ListSessionsResponse struct {
	Sessions []SessionEntry `json:"sessions"`
}

type KillSessionRequest struct {
	Name string `json:"name"`
}

// KillSessionResponse rides a KillSession frame back to the client; the
// type list has no dedicated response type, so direction disambiguates.
type KillSessionResponse struct {
	Killed bool   `json:"killed,omitempty"`
	Error  string `json:"error,omitempty"`
}

type ResizeRequest struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// DetachInfo rides a server-sent Detach frame. Client-sent Detach frames
// carry no payload; readers must tolerate an empty one.
type DetachInfo struct {
	Reason   string `json:"reason,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}
