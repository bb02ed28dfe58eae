package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/parser"
	"github.com/perchlabs/perch/internal/session"
)

// firstFrameTimeout is how long a fresh connection may sit silent before
// the server drops it.
const firstFrameTimeout = 5 * time.Second

// Server answers the framed protocol on a unix socket. Create, list and
// kill are request/response; attach turns the connection into a byte pump
// until detach or drop.
type Server struct {
	reg        *session.Registry
	socketPath string
	scrollback int

	// firstFrame is overridable in tests; everything else uses the 5s
	// default.
	firstFrame time.Duration
}

func NewServer(reg *session.Registry, socketPath string, scrollback int) *Server {
	return &Server{
		reg:        reg,
		socketPath: socketPath,
		scrollback: scrollback,
		firstFrame: firstFrameTimeout,
	}
}

// ListenAndServe accepts connections until ctx is cancelled. The socket
// file is removed on the way out.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Clean up stale socket.
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", s.socketPath, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.acceptLoop(ctx, ln)
	}()

	select {
	case <-ctx.Done():
		ln.Close()
		<-errCh
		os.Remove(s.socketPath)
		return nil
	case err := <-errCh:
		os.Remove(s.socketPath)
		return err
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.serveConn(ctx, conn)
	}
}

// serveConn reads frames until the connection is consumed by an attach,
// explicitly detached, or dropped.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(s.firstFrame))

	for {
		f, err := ReadFrame(conn)
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Time{})

		switch f.Type {
		case FrameCreateSession:
			err = s.handleCreate(conn, f.Payload)
		case FrameListSessions:
			err = s.handleList(conn)
		case FrameKillSession:
			err = s.handleKill(conn, f.Payload)
		case FrameAttachSession:
			s.handleAttach(ctx, conn, f.Payload)
			return
		case FrameDetach:
			return
		default:
			logger.Warn("transport: unexpected frame", "type", f.Type.String())
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) handleCreate(conn net.Conn, payload []byte) error {
	var req CreateSessionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return writeControl(conn, FrameCreateSessionResponse, CreateSessionResponse{Error: "decode create request: " + err.Error()})
	}
	sess, err := s.reg.Create(session.Options{
		Command:    req.Command,
		Args:       req.Args,
		CWD:        req.CWD,
		Env:        req.Env,
		Rows:       req.Rows,
		Cols:       req.Cols,
		Scrollback: s.scrollback,
		Tags:       req.Tags,
	}, req.Name)
	if err != nil {
		return writeControl(conn, FrameCreateSessionResponse, CreateSessionResponse{Error: err.Error()})
	}
	rows, cols := sess.Size()
	return writeControl(conn, FrameCreateSessionResponse, CreateSessionResponse{
		Name: sess.Name(),
		PID:  sess.PID(),
		Rows: rows,
		Cols: cols,
	})
}

func (s *Server) handleList(conn net.Conn) error {
	sessions := s.reg.List()
	out := make([]SessionEntry, 0, len(sessions))
	for _, sess := range sessions {
		rows, cols := sess.Size()
		out = append(out, SessionEntry{
			Name:      sess.Name(),
			PID:       sess.PID(),
			Command:   sess.Command(),
			Rows:      rows,
			Cols:      cols,
			Clients:   sess.Clients(),
			Tags:      sess.Tags(),
			CreatedAt: sess.CreatedAt(),
		})
	}
	return writeControl(conn, FrameListSessionsResponse, ListSessionsResponse{Sessions: out})
}

func (s *Server) handleKill(conn net.Conn, payload []byte) error {
	var req KillSessionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return writeControl(conn, FrameKillSession, KillSessionResponse{Error: "decode kill request: " + err.Error()})
	}
	if err := s.reg.Remove(req.Name); err != nil {
		return writeControl(conn, FrameKillSession, KillSessionResponse{Error: err.Error()})
	}
	return writeControl(conn, FrameKillSession, KillSessionResponse{Killed: true})
}

// handleAttach owns the connection for the rest of its life: output frames
// flow out from a broker subscription, stdin and resize frames flow in.
// A dropped socket detaches the client but leaves the session running.
func (s *Server) handleAttach(ctx context.Context, conn net.Conn, payload []byte) {
	var req AttachSessionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		writeControl(conn, FrameAttachSessionResponse, AttachSessionResponse{Error: "decode attach request: " + err.Error()})
		return
	}
	sess, err := s.reg.Get(req.Name)
	if err != nil {
		writeControl(conn, FrameAttachSessionResponse, AttachSessionResponse{Error: err.Error()})
		return
	}

	sess.AddClient()
	defer sess.RemoveClient()

	if req.Rows > 0 && req.Cols > 0 {
		if err := sess.Resize(ctx, req.Rows, req.Cols); err != nil {
			logger.Warn("attach resize failed", "session", sess.Name(), "error", err)
		}
	}

	rows, cols := sess.Size()
	if err := writeControl(conn, FrameAttachSessionResponse, AttachSessionResponse{
		Name: sess.Name(),
		Rows: rows,
		Cols: cols,
	}); err != nil {
		return
	}

	// Subscribing before the replay snapshot means a chunk can appear in
	// both; after a full-screen replay the duplicate redraw is harmless,
	// while the other order would lose bytes.
	sub := sess.SubscribeOutput(256)
	defer sess.UnsubscribeOutput(sub)

	if data, err := replayScreen(ctx, sess); err == nil {
		if err := WriteFrame(conn, FramePtyOutput, data); err != nil {
			return
		}
	}

	// Only the writer goroutine touches conn writes from here on.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Close()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-sess.Context().Done():
				writeControl(conn, FrameDetach, detachInfo(sess, "session_closed"))
				return
			case <-sess.Detach():
				writeControl(conn, FrameDetach, detachInfo(sess, "detached"))
				return
			case chunk, ok := <-sub.C:
				if !ok {
					writeControl(conn, FrameDetach, detachInfo(sess, "session_closed"))
					return
				}
				if sub.TakeLagged() {
					// Dropped chunks would corrupt the terminal; replay the
					// whole screen instead.
					data, err := replayScreen(ctx, sess)
					if err != nil {
						return
					}
					if err := WriteFrame(conn, FramePtyOutput, data); err != nil {
						return
					}
					continue
				}
				if err := WriteFrame(conn, FramePtyOutput, chunk); err != nil {
					return
				}
			}
		}
	}()

	for {
		f, err := ReadFrame(conn)
		if err != nil {
			break
		}
		switch f.Type {
		case FrameStdinInput:
			if err := sess.SendInput(f.Payload); err != nil {
				// A full input channel drops the chunk; the framed protocol
				// has no error frame to carry it.
				if !apierr.HasCode(err, "channel_full") {
					logger.Debug("attach input rejected", "session", sess.Name(), "error", err)
				}
			}
		case FrameResize:
			var rz ResizeRequest
			if err := json.Unmarshal(f.Payload, &rz); err != nil {
				continue
			}
			if rz.Rows > 0 && rz.Cols > 0 {
				if err := sess.Resize(ctx, rz.Rows, rz.Cols); err != nil {
					logger.Warn("attach resize failed", "session", sess.Name(), "error", err)
				}
			}
		case FrameDetach:
			close(stop)
			<-done
			return
		default:
			logger.Debug("attach: ignoring frame", "type", f.Type.String())
		}
	}

	close(stop)
	<-done
}

// detachInfo reports why an attach ended, carrying the child's exit code
// when it has one.
func detachInfo(sess *session.Session, reason string) DetachInfo {
	info := DetachInfo{Reason: reason}
	if sess.ChildExited() {
		code := sess.ExitCode()
		info.ExitCode = &code
	}
	return info
}

func replayScreen(ctx context.Context, sess *session.Session) ([]byte, error) {
	snap, err := sess.Parser().Snapshot(ctx, parser.FormatStyled)
	if err != nil {
		return nil, err
	}
	return parser.RenderANSI(snap), nil
}

func writeControl(conn net.Conn, t FrameType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return WriteFrame(conn, t, payload)
}
