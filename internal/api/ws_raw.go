package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/parser"
	"github.com/perchlabs/perch/internal/session"
)

// handleWSRaw is the binary passthrough: PTY output out, input bytes in.
// The client is primed with an ANSI replay of the current screen so it can
// render without waiting for fresh output.
func (s *State) handleWSRaw(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin was already checked by the middleware.
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("raw ws accept failed", "session", sess.Name(), "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess.AddClient()
	defer sess.RemoveClient()

	go func() {
		select {
		case <-ctx.Done():
		case <-sess.Detach():
			conn.Close(websocket.StatusGoingAway, "detached")
		case <-sess.Context().Done():
			conn.Close(websocket.StatusGoingAway, "session closed")
		}
	}()

	// Subscribing before the replay snapshot means a chunk can appear in
	// both; after a full-screen replay the duplicate redraw is harmless,
	// while the other order would lose bytes.
	sub := sess.SubscribeOutput(256)
	defer sess.UnsubscribeOutput(sub)

	if data, err := replayScreen(ctx, sess); err == nil {
		if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
			return
		}
	}

	go func() {
		defer cancel()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pctx, pcancel := context.WithTimeout(ctx, wsWriteTimeout)
				err := conn.Ping(pctx)
				pcancel()
				if err != nil {
					return
				}
			case chunk, ok := <-sub.C:
				if !ok {
					return
				}
				if sub.TakeLagged() {
					// Dropped chunks would corrupt the terminal; replay the
					// whole screen instead.
					data, err := replayScreen(ctx, sess)
					if err != nil {
						return
					}
					if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
						return
					}
					continue
				}
				if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if err := sess.SendInput(data); err != nil {
			// A full input channel drops the chunk; the raw protocol has no
			// error frame to carry it.
			if apierr.HasCode(err, "channel_full") {
				continue
			}
			return
		}
	}
}

func replayScreen(ctx context.Context, sess *session.Session) ([]byte, error) {
	snap, err := sess.Parser().Snapshot(ctx, parser.FormatStyled)
	if err != nil {
		return nil, err
	}
	return parser.RenderANSI(snap), nil
}
