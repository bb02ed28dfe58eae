package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/perchlabs/perch/internal/transport"
)

// detachKey is Ctrl-], scanned in the stdin pump before forwarding.
const detachKey = 0x1d

func attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <session>",
		Short: "Attach this terminal to a session",
		Long:  "Streams the session to this terminal and forwards keystrokes. Detach with Ctrl-] without killing the session.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialServer(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			return attachSession(client, args[0])
		},
	}
}

func attachSession(client *transport.Client, name string) error {
	fd := int(os.Stdin.Fd())

	req := transport.AttachSessionRequest{Name: name}
	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			req.Cols, req.Rows = w, h
		}
	}

	if _, err := client.Attach(req); err != nil {
		return fmt.Errorf("attach %s: %w", name, err)
	}

	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)
	go func() {
		for range winchCh {
			if w, h, err := term.GetSize(fd); err == nil {
				client.SendResize(h, w)
			}
		}
	}()

	// Either pump finishing ends the attach; buffered so the loser of the
	// race never blocks.
	done := make(chan detachResult, 2)

	// Server → stdout.
	go func() {
		for {
			f, err := client.ReadFrame()
			if err != nil {
				done <- detachResult{err: err}
				return
			}
			switch f.Type {
			case transport.FramePtyOutput:
				os.Stdout.Write(f.Payload)
			case transport.FrameDetach:
				var info transport.DetachInfo
				if len(f.Payload) > 0 {
					json.Unmarshal(f.Payload, &info)
				}
				done <- detachResult{info: info}
				return
			}
		}
	}()

	// Stdin → server, watching for the detach key.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if i := bytes.IndexByte(buf[:n], detachKey); i >= 0 {
					if i > 0 {
						client.SendStdin(append([]byte(nil), buf[:i]...))
					}
					client.SendDetach()
					done <- detachResult{info: transport.DetachInfo{Reason: "detached"}}
					return
				}
				data := make([]byte, n)
				copy(data, buf[:n])
				if err := client.SendStdin(data); err != nil {
					done <- detachResult{err: err}
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	res := <-done
	if res.err != nil {
		fmt.Printf("\r\n[connection lost: %v]\r\n", res.err)
		return nil
	}
	switch res.info.Reason {
	case "session_closed":
		if res.info.ExitCode != nil && *res.info.ExitCode != 0 {
			fmt.Printf("\r\n[session %s ended]\r\n", name)
			return fmt.Errorf("session exited with code %d", *res.info.ExitCode)
		}
		fmt.Printf("\r\n[session %s ended]\r\n", name)
	default:
		fmt.Printf("\r\n[detached from %s]\r\n", name)
	}
	return nil
}

type detachResult struct {
	info transport.DetachInfo
	err  error
}
