package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// PTYOptions configures a spawned pseudo-terminal.
type PTYOptions struct {
	Command string
	Args    []string
	CWD     string
	Env     map[string]string
	Rows    int
	Cols    int
}

// PTY wraps the master side of a pseudo-terminal and the child it drives.
type PTY struct {
	ptmx    *os.File
	cmd     *exec.Cmd
	command string

	done     chan struct{}
	exitCode int
}

// StartPTY spawns the command inside a new PTY sized rows x cols. An empty
// command falls back to the user's login shell, then /bin/sh.
func StartPTY(opts PTYOptions) (*PTY, error) {
	name := opts.Command
	var args []string
	if name == "" {
		name = os.Getenv("SHELL")
		if name == "" {
			name = "/bin/sh"
		}
	} else {
		args = opts.Args
	}

	// os/exec requires CommandContext when Cancel is set below; the Background
	// context is never canceled, so termination stays driven by Close/Signal.
	cmd := exec.CommandContext(context.Background(), name, args...)
	if opts.CWD != "" {
		cmd.Dir = opts.CWD
	}

	env := os.Environ()
	env = append(env, "TERM=xterm-256color")
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	// Graceful termination: SIGTERM first, hard kill after WaitDelay.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	rows, cols := opts.Rows, opts.Cols
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	display := name
	if len(args) > 0 {
		display = name + " " + strings.Join(args, " ")
	}

	p := &PTY{
		ptmx:    ptmx,
		cmd:     cmd,
		command: display,
		done:    make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *PTY) wait() {
	code := 0
	if err := p.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}
	p.exitCode = code
	close(p.done)
}

// Read reads PTY output into buf. When the child exits the master read fails
// with EIO; IsExitRead classifies that.
func (p *PTY) Read(buf []byte) (int, error) {
	return p.ptmx.Read(buf)
}

// Write sends input to the child.
func (p *PTY) Write(data []byte) (int, error) {
	return p.ptmx.Write(data)
}

// Resize sets the PTY window size.
func (p *PTY) Resize(rows, cols int) error {
	if rows < 0 || cols < 0 {
		return fmt.Errorf("invalid size %dx%d", cols, rows)
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// PID returns the child process id.
func (p *PTY) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Command returns the spawned command line for display.
func (p *PTY) Command() string { return p.command }

// Done is closed once the child has exited.
func (p *PTY) Done() <-chan struct{} { return p.done }

// ExitCode returns the child's exit code; valid only after Done is closed.
func (p *PTY) ExitCode() int { return p.exitCode }

// Signal sends sig to the child if it is still running.
func (p *PTY) Signal(sig os.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

// Close terminates the child (SIGTERM, then SIGKILL if it lingers) and
// closes the master fd, which unblocks the reader thread.
func (p *PTY) Close() {
	select {
	case <-p.done:
	default:
		if p.cmd.Process != nil {
			p.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-p.done:
			case <-time.After(3 * time.Second):
				p.cmd.Process.Kill()
			}
		}
	}
	p.ptmx.Close()
}

// IsExitRead reports whether a PTY read error is the expected EIO that Linux
// returns once the child side is gone.
func IsExitRead(err error) bool {
	return errors.Is(err, unix.EIO)
}
