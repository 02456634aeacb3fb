//go:build !windows

package session

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// PTYSpawner starts shells inside a pseudo-terminal.
type PTYSpawner struct{}

// Spawn starts req.Shell as an interactive login-less shell in req.Dir.
func (PTYSpawner) Spawn(req SpawnRequest) (Process, error) {
	shell := req.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, req.Env...)

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: req.Cols, Rows: req.Rows})
	if err != nil {
		return nil, err
	}
	return &ptyProcess{cmd: cmd, f: f}, nil
}

type ptyProcess struct {
	cmd *exec.Cmd
	f   *os.File
}

func (p *ptyProcess) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *ptyProcess) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *ptyProcess) Pid() int                    { return p.cmd.Process.Pid }
func (p *ptyProcess) Close() error                { return p.f.Close() }

func (p *ptyProcess) Resize(cols, rows uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: cols, Rows: rows})
}

// Kill signals the whole session group so the agent started inside the
// shell does not keep the terminal open.
func (p *ptyProcess) Kill() error {
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *ptyProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
