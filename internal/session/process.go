package session

import "io"

// Process is a running interactive subprocess attached to a terminal.
type Process interface {
	io.ReadWriter
	// Resize changes the terminal window size.
	Resize(cols, rows uint16) error
	// Kill terminates the process and its process group.
	Kill() error
	// Wait blocks until the process exits and returns its exit code.
	// A process killed by a signal reports -1.
	Wait() (int, error)
	Pid() int
	Close() error
}

// SpawnRequest describes the process a Spawner should start.
type SpawnRequest struct {
	Shell string
	Dir   string
	Env   []string
	Cols  uint16
	Rows  uint16
}

// Spawner starts interactive processes.
type Spawner interface {
	Spawn(req SpawnRequest) (Process, error)
}
