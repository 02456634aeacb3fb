//go:build windows

package session

import "errors"

// PTYSpawner is unavailable on Windows.
type PTYSpawner struct{}

// Spawn always fails on Windows.
func (PTYSpawner) Spawn(SpawnRequest) (Process, error) {
	return nil, errors.New("pty sessions are not supported on windows")
}
