package session

import (
	"sync"
	"time"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// IdleHandler is invoked once per quiescence window with the session id.
type IdleHandler = func(sessionID string)

// Session is one managed interactive process with its output buffer,
// metrics and idle detector.
type Session struct {
	ID        string
	Workspace string

	seq  int64
	proc Process
	mgr  *Manager

	writeMu sync.Mutex

	mu              sync.Mutex
	metrics         domain.SessionMetrics
	lines           *lineBuffer
	idleTimer       *time.Timer
	idleGen         uint64
	idleHandler     IdleHandler
	launchScheduled bool
	launched        bool
	terminated      bool
	exited          bool

	done     chan struct{}
	doneOnce sync.Once
}

// Done returns a channel that is closed when the process has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// readLoop pumps process output until the terminal closes, then reaps
// the process and reports the exit.
func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.handleOutput(chunk)
		}
		if err != nil {
			break
		}
	}

	code, err := s.proc.Wait()
	_ = s.proc.Close()
	s.markExited()
	s.mgr.handleExit(s, code, err)
}

// handleOutput records a chunk and restarts the quiescence timer.
// The first chunk also schedules the one-time agent launch.
func (s *Session) handleOutput(chunk []byte) {
	now := time.Now()

	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return
	}
	s.metrics.BytesRead += int64(len(chunk))
	s.metrics.LastOutputAt = now
	s.lines.Write(chunk)

	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleGen++
	gen := s.idleGen
	s.idleTimer = time.AfterFunc(s.mgr.opts.IdleThreshold, func() { s.fireIdle(gen) })

	scheduleLaunch := !s.launchScheduled
	s.launchScheduled = true
	s.mu.Unlock()

	if scheduleLaunch && s.mgr.opts.AgentCommand != "" {
		time.AfterFunc(s.mgr.opts.LaunchDelay, func() {
			if _, err := s.launch(); err != nil {
				s.mgr.logger.Warn("agent launch failed", "session_id", s.ID, "error", err)
			}
		})
	}

	s.mgr.events.publish(Event{Type: EventOutput, SessionID: s.ID, Data: chunk, At: now})
}

// fireIdle runs when a timer elapses. A timer superseded by later output
// carries a stale generation and does nothing.
func (s *Session) fireIdle(gen uint64) {
	s.mu.Lock()
	if gen != s.idleGen || s.exited || s.terminated {
		s.mu.Unlock()
		return
	}
	s.idleTimer = nil
	handler := s.idleHandler
	s.mu.Unlock()

	s.mgr.logger.Debug("session idle", "session_id", s.ID)
	s.mgr.events.publish(Event{Type: EventIdle, SessionID: s.ID})
	if handler != nil {
		handler(s.ID)
	}
}

// launch writes the agent command once. It reports whether this call
// performed the launch.
func (s *Session) launch() (bool, error) {
	s.mu.Lock()
	if s.launched || s.exited || s.terminated {
		s.mu.Unlock()
		return false, nil
	}
	s.launched = true
	s.mu.Unlock()

	if err := s.write([]byte(s.mgr.opts.AgentCommand + "\r")); err != nil {
		return false, err
	}
	s.mgr.logger.Info("agent launched", "session_id", s.ID, "command", s.mgr.opts.AgentCommand)
	return true, nil
}

func (s *Session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.proc.Write(data); err != nil {
		return domain.WrapEngineError(domain.ErrSessionWrite.Code, "write "+s.ID, err)
	}
	return nil
}

func (s *Session) setIdleHandler(h IdleHandler) {
	s.mu.Lock()
	s.idleHandler = h
	s.mu.Unlock()
}

func (s *Session) markTerminated() {
	s.mu.Lock()
	s.terminated = true
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.idleHandler = nil
	s.mu.Unlock()
}

func (s *Session) markExited() {
	s.mu.Lock()
	s.exited = true
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.idleHandler = nil
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) wasTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

func (s *Session) snapshotMetrics() domain.SessionMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *Session) recentLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines.Lines()
}
