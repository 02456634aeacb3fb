// Package session manages interactive terminal sessions that host a coding
// agent, buffers their recent output and detects when they go quiet.
package session

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// Options configures a Manager. Zero values take defaults.
type Options struct {
	Shell         string
	AgentCommand  string
	LaunchDelay   time.Duration
	IdleThreshold time.Duration
	BufferLines   int
	Cols          uint16
	Rows          uint16
	Env           []string
	Spawner       Spawner
	Logger        *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.LaunchDelay <= 0 {
		o.LaunchDelay = time.Second
	}
	if o.IdleThreshold <= 0 {
		o.IdleThreshold = 5 * time.Second
	}
	if o.BufferLines <= 0 {
		o.BufferLines = 50
	}
	if o.Cols == 0 {
		o.Cols = 120
	}
	if o.Rows == 0 {
		o.Rows = 32
	}
	if o.Spawner == nil {
		o.Spawner = PTYSpawner{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Manager creates, tracks and terminates sessions.
type Manager struct {
	opts   Options
	logger *slog.Logger
	events *broker

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	seq      atomic.Int64
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		opts:     opts,
		logger:   opts.Logger,
		events:   newBroker(opts.Logger),
		sessions: make(map[string]*Session),
	}
}

// Subscribe returns a channel of session events and a cancel function.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.subscribe(buffer)
}

// Create spawns a shell rooted at workspace (the home directory when empty).
// A spawn failure is published as an error event and also returned.
func (m *Manager) Create(workspace string) (string, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return "", domain.ErrManagerClosed
	}

	if workspace == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", m.spawnFailed("", fmt.Errorf("resolve home directory: %w", err))
		}
		workspace = home
	}

	id := "ses-" + uuid.NewString()
	proc, err := m.opts.Spawner.Spawn(SpawnRequest{
		Shell: m.opts.Shell,
		Dir:   workspace,
		Env:   m.opts.Env,
		Cols:  m.opts.Cols,
		Rows:  m.opts.Rows,
	})
	if err != nil {
		return "", m.spawnFailed(id, err)
	}

	sess := &Session{
		ID:        id,
		Workspace: workspace,
		seq:       m.seq.Add(1),
		proc:      proc,
		mgr:       m,
		lines:     newLineBuffer(m.opts.BufferLines),
		done:      make(chan struct{}),
		metrics: domain.SessionMetrics{
			PID:       proc.Pid(),
			SpawnedAt: time.Now().UTC(),
		},
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	go sess.readLoop()

	m.logger.Info("session created", "session_id", id, "workspace", workspace, "pid", sess.metrics.PID)
	return id, nil
}

func (m *Manager) spawnFailed(id string, err error) error {
	wrapped := domain.WrapEngineError(domain.ErrSpawnFailed.Code, domain.ErrSpawnFailed.Message, err)
	m.logger.Error("session spawn failed", "session_id", id, "error", err)
	m.events.publish(Event{Type: EventError, SessionID: id, Err: wrapped})
	return wrapped
}

// Write forwards raw input to a session. Unknown sessions are logged and
// reported with ErrSessionNotFound; nothing is written.
func (m *Manager) Write(id string, data []byte) error {
	sess, err := m.get(id)
	if err != nil {
		m.logger.Warn("write to unknown session", "session_id", id)
		return err
	}
	return sess.write(data)
}

// Resize changes a session's terminal size. Errors from a process that has
// already died are swallowed.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	sess, err := m.get(id)
	if err != nil {
		return err
	}
	if err := sess.proc.Resize(cols, rows); err != nil {
		m.logger.Debug("resize ignored", "session_id", id, "error", err)
	}
	return nil
}

// Terminate kills a session's process and forgets it. The exit event is
// still published, flagged as terminated.
func (m *Manager) Terminate(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}

	sess.markTerminated()
	err := sess.proc.Kill()
	m.logger.Info("session terminated", "session_id", id)
	return err
}

// LaunchAgent writes the configured agent command into the session unless
// it was already launched. It reports whether this call launched it.
func (m *Manager) LaunchAgent(id string) (bool, error) {
	sess, err := m.get(id)
	if err != nil {
		return false, err
	}
	if m.opts.AgentCommand == "" {
		return false, nil
	}
	return sess.launch()
}

// SetIdleHandler installs the single idle callback for a session,
// replacing any previous one.
func (m *Manager) SetIdleHandler(id string, h IdleHandler) error {
	sess, err := m.get(id)
	if err != nil {
		return err
	}
	sess.setIdleHandler(h)
	return nil
}

// ClearIdleHandler removes a session's idle callback. Unknown ids are ignored.
func (m *Manager) ClearIdleHandler(id string) {
	if sess, err := m.get(id); err == nil {
		sess.setIdleHandler(nil)
	}
}

// RecentOutput returns a session's buffered lines, oldest first. An empty id
// selects the earliest-created live session. Unknown ids yield nil.
func (m *Manager) RecentOutput(id string) []string {
	var sess *Session
	if id == "" {
		ordered := m.ordered()
		if len(ordered) == 0 {
			return nil
		}
		sess = ordered[0]
	} else {
		s, err := m.get(id)
		if err != nil {
			return nil
		}
		sess = s
	}
	return sess.recentLines()
}

// Metrics returns a copy of a session's counters.
func (m *Manager) Metrics(id string) (domain.SessionMetrics, error) {
	sess, err := m.get(id)
	if err != nil {
		return domain.SessionMetrics{}, err
	}
	return sess.snapshotMetrics(), nil
}

// Exists reports whether id names a live session.
func (m *Manager) Exists(id string) bool {
	_, err := m.get(id)
	return err == nil
}

// Active returns the most recently created live session.
func (m *Manager) Active() (string, bool) {
	ordered := m.ordered()
	if len(ordered) == 0 {
		return "", false
	}
	return ordered[len(ordered)-1].ID, true
}

// List describes every live session in creation order.
func (m *Manager) List() []domain.SessionInfo {
	ordered := m.ordered()
	out := make([]domain.SessionInfo, 0, len(ordered))
	for _, s := range ordered {
		out = append(out, domain.SessionInfo{ID: s.ID, Workspace: s.Workspace, Metrics: s.snapshotMetrics()})
	}
	return out
}

// Close terminates every session, waits briefly for their exit events and
// closes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.markTerminated()
		_ = s.proc.Kill()
	}
	deadline := time.After(2 * time.Second)
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-deadline:
		}
	}
	m.events.close()
}

func (m *Manager) handleExit(s *Session, code int, err error) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.ID]; ok && cur == s {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()

	terminated := s.wasTerminated()
	if err != nil {
		m.logger.Warn("session wait failed", "session_id", s.ID, "error", err)
	}
	m.logger.Info("session exited", "session_id", s.ID, "exit_code", code, "terminated", terminated)
	m.events.publish(Event{Type: EventExit, SessionID: s.ID, ExitCode: code, Terminated: terminated, Err: err})
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

func (m *Manager) ordered() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
