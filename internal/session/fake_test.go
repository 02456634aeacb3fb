package session

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"
)

type fakeProcess struct {
	pid    int
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	written  bytes.Buffer
	exitCode int
	resized  [2]uint16
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, out: make(chan []byte, 64), closed: make(chan struct{})}
}

func (p *fakeProcess) Read(b []byte) (int, error) {
	select {
	case chunk := <-p.out:
		return copy(b, chunk), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakeProcess) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakeProcess) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resized = [2]uint16{cols, rows}
	return nil
}

func (p *fakeProcess) Kill() error { p.exit(-1); return nil }

func (p *fakeProcess) Wait() (int, error) {
	<-p.closed
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, nil
}

func (p *fakeProcess) Pid() int     { return p.pid }
func (p *fakeProcess) Close() error { return nil }

func (p *fakeProcess) emit(s string) { p.out <- []byte(s) }

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		close(p.closed)
	})
}

func (p *fakeProcess) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProcess
	reqs  []SpawnRequest
	err   error
}

func (s *fakeSpawner) Spawn(req SpawnRequest) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess(1000 + len(s.procs))
	s.procs = append(s.procs, p)
	s.reqs = append(s.reqs, req)
	return p, nil
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func nextEvent(t *testing.T, ch <-chan Event, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}
