package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Rogers-F/agentloop/internal/config"
	"github.com/Rogers-F/agentloop/internal/domain"
	"github.com/Rogers-F/agentloop/internal/redact"
	"github.com/Rogers-F/agentloop/internal/reviewer"
	"github.com/Rogers-F/agentloop/internal/session"
	"github.com/Rogers-F/agentloop/internal/snapshot"
	"github.com/Rogers-F/agentloop/internal/store"
	"github.com/Rogers-F/agentloop/internal/verify"
	"github.com/Rogers-F/agentloop/internal/workflow"
)

// app is the fully wired agent loop.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	jobs     *store.JobStore
	audit    *store.AuditRepo
	sessions *session.Manager
	reviews  *reviewer.Service
	orch     *workflow.Orchestrator

	stop context.CancelFunc
	done chan struct{}
}

// openStore opens the configured database, creating its directory.
func openStore(cfg *config.Config) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return store.NewDB(cfg.DBPath)
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	jobs := store.NewJobStore(db)

	sessions := session.NewManager(session.Options{
		Shell:         cfg.Shell,
		AgentCommand:  cfg.AgentCommand,
		LaunchDelay:   cfg.LaunchDelay(),
		IdleThreshold: cfg.IdleThreshold(),
		BufferLines:   cfg.BufferLines,
		Logger:        logger.With("component", "session"),
	})

	credential := cfg.Credential()
	snaps := snapshot.NewWriter(db, filepath.Join(cfg.DataDir, "snapshots"), sessions,
		redact.NewDefault().WithLiterals(credential), logger.With("component", "snapshot"))

	registry, err := reviewer.FromConfig(cfg, logger.With("component", "reviewer"))
	if err != nil {
		sessions.Close()
		db.Close()
		return nil, err
	}
	rv, err := registry.Get(cfg.Reviewer)
	if err != nil {
		sessions.Close()
		db.Close()
		return nil, err
	}
	reviews := reviewer.NewService(rv, snaps, jobs, db, logger.With("component", "reviewer"))

	settle := cfg.SettleDelay()
	if settle == 0 {
		// The orchestrator reads zero as its default.
		settle = -1
	}
	orch := workflow.New(workflow.Config{
		SettleDelay:     settle,
		VerifyTimeout:   cfg.VerifyTimeout(),
		SnapshotTimeout: cfg.SnapshotTimeout(),
		ReviewTimeout:   cfg.ReviewTimeout(),
		PromptDelay:     cfg.LaunchDelay(),
		MaxAutoFix:      cfg.AutoFixLimit(),
		VerifyProfile:   cfg.VerifyProfile,
		Credential:      credential,
		Logger:          logger.With("component", "workflow"),
	}, workflow.Deps{
		Sessions:  sessions,
		Verifier:  verify.NewRunner(verifyProfiles(cfg), logger.With("component", "verify")),
		Snapshots: snaps,
		Reviewer:  reviews,
		Jobs:      jobs,
	})
	if !orch.ReviewerConfigured() {
		logger.Warn("no reviewer credential configured, jobs will wait for approval after each snapshot")
	}

	ctx, stop := context.WithCancel(context.Background())
	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		jobs:     jobs,
		audit:    &store.AuditRepo{},
		sessions: sessions,
		reviews:  reviews,
		orch:     orch,
		stop:     stop,
		done:     make(chan struct{}),
	}
	go a.pumpSessionEvents(ctx)
	return a, nil
}

func verifyProfiles(cfg *config.Config) []verify.Profile {
	names := make([]string, 0, len(cfg.VerifyProfiles))
	for name := range cfg.VerifyProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]verify.Profile, 0, len(names))
	for _, name := range names {
		p := cfg.VerifyProfiles[name]
		out = append(out, verify.Profile{Name: name, Command: p.Command, Args: p.Args})
	}
	return out
}

// pumpSessionEvents forwards session exits and errors to the orchestrator
// and records exits in the audit log.
func (a *app) pumpSessionEvents(ctx context.Context) {
	defer close(a.done)
	events, cancel := a.sessions.Subscribe(64)
	defer cancel()

	out := make(chan workflow.SessionEvent, 64)
	defer close(out)
	go a.orch.Watch(ctx, out)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			var fwd workflow.SessionEvent
			switch ev.Type {
			case session.EventExit:
				a.recordExit(ev)
				fwd = workflow.SessionEvent{SessionID: ev.SessionID, Exited: true, ExitCode: ev.ExitCode, Terminated: ev.Terminated}
			case session.EventError:
				fwd = workflow.SessionEvent{SessionID: ev.SessionID, Err: ev.Err}
			default:
				continue
			}
			select {
			case out <- fwd:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *app) recordExit(ev session.Event) {
	action := "exit"
	if ev.Terminated {
		action = "terminated"
	}
	payload, _ := json.Marshal(map[string]any{"session_id": ev.SessionID, "exit_code": ev.ExitCode})
	severity := "info"
	if ev.ExitCode != 0 && !ev.Terminated {
		severity = "warn"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.audit.Record(ctx, a.db, domain.AuditRecord{
		ID:          uuid.NewString(),
		Category:    "session",
		Actor:       "system",
		Action:      action,
		RequestJSON: string(payload),
		Severity:    severity,
		CreatedAt:   time.Now().UnixNano(),
	})
	if err != nil {
		a.logger.Warn("audit session exit", "session_id", ev.SessionID, "error", err)
	}
}

// Close stops the orchestrator, then the sessions, then the store.
func (a *app) Close() {
	a.orch.Close()
	a.stop()
	<-a.done
	a.sessions.Close()
	a.db.Close()
}
