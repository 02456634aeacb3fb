package reviewer

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Rogers-F/agentloop/internal/config"
	"github.com/Rogers-F/agentloop/internal/domain"
)

// Registry is a thread-safe set of named reviewers.
type Registry struct {
	mu        sync.RWMutex
	reviewers map[string]Reviewer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{reviewers: make(map[string]Reviewer)}
}

// Register adds a reviewer under its name.
// Returns ErrDuplicateReviewer if the name is taken.
func (r *Registry) Register(rv Reviewer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.reviewers[rv.Name()]; exists {
		return domain.NewEngineError(domain.ErrDuplicateReviewer.Code,
			fmt.Sprintf("%s: %q", domain.ErrDuplicateReviewer.Message, rv.Name()))
	}
	r.reviewers[rv.Name()] = rv
	return nil
}

// Get returns the named reviewer, or ErrReviewerUnknown.
func (r *Registry) Get(name string) (Reviewer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rv, ok := r.reviewers[name]
	if !ok {
		return nil, domain.NewEngineError(domain.ErrReviewerUnknown.Code,
			fmt.Sprintf("%s: %q", domain.ErrReviewerUnknown.Message, name))
	}
	return rv, nil
}

// List returns all registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.reviewers))
	for name := range r.reviewers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromConfig registers every configured reviewer. Command reviewers are
// built first so tiered reviewers can reference them.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()
	names := make([]string, 0, len(cfg.Reviewers))
	for name := range cfg.Reviewers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rc := cfg.Reviewers[name]
		if rc.Kind != config.ReviewerKindCommand {
			continue
		}
		if err := reg.Register(&CommandReviewer{
			ID:            name,
			Command:       rc.Command,
			Args:          rc.Args,
			Env:           rc.Env,
			CredentialEnv: rc.CredentialEnv,
		}); err != nil {
			return nil, err
		}
	}
	for _, name := range names {
		rc := cfg.Reviewers[name]
		if rc.Kind != config.ReviewerKindTiered {
			continue
		}
		cheap, err := reg.Get(rc.Cheap)
		if err != nil {
			return nil, err
		}
		strong, err := reg.Get(rc.Strong)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(&Tiered{ID: name, Cheap: cheap, Strong: strong, Logger: logger}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
