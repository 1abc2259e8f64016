package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/petrijr/ticketflow/pkg/api"
)

// Registry maps event names to the workflows they trigger. It is written
// during startup and frozen before the first event is delivered; lookups
// are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]api.WorkflowDefinition
	byTrigger map[string][]string
	frozen    bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]api.WorkflowDefinition),
		byTrigger: make(map[string][]string),
	}
}

// Register adds def. Workflows subscribed to the same event are kept in
// registration order.
func (r *Registry) Register(def api.WorkflowDefinition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %q: %w", def.ID, api.ErrRegistryFrozen)
	}
	if _, exists := r.byID[def.ID]; exists {
		return &api.ConflictError{WorkflowID: def.ID}
	}

	def.Steps = append([]api.StepDefinition(nil), def.Steps...)
	r.byID[def.ID] = def
	r.byTrigger[def.Trigger] = append(r.byTrigger[def.Trigger], def.ID)
	return nil
}

// Lookup returns the workflows triggered by eventName, possibly none.
func (r *Registry) Lookup(eventName string) []api.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byTrigger[eventName]
	out := make([]api.WorkflowDefinition, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	return out
}

// Get returns the workflow registered under id.
func (r *Registry) Get(id string) (api.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byID[id]
	if !ok {
		return api.WorkflowDefinition{}, fmt.Errorf("%w: %s", api.ErrWorkflowNotFound, id)
	}
	return def, nil
}

// Freeze rejects all later registrations. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func validateDefinition(def api.WorkflowDefinition) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", api.ErrInvalidWorkflow, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(def.ID) == "" {
		return invalid("workflow id is required")
	}
	if strings.TrimSpace(def.Trigger) == "" {
		return invalid("workflow %q: trigger event is required", def.ID)
	}
	if def.MaxRetries < 0 {
		return invalid("workflow %q: max retries must be >= 0, got %d", def.ID, def.MaxRetries)
	}
	if len(def.Steps) == 0 {
		return invalid("workflow %q: at least one step is required", def.ID)
	}

	seen := make(map[string]struct{}, len(def.Steps))
	for i, step := range def.Steps {
		if strings.TrimSpace(step.Label) == "" {
			return invalid("workflow %q: step %d has no label", def.ID, i)
		}
		if step.Fn == nil {
			return invalid("workflow %q: step %q has no body", def.ID, step.Label)
		}
		if _, dup := seen[step.Label]; dup {
			return invalid("workflow %q: duplicate step label %q", def.ID, step.Label)
		}
		seen[step.Label] = struct{}{}
	}
	return nil
}
