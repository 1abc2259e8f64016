package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petrijr/ticketflow/internal/persistence"
	"github.com/petrijr/ticketflow/pkg/api"
)

// DefaultLeaseTTL bounds how long a crashed worker can block a run.
const DefaultLeaseTTL = 30 * time.Second

// engineImpl ties the registry, step executor and retry controller to a
// persistence backend.
type engineImpl struct {
	registry   *Registry
	runs       persistence.RunStore
	steps      persistence.StepStore
	history    persistence.HistoryStore
	controller *Controller
	observer   api.Observer

	owner    string
	leaseTTL time.Duration
	now      func() time.Time
}

// Config describes how to construct an engineImpl.
type Config struct {
	Persistence persistence.Persistence
	Observer    api.Observer

	// Owner identifies this process in run leases. Defaults to
	// "<hostname>-<random>".
	Owner string

	// LeaseTTL is the lease duration on a run while it executes. The lease
	// is renewed in the background. Defaults to DefaultLeaseTTL.
	LeaseTTL time.Duration
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	return newEngine(cfg)
}

func newEngine(cfg Config) *engineImpl {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	history := cfg.Persistence.History
	if history == nil {
		history = persistence.NoopHistoryStore{}
	}
	owner := cfg.Owner
	if owner == "" {
		owner = defaultOwner()
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	x := NewStepExecutor(cfg.Persistence.Steps, history, obs)
	return &engineImpl{
		registry:   NewRegistry(),
		runs:       cfg.Persistence.Runs,
		steps:      cfg.Persistence.Steps,
		history:    history,
		controller: NewController(cfg.Persistence.Runs, history, x, obs),
		observer:   obs,
		owner:      owner,
		leaseTTL:   ttl,
		now:        time.Now,
	}
}

// NewEngine returns an Engine over p with no observer.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{Persistence: p})
}

// NewInMemoryEngine returns an Engine whose state lives in process memory.
func NewInMemoryEngine() api.Engine {
	return NewEngine(persistence.FromStore(persistence.NewInMemoryStore()))
}

// NewSQLEngine returns an Engine persisted in db using the given dialect.
// The caller is responsible for importing the matching driver.
func NewSQLEngine(ctx context.Context, db *sql.DB, dialect persistence.Dialect) (api.Engine, error) {
	store, err := persistence.NewSQLStore(ctx, db, dialect)
	if err != nil {
		return nil, err
	}
	return NewEngine(persistence.FromStore(store)), nil
}

// NewRedisEngine returns an Engine persisted in Redis under prefix.
func NewRedisEngine(client *redis.Client, prefix string) api.Engine {
	return NewEngine(persistence.FromStore(persistence.NewRedisStore(client, prefix)))
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "ticketflow"
	}
	return host + "-" + uuid.NewString()[:8]
}

func (e *engineImpl) RegisterWorkflow(def api.WorkflowDefinition) error {
	return e.registry.Register(def)
}

func (e *engineImpl) Workflows(eventName string) []api.WorkflowDefinition {
	return e.registry.Lookup(eventName)
}

func (e *engineImpl) Freeze() {
	e.registry.Freeze()
}

func (e *engineImpl) CreateRuns(ctx context.Context, ev api.Event) ([]*api.Run, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	e.registry.Freeze()

	now := e.now()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}

	defs := e.registry.Lookup(ev.Name)
	runs := make([]*api.Run, 0, len(defs))
	for _, def := range defs {
		run := &api.Run{
			ID:         uuid.NewString(),
			WorkflowID: def.ID,
			Event:      ev,
			Status:     api.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := e.runs.CreateRun(ctx, run); err != nil {
			return runs, fmt.Errorf("create run of %q for event %s: %w", def.ID, ev.ID, err)
		}
		_ = e.history.AppendHistory(ctx, api.HistoryEvent{
			RunID:      run.ID,
			At:         now,
			Type:       api.HistoryRunCreated,
			WorkflowID: def.ID,
			Detail:     ev.Name + " " + ev.ID,
		})
		e.observer.OnRunCreated(ctx, run)
		runs = append(runs, run)
	}
	return runs, nil
}

func (e *engineImpl) ExecuteRun(ctx context.Context, runID string) (*api.Run, error) {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("execute run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		return run, nil
	}

	// Each execution leases under its own name so that two goroutines of
	// this process cannot both hold the run.
	owner := e.owner + "/" + uuid.NewString()[:8]
	acquired, err := e.runs.TryAcquireLease(ctx, runID, owner, e.leaseTTL)
	if err != nil {
		return run, fmt.Errorf("execute run %s: lease: %w", runID, err)
	}
	if !acquired {
		return run, fmt.Errorf("execute run %s: %w", runID, api.ErrRunLeased)
	}
	defer func() {
		// Release even when ctx is already cancelled.
		_ = e.runs.ReleaseLease(context.WithoutCancel(ctx), runID, owner)
	}()

	// Another worker may have finished the run between the read and the lease.
	if run, err = e.runs.GetRun(ctx, runID); err != nil {
		return nil, fmt.Errorf("execute run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		return run, nil
	}

	def, err := e.registry.Get(run.WorkflowID)
	if err != nil {
		// Retrying cannot make an unregistered workflow appear.
		return run, e.controller.fail(ctx, run, api.Terminal(err))
	}

	leaseCtx, stop := context.WithCancel(ctx)
	renewing := make(chan struct{})
	go func() {
		defer close(renewing)
		e.keepLease(leaseCtx, runID, owner)
	}()
	// Stop renewing before the lease is released.
	defer func() {
		stop()
		<-renewing
	}()

	return e.controller.Execute(ctx, run, def)
}

// keepLease renews the run lease until ctx is done.
func (e *engineImpl) keepLease(ctx context.Context, runID, owner string) {
	t := time.NewTicker(e.leaseTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = e.runs.TryAcquireLease(ctx, runID, owner, e.leaseTTL)
		}
	}
}

func (e *engineImpl) Trigger(ctx context.Context, ev api.Event) ([]*api.Run, error) {
	runs, err := e.CreateRuns(ctx, ev)
	if err != nil {
		return runs, err
	}

	var errs []error
	for i, run := range runs {
		done, err := e.ExecuteRun(ctx, run.ID)
		if done != nil {
			runs[i] = done
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("run %s (%s): %w", run.ID, run.WorkflowID, err))
		}
	}
	return runs, errors.Join(errs...)
}

func (e *engineImpl) GetRun(ctx context.Context, id string) (*api.Run, error) {
	run, err := e.runs.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, api.ErrRunNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrRunNotFound, id)
		}
		return nil, err
	}
	return run, nil
}

func (e *engineImpl) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.Run, error) {
	return e.runs.ListRuns(ctx, persistence.RunFilter{
		WorkflowID: opts.WorkflowID,
		Status:     opts.Status,
	})
}

func (e *engineImpl) StepResults(ctx context.Context, runID string) ([]api.StepResult, error) {
	return e.steps.ListStepResults(ctx, runID)
}

func (e *engineImpl) History(ctx context.Context, runID string) ([]api.HistoryEvent, error) {
	return e.history.ListHistory(ctx, runID)
}

func (e *engineImpl) PendingRuns(ctx context.Context) ([]string, error) {
	runs, err := e.runs.ListRuns(ctx, persistence.RunFilter{Status: api.StatusPending})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	return ids, nil
}
