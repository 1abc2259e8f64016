package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/ticketflow/pkg/api"
)

// RedisStore is a Store backed by Redis.
// It uses a simple key structure:
//
//	<prefix>run:<id>                => gob-encoded runRecord
//	<prefix>idx:all                 => SET of all run IDs
//	<prefix>idx:wf:<workflow>       => SET of run IDs for a given workflow
//	<prefix>idx:status:<status>     => SET of run IDs for a given status
//	<prefix>steps:<id>              => HASH label -> gob-encoded redisStep
//	<prefix>history:<id>            => LIST of gob-encoded api.HistoryEvent
//	<prefix>lease:<id>              => owner, with a PX expiry
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

type redisStep struct {
	Value      []byte
	RecordedAt int64
}

var statuses = []api.Status{api.StatusPending, api.StatusSucceeded, api.StatusFailed}

// acquireLeaseScript sets the lease when it is free or already ours.
var acquireLeaseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if (not cur) or cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

// releaseLeaseScript deletes the lease only when it is owned by ARGV[1].
var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "ticketflow:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ticketflow:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisStore) keyRun(id string) string { return r.prefix + "run:" + id }
func (r *RedisStore) keyAll() string { return r.prefix + "idx:all" }
func (r *RedisStore) keyWorkflow(wf string) string { return r.prefix + "idx:wf:" + wf }
func (r *RedisStore) keySteps(id string) string { return r.prefix + "steps:" + id }
func (r *RedisStore) keyHistory(id string) string { return r.prefix + "history:" + id }
func (r *RedisStore) keyLease(id string) string { return r.prefix + "lease:" + id }

func (r *RedisStore) keyStatus(status api.Status) string {
	return r.prefix + "idx:status:" + string(status)
}

func (r *RedisStore) CreateRun(ctx context.Context, run *api.Run) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, r.keyRun(run.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrRunExists
	}
	return r.reindex(ctx, run)
}

func (r *RedisStore) UpdateRun(ctx context.Context, run *api.Run) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}

	// SET XX only overwrites existing runs.
	res, err := r.client.SetArgs(ctx, r.keyRun(run.ID), data, redis.SetArgs{Mode: "XX"}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrRunNotFound
		}
		return err
	}
	if res != "OK" {
		return ErrRunNotFound
	}
	return r.reindex(ctx, run)
}

// reindex moves the run into the index sets for its current status.
func (r *RedisStore) reindex(ctx context.Context, run *api.Run) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.keyAll(), run.ID)
	pipe.SAdd(ctx, r.keyWorkflow(run.WorkflowID), run.ID)
	for _, st := range statuses {
		if st != run.Status {
			pipe.SRem(ctx, r.keyStatus(st), run.ID)
		}
	}
	pipe.SAdd(ctx, r.keyStatus(run.Status), run.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	data, err := r.client.Get(ctx, r.keyRun(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return decodeRun(data)
}

func (r *RedisStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.Run, error) {
	var ids []string
	var err error

	switch {
	case filter.WorkflowID != "" && filter.Status != "":
		ids, err = r.client.SInter(ctx,
			r.keyWorkflow(filter.WorkflowID),
			r.keyStatus(filter.Status),
		).Result()
	case filter.WorkflowID != "":
		ids, err = r.client.SMembers(ctx, r.keyWorkflow(filter.WorkflowID)).Result()
	case filter.Status != "":
		ids, err = r.client.SMembers(ctx, r.keyStatus(filter.Status)).Result()
	default:
		ids, err = r.client.SMembers(ctx, r.keyAll()).Result()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.keyRun(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var runs []*api.Run
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		run, err := decodeRun(data)
		if err != nil {
			return nil, err
		}
		// Indexes may lag the payload; the payload is authoritative.
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

func (r *RedisStore) TryAcquireLease(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	n, err := acquireLeaseScript.Run(ctx, r.client, []string{r.keyLease(runID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisStore) ReleaseLease(ctx context.Context, runID, owner string) error {
	return releaseLeaseScript.Run(ctx, r.client, []string{r.keyLease(runID)}, owner).Err()
}

func (r *RedisStore) GetStepResult(ctx context.Context, runID, label string) (api.StepResult, bool, error) {
	data, err := r.client.HGet(ctx, r.keySteps(runID), label).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return api.StepResult{}, false, nil
		}
		return api.StepResult{}, false, err
	}
	res, err := decodeStep(runID, label, data)
	if err != nil {
		return api.StepResult{}, false, err
	}
	return res, true, nil
}

func (r *RedisStore) RecordStepResult(ctx context.Context, res api.StepResult) (api.StepResult, error) {
	if res.RecordedAt.IsZero() {
		res.RecordedAt = time.Now()
	}
	data, err := encodeGob(redisStep{Value: res.Value, RecordedAt: res.RecordedAt.UnixNano()})
	if err != nil {
		return api.StepResult{}, err
	}

	set, err := r.client.HSetNX(ctx, r.keySteps(res.RunID), res.Label, data).Result()
	if err != nil {
		return api.StepResult{}, err
	}
	if set {
		return res, nil
	}

	stored, _, err := r.GetStepResult(ctx, res.RunID, res.Label)
	return stored, err
}

func (r *RedisStore) ListStepResults(ctx context.Context, runID string) ([]api.StepResult, error) {
	all, err := r.client.HGetAll(ctx, r.keySteps(runID)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]api.StepResult, 0, len(all))
	for label, data := range all {
		res, err := decodeStep(runID, label, []byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].Label < out[j].Label
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (r *RedisStore) AppendHistory(ctx context.Context, ev api.HistoryEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := encodeGob(ev)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.keyHistory(ev.RunID), data).Err()
}

func (r *RedisStore) ListHistory(ctx context.Context, runID string) ([]api.HistoryEvent, error) {
	items, err := r.client.LRange(ctx, r.keyHistory(runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]api.HistoryEvent, 0, len(items))
	for _, item := range items {
		var ev api.HistoryEvent
		if err := decodeGob([]byte(item), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func encodeRun(run *api.Run) ([]byte, error) {
	rec, err := toRecord(run)
	if err != nil {
		return nil, err
	}
	return encodeGob(rec)
}

func decodeRun(data []byte) (*api.Run, error) {
	var rec runRecord
	if err := decodeGob(data, &rec); err != nil {
		return nil, err
	}
	return rec.toRun()
}

func decodeStep(runID, label string, data []byte) (api.StepResult, error) {
	var st redisStep
	if err := decodeGob(data, &st); err != nil {
		return api.StepResult{}, err
	}
	return api.StepResult{
		RunID:      runID,
		Label:      label,
		Value:      st.Value,
		RecordedAt: time.Unix(0, st.RecordedAt),
	}, nil
}
