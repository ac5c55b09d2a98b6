package tx

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	dErrors "consentvault/pkg/domain-errors"
	"consentvault/pkg/requestcontext"
)

// numShards spreads in-memory units of work across independent locks keyed by
// the authenticated subject, so unrelated subjects never contend.
const numShards = 128

// DefaultTimeout bounds a unit of work when the caller set no deadline.
const DefaultTimeout = 5 * time.Second

// ShardedRunner is the in-memory Runner. It gives each subject a serial
// critical section. Stores undo their mutations through OnRollback when the
// unit of work fails. A nested RunInTx on a context that already holds a shard
// runs inline and shares the outer undo log.
type ShardedRunner struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

// NewShardedRunner builds an in-memory Runner. A zero timeout uses DefaultTimeout.
func NewShardedRunner(timeout time.Duration) *ShardedRunner {
	return &ShardedRunner{timeout: timeout}
}

type heldShardKey struct{}

type undoKey struct{}

type undoLog struct {
	fns []func()
}

func (l *undoLog) rollback() {
	for i := len(l.fns) - 1; i >= 0; i-- {
		l.fns[i]()
	}
}

// OnRollback registers fn to run if the enclosing in-memory unit of work
// returns an error. Compensations run in reverse registration order. Outside
// a ShardedRunner it does nothing.
func OnRollback(ctx context.Context, fn func()) {
	if log, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		log.fns = append(log.fns, fn)
	}
}

func (r *ShardedRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if held, ok := ctx.Value(heldShardKey{}).(*ShardedRunner); ok && held == r {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := r.timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := selectShard(ctx)
	r.shards[shard].Lock()
	defer r.shards[shard].Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	log := &undoLog{}
	ctx = context.WithValue(ctx, heldShardKey{}, r)
	ctx = context.WithValue(ctx, undoKey{}, log)
	if err := fn(ctx); err != nil {
		log.rollback()
		return err
	}
	return nil
}

func selectShard(ctx context.Context) int {
	subject := requestcontext.SubjectID(ctx)
	if subject.IsZero() {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject.String()))
	return int(h.Sum32() % numShards)
}
