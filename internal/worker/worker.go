// Package worker implements the BlueCollar worker loop: the process that
// dequeues envelopes, resolves their target against a registry, and
// executes them concurrently (spec §4.3).
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/bluecollar/bluecollar/internal/broker"
	"github.com/bluecollar/bluecollar/internal/envelope"
	"github.com/bluecollar/bluecollar/internal/registry"
	"github.com/bluecollar/bluecollar/internal/resolver"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config configures one worker's queue and roster keys and timing.
type Config struct {
	QueueKey      string        // work queue list name, default "list_bcqueue"
	WorkerSetKey  string        // roster set name, default "list_bcworkers"
	DequeueWait   time.Duration // blocking pop timeout, spec default 5s
	FatalBackoff  time.Duration // pause before exit on broker loss, spec default 5s
}

// DefaultConfig returns the spec's documented defaults (spec §6 "Broker
// keys"; spec §4.3 "Dequeue" and "Fatal conditions").
func DefaultConfig() Config {
	return Config{
		QueueKey:     "list_bcqueue",
		WorkerSetKey: "list_bcworkers",
		DequeueWait:  5 * time.Second,
		FatalBackoff: 5 * time.Second,
	}
}

// Worker runs the Register/Poll/Reap/Yield/Dequeue/Parse/Resolve/
// Materialize/No-exec/Spawn state machine of spec §4.3 in its own
// goroutine, joined by in-flight executors on shutdown.
type Worker struct {
	id     string
	cfg    Config
	broker broker.Broker
	res    *resolver.Resolver
	cache  *instanceCache
	life   *lifecycle
	exec   *executor
	log    *zap.SugaredLogger

	wg sync.WaitGroup
}

// New builds a worker bound to reg (already populated with the exposed
// package's callables and types) and b (the broker backend).
func New(cfg Config, b broker.Broker, reg *registry.Registry, log *zap.SugaredLogger) *Worker {
	id := uuid.NewString()
	return &Worker{
		id:     id,
		cfg:    cfg,
		broker: b,
		res:    resolver.New(reg),
		cache:  newInstanceCache(),
		life:   newLifecycle(id, log),
		exec:   newExecutor(b, log),
		log:    log,
	}
}

// ID returns this worker's roster identifier.
func (w *Worker) ID() string { return w.id }

// Run executes the worker loop until ctx is cancelled, a termination
// signal removes it from the roster, or the broker connection is judged
// lost. It always returns after in-flight executors have been joined.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.broker.SetAdd(ctx, w.cfg.WorkerSetKey, w.id); err != nil {
		return fmt.Errorf("worker: failed to register on roster: %w", err)
	}
	w.log.Infow("worker registered", "worker_id", w.id)

	defer func() {
		if ctx.Err() != nil {
			// Termination signal: take this worker off the roster.
			if err := w.broker.SetRemove(context.Background(), w.cfg.WorkerSetKey, w.id); err != nil {
				w.log.Warnw("worker: failed to deregister from roster", "error", err)
			}
		}
		w.life.setState(StateDraining, "loop exiting")
		w.wg.Wait()
		w.life.setState(StateExited, "executors drained")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		member, err := w.broker.SetIsMember(ctx, w.cfg.WorkerSetKey, w.id)
		if err != nil {
			w.log.Errorw("worker: roster check failed, treating as broker loss", "error", err)
			time.Sleep(w.cfg.FatalBackoff)
			return fmt.Errorf("worker: broker connection lost: %w", err)
		}
		if !member {
			w.log.Infow("worker removed from roster, shutting down", "worker_id", w.id)
			return nil
		}

		runtime.Gosched()

		raw, err := w.broker.BlockingPop(ctx, w.cfg.QueueKey, w.cfg.DequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Errorw("worker: dequeue failed, treating as broker loss", "error", err)
			time.Sleep(w.cfg.FatalBackoff)
			return fmt.Errorf("worker: broker connection lost: %w", err)
		}
		if raw == nil {
			continue // dequeue timed out; back to Poll
		}

		w.handle(ctx, raw)
	}
}

func (w *Worker) handle(ctx context.Context, raw []byte) {
	env, err := envelope.Decode(raw)
	if err != nil {
		w.log.Errorw("worker: dropping unparseable envelope", "error", err)
		return
	}

	target, ok := w.res.Resolve(env.Method)
	if !ok {
		w.replyNotFound(ctx, env)
		return
	}

	args, err := decodeArgs(env.Args)
	if err != nil {
		w.log.Errorw("worker: dropping envelope with unparseable args", "method", env.Method, "error", err)
		return
	}

	var invoke func() (any, error)
	var ref string

	switch target.Kind {
	case registry.FuncTarget:
		fn := target.Func
		invoke = func() (any, error) { return fn(args, env.Kwargs) }
		ref = env.Method

	case registry.TypeTarget:
		method, ok := target.Type.Method(target.Tail)
		if !ok {
			w.replyNotFound(ctx, env)
			return
		}
		instance := w.cache.materialize(target.Type)
		invoke = func() (any, error) { return method(instance, args, env.Kwargs) }
		ref = target.Type.Path() + "." + target.Tail

	default:
		w.replyNotFound(ctx, env)
		return
	}

	if env.NoExec {
		w.replyPresence(ctx, env, ref)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.exec.run(ctx, env.ReplyChannel, invoke)
	}()
}

func (w *Worker) replyNotFound(ctx context.Context, env *envelope.Envelope) {
	if env.ReplyChannel == "" {
		return
	}
	reply := envelope.Error(fmt.Sprintf("no such method: %s", env.Method), 404)
	data, err := json.Marshal(reply)
	if err != nil {
		w.log.Errorw("worker: failed to marshal not-found reply", "error", err)
		return
	}
	if err := w.broker.Push(ctx, env.ReplyChannel, data); err != nil {
		w.log.Errorw("worker: failed to push not-found reply", "error", err)
	}
}

func (w *Worker) replyPresence(ctx context.Context, env *envelope.Envelope, ref string) {
	if env.ReplyChannel == "" {
		return
	}
	reply := envelope.Found(ref)
	data, err := json.Marshal(reply)
	if err != nil {
		w.log.Errorw("worker: failed to marshal presence reply", "error", err)
		return
	}
	if err := w.broker.Push(ctx, env.ReplyChannel, data); err != nil {
		w.log.Errorw("worker: failed to push presence reply", "error", err)
	}
}

func decodeArgs(raw []json.RawMessage) ([]any, error) {
	args := make([]any, len(raw))
	for i, r := range raw {
		var v any
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}
