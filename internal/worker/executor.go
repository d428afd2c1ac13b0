package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bluecollar/bluecollar/internal/broker"
	"github.com/bluecollar/bluecollar/internal/envelope"
	"go.uber.org/zap"
)

// executor services one envelope per spec §4.4: record start time, invoke,
// push a reply (or log and drop one), record elapsed time. Executors run
// as plain goroutines; the worker loop joins them on shutdown via a
// sync.WaitGroup rather than interrupting them (spec §5, "in-flight
// executors are joined, never interrupted").
type executor struct {
	broker broker.Broker
	log    *zap.SugaredLogger
}

func newExecutor(b broker.Broker, log *zap.SugaredLogger) *executor {
	return &executor{broker: b, log: log}
}

// run invokes fn and delivers its outcome to replyChannel, if any. fn is
// expected to already be bound to its resolved target, arguments, and
// (for methods) instance — the executor itself is agnostic to how the
// call was resolved.
func (e *executor) run(ctx context.Context, replyChannel string, fn func() (any, error)) {
	start := time.Now()
	result, err := invokeSafely(fn)
	elapsed := time.Since(start)

	if err != nil {
		e.log.Errorw("executor call failed", "reply_channel", replyChannel, "elapsed", elapsed, "error", err)
	} else {
		e.log.Debugw("executor call completed", "reply_channel", replyChannel, "elapsed", elapsed)
	}

	if replyChannel == "" {
		return
	}

	var reply envelope.Reply
	if err != nil {
		reply = envelope.Error(err.Error(), 500)
	} else {
		ok, encErr := envelope.OK(result)
		if encErr != nil {
			e.log.Errorw("failed to encode result, dropping reply", "reply_channel", replyChannel, "error", encErr)
			return
		}
		reply = ok
	}

	data, err := json.Marshal(reply)
	if err != nil {
		e.log.Errorw("failed to marshal reply, dropping", "reply_channel", replyChannel, "error", err)
		return
	}

	if err := e.broker.Push(ctx, replyChannel, data); err != nil {
		e.log.Errorw("failed to push reply, dropping", "reply_channel", replyChannel, "error", err)
	}
}

// invokeSafely recovers a panicking callable into an error, standing in
// for the "re-raise for logging visibility" step of spec §4.4 — a Go
// panic crossing a goroutine boundary would otherwise take the process
// down with it.
func invokeSafely(fn func() (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during call: %v", r)
		}
	}()
	return fn()
}
