// Package gateway holds the pieces shared by BlueCollar's three front-end
// protocols (HTTP, REST, WebSocket): constructing an envelope with a fresh
// reply channel, pushing it, and blocking on the reply with a timeout
// (spec §2 "Data flow").
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bluecollar/bluecollar/internal/broker"
	"github.com/bluecollar/bluecollar/internal/envelope"
	"github.com/google/uuid"
)

// ErrTimeout is returned by Dispatch when no reply arrives before the
// caller's deadline. Gateways translate this into a protocol-specific
// timeout response (HTTP 500, REST 504, per spec §4.5/§4.6).
var ErrTimeout = fmt.Errorf("gateway: timed out waiting for reply")

// Rendezvous pushes envelopes onto a fixed queue and blocks on their
// reply channel — the request/reply half of every gateway. It is safe
// for concurrent use; each call generates its own reply channel.
type Rendezvous struct {
	Broker      broker.Broker
	QueueKey    string
	ReplyPrefix string
}

// NewReplyChannel returns a fresh, globally unique reply channel name of
// the form `<prefix>_<hex-uuid>` (spec §6 "Broker keys").
func (r *Rendezvous) NewReplyChannel() string {
	return fmt.Sprintf("%s_%s", r.ReplyPrefix, uuid.NewString())
}

// Dispatch pushes env onto the work queue and blocks until a reply
// appears on env.ReplyChannel or timeout elapses, returning ErrTimeout in
// the latter case. env.ReplyChannel must already be set.
func (r *Rendezvous) Dispatch(ctx context.Context, env envelope.Envelope, timeout time.Duration) (envelope.Reply, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return envelope.Reply{}, fmt.Errorf("gateway: failed to encode envelope: %w", err)
	}
	if err := r.Broker.Push(ctx, r.QueueKey, data); err != nil {
		return envelope.Reply{}, fmt.Errorf("gateway: failed to push envelope: %w", err)
	}

	raw, err := r.Broker.BlockingPop(ctx, env.ReplyChannel, timeout)
	if err != nil {
		return envelope.Reply{}, fmt.Errorf("gateway: reply wait failed: %w", err)
	}
	if raw == nil {
		return envelope.Reply{}, ErrTimeout
	}

	var reply envelope.Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return envelope.Reply{}, fmt.Errorf("gateway: failed to decode reply: %w", err)
	}
	return reply, nil
}

// Probe sends a no_exec envelope for method and reports whether the
// worker pool resolved it to something (spec §4.6 step 4's resource
// discovery walk). ref, if present, echoes the presence record's Ref.
func (r *Rendezvous) Probe(ctx context.Context, method string, timeout time.Duration) (found bool, ref string, err error) {
	env := envelope.Envelope{
		Method:       method,
		ReplyChannel: r.NewReplyChannel(),
		NoExec:       true,
	}
	reply, err := r.Dispatch(ctx, env, timeout)
	if err != nil {
		return false, "", err
	}
	if reply.Presence != nil && reply.Presence.Found {
		return true, reply.Presence.Ref, nil
	}
	return false, "", nil
}
