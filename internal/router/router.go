// Package router resolves the adapter an ActionRequest targets and returns
// its ActionResponse to the caller.
//
// Resolution never waits for an adapter to appear: an unknown self_id fails
// immediately. Forwarded requests carry a router-generated correlation token
// so concurrent callers reusing the same echo value never collide; the
// caller's echo is restored on the response. Every wait is bounded.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dayuer/botgate/internal/event"
	"github.com/dayuer/botgate/internal/metrics"
	"github.com/dayuer/botgate/internal/registry"
)

var (
	ErrNoTarget        = errors.New("no adapter matches self_id")
	ErrAmbiguousTarget = errors.New("self_id is required when several adapters are live")
	ErrTimeout         = errors.New("action timed out")
	ErrConnClosed      = errors.New("adapter connection closed")
)

// Executor is implemented by in-process adapters that run actions directly
// instead of over a transport.
type Executor interface {
	Execute(ctx context.Context, req event.ActionRequest) (event.ActionResponse, error)
}

// Resolver looks up live adapters (the registry).
type Resolver interface {
	Find(identity event.ID) (registry.Conn, bool)
	Adapters() []registry.Conn
}

// Config configures a Router.
type Config struct {
	Registry Resolver
	Timeout  time.Duration // default 30s
	Metrics  metrics.Recorder
}

type waiter struct {
	connID string
	ch     chan event.ActionResponse
}

// Router dispatches actions to adapters.
type Router struct {
	reg     Resolver
	timeout time.Duration
	metrics metrics.Recorder

	mu      sync.Mutex
	pending map[string]*waiter

	latency *latencyWindow
}

// New creates a router.
func New(cfg Config) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	return &Router{
		reg:     cfg.Registry,
		timeout: cfg.Timeout,
		metrics: cfg.Metrics,
		pending: make(map[string]*waiter),
		latency: newLatencyWindow(time.Minute, time.Now),
	}
}

// Target resolves the adapter for selfID. An empty selfID resolves only when
// exactly one adapter is live.
func (r *Router) Target(selfID event.ID) (registry.Conn, error) {
	if selfID != "" {
		if c, ok := r.reg.Find(selfID); ok {
			return c, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNoTarget, selfID)
	}

	adapters := r.reg.Adapters()
	switch len(adapters) {
	case 0:
		return nil, ErrNoTarget
	case 1:
		return adapters[0], nil
	default:
		return nil, ErrAmbiguousTarget
	}
}

// Dispatch routes req and waits for its response. The result always carries
// the caller's echo; failures are reported as failed responses.
func (r *Router) Dispatch(ctx context.Context, req event.ActionRequest) event.ActionResponse {
	resp := r.dispatch(ctx, req)
	resp.Echo = req.Echo
	r.metrics.ActionDispatched(ctx, req.Action, resp.Status)
	if !resp.OK() {
		log.Printf("[Router] ⚠️ %s (self_id=%s) failed: retcode=%d %s", req.Action, req.SelfID, resp.Retcode, resp.Message)
	}
	return resp
}

func (r *Router) dispatch(ctx context.Context, req event.ActionRequest) event.ActionResponse {
	if req.Action == "" {
		return event.Failed(event.RetcodeBadRequest, "action is required", nil)
	}

	conn, err := r.Target(req.SelfID)
	if err != nil {
		if errors.Is(err, ErrAmbiguousTarget) {
			return event.Failed(event.RetcodeBadRequest, err.Error(), nil)
		}
		return event.Failed(event.RetcodeNoTarget, err.Error(), nil)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Only actions that reached a target count towards latency.
	start := time.Now()
	defer func() { r.latency.record(time.Since(start)) }()

	if exec, ok := conn.(Executor); ok {
		return r.execute(ctx, exec, req)
	}
	return r.forward(ctx, conn, req)
}

// execute runs an in-process executor on its own goroutine so the wait
// stays bounded even if the executor ignores ctx.
func (r *Router) execute(ctx context.Context, exec Executor, req event.ActionRequest) event.ActionResponse {
	type result struct {
		resp event.ActionResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := exec.Execute(ctx, req)
		ch <- result{resp, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return event.Failed(event.RetcodeExecFailed, res.err.Error(), nil)
		}
		return res.resp
	case <-ctx.Done():
		return event.Failed(event.RetcodeTimeout, ErrTimeout.Error(), nil)
	}
}

// forward sends req over conn's transport and parks until Resolve,
// FailPending or the deadline.
func (r *Router) forward(ctx context.Context, conn registry.Conn, req event.ActionRequest) event.ActionResponse {
	token := uuid.NewString()
	w := &waiter{connID: conn.ID(), ch: make(chan event.ActionResponse, 1)}

	r.mu.Lock()
	r.pending[token] = w
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, token)
		r.mu.Unlock()
	}()

	out := req
	out.SelfID = conn.Identity()
	out.Echo = json.RawMessage(strconv.Quote(token))
	data, err := json.Marshal(out)
	if err != nil {
		return event.Failed(event.RetcodeBadRequest, fmt.Sprintf("encode action: %v", err), nil)
	}
	if err := conn.Send(ctx, data); err != nil {
		return event.Failed(event.RetcodeExecFailed, fmt.Sprintf("send to adapter: %v", err), nil)
	}

	select {
	case resp := <-w.ch:
		return resp
	case <-ctx.Done():
		return event.Failed(event.RetcodeTimeout, ErrTimeout.Error(), nil)
	}
}

// Resolve delivers an adapter's response to its waiting caller. It reports
// false for responses nobody is waiting for.
func (r *Router) Resolve(resp event.ActionResponse) bool {
	var token string
	if err := json.Unmarshal(resp.Echo, &token); err != nil || token == "" {
		return false
	}

	r.mu.Lock()
	w, ok := r.pending[token]
	delete(r.pending, token)
	r.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case w.ch <- resp:
	default:
	}
	return true
}

// FailPending fails every request waiting on connID. Called when an adapter
// connection closes.
func (r *Router) FailPending(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for token, w := range r.pending {
		if w.connID != connID {
			continue
		}
		delete(r.pending, token)
		select {
		case w.ch <- event.Failed(event.RetcodeTimeout, ErrConnClosed.Error(), nil):
		default:
		}
		n++
	}
	if n > 0 {
		log.Printf("[Router] 🔌 Failed %d pending action(s) on closed connection %s", n, connID)
	}
	return n
}

// Latency returns the average dispatch round trip in milliseconds over the
// last minute and how many actions it covers.
func (r *Router) Latency() (avgMs int64, count int) {
	return r.latency.average()
}

// PendingLen returns the number of in-flight forwarded actions.
func (r *Router) PendingLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
