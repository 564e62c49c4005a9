// Package registry tracks every live adapter and subscriber connection.
//
// It is the single source of truth for "who is currently live": adapters are
// indexed by identity (last registration wins), subscribers by connection ID.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"sync"

	"github.com/dayuer/botgate/internal/event"
)

// Role classifies a connection at handshake.
type Role string

const (
	RoleAdapter    Role = "adapter"
	RoleSubscriber Role = "subscriber"
)

// ErrNoIdentity is returned when an adapter registers without a self_id.
var ErrNoIdentity = errors.New("adapter connection has no identity")

// Conn is one live transport session owned by the registry.
type Conn interface {
	ID() string
	Role() Role
	Identity() event.ID
	Platform() string
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Info is a point-in-time description of a connection.
type Info struct {
	ID       string   `json:"id"`
	Role     Role     `json:"role"`
	Identity event.ID `json:"self_id,omitempty"`
	Platform string   `json:"platform,omitempty"`
	Remote   string   `json:"remote,omitempty"`
}

// Registry holds the live connection sets.
type Registry struct {
	mu           sync.RWMutex
	adapters     map[event.ID]Conn
	subscribers  map[string]Conn
	onConnect    []func(Conn)
	onDisconnect []func(Conn)
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		adapters:    make(map[event.ID]Conn),
		subscribers: make(map[string]Conn),
	}
}

// OnConnect registers a callback fired after an adapter becomes authoritative.
func (r *Registry) OnConnect(fn func(Conn)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = append(r.onConnect, fn)
}

// OnDisconnect registers a callback fired after an authoritative adapter is removed.
func (r *Registry) OnDisconnect(fn func(Conn)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = append(r.onDisconnect, fn)
}

// Register adds a connection. An adapter replaces any previous adapter with
// the same identity; the superseded connection is closed and returned.
func (r *Registry) Register(c Conn) (Conn, error) {
	switch c.Role() {
	case RoleSubscriber:
		r.mu.Lock()
		r.subscribers[c.ID()] = c
		r.mu.Unlock()
		log.Printf("[Registry] ✅ Subscriber registered: %s", c.ID())
		return nil, nil

	case RoleAdapter:
		if c.Identity() == "" {
			return nil, ErrNoIdentity
		}
		r.mu.Lock()
		old := r.adapters[c.Identity()]
		r.adapters[c.Identity()] = c
		hooks := slices.Clone(r.onConnect)
		r.mu.Unlock()

		if old != nil && old.ID() != c.ID() {
			log.Printf("[Registry] 🔄 Adapter %s superseded: %s → %s", c.Identity(), old.ID(), c.ID())
			old.Close()
		} else {
			old = nil
		}
		log.Printf("[Registry] ✅ Adapter registered: self_id=%s platform=%s conn=%s", c.Identity(), c.Platform(), c.ID())

		for _, fn := range hooks {
			fn(c)
		}
		return old, nil
	}
	return nil, fmt.Errorf("unknown role %q", c.Role())
}

// Unregister removes c if it is still the registered handle. It reports
// whether anything was removed; a superseded adapter is never removed in
// place of its replacement.
func (r *Registry) Unregister(c Conn) bool {
	r.mu.Lock()
	var removed bool
	switch c.Role() {
	case RoleSubscriber:
		if _, ok := r.subscribers[c.ID()]; ok {
			delete(r.subscribers, c.ID())
			removed = true
		}
	case RoleAdapter:
		if cur, ok := r.adapters[c.Identity()]; ok && cur.ID() == c.ID() {
			delete(r.adapters, c.Identity())
			removed = true
		}
	}
	hooks := slices.Clone(r.onDisconnect)
	r.mu.Unlock()

	if !removed {
		return false
	}
	log.Printf("[Registry] 🔌 %s unregistered: %s", c.Role(), c.ID())
	if c.Role() == RoleAdapter {
		for _, fn := range hooks {
			fn(c)
		}
	}
	return true
}

// Find returns the authoritative adapter for identity.
func (r *Registry) Find(identity event.ID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.adapters[identity]
	return c, ok
}

// All returns every connection of the given role, ordered by connection ID.
func (r *Registry) All(role Role) []Conn {
	r.mu.RLock()
	var conns []Conn
	switch role {
	case RoleAdapter:
		conns = make([]Conn, 0, len(r.adapters))
		for _, c := range r.adapters {
			conns = append(conns, c)
		}
	case RoleSubscriber:
		conns = make([]Conn, 0, len(r.subscribers))
		for _, c := range r.subscribers {
			conns = append(conns, c)
		}
	}
	r.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

// Adapters returns every live adapter.
func (r *Registry) Adapters() []Conn { return r.All(RoleAdapter) }

// Subscribers returns every live subscriber.
func (r *Registry) Subscribers() []Conn { return r.All(RoleSubscriber) }

// Len returns the number of live connections of role.
func (r *Registry) Len(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if role == RoleAdapter {
		return len(r.adapters)
	}
	return len(r.subscribers)
}

// Snapshot describes every live connection. Remote is filled for
// connections that expose a peer address.
func (r *Registry) Snapshot() []Info {
	var out []Info
	for _, role := range []Role{RoleAdapter, RoleSubscriber} {
		for _, c := range r.All(role) {
			info := Info{ID: c.ID(), Role: c.Role(), Identity: c.Identity(), Platform: c.Platform()}
			if ra, ok := c.(interface{ RemoteAddr() string }); ok {
				info.Remote = ra.RemoteAddr()
			}
			out = append(out, info)
		}
	}
	return out
}
