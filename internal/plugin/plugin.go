// Package plugin runs an ordered chain of predicate/handler pairs over
// inbound message events before they reach default handling.
//
// Aggregation: the first non-empty reply across the plugins that run is
// kept, Block is OR-accumulated over every plugin that runs, and StopChain
// ends iteration after the current plugin. A plugin that errors or panics
// is logged and skipped.
package plugin

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/dayuer/botgate/internal/event"
)

// Outcome is the structured result of a plugin invocation.
type Outcome struct {
	Reply     string
	Block     bool
	StopChain bool
}

// Legacy normalizes the plain-reply shorthand into an Outcome.
func Legacy(reply string) Outcome { return Outcome{Reply: reply} }

// None is the outcome of a plugin that had nothing to say.
var None = Outcome{}

// Context is shared by every plugin invoked for one event.
type Context struct {
	Event   event.Event
	Text    string
	Subject string
}

// NewContext builds the plugin context for ev.
func NewContext(ev event.Event) *Context {
	return &Context{
		Event:   ev,
		Text:    strings.TrimSpace(ev.Text()),
		Subject: ev.Subject(),
	}
}

// Plugin is one predicate/handler pair.
type Plugin interface {
	Name() string
	Match(pc *Context) bool
	Handle(ctx context.Context, pc *Context) (Outcome, error)
}

// Func builds a Plugin from functions. A nil When matches everything.
type Func struct {
	ID   string
	When func(pc *Context) bool
	Do   func(ctx context.Context, pc *Context) (Outcome, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Match(pc *Context) bool {
	if f.When == nil {
		return true
	}
	return f.When(pc)
}

func (f Func) Handle(ctx context.Context, pc *Context) (Outcome, error) {
	return f.Do(ctx, pc)
}

// Pipeline holds the active plugin set behind an atomically swappable
// pointer. Replace never mutates a slice an in-flight Process is iterating.
type Pipeline struct {
	active atomic.Pointer[[]Plugin]
}

// NewPipeline creates a pipeline running plugins in the given order.
func NewPipeline(plugins ...Plugin) *Pipeline {
	p := &Pipeline{}
	p.Replace(plugins)
	return p
}

// Replace atomically installs a new plugin set.
func (p *Pipeline) Replace(plugins []Plugin) {
	set := make([]Plugin, len(plugins))
	copy(set, plugins)
	p.active.Store(&set)
}

// Plugins returns the active plugin set.
func (p *Pipeline) Plugins() []Plugin {
	if set := p.active.Load(); set != nil {
		return *set
	}
	return nil
}

// Names returns the names of the active plugins in order.
func (p *Pipeline) Names() []string {
	set := p.Plugins()
	names := make([]string, len(set))
	for i, pl := range set {
		names[i] = pl.Name()
	}
	return names
}

// Process runs the active plugins over pc and returns the aggregated reply
// and block decision.
func (p *Pipeline) Process(ctx context.Context, pc *Context) (reply string, block bool) {
	for _, pl := range p.Plugins() {
		if ctx.Err() != nil {
			break
		}
		out, err := invoke(ctx, pl, pc)
		if err != nil {
			log.Printf("[Plugin] ❌ %s failed: %v", pl.Name(), err)
			continue
		}
		if reply == "" && out.Reply != "" {
			reply = out.Reply
		}
		block = block || out.Block
		if out.StopChain {
			break
		}
	}
	return reply, block
}

// invoke runs one plugin, turning a panic into an error.
func invoke(ctx context.Context, pl Plugin, pc *Context) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if !pl.Match(pc) {
		return None, nil
	}
	return pl.Handle(ctx, pc)
}
