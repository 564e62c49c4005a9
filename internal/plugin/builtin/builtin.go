// Package builtin provides the plugins shipped with botgate and the catalog
// the manifest loader resolves names against.
package builtin

import (
	"context"
	"fmt"

	"github.com/dayuer/botgate/internal/conversation"
	"github.com/dayuer/botgate/internal/event"
	"github.com/dayuer/botgate/internal/plugin"
)

// Checker answers permission lookups (permission.Cache).
type Checker interface {
	Banned(userID string) bool
	Admin(userID string) bool
}

// Deps are the collaborators builtin plugins need.
type Deps struct {
	Permissions  Checker
	Conversation *conversation.Machine
}

// Catalog returns the factories for every builtin plugin.
func Catalog(deps Deps) plugin.Catalog {
	return plugin.Catalog{
		"guard": func(opts map[string]any) (plugin.Plugin, error) {
			if deps.Permissions == nil {
				return nil, fmt.Errorf("guard needs a permission cache")
			}
			adminsOnly, _ := opts["admins_only"].(bool)
			return Guard(deps.Permissions, adminsOnly), nil
		},
		"ping": func(opts map[string]any) (plugin.Plugin, error) {
			reply, _ := opts["reply"].(string)
			return Ping(reply), nil
		},
		"conversation": func(opts map[string]any) (plugin.Plugin, error) {
			if deps.Conversation == nil {
				return nil, fmt.Errorf("conversation needs a state machine")
			}
			groups, _ := opts["groups"].(bool)
			return Conversation(deps.Conversation, groups), nil
		},
	}
}

// Guard silences banned users: it blocks default handling and stops the chain.
// With adminsOnly every non-admin is silenced the same way (maintenance mode).
func Guard(perms Checker, adminsOnly bool) plugin.Plugin {
	return plugin.Func{
		ID:   "guard",
		When: func(pc *plugin.Context) bool { return pc.Subject != "" },
		Do: func(_ context.Context, pc *plugin.Context) (plugin.Outcome, error) {
			if perms.Banned(pc.Subject) || (adminsOnly && !perms.Admin(pc.Subject)) {
				return plugin.Outcome{Block: true, StopChain: true}, nil
			}
			return plugin.None, nil
		},
	}
}

// Ping answers "/ping". An empty reply defaults to "pong".
func Ping(reply string) plugin.Plugin {
	if reply == "" {
		reply = "pong"
	}
	return plugin.Func{
		ID:   "ping",
		When: func(pc *plugin.Context) bool { return pc.Text == "/ping" },
		Do: func(context.Context, *plugin.Context) (plugin.Outcome, error) {
			return plugin.Outcome{Reply: reply, Block: true}, nil
		},
	}
}

// Conversation drives the multi-turn state machine for private messages.
// In groups it only reacts to the machine's commands, unless groups is set.
func Conversation(m *conversation.Machine, groups bool) plugin.Plugin {
	return plugin.Func{
		ID: "conversation",
		When: func(pc *plugin.Context) bool {
			if pc.Subject == "" {
				return false
			}
			return groups || pc.Event.MessageType == event.MessagePrivate || conversation.IsCommand(pc.Text)
		},
		Do: func(ctx context.Context, pc *plugin.Context) (plugin.Outcome, error) {
			r, err := m.Handle(ctx, pc.Subject, pc.Text)
			if err != nil {
				return plugin.None, err
			}
			return plugin.Outcome{Reply: r.Text, Block: r.Text != ""}, nil
		},
	}
}
