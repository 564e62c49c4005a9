package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/botgate/internal/conversation"
	"github.com/dayuer/botgate/internal/event"
	"github.com/dayuer/botgate/internal/permission"
	"github.com/dayuer/botgate/internal/plugin"
)

func private(user, text string) *plugin.Context {
	return plugin.NewContext(event.Event{PostType: event.PostMessage, MessageType: event.MessagePrivate, SelfID: "1", UserID: event.ID(user), RawMessage: text})
}

func group(user, text string) *plugin.Context {
	return plugin.NewContext(event.Event{PostType: event.PostMessage, MessageType: event.MessageGroup, SelfID: "1", UserID: event.ID(user), GroupID: "500", RawMessage: text})
}

func pipeline(t *testing.T, perms *permission.Cache) *plugin.Pipeline {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plugins:\n  - name: guard\n  - name: ping\n  - name: conversation\n"), 0o644))

	p := plugin.NewPipeline()
	deps := Deps{Permissions: perms, Conversation: conversation.NewMachine(conversation.NewMemoryStore(time.Minute))}
	require.NoError(t, p.Reload(path, Catalog(deps)))
	require.Equal(t, []string{"guard", "ping", "conversation"}, p.Names())
	return p
}

func TestBuiltins_Conversation(t *testing.T) {
	p := pipeline(t, permission.NewCache())
	ctx := context.Background()

	reply, block := p.Process(ctx, private("U", "start"))
	assert.Contains(t, reply, "Step 1")
	assert.True(t, block)

	reply, _ = p.Process(ctx, private("U", "next"))
	assert.Contains(t, reply, "Step 2")

	reply, _ = p.Process(ctx, private("U", "finish"))
	assert.Contains(t, reply, "Congratulations")

	reply, _ = p.Process(ctx, private("U", "finish"))
	assert.Contains(t, reply, "Send 'start'")
}

func TestBuiltins_PingWinsOverConversation(t *testing.T) {
	p := pipeline(t, permission.NewCache())
	reply, block := p.Process(context.Background(), private("U", "/ping"))
	assert.Equal(t, "pong", reply)
	assert.True(t, block)
}

func TestBuiltins_GroupChatterIsIgnored(t *testing.T) {
	p := pipeline(t, permission.NewCache())
	ctx := context.Background()

	reply, block := p.Process(ctx, group("U", "hello everyone"))
	assert.Empty(t, reply)
	assert.False(t, block)

	reply, _ = p.Process(ctx, group("U", "start"))
	assert.Contains(t, reply, "Step 1")
}

func TestBuiltins_GuardSilencesBannedUsers(t *testing.T) {
	perms := permission.NewCache()
	perms.Replace(map[string]permission.Level{"bad": permission.LevelBanned}, time.Now())
	p := pipeline(t, perms)

	reply, block := p.Process(context.Background(), private("bad", "/ping"))
	assert.Empty(t, reply)
	assert.True(t, block)

	reply, _ = p.Process(context.Background(), private("good", "/ping"))
	assert.Equal(t, "pong", reply)
}

func TestBuiltins_GuardAdminsOnly(t *testing.T) {
	perms := permission.NewCache()
	perms.Replace(map[string]permission.Level{"root": permission.LevelAdmin}, time.Now())
	ps, err := Catalog(Deps{Permissions: perms}).Build(&plugin.Manifest{Plugins: []plugin.Entry{
		{Name: "guard", Options: map[string]any{"admins_only": true}},
	}})
	require.NoError(t, err)
	guard := ps[0]

	out, err := guard.Handle(context.Background(), private("someone", "/ping"))
	require.NoError(t, err)
	assert.True(t, out.Block)
	assert.True(t, out.StopChain)

	out, err = guard.Handle(context.Background(), private("root", "/ping"))
	require.NoError(t, err)
	assert.False(t, out.Block)
	assert.False(t, out.StopChain)
}

func TestCatalog_MissingDeps(t *testing.T) {
	c := Catalog(Deps{})
	_, err := c.Build(&plugin.Manifest{Plugins: []plugin.Entry{{Name: "guard"}}})
	assert.Error(t, err)
	_, err = c.Build(&plugin.Manifest{Plugins: []plugin.Entry{{Name: "conversation"}}})
	assert.Error(t, err)

	ps, err := c.Build(&plugin.Manifest{Plugins: []plugin.Entry{{Name: "ping", Options: map[string]any{"reply": "PONG!"}}}})
	require.NoError(t, err)
	out, err := ps[0].Handle(context.Background(), private("u", "/ping"))
	require.NoError(t, err)
	assert.Equal(t, "PONG!", out.Reply)
}
