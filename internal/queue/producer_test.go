package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/botgate/internal/event"
)

func TestProducer_FiltersPostTypes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream(0)
	p := NewProducer(s, []string{event.PostMessage}, nil)
	sink := p.Sink()

	sink(ctx, event.Event{PostType: event.PostMessage, SelfID: "1", UserID: "2", RawMessage: "hi"})
	sink(ctx, event.Heartbeat("1", time.Second, time.Now()))
	sink(ctx, event.Event{PostType: event.PostLog})

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	s.EnsureGroup(ctx, "g")
	msgs, _ := s.Read(ctx, "g", "c", 10, 0)
	require.Len(t, msgs, 1)
	e, err := Decode(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "hi", e.Event.Text())
}

func TestProducer_AcceptsAllWhenUnfiltered(t *testing.T) {
	p := NewProducer(NewMemoryStream(0), nil, nil)
	assert.True(t, p.Accepts(event.Event{PostType: event.PostMetaEvent}))
	assert.True(t, p.Accepts(event.Event{PostType: event.PostMessage}))
}
