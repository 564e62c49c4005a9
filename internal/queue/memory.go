package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	seq     int64
	id      string
	payload string
}

type memPending struct {
	seq        int64
	consumer   string
	deliveries int64
	delivered  time.Time
}

type memGroup struct {
	lastSeq int64
	pending map[string]*memPending
}

// MemoryStream is an in-process Stream with the same group semantics as the
// Redis implementation. Used by tests and single-process deployments.
type MemoryStream struct {
	maxLen int64
	now    func() time.Time

	mu      sync.Mutex
	seq     int64
	entries []memEntry
	groups  map[string]*memGroup
	notify  chan struct{}
}

// NewMemoryStream creates a stream keeping at most maxLen entries (0 =
// unbounded).
func NewMemoryStream(maxLen int64) *MemoryStream {
	return &MemoryStream{
		maxLen: maxLen,
		now:    time.Now,
		groups: make(map[string]*memGroup),
		notify: make(chan struct{}),
	}
}

// SetClock replaces the stream's time source (idle computation).
func (s *MemoryStream) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStream) Add(_ context.Context, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := fmt.Sprintf("%d-%d", s.now().UnixMilli(), s.seq)
	s.entries = append(s.entries, memEntry{seq: s.seq, id: id, payload: string(payload)})
	if s.maxLen > 0 && int64(len(s.entries)) > s.maxLen {
		s.entries = append([]memEntry(nil), s.entries[int64(len(s.entries))-s.maxLen:]...)
	}

	close(s.notify)
	s.notify = make(chan struct{})
	return id, nil
}

func (s *MemoryStream) EnsureGroup(_ context.Context, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group]; !ok {
		s.groups[group] = &memGroup{pending: make(map[string]*memPending)}
	}
	return nil
}

func (s *MemoryStream) Read(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	var timeout <-chan time.Time
	if block > 0 {
		t := time.NewTimer(block)
		defer t.Stop()
		timeout = t.C
	}

	for {
		s.mu.Lock()
		msgs, err := s.readLocked(group, consumer, count)
		wait := s.notify
		s.mu.Unlock()

		if err != nil || len(msgs) > 0 || timeout == nil {
			return msgs, err
		}
		select {
		case <-wait:
		case <-timeout:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *MemoryStream) readLocked(group, consumer string, count int64) ([]Message, error) {
	g, ok := s.groups[group]
	if !ok {
		return nil, fmt.Errorf("NOGROUP no such consumer group %q", group)
	}

	var out []Message
	now := s.now()
	for _, e := range s.entries {
		if e.seq <= g.lastSeq {
			continue
		}
		if count > 0 && int64(len(out)) >= count {
			break
		}
		g.lastSeq = e.seq
		g.pending[e.id] = &memPending{seq: e.seq, consumer: consumer, deliveries: 1, delivered: now}
		out = append(out, Message{ID: e.id, Payload: e.payload, Deliveries: 1})
	}
	return out, nil
}

func (s *MemoryStream) Ack(_ context.Context, group string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[group]
	if !ok {
		return fmt.Errorf("NOGROUP no such consumer group %q", group)
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

func (s *MemoryStream) Claim(_ context.Context, group, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[group]
	if !ok {
		return nil, fmt.Errorf("NOGROUP no such consumer group %q", group)
	}

	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return g.pending[ids[i]].seq < g.pending[ids[j]].seq })

	now := s.now()
	var out []Message
	for _, id := range ids {
		if count > 0 && int64(len(out)) >= count {
			break
		}
		p := g.pending[id]
		if now.Sub(p.delivered) < minIdle {
			continue
		}
		payload, ok := s.payloadLocked(p.seq)
		if !ok {
			// Trimmed out of the window.
			delete(g.pending, id)
			continue
		}
		p.consumer = consumer
		p.deliveries++
		p.delivered = now
		out = append(out, Message{ID: id, Payload: payload, Deliveries: p.deliveries})
	}
	return out, nil
}

func (s *MemoryStream) payloadLocked(seq int64) (string, bool) {
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].seq >= seq })
	if i < len(s.entries) && s.entries[i].seq == seq {
		return s.entries[i].payload, true
	}
	return "", false
}

func (s *MemoryStream) Pending(_ context.Context, group string) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[group]
	if !ok {
		return Pending{}, fmt.Errorf("NOGROUP no such consumer group %q", group)
	}
	res := Pending{Consumers: make(map[string]int64)}
	for _, p := range g.pending {
		res.Count++
		res.Consumers[p.consumer]++
	}
	return res, nil
}

func (s *MemoryStream) Len(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}
