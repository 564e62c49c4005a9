package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dayuer/botgate/internal/metrics"
)

// Handler processes one entry. A returned error leaves the entry pending so
// it is reclaimed and retried later.
type Handler func(ctx context.Context, e Entry) error

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Stream      Stream
	Group       string
	Consumer    string        // name prefix; consumers are "<Consumer>-<i>"
	Concurrency int           // default 1
	ClaimIdle   time.Duration // default 60s
	Block       time.Duration // default 5s
	Batch       int64         // default 10
	Backoff     time.Duration // pause after a stream error, default 1s
	Handler     Handler
	Metrics     metrics.Recorder
}

// Pool runs consumers of one consumer group.
type Pool struct {
	cfg PoolConfig
}

// NewPool creates a pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 60 * time.Second
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 10
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	return &Pool{cfg: cfg}
}

// ConsumerName returns the name of consumer i.
func (p *Pool) ConsumerName(i int) string {
	return fmt.Sprintf("%s-%d", p.cfg.Consumer, i)
}

// Run joins the group and consumes until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.cfg.Stream.EnsureGroup(ctx, p.cfg.Group); err != nil {
		return err
	}
	log.Printf("[Queue] 🚀 %d consumer(s) joined group %s", p.cfg.Concurrency, p.cfg.Group)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		name := p.ConsumerName(i)
		g.Go(func() error {
			p.consume(ctx, name)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) consume(ctx context.Context, consumer string) {
	for ctx.Err() == nil {
		if _, err := p.Step(ctx, consumer); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Queue] ⚠️ %s: %v (retry in %s)", consumer, err, p.cfg.Backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.Backoff):
			}
		}
	}
}

// Step reclaims idle pending entries, then reads new ones, processing each.
// It returns how many entries were handled successfully.
func (p *Pool) Step(ctx context.Context, consumer string) (int, error) {
	s := p.cfg.Stream

	claimed, err := s.Claim(ctx, p.cfg.Group, consumer, p.cfg.ClaimIdle, p.cfg.Batch)
	if err != nil {
		return 0, err
	}
	if len(claimed) > 0 {
		p.cfg.Metrics.QueueEntry(ctx, metrics.QueueReclaimed, len(claimed))
		log.Printf("[Queue] ♻️ %s reclaimed %d idle entr(ies)", consumer, len(claimed))
	}
	done := p.processAll(ctx, consumer, claimed)

	// Don't sit in a blocking read while reclaimed work was just handled.
	block := p.cfg.Block
	if len(claimed) > 0 {
		block = 0
	}
	fresh, err := s.Read(ctx, p.cfg.Group, consumer, p.cfg.Batch, block)
	if err != nil {
		return done, err
	}
	return done + p.processAll(ctx, consumer, fresh), nil
}

func (p *Pool) processAll(ctx context.Context, consumer string, msgs []Message) int {
	n := 0
	for _, m := range msgs {
		if p.process(ctx, consumer, m) {
			n++
		}
	}
	return n
}

func (p *Pool) process(ctx context.Context, consumer string, m Message) bool {
	entry, err := Decode(m)
	if err != nil {
		log.Printf("[Queue] 🗑️ %s dropping %s: %v", consumer, m.ID, err)
		p.ack(ctx, m.ID)
		p.cfg.Metrics.QueueEntry(ctx, metrics.QueueDropped, 1)
		return false
	}

	if err := p.handle(ctx, entry); err != nil {
		// Left pending: another consumer reclaims it after ClaimIdle.
		log.Printf("[Queue] ❌ %s failed %s (delivery %d): %v", consumer, m.ID, m.Deliveries, err)
		p.cfg.Metrics.QueueEntry(ctx, metrics.QueueFailed, 1)
		return false
	}

	p.ack(ctx, m.ID)
	p.cfg.Metrics.QueueEntry(ctx, metrics.QueueAcked, 1)
	return true
}

func (p *Pool) handle(ctx context.Context, e Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.cfg.Handler(ctx, e)
}

func (p *Pool) ack(ctx context.Context, id string) {
	if err := p.cfg.Stream.Ack(ctx, p.cfg.Group, id); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Queue] ⚠️ ack %s: %v", id, err)
	}
}
