package interview

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/session"
)

const (
	persistQueueSize = 128
	persistTimeout   = 5 * time.Second
)

type persistOp struct {
	name string
	fn   func(ctx context.Context, store session.Store) error
}

// persister writes to the session store off the event loop, in order
type persister struct {
	store  session.Store
	id     string
	logger zerolog.Logger
	ops    chan persistOp
	done   chan struct{}
}

func newPersister(store session.Store, id string, logger zerolog.Logger) *persister {
	p := &persister{
		store:  store,
		id:     id,
		logger: logger,
		ops:    make(chan persistOp, persistQueueSize),
		done:   make(chan struct{}),
	}
	if store == nil {
		close(p.done)
		return p
	}
	go p.run()
	return p
}

func (p *persister) run() {
	defer close(p.done)
	for op := range p.ops {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := op.fn(ctx, p.store); err != nil {
			p.logger.Warn().Err(err).Str("op", op.name).Msg("Failed to persist session")
		}
		cancel()
	}
}

func (p *persister) submit(name string, fn func(ctx context.Context, store session.Store) error) {
	if p.store == nil {
		return
	}
	select {
	case p.ops <- persistOp{name: name, fn: fn}:
	default:
		p.logger.Warn().Str("op", name).Msg("Persist queue full, dropping write")
	}
}

func (p *persister) save(s session.Session) {
	p.submit("save", func(ctx context.Context, store session.Store) error {
		return store.Save(ctx, &s)
	})
}

func (p *persister) append(msg session.Message) {
	p.submit("append", func(ctx context.Context, store session.Store) error {
		return store.Append(ctx, p.id, msg)
	})
}

func (p *persister) complete(feedback string, score *float64) {
	p.submit("complete", func(ctx context.Context, store session.Store) error {
		return store.Complete(ctx, p.id, feedback, score)
	})
}

// close flushes queued writes. The event loop must have stopped.
func (p *persister) close() {
	if p.store != nil {
		close(p.ops)
	}
	<-p.done
}
