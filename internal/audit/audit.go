// Package audit records state changes of requests, quotes and pharmacies
// along with the HTTP mutations that caused them. Records are buffered and
// written in batches by a small worker pool.
package audit

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	EntityRequest  = "request"
	EntityQuote    = "quote"
	EntityPharmacy = "pharmacy"
	EntityHTTP     = "http"
)

type Record struct {
	Timestamp  time.Time
	EntityType string
	EntityID   string
	OldState   string
	NewState   string
	Actor      string
	Endpoint   string
	Message    string
}

// Transition builds a record of entity moving from one state to another.
func Transition(at time.Time, entity, id, from, to, actor, msg string) Record {
	return Record{
		Timestamp: at, EntityType: entity, EntityID: id,
		OldState: from, NewState: to, Actor: actor, Message: msg,
	}
}

// Logger accepts audit records without blocking the caller.
type Logger interface {
	Log(rec Record)
}

type Nop struct{}

func (Nop) Log(Record) {}

// Processor persists or prints a batch. The context is cancelled when the
// flush deadline passes.
type Processor interface {
	Process(ctx context.Context, batch []Record) error
}

type PoolConfig struct {
	BatchSize    int
	Timeout      time.Duration
	ChannelSize  int
	FlushTimeout time.Duration
}

// Pool fans records out to workers that flush when a batch fills up, when
// Timeout passes, or when the pool stops.
type Pool struct {
	cfg        PoolConfig
	records    chan Record
	processors []Processor

	wg sync.WaitGroup
}

func NewPool(cfg PoolConfig, processors ...Processor) *Pool {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	return &Pool{
		cfg:        cfg,
		records:    make(chan Record, cfg.ChannelSize),
		processors: processors,
	}
}

func (p *Pool) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
}

func (p *Pool) run(ctx context.Context) {
	batch := make([]Record, 0, p.cfg.BatchSize)
	ticker := time.NewTicker(p.cfg.Timeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.flush(batch)
		batch = make([]Record, 0, p.cfg.BatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			batch = append(batch, p.pending()...)
			flush()
			return
		case rec := <-p.records:
			batch = append(batch, rec)
			if len(batch) >= p.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// pending takes whatever is buffered without waiting.
func (p *Pool) pending() []Record {
	var res []Record
	for {
		select {
		case rec := <-p.records:
			res = append(res, rec)
		default:
			return res
		}
	}
}

func (p *Pool) flush(batch []Record) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FlushTimeout)
	defer cancel()
	for _, proc := range p.processors {
		if err := proc.Process(ctx, batch); err != nil {
			log.Printf("audit: flush of %d records: %v", len(batch), err)
		}
	}
}

func (p *Pool) Log(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	select {
	case p.records <- rec:
	default:
		log.Printf("audit: buffer full, dropping %s %s", rec.EntityType, rec.EntityID)
	}
}

// Shutdown cancels the workers and waits until each has flushed.
func (p *Pool) Shutdown(cancel context.CancelFunc) {
	cancel()
	p.wg.Wait()
}
