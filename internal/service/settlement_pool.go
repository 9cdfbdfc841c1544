package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
)

// ErrSettlementStopped is returned once the service no longer accepts settlements.
var ErrSettlementStopped = errors.New("settlement pool is stopped")

type settlementTask func(ctx context.Context)

// settlementPool runs settlement tasks on a fixed number of workers fed by a bounded queue.
type settlementPool struct {
	workers int
	tasks   chan settlementTask

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	log *log.Helper
}

func newSettlementPool(workers, queueSize int, logger *log.Helper) *settlementPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return &settlementPool{
		workers: workers,
		tasks:   make(chan settlementTask, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		log:     logger,
	}
}

func (p *settlementPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(p.ctx)
	}
	p.log.Infof("Settlement pool started with %d workers", p.workers)
}

func (p *settlementPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			task(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *settlementPool) accepting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && p.ctx.Err() == nil
}

// Submit queues a task, blocking while the queue is full.
func (p *settlementPool) Submit(ctx context.Context, task settlementTask) error {
	p.mu.Lock()
	poolCtx := p.ctx
	p.mu.Unlock()

	if poolCtx.Err() != nil {
		return ErrSettlementStopped
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue settlement: %w", ctx.Err())
	case <-poolCtx.Done():
		return ErrSettlementStopped
	}
}

// Stop releases the workers and waits for them to exit. Tasks still queued are run
// with a cancelled context so each can resolve its payment without starting new work.
func (p *settlementPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	ctx := p.ctx
	p.mu.Unlock()

	p.wg.Wait()

	for {
		select {
		case task := <-p.tasks:
			task(ctx)
		default:
			p.log.Info("Settlement pool stopped")
			return
		}
	}
}
